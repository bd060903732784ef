// Package recall finds past application events that resemble the concept
// being taught, so the tutor can point back at the learner's own experience.
package recall

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/embedding"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/vectorstore"
	"go.uber.org/zap"
)

const (
	keyLearner = "learner_id"
	keyStatus  = "status"
)

// Recall indexes application events and answers similarity queries.
type Recall struct {
	embedder embedding.Provider
	index    vectorstore.Index
	logger   *zap.Logger
	// MinScore drops weak matches.
	MinScore float32
}

// New creates a Recall over index.
func New(embedder embedding.Provider, index vectorstore.Index, logger *zap.Logger) *Recall {
	return &Recall{embedder: embedder, index: index, logger: logger, MinScore: 0.1}
}

func document(a *knowledge.ApplicationEvent) string {
	parts := []string{a.Context, a.FollowupResponse, a.WhatWorked, a.WhatStruggled}
	parts = append(parts, a.GapsRevealed...)
	var b strings.Builder
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			if b.Len() > 0 {
				b.WriteString(". ")
			}
			b.WriteString(p)
		}
	}
	return b.String()
}

// IndexApplications embeds and upserts the given events in one batch.
func (r *Recall) IndexApplications(ctx context.Context, apps ...knowledge.ApplicationEvent) error {
	var (
		texts []string
		keep  []knowledge.ApplicationEvent
	)
	for _, a := range apps {
		if doc := document(&a); doc != "" {
			texts = append(texts, doc)
			keep = append(keep, a)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed applications: %w", err)
	}
	points := make([]vectorstore.Point, len(keep))
	for i, a := range keep {
		points[i] = vectorstore.Point{
			ID:     a.ID,
			Vector: vecs[i],
			Payload: map[string]string{
				keyLearner: a.LearnerID,
				keyStatus:  string(a.Status),
			},
		}
	}
	if err := r.index.Upsert(ctx, points...); err != nil {
		return fmt.Errorf("index applications: %w", err)
	}
	r.logger.Debug("Applications indexed", zap.Int("count", len(points)))
	return nil
}

// SimilarApplications returns ids of the learner's completed applications
// closest to query, best first.
func (r *Recall) SimilarApplications(ctx context.Context, learnerID, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.index.Search(ctx, vecs[0], map[string]string{
		keyLearner: learnerID,
		keyStatus:  string(knowledge.AppCompleted),
	}, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.MinScore {
			continue
		}
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// Reindex walks every learner's applications and indexes them. It returns
// the number of events seen.
func (r *Recall) Reindex(ctx context.Context, store knowledge.Store) (int, error) {
	learners, err := store.ListLearnerIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list learners: %w", err)
	}
	total := 0
	for _, id := range learners {
		apps, err := store.ListApplications(ctx, id)
		if err != nil {
			return total, fmt.Errorf("list applications of %s: %w", id, err)
		}
		if err := r.IndexApplications(ctx, apps...); err != nil {
			return total, err
		}
		total += len(apps)
	}
	r.logger.Info("Application recall index rebuilt", zap.Int("learners", len(learners)), zap.Int("applications", total))
	return total, nil
}
