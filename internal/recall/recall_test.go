package recall

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/embedding"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/learnctx"
	"github.com/nidhogg/nuka-tutor/internal/vectorstore"
	"go.uber.org/zap"
)

var _ learnctx.Recaller = (*Recall)(nil)

func TestSimilarApplications(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewMemoryStore()
	for _, a := range []*knowledge.ApplicationEvent{
		{ID: "salary", LearnerID: "l1", Context: "salary negotiation with my manager", Status: knowledge.AppCompleted, WhatStruggled: "anchoring on their first offer"},
		{ID: "bread", LearnerID: "l1", Context: "baking sourdough for the family", Status: knowledge.AppCompleted},
		{ID: "planned", LearnerID: "l1", Context: "salary review next quarter", Status: knowledge.AppUpcoming},
		{ID: "other", LearnerID: "l2", Context: "salary negotiation at a startup", Status: knowledge.AppCompleted},
	} {
		a.PlannedDate = time.Now()
		if err := store.CreateApplication(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	store.CreateLearner(ctx, &knowledge.Learner{ID: "l1"})
	store.CreateLearner(ctx, &knowledge.Learner{ID: "l2"})

	idx := vectorstore.NewMemoryIndex()
	r := New(embedding.NewHashProvider(128), idx, zap.NewNop())
	n, err := r.Reindex(ctx, store)
	if err != nil || n != 4 {
		t.Fatalf("reindex = %d, %v", n, err)
	}

	ids, err := r.SimilarApplications(ctx, "l1", "Anchoring in a salary negotiation", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) == 0 || ids[0] != "salary" {
		t.Fatalf("ids = %v", ids)
	}
	for _, id := range ids {
		if id == "planned" || id == "other" {
			t.Fatalf("recall leaked %q", id)
		}
	}

	if ids, _ := r.SimilarApplications(ctx, "l1", "   ", 3); ids != nil {
		t.Fatalf("blank query = %v", ids)
	}
}
