package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"go.uber.org/zap"
)

// QualitySignals are the oracle's reading of a verification exchange. Each
// positive signal is nominally in [0,1]; out-of-range values are tolerated and
// the final score is clamped.
type QualitySignals struct {
	OwnWords           float64 `json:"own_words"`
	CorrectApplication float64 `json:"correct_application"`
	BoundaryAwareness  float64 `json:"boundary_awareness"`
	Connections        float64 `json:"connections"`
	Parroting          bool    `json:"parroting"`
	Misconception      bool    `json:"misconception"`
}

var baseScore = map[knowledge.DemonstrationType]float64{
	knowledge.DemoExplanation: 0.45,
	knowledge.DemoApplication: 0.5,
	knowledge.DemoBoth:        0.6,
}

const (
	defaultBaseScore = 0.4

	weightOwnWords    = 0.1
	weightApplication = 0.1
	weightBoundary    = 0.08
	weightConnections = 0.07
	weightExchange    = 0.1

	penaltyParroting     = 0.25
	penaltyMisconception = 0.3
)

var (
	understandingPhrases = []string{"because", "for example", "which means", "so that", "that's why", "in other words", "the reason", "makes sense", "exactly"}
	uncertaintyPhrases   = []string{"not sure", "i don't know", "i dont know", "no idea", "confused", "i guess", "maybe", "lost"}
)

// ExchangeQuality rates a learner response from its length and from phrases
// that signal understanding or uncertainty. The result is in [0,1].
func ExchangeQuality(response string) float64 {
	words := len(strings.Fields(response))
	var length float64
	switch {
	case words == 0:
		return 0
	case words < 10:
		length = 0.2
	case words < 30:
		length = 0.5
	case words < 80:
		length = 0.8
	default:
		length = 1
	}

	lower := strings.ToLower(response)
	sentiment := 0.5
	for _, p := range understandingPhrases {
		if strings.Contains(lower, p) {
			sentiment += 0.15
		}
	}
	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, p) {
			sentiment -= 0.2
		}
	}
	return clamp01(0.6*length + 0.4*clamp01(sentiment))
}

// ScoreConfidence blends the demonstration base score, the weighted quality
// signals and the exchange quality, minus penalties, clamped to [0,1].
func ScoreConfidence(demo knowledge.DemonstrationType, s QualitySignals, response string) float64 {
	score, ok := baseScore[demo]
	if !ok {
		score = defaultBaseScore
	}
	score += weightOwnWords * s.OwnWords
	score += weightApplication * s.CorrectApplication
	score += weightBoundary * s.BoundaryAwareness
	score += weightConnections * s.Connections
	score += weightExchange * ExchangeQuality(response)
	if s.Parroting {
		score -= penaltyParroting
	}
	if s.Misconception {
		score -= penaltyMisconception
	}
	return clamp01(score)
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// ProofReport is a verification the oracle judged successful.
type ProofReport struct {
	Concept           string                      `json:"concept"`
	DemonstrationType knowledge.DemonstrationType `json:"demonstration_type"`
	// Confidence, when set, is used instead of the computed score.
	Confidence *float64           `json:"confidence,omitempty"`
	Signals    QualitySignals     `json:"signals"`
	Exchange   knowledge.Exchange `json:"exchange"`
}

// ProofResult carries every entity the proof touched.
type ProofResult struct {
	Proof   knowledge.Proof
	Concept knowledge.Concept
	Learner knowledge.Learner
	Edge    knowledge.Edge
}

// RecordProof scores r, creates the proof, marks the concept understood,
// links concept to proof with demonstrated_by and bumps the learner's proof
// count.
func (w *Workflows) RecordProof(ctx context.Context, learnerID, sessionID string, r ProofReport) (*ProofResult, error) {
	concept, err := w.ResolveConcept(ctx, learnerID, r.Concept)
	if err != nil {
		return nil, fmt.Errorf("record proof: %w", err)
	}
	learner, err := w.store.GetLearner(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("record proof: %w", err)
	}

	demo := r.DemonstrationType
	if demo == "" {
		demo = knowledge.DemoExplanation
	}
	confidence := ScoreConfidence(demo, r.Signals, r.Exchange.Response)
	if r.Confidence != nil {
		confidence = clamp01(*r.Confidence)
	}

	now := w.now()
	proof := &knowledge.Proof{
		ConceptID:         concept.ID,
		LearnerID:         learnerID,
		SessionID:         sessionID,
		DemonstrationType: demo,
		Confidence:        confidence,
		Exchange:          r.Exchange,
		EarnedAt:          now,
	}
	if err := w.store.CreateProof(ctx, proof); err != nil {
		return nil, fmt.Errorf("create proof: %w", err)
	}

	concept.Status = knowledge.ConceptUnderstood
	concept.UpdatedAt = now
	concept.UnderstoodAt = &now
	if err := w.store.UpdateConcept(ctx, concept); err != nil {
		return nil, fmt.Errorf("mark understood: %w", err)
	}

	edge, err := w.link(ctx, concept.ID, knowledge.NodeConcept, proof.ID, knowledge.NodeProof, knowledge.EdgeDemonstratedBy, nil)
	if err != nil {
		return nil, err
	}

	learner.ProofCount++
	learner.UpdatedAt = now
	if err := w.store.UpdateLearner(ctx, learner); err != nil {
		return nil, fmt.Errorf("bump proof count: %w", err)
	}

	w.logger.Info("proof earned",
		zap.String("learner", learnerID),
		zap.String("concept", concept.ID),
		zap.String("type", string(demo)),
		zap.Float64("confidence", confidence))
	return &ProofResult{Proof: *proof, Concept: *concept, Learner: *learner, Edge: *edge}, nil
}
