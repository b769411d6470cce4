package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

// FeedbackStore is the append-only persistence boundary for labeled
// examples. Rows are never mutated or deleted once written.
type FeedbackStore interface {
	AppendFeedback(ctx context.Context, record recon.FeedbackRecord) error
	LoadFeedbackCorpus(ctx context.Context) ([]recon.FeedbackRecord, error)
}

// Learner owns the feedback corpus lifecycle: recording reviewer
// decisions and refreshing the classifier's in-memory snapshot so new
// feedback becomes visible to the next run.
type Learner struct {
	store      FeedbackStore
	classifier *KNN
}

// NewLearner creates a learner feeding the given classifier.
func NewLearner(store FeedbackStore, classifier *KNN) *Learner {
	return &Learner{store: store, classifier: classifier}
}

// Classifier exposes the classifier for wiring into the ml strategy.
func (l *Learner) Classifier() *KNN { return l.classifier }

// Record appends one immutable labeled example. The feature vector
// holds only anonymized scores and coarse metadata; callers must not
// smuggle raw vendor text or account ids into it.
func (l *Learner) Record(ctx context.Context, features recon.FeatureVector, label bool, userConfidence float64) (recon.FeedbackRecord, error) {
	if userConfidence < 0 || userConfidence > 1 {
		return recon.FeedbackRecord{}, &recon.InvalidInputError{
			Field: "user_confidence", Reason: "must be within [0,1]",
		}
	}

	record := recon.FeedbackRecord{
		ID:             uuid.NewString(),
		Features:       features,
		Label:          label,
		UserConfidence: userConfidence,
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.store.AppendFeedback(ctx, record); err != nil {
		return recon.FeedbackRecord{}, fmt.Errorf("append feedback: %w", err)
	}
	return record, nil
}

// Retrain reloads the corpus and swaps the classifier's snapshot.
// There are no model weights beyond the corpus itself, so this is a
// pure recomputation and safe to call at any time.
func (l *Learner) Retrain(ctx context.Context) error {
	corpus, err := l.store.LoadFeedbackCorpus(ctx)
	if err != nil {
		return fmt.Errorf("load feedback corpus: %w", err)
	}
	l.classifier.SetCorpus(corpus)
	return nil
}
