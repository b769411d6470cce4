package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

// fakeClassifier returns a fixed probability.
type fakeClassifier struct {
	ready bool
	prob  float64
}

func (f *fakeClassifier) Ready() bool                            { return f.ready }
func (f *fakeClassifier) Classify(_ recon.FeatureVector) float64 { return f.prob }

func TestML_NotReady_Skipped(t *testing.T) {
	strat := NewML(&fakeClassifier{ready: false, prob: 0.99})
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tx := makeTransaction("tx1", -45.00, day, "Starbucks")
	candidates := []recon.ExpenseCandidate{makeExpense("exp1", 45.00, day, "Starbucks")}

	proposals, err := strat.Propose(context.Background(), tx, candidates, testRule())

	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestML_ClassifierProbabilityBecomesAggregate(t *testing.T) {
	strat := NewML(&fakeClassifier{ready: true, prob: 0.8})
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tx := makeTransaction("tx1", -45.00, day, "Starbucks")
	candidates := []recon.ExpenseCandidate{makeExpense("exp1", 45.00, day, "Starbucks")}

	proposals, err := strat.Propose(context.Background(), tx, candidates, testRule())

	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, recon.MatchTypeML, proposals[0].MatchType)
	assert.Equal(t, 0.8, proposals[0].AggregateScore)
	// Raw criterion scores are preserved for the feature vector
	assert.Equal(t, 1.0, proposals[0].AmountScore)
}

func TestML_BelowMinimum_Discarded(t *testing.T) {
	strat := NewML(&fakeClassifier{ready: true, prob: 0.2})
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tx := makeTransaction("tx1", -45.00, day, "Starbucks")
	candidates := []recon.ExpenseCandidate{makeExpense("exp1", 45.00, day, "Starbucks")}

	proposals, err := strat.Propose(context.Background(), tx, candidates, testRule())

	require.NoError(t, err)
	assert.Empty(t, proposals)
}
