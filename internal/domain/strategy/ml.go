package strategy

import (
	"context"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

// Classifier predicts the match probability for a feature vector.
// The k-NN learner is the concrete implementation; the interface
// leaves room for a calibrated model later.
type Classifier interface {
	// Ready reports whether enough labeled feedback exists to
	// classify. When false the ml strategy is skipped entirely rather
	// than guessing.
	Ready() bool

	// Classify returns the predicted match probability in [0,1].
	Classify(fv recon.FeatureVector) float64
}

// ML scores candidates with a classifier trained on reviewer
// feedback. The three criterion scores form the feature vector; the
// classifier's probability becomes the aggregate score.
type ML struct {
	classifier Classifier
}

// NewML creates the ml-assisted strategy.
func NewML(classifier Classifier) *ML {
	return &ML{classifier: classifier}
}

func (m *ML) Name() string { return "ml" }

// Propose classifies each candidate in the date window. Returns no
// proposals while the feedback corpus is below the minimum size.
func (m *ML) Propose(ctx context.Context, tx recon.Transaction, candidates []recon.ExpenseCandidate, rule recon.MatchingRule) ([]recon.MatchProposal, error) {
	if !m.classifier.Ready() {
		return nil, nil
	}

	var proposals []recon.MatchProposal
	for _, cand := range inDateWindow(tx, candidates, rule) {
		scores, err := scorePair(tx, cand, rule)
		if err != nil {
			continue
		}

		proposal := recon.MatchProposal{
			TransactionID: tx.ID,
			ExpenseID:     cand.ID,
			ExpenseDate:   cand.ExpenseDate,
			MatchType:     recon.MatchTypeML,
			AmountScore:   scores.amount,
			DateScore:     scores.date,
			VendorScore:   scores.vendor,
		}
		proposal.AggregateScore = m.classifier.Classify(recon.BuildFeatures(tx, proposal))
		if proposal.AggregateScore < rule.MinimumMatch {
			continue
		}
		proposals = append(proposals, proposal)
	}

	sortProposals(tx, proposals)
	return proposals, nil
}
