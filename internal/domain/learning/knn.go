// Package learning turns reviewer decisions into training data for
// the ml-assisted strategy. The corpus of labeled feature vectors is
// the whole model: "retraining" just reloads it into memory.
package learning

import (
	"math"
	"sort"
	"sync"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

const (
	// DefaultNeighbors is k for the nearest-neighbor vote.
	DefaultNeighbors = 5

	// DefaultMinCorpusSize is how many labeled examples must exist
	// before the classifier reports ready. Below this the ml strategy
	// is skipped rather than guessing.
	DefaultMinCorpusSize = 20
)

// KNN classifies a feature vector by a confidence-weighted vote of
// its k nearest labeled neighbors, measured by Euclidean distance
// over the three criterion scores.
//
// The corpus snapshot is swapped atomically by the Learner; Classify
// only ever reads one consistent snapshot.
type KNN struct {
	k         int
	minCorpus int

	mu     sync.RWMutex
	corpus []recon.FeedbackRecord
}

// NewKNN creates a classifier. Non-positive arguments fall back to
// the defaults.
func NewKNN(k, minCorpus int) *KNN {
	if k <= 0 {
		k = DefaultNeighbors
	}
	if minCorpus <= 0 {
		minCorpus = DefaultMinCorpusSize
	}
	return &KNN{k: k, minCorpus: minCorpus}
}

// SetCorpus replaces the in-memory corpus snapshot.
func (c *KNN) SetCorpus(corpus []recon.FeedbackRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corpus = corpus
}

// CorpusSize returns the number of labeled examples currently loaded.
func (c *KNN) CorpusSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.corpus)
}

// Ready reports whether the corpus has reached the minimum size.
func (c *KNN) Ready() bool {
	return c.CorpusSize() >= c.minCorpus
}

// Classify returns the predicted match probability: the
// userConfidence-weighted fraction of the k nearest neighbors labeled
// as a match. Neighbor order is made deterministic by breaking
// distance ties on record id.
func (c *KNN) Classify(fv recon.FeatureVector) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.corpus) == 0 {
		return 0
	}

	type neighbor struct {
		dist   float64
		record recon.FeedbackRecord
	}

	neighbors := make([]neighbor, 0, len(c.corpus))
	for _, rec := range c.corpus {
		neighbors = append(neighbors, neighbor{
			dist:   distance(fv, rec.Features),
			record: rec,
		})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].dist != neighbors[j].dist {
			return neighbors[i].dist < neighbors[j].dist
		}
		return neighbors[i].record.ID < neighbors[j].record.ID
	})

	k := c.k
	if k > len(neighbors) {
		k = len(neighbors)
	}

	var matchWeight, totalWeight float64
	for _, n := range neighbors[:k] {
		w := n.record.UserConfidence
		if w <= 0 {
			continue
		}
		totalWeight += w
		if n.record.Label {
			matchWeight += w
		}
	}
	if totalWeight == 0 {
		return 0
	}
	return matchWeight / totalWeight
}

// distance is the Euclidean distance over the three criterion scores.
// The coarse metadata fields (amount bucket, day-of-week) are carried
// for audit but do not enter the distance.
func distance(a, b recon.FeatureVector) float64 {
	da := a.AmountScore - b.AmountScore
	dd := a.DateScore - b.DateScore
	dv := a.VendorScore - b.VendorScore
	return math.Sqrt(da*da + dd*dd + dv*dv)
}
