package routing

import (
	"github.com/af-corp/aegis-router/internal/types"
)

// Candidate is one (model, source) pair considered by batch selection.
type Candidate struct {
	Model         string
	Source        string
	ProviderModel string
	AvgLatency    float64
	SuccessRate   float64
	Price         float64
	Rank          int
	// Order is the position of Model in the caller's list.
	Order int
}

func primaryMetric(c Candidate, mode types.Mode) float64 {
	if mode == types.ModeFastFirst {
		return c.AvgLatency
	}
	return c.Price
}

// Dominates reports whether q dominates p: at least the same success rate
// and a strictly better primary metric.
func Dominates(q, p Candidate, mode types.Mode) bool {
	return q.SuccessRate >= p.SuccessRate && primaryMetric(q, mode) < primaryMetric(p, mode)
}

// ParetoFront returns the candidates no other candidate dominates, in
// input order.
func ParetoFront(candidates []Candidate, mode types.Mode) []Candidate {
	var front []Candidate
	for i, p := range candidates {
		dominated := false
		for j, q := range candidates {
			if i != j && Dominates(q, p, mode) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, p)
		}
	}
	return front
}

// better orders front members: best primary metric, then higher success
// rate, then static rank, then list order, then source name.
func better(a, b Candidate, mode types.Mode) bool {
	if ma, mb := primaryMetric(a, mode), primaryMetric(b, mode); ma != mb {
		return ma < mb
	}
	if a.SuccessRate != b.SuccessRate {
		return a.SuccessRate > b.SuccessRate
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.Source < b.Source
}
