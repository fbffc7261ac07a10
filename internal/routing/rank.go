package routing

import "sort"

// Ranking maps a source to its 1-based position.
type Ranking map[string]int

// Less orders two sources when their metric ties.
type Less func(a, b string) bool

func byName(a, b string) bool { return a < b }

// RankAscending ranks the keys of values from lowest to highest value.
func RankAscending(values map[string]float64, tiebreak Less) Ranking {
	return rank(values, tiebreak, func(a, b float64) bool { return a < b })
}

// RankDescending ranks the keys of values from highest to lowest value.
func RankDescending(values map[string]float64, tiebreak Less) Ranking {
	return rank(values, tiebreak, func(a, b float64) bool { return a > b })
}

func rank(values map[string]float64, tiebreak Less, better func(a, b float64) bool) Ranking {
	if tiebreak == nil {
		tiebreak = byName
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		vi, vj := values[keys[i]], values[keys[j]]
		if vi != vj {
			return better(vi, vj)
		}
		if tiebreak(keys[i], keys[j]) {
			return true
		}
		if tiebreak(keys[j], keys[i]) {
			return false
		}
		return keys[i] < keys[j]
	})

	out := make(Ranking, len(keys))
	for i, k := range keys {
		out[k] = i + 1
	}
	return out
}

// Ordered returns the ranked sources best first.
func (r Ranking) Ordered() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return r[out[i]] < r[out[j]] })
	return out
}

// CombineRankings fuses two rankings as a*(1-w) + b*w. A key missing from
// one ranking takes that ranking's size plus one there.
func CombineRankings(a, b Ranking, w float64) map[string]float64 {
	out := make(map[string]float64, len(a)+len(b))
	missA := float64(len(a) + 1)
	missB := float64(len(b) + 1)
	for k, ra := range a {
		rb, ok := b[k]
		if !ok {
			out[k] = float64(ra)*(1-w) + missB*w
			continue
		}
		out[k] = float64(ra)*(1-w) + float64(rb)*w
	}
	for k, rb := range b {
		if _, ok := a[k]; !ok {
			out[k] = missA*(1-w) + float64(rb)*w
		}
	}
	return out
}
