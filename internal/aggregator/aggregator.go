package aggregator

import "voice-ledger-go/internal/types"

type Insight struct {
	Total          int                `json:"total"`
	Order          []string           `json:"order"`
	CategoryCounts map[string]int     `json:"category_counts"`
	CategoryShare  map[string]float64 `json:"category_share"`
	OperatorCounts map[string]int     `json:"operator_counts"`
}

// Aggregate counts calls per category and per operator. A call tagged with
// several categories counts once in each. Order lists the categories of
// order first, then any other category seen, in first-seen order.
func Aggregate(records []types.ClassifiedRecord, order []string) Insight {
	cats := map[string]int{}
	ops := map[string]int{}
	var seen []string
	for _, r := range records {
		for _, c := range r.Classification.Categories {
			if _, ok := cats[c]; !ok {
				seen = append(seen, c)
			}
			cats[c]++
		}
		op := r.OperatorName
		if op == "" {
			op = types.Unidentified
		}
		ops[op]++
	}

	listed := map[string]bool{}
	full := make([]string, 0, len(order)+len(seen))
	for _, c := range order {
		if !listed[c] {
			listed[c] = true
			full = append(full, c)
		}
	}
	for _, c := range seen {
		if !listed[c] {
			listed[c] = true
			full = append(full, c)
		}
	}

	share := map[string]float64{}
	for _, c := range full {
		if len(records) > 0 {
			share[c] = float64(cats[c]) / float64(len(records))
		} else {
			share[c] = 0
		}
	}
	return Insight{
		Total:          len(records),
		Order:          full,
		CategoryCounts: cats,
		CategoryShare:  share,
		OperatorCounts: ops,
	}
}
