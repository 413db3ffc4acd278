package batch

import "github.com/cie-bench/harness/internal/dataset"

// FilterRange keeps items whose id lies in [start, end]. A zero bound is open.
func FilterRange(items []dataset.Item, start, end int) []dataset.Item {
	if start <= 0 && end <= 0 {
		return items
	}
	out := make([]dataset.Item, 0, len(items))
	for _, it := range items {
		if start > 0 && it.ID < start {
			continue
		}
		if end > 0 && it.ID > end {
			continue
		}
		out = append(out, it)
	}
	return out
}
