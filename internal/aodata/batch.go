package aodata

import (
	"errors"
	"strings"
)

// MaxURLLength is the longest request URL the upstream API accepts.
const MaxURLLength = 4096

// ErrItemTooLong is returned when a single item identifier cannot fit in a
// request URL on its own. This is a configuration error: retrying cannot help.
var ErrItemTooLong = errors.New("aodata: item identifier too long for any batch")

// SplitIntoBatches splits item identifiers into the fewest batches whose
// rendered request URL stays within maxURLLength. The template must have all
// placeholders except {items} already filled, so the URL overhead is fixed.
//
// The fill is greedy and deterministic: items are appended in input order
// until the next addition would exceed the limit, then a new batch starts.
// Identical input always yields identical batch boundaries.
func SplitIntoBatches(items []string, baseURL, template string, maxURLLength int) ([][]string, error) {
	// Constant URL overhead with an empty item list.
	overhead := len(baseURL) + len(strings.Replace(template, "{items}", "", 1))
	available := maxURLLength - overhead

	var batches [][]string
	var current []string
	currentLen := 0

	for _, item := range items {
		if len(item) > available {
			return nil, ErrItemTooLong
		}
		// Items after the first cost an extra comma.
		add := len(item)
		if len(current) > 0 {
			add++
		}
		if currentLen+add > available {
			batches = append(batches, current)
			current = []string{item}
			currentLen = len(item)
			continue
		}
		current = append(current, item)
		currentLen += add
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}

// batchURL renders the final request URL for one batch.
func batchURL(baseURL, template string, batch []string) string {
	return baseURL + strings.Replace(template, "{items}", strings.Join(batch, ","), 1)
}

// dedupe returns items with duplicates removed, preserving first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}
