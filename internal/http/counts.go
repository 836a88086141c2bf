package http

import (
	"context"
)

// DocumentCounter reports how many documents the similarity index holds.
type DocumentCounter interface {
	Count(ctx context.Context) (int, error)
}

// CountDocuments returns the index size, or -1 if counter is nil or the
// count fails.
//
// chromem creates collections lazily, so a fresh index that has never been
// built reports 0 rather than an error.
func CountDocuments(ctx context.Context, counter DocumentCounter) int {
	if counter == nil {
		return -1
	}
	n, err := counter.Count(ctx)
	if err != nil {
		return -1
	}
	return n
}
