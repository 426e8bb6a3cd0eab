// Package source reads persisted, paged datasets as a stream of batches.
//
// A Dataset is split into pages; a page is read as fixed-size row chunks
// through a BatchSource. Every batch carries the dataset's records as a single
// object column at slot 0.
package source

import (
	"context"

	"github.com/pkg/errors"

	"bytepipe/vectorized"
)

// EOF is returned by Next when a page has no more rows.
var EOF = errors.New("end of page")

// BatchSource pulls the chunks of one page.
type BatchSource interface {
	Next(ctx context.Context) (*vectorized.Batch, error)
	Close() error
}

// Dataset is a named, paged, persisted dataset.
type Dataset interface {
	// Schema names the columns of the batches the dataset produces.
	Schema() vectorized.Attributes
	NumPages() int
	OpenPage(ctx context.Context, page, chunkSize int) (BatchSource, error)
}

func checkPage(page, numPages int) error {
	if page < 0 || page >= numPages {
		return errors.Errorf("page %d out of range [0, %d)", page, numPages)
	}
	return nil
}

func checkChunkSize(chunkSize int) error {
	if chunkSize <= 0 {
		return errors.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	return nil
}
