package source

import (
	"context"

	"bytepipe/vectorized"
)

// SliceDataset is an in-memory dataset; each page is a slice of records.
type SliceDataset[T any] struct {
	attr  string
	pages [][]T
}

// NewSliceDataset creates a dataset whose object column is named attr.
func NewSliceDataset[T any](attr string, pages ...[]T) *SliceDataset[T] {
	return &SliceDataset[T]{attr: attr, pages: pages}
}

func (d *SliceDataset[T]) Schema() vectorized.Attributes {
	return vectorized.Attributes{d.attr}
}

func (d *SliceDataset[T]) NumPages() int { return len(d.pages) }

func (d *SliceDataset[T]) OpenPage(_ context.Context, page, chunkSize int) (BatchSource, error) {
	if err := checkPage(page, len(d.pages)); err != nil {
		return nil, err
	}
	if err := checkChunkSize(chunkSize); err != nil {
		return nil, err
	}
	return &sliceSource[T]{rows: d.pages[page], chunkSize: chunkSize}, nil
}

type sliceSource[T any] struct {
	rows      []T
	pos       int
	chunkSize int
}

// Next hands out borrowed views of the page; no rows are copied.
func (s *sliceSource[T]) Next(ctx context.Context) (*vectorized.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, EOF
	}
	end := min(s.pos+s.chunkSize, len(s.rows))
	b := vectorized.NewBatch()
	vectorized.PutColumn(b, 0, s.rows[s.pos:end:end], vectorized.Borrowed)
	s.pos = end
	return b, nil
}

func (s *sliceSource[T]) Close() error { return nil }
