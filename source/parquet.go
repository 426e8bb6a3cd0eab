package source

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"howett.net/ranger"

	"bytepipe/core"
	"bytepipe/vectorized"
)

// ParquetDataset reads records of type T from a parquet file. Each row group
// is one page.
type ParquetDataset[T any] struct {
	location string
	attr     string
	file     *parquet.File
	closer   io.Closer
}

// OpenParquet opens a local parquet file or an http(s) URL. Remote files are
// read with range requests, so only the row groups actually read are fetched.
func OpenParquet[T any](ctx context.Context, location, attr string) (*ParquetDataset[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	var (
		r      io.ReaderAt
		size   int64
		closer io.Closer
	)
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		parsedURL, err := url.Parse(location)
		if err != nil {
			return nil, errors.Wrapf(err, "parse URL %s", location)
		}
		reader, err := ranger.NewReader(&ranger.HTTPRanger{URL: parsedURL})
		if err != nil {
			return nil, errors.Wrapf(err, "create HTTP reader for %s", location)
		}
		length, err := reader.Length()
		if err != nil {
			return nil, errors.Wrapf(err, "get content length of %s", location)
		}
		r, size = reader, length
	} else {
		file, err := os.Open(location)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", location)
		}
		stat, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "stat %s", location)
		}
		r, size, closer = file, stat.Size(), file
	}

	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, errors.Wrapf(err, "open parquet file %s", location)
	}

	core.GetTracer().Info(core.TraceComponentSource, "Parquet dataset opened", core.TraceContext(
		"location", location,
		"size_bytes", size,
		"row_groups", len(pf.RowGroups()),
		"rows", pf.NumRows(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	))
	return &ParquetDataset[T]{location: location, attr: attr, file: pf, closer: closer}, nil
}

func (d *ParquetDataset[T]) Schema() vectorized.Attributes {
	return vectorized.Attributes{d.attr}
}

func (d *ParquetDataset[T]) NumPages() int { return len(d.file.RowGroups()) }

// NumRows is the total row count over all pages.
func (d *ParquetDataset[T]) NumRows() int64 { return d.file.NumRows() }

func (d *ParquetDataset[T]) OpenPage(_ context.Context, page, chunkSize int) (BatchSource, error) {
	groups := d.file.RowGroups()
	if err := checkPage(page, len(groups)); err != nil {
		return nil, err
	}
	if err := checkChunkSize(chunkSize); err != nil {
		return nil, err
	}
	core.GetTracer().Debug(core.TraceComponentSource, "Opening row group", core.TraceContext(
		"location", d.location,
		"page", page,
		"rows", groups[page].NumRows(),
	))
	return &parquetSource[T]{
		reader:    parquet.NewGenericRowGroupReader[T](groups[page]),
		chunkSize: chunkSize,
	}, nil
}

// Close releases the underlying file, if any.
func (d *ParquetDataset[T]) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

type parquetSource[T any] struct {
	reader    *parquet.GenericReader[T]
	chunkSize int
	done      bool
}

func (s *parquetSource[T]) Next(ctx context.Context) (*vectorized.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, EOF
	}
	rows := make([]T, s.chunkSize)
	n, err := s.reader.Read(rows)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "read parquet rows")
		}
		s.done = true
	}
	if n == 0 {
		s.done = true
		return nil, EOF
	}
	b := vectorized.NewBatch()
	vectorized.PutColumn(b, 0, rows[:n], vectorized.Owned)
	return b, nil
}

func (s *parquetSource[T]) Close() error {
	return s.reader.Close()
}
