package arena

import (
	"context"
	"flag"
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
)

// Page is one fixed-size region handed out by a Supplier. ID is the page's
// address within the supplier. Data carries the durable payload on Flush.
type Page struct {
	ID   uint64
	Size int
	Data []byte
}

// Supplier provides and retires pages. Every page returned by Allocate must be
// passed to exactly one of Flush or Discard.
type Supplier interface {
	Allocate(ctx context.Context) (Page, error)
	// Flush persists page.Data and retires the page.
	Flush(ctx context.Context, page Page) error
	// Discard retires a page without persisting it.
	Discard(ctx context.Context, page Page) error
}

var (
	// ErrPageTooSmall is returned when a configured page cannot hold any row.
	ErrPageTooSmall = errors.New("page size too small")
	// ErrUnknownPage is returned when a page is retired twice or was never allocated.
	ErrUnknownPage = errors.New("unknown or already retired page")
)

// MinPageSize is the smallest page a supplier will hand out.
const MinPageSize = 64

// Config configures page suppliers.
type Config struct {
	PageSize    datasize.ByteSize `yaml:"page_size"`
	Compression string            `yaml:"compression"`
}

// RegisterFlags registers the arena flags.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("arena.", f)
}

// RegisterFlagsWithPrefix registers the arena flags under prefix.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	cfg.PageSize = datasize.MB
	f.TextVar(&cfg.PageSize, prefix+"page-size", datasize.MB, "Size of one arena page. Output containers spill to a new page when full.")
	f.StringVar(&cfg.Compression, prefix+"compression", "snappy", "Compression applied to flushed pages: none, gzip, snappy or zstd.")
}

// Validate checks the configuration.
func (cfg *Config) Validate() error {
	if cfg.PageSize.Bytes() < MinPageSize {
		return errors.Wrapf(ErrPageTooSmall, "page size %s is below %d bytes", cfg.PageSize.HR(), MinPageSize)
	}
	if _, err := ParseCompression(cfg.Compression); err != nil {
		return err
	}
	return nil
}

func (p Page) String() string {
	return fmt.Sprintf("page(id=%d, size=%d)", p.ID, p.Size)
}
