package arena

import (
	"context"
	"flag"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

func TestArenaReserve(t *testing.T) {
	a := New(3, Page{ID: 9, Size: 100})
	require.Equal(t, uint64(3), a.Seq())
	require.True(t, a.Reserve(60))
	require.False(t, a.Reserve(41))
	require.Equal(t, 60, a.Used())
	require.True(t, a.Reserve(40))
	require.Equal(t, 0, a.Remaining())
	require.False(t, a.Reserve(1))

	a.Unreserve(10)
	require.Equal(t, 10, a.Remaining())
	require.False(t, a.Reserve(-1))
}

func TestSizeOf(t *testing.T) {
	require.Equal(t, 8, SizeOf(int64(1)))
	require.Equal(t, 16+5, SizeOf("hello"))
	require.Equal(t, 24+3, SizeOf([]byte("abc")))
	require.Equal(t, 24+(16+1)+(16+2), SizeOf([]string{"a", "bc"}))
}

func TestMemorySupplierAccounting(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySupplier(128, 2)

	p0, err := m.Allocate(ctx)
	require.NoError(t, err)
	p1, err := m.Allocate(ctx)
	require.NoError(t, err)
	_, err = m.Allocate(ctx)
	require.Error(t, err)

	p0.Data = []byte("payload")
	require.NoError(t, m.Flush(ctx, p0))
	require.NoError(t, m.Discard(ctx, p1))
	require.ErrorIs(t, m.Discard(ctx, p1), ErrUnknownPage)
	require.ErrorIs(t, m.Flush(ctx, p0), ErrUnknownPage)
	require.Equal(t, 0, m.Outstanding())

	require.Equal(t, []Event{
		{Kind: EventAllocate, PageID: 0},
		{Kind: EventAllocate, PageID: 1},
		{Kind: EventFlush, PageID: 0},
		{Kind: EventDiscard, PageID: 1},
	}, m.Events())

	flushed := m.Flushed()
	require.Len(t, flushed, 1)
	require.Equal(t, []byte("payload"), flushed[0].Data)
}

func TestFileSupplierRoundTrip(t *testing.T) {
	for _, compression := range []string{"none", "gzip", "snappy", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "pages.bin")
			fs, err := NewFileSupplier(path, Config{PageSize: 4 * datasize.KB, Compression: compression})
			require.NoError(t, err)
			defer fs.Close()

			p0, err := fs.Allocate(ctx)
			require.NoError(t, err)
			p1, err := fs.Allocate(ctx)
			require.NoError(t, err)
			p2, err := fs.Allocate(ctx)
			require.NoError(t, err)
			require.Equal(t, 4096, p0.Size)

			p0.Data = []byte(`{"rows":[1,2,3]}`)
			p2.Data = []byte(`{"rows":[4,5,6,7,8,9,10,11,12,13,14]}`)
			require.NoError(t, fs.Flush(ctx, p2))
			require.NoError(t, fs.Discard(ctx, p1))
			require.NoError(t, fs.Flush(ctx, p0))
			require.ErrorIs(t, fs.Flush(ctx, p0), ErrUnknownPage)
			require.NoError(t, fs.Sync())

			pages, err := fs.ReadPages()
			require.NoError(t, err)
			require.Len(t, pages, 2)
			require.Equal(t, uint64(2), pages[0].ID)
			require.Equal(t, p2.Data, pages[0].Data)
			require.Equal(t, uint64(0), pages[1].ID)
			require.Equal(t, p0.Data, pages[1].Data)

			fromDisk, err := ReadPageFile(path, 4096)
			require.NoError(t, err)
			require.Equal(t, pages, fromDisk)
		})
	}
}

func TestConfig(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-arena.page-size=64KB", "-arena.compression=zstd"}))
	require.Equal(t, 64*datasize.KB, cfg.PageSize)
	require.NoError(t, cfg.Validate())

	cfg.PageSize = 8
	require.ErrorIs(t, cfg.Validate(), ErrPageTooSmall)

	cfg.PageSize = datasize.MB
	cfg.Compression = "lz77"
	require.Error(t, cfg.Validate())
}

func TestParseCompression(t *testing.T) {
	ct, err := ParseCompression("SNAPPY")
	require.NoError(t, err)
	require.Equal(t, CompressionSnappy, ct)
	require.Equal(t, "snappy", ct.String())
}
