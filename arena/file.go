package arena

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"bytepipe/core"
)

// ByteOrder is the byte order of page frames on disk.
var ByteOrder = binary.LittleEndian

// frameHeaderSize is the size of the header written before every flushed page:
// page id (8), compression (1), raw length (4), stored length (4), crc32 of
// the stored bytes (4).
const frameHeaderSize = 21

type frameHeader struct {
	PageID      uint64
	Compression CompressionType
	RawLength   uint32
	DataLength  uint32
	Checksum    uint32
}

func (h frameHeader) marshal() []byte {
	buf := make([]byte, frameHeaderSize)
	ByteOrder.PutUint64(buf[0:8], h.PageID)
	buf[8] = byte(h.Compression)
	ByteOrder.PutUint32(buf[9:13], h.RawLength)
	ByteOrder.PutUint32(buf[13:17], h.DataLength)
	ByteOrder.PutUint32(buf[17:21], h.Checksum)
	return buf
}

func (h *frameHeader) unmarshal(buf []byte) {
	h.PageID = ByteOrder.Uint64(buf[0:8])
	h.Compression = CompressionType(buf[8])
	h.RawLength = ByteOrder.Uint32(buf[9:13])
	h.DataLength = ByteOrder.Uint32(buf[13:17])
	h.Checksum = ByteOrder.Uint32(buf[17:21])
}

// FileSupplier hands out pages and appends flushed pages to a file as
// checksummed, optionally compressed frames. Discarded pages leave no trace.
type FileSupplier struct {
	mu          sync.Mutex
	file        *os.File
	pageSize    int
	compressor  Compressor
	nextID      uint64
	outstanding map[uint64]struct{}
	written     int64
}

// NewFileSupplier creates (or truncates) path and returns a supplier for it.
func NewFileSupplier(path string, cfg Config) (*FileSupplier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ct, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	compressor, err := NewCompressor(ct)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open page file %s", path)
	}
	core.GetTracer().Info(core.TraceComponentArena, "Page file opened", core.TraceContext(
		"file", path,
		"page_size", cfg.PageSize.HR(),
		"compression", ct.String(),
	))
	return &FileSupplier{
		file:        file,
		pageSize:    int(cfg.PageSize.Bytes()),
		compressor:  compressor,
		outstanding: make(map[uint64]struct{}),
	}, nil
}

// Allocate implements Supplier.
func (fs *FileSupplier) Allocate(_ context.Context) (Page, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id := fs.nextID
	fs.nextID++
	fs.outstanding[id] = struct{}{}
	return Page{ID: id, Size: fs.pageSize}, nil
}

// Flush implements Supplier.
func (fs *FileSupplier) Flush(_ context.Context, page Page) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.outstanding[page.ID]; !ok {
		return errors.Wrapf(ErrUnknownPage, "page %d", page.ID)
	}

	stored, err := fs.compressor.Compress(page.Data)
	if err != nil {
		return errors.Wrapf(err, "compress page %d", page.ID)
	}
	header := frameHeader{
		PageID:      page.ID,
		Compression: fs.compressor.Type(),
		RawLength:   uint32(len(page.Data)),
		DataLength:  uint32(len(stored)),
		Checksum:    crc32.ChecksumIEEE(stored),
	}
	frame := append(header.marshal(), stored...)
	if _, err := fs.file.WriteAt(frame, fs.written); err != nil {
		return errors.Wrapf(err, "write page %d", page.ID)
	}
	fs.written += int64(len(frame))
	delete(fs.outstanding, page.ID)
	return nil
}

// Discard implements Supplier.
func (fs *FileSupplier) Discard(_ context.Context, page Page) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.outstanding[page.ID]; !ok {
		return errors.Wrapf(ErrUnknownPage, "page %d", page.ID)
	}
	delete(fs.outstanding, page.ID)
	return nil
}

// Sync flushes the file to stable storage.
func (fs *FileSupplier) Sync() error {
	return fs.file.Sync()
}

// ReadPages reads back every flushed page in write order, verifying checksums.
func (fs *FileSupplier) ReadPages() ([]Page, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return readFrames(io.NewSectionReader(fs.file, 0, fs.written), fs.pageSize)
}

// Close closes the page file.
func (fs *FileSupplier) Close() error {
	if z, ok := fs.compressor.(*zstdCompressor); ok {
		z.Close()
	}
	return fs.file.Close()
}

// ReadPageFile reads every page frame from a file written by a FileSupplier.
func ReadPageFile(path string, pageSize int) ([]Page, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open page file %s", path)
	}
	defer file.Close()
	return readFrames(file, pageSize)
}

func readFrames(r io.Reader, pageSize int) ([]Page, error) {
	compressors := make(map[CompressionType]Compressor)
	defer func() {
		for _, c := range compressors {
			if z, ok := c.(*zstdCompressor); ok {
				z.Close()
			}
		}
	}()

	var pages []Page
	headerBuf := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(r, headerBuf); err != nil {
			if errors.Is(err, io.EOF) {
				return pages, nil
			}
			return nil, errors.Wrap(err, "read page header")
		}
		var h frameHeader
		h.unmarshal(headerBuf)

		stored := make([]byte, h.DataLength)
		if _, err := io.ReadFull(r, stored); err != nil {
			return nil, errors.Wrapf(err, "read page %d", h.PageID)
		}
		if crc32.ChecksumIEEE(stored) != h.Checksum {
			return nil, errors.Errorf("checksum mismatch on page %d", h.PageID)
		}

		c, ok := compressors[h.Compression]
		if !ok {
			var err error
			if c, err = NewCompressor(h.Compression); err != nil {
				return nil, err
			}
			compressors[h.Compression] = c
		}
		data, err := c.Decompress(stored)
		if err != nil {
			return nil, errors.Wrapf(err, "decompress page %d", h.PageID)
		}
		if len(data) != int(h.RawLength) {
			return nil, errors.Errorf("page %d: decompressed %d bytes, header says %d", h.PageID, len(data), h.RawLength)
		}
		pages = append(pages, Page{ID: h.PageID, Size: pageSize, Data: data})
	}
}
