package arena

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// EventKind is a page lifecycle transition recorded by MemorySupplier.
type EventKind int

const (
	EventAllocate EventKind = iota
	EventFlush
	EventDiscard
)

func (k EventKind) String() string {
	switch k {
	case EventAllocate:
		return "allocate"
	case EventFlush:
		return "flush"
	default:
		return "discard"
	}
}

// Event is one recorded page transition.
type Event struct {
	Kind   EventKind
	PageID uint64
}

// MemorySupplier keeps flushed pages in memory and records every page
// transition. It backs tests and in-process runs.
type MemorySupplier struct {
	mu          sync.Mutex
	pageSize    int
	maxPages    int
	nextID      uint64
	outstanding map[uint64]struct{}
	flushed     map[uint64][]byte
	events      []Event
}

// NewMemorySupplier creates a supplier of pageSize-byte pages. maxPages bounds
// the number of allocations; zero means unbounded.
func NewMemorySupplier(pageSize, maxPages int) *MemorySupplier {
	return &MemorySupplier{
		pageSize:    pageSize,
		maxPages:    maxPages,
		outstanding: make(map[uint64]struct{}),
		flushed:     make(map[uint64][]byte),
	}
}

// Allocate implements Supplier.
func (m *MemorySupplier) Allocate(_ context.Context) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxPages > 0 && int(m.nextID) >= m.maxPages {
		return Page{}, errors.Errorf("page supply exhausted after %d pages", m.maxPages)
	}
	id := m.nextID
	m.nextID++
	m.outstanding[id] = struct{}{}
	m.events = append(m.events, Event{Kind: EventAllocate, PageID: id})
	return Page{ID: id, Size: m.pageSize}, nil
}

// Flush implements Supplier.
func (m *MemorySupplier) Flush(_ context.Context, page Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.retire(page.ID); err != nil {
		return err
	}
	m.flushed[page.ID] = slices.Clone(page.Data)
	m.events = append(m.events, Event{Kind: EventFlush, PageID: page.ID})
	return nil
}

// Discard implements Supplier.
func (m *MemorySupplier) Discard(_ context.Context, page Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.retire(page.ID); err != nil {
		return err
	}
	m.events = append(m.events, Event{Kind: EventDiscard, PageID: page.ID})
	return nil
}

func (m *MemorySupplier) retire(id uint64) error {
	if _, ok := m.outstanding[id]; !ok {
		return errors.Wrapf(ErrUnknownPage, "page %d", id)
	}
	delete(m.outstanding, id)
	return nil
}

// Events returns the recorded transitions in order.
func (m *MemorySupplier) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// Outstanding returns the number of allocated pages not yet retired.
func (m *MemorySupplier) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outstanding)
}

// Flushed returns the payload of every flushed page, ordered by page ID.
func (m *MemorySupplier) Flushed() []Page {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages := make([]Page, 0, len(m.flushed))
	for id, data := range m.flushed {
		pages = append(pages, Page{ID: id, Size: m.pageSize, Data: data})
	}
	slices.SortFunc(pages, func(a, b Page) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return pages
}
