package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pingsantohq/watchdog/internal/config"
	"github.com/pingsantohq/watchdog/internal/watchdog"
)

var ErrStoreClosed = errors.New("state store closed")

// Store persists the full set of watchdog records. Save replaces whatever
// was stored before; Load returns records in the order they were saved.
type Store interface {
	Save(ctx context.Context, records []Record) error
	Load(ctx context.Context) ([]Record, error)
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverNone, "":
		return NewMemoryStore(), nil
	case config.DriverFile:
		return NewFileStore(cfg.Path), nil
	case config.DriverSQLite:
		return OpenSQLStore(ctx, cfg.Path)
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("open state store: unsupported driver %q", cfg.Driver)
	}
}

// Restore loads every record and decodes it. Records that decode with
// skipped entries are still returned; the skips are joined into the error.
func Restore(ctx context.Context, store Store, resolve Resolver, opts ...watchdog.Option) ([]*watchdog.Watchdog, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore watchdogs: %w", err)
	}
	out := make([]*watchdog.Watchdog, 0, len(records))
	var errs []error
	for _, rec := range records {
		w, err := Decode(rec, resolve, opts...)
		if err != nil {
			errs = append(errs, err)
		}
		if w != nil {
			out = append(out, w)
		}
	}
	return out, errors.Join(errs...)
}

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(ctx context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.records = append([]Record(nil), records...)
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	return append([]Record(nil), m.records...), nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
