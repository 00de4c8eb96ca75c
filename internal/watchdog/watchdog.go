package watchdog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultTolerance   = time.Second
	DefaultLabelLength = 5
)

type entry struct {
	source     Source
	label      string
	lastUpdate time.Time
	tolerance  time.Duration
	playSound  bool
	upToDate   bool
}

// ModifiedFunc receives the watchdog whose state changed.
type ModifiedFunc func(w *Watchdog)

type listener struct {
	id uint64
	fn ModifiedFunc
}

// Watchdog is an ordered list of watched entries.
type Watchdog struct {
	id     string
	name   string
	now    func() time.Time
	base   *zap.Logger
	logger *zap.Logger

	mu      sync.Mutex
	entries []entry

	listenersMu    sync.Mutex
	listeners      []listener
	nextListenerID uint64
}

type Option func(*Watchdog)

func WithID(id string) Option {
	return func(w *Watchdog) {
		if id != "" {
			w.id = id
		}
	}
}

func WithName(name string) Option {
	return func(w *Watchdog) {
		w.name = name
	}
}

func WithNow(now func() time.Time) Option {
	return func(w *Watchdog) {
		if now != nil {
			w.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Watchdog) {
		if logger != nil {
			w.base = logger
		}
	}
}

func New(opts ...Option) *Watchdog {
	w := &Watchdog{
		id:   uuid.NewString(),
		now:  time.Now,
		base: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.base.Named("watchdog").With(zap.String("watchdog", w.id))
	return w
}

func (w *Watchdog) ID() string   { return w.id }
func (w *Watchdog) Name() string { return w.name }

// EntryOption customises an entry at Add time.
type EntryOption func(*entryOptions)

type entryOptions struct {
	label     *string
	tolerance time.Duration
	playSound bool
}

// WithLabel sets the display label. Without it the label defaults to the
// first DefaultLabelLength characters of the source name.
func WithLabel(label string) EntryOption {
	return func(o *entryOptions) {
		o.label = &label
	}
}

// WithTolerance sets the maximum silence before the entry is stale.
// Non-positive values fall back to DefaultTolerance.
func WithTolerance(d time.Duration) EntryOption {
	return func(o *entryOptions) {
		o.tolerance = d
	}
}

func WithPlaySound(play bool) EntryOption {
	return func(o *entryOptions) {
		o.playSound = play
	}
}

// Add appends a new entry watching src and returns its index.
func (w *Watchdog) Add(src Source, opts ...EntryOption) (int, error) {
	if src == nil || src.ID() == "" {
		err := fmt.Errorf("add entry: %w", ErrInvalidSource)
		w.logger.Warn("add watched source failed", zap.Error(err))
		return -1, err
	}

	var o entryOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := entry{
		source:    src,
		tolerance: DefaultTolerance,
		playSound: o.playSound,
	}
	if o.label != nil {
		e.label = *o.label
	} else {
		e.label = defaultLabel(src.Name())
	}
	if o.tolerance > 0 {
		e.tolerance = o.tolerance
	}

	w.mu.Lock()
	if idx := w.indexOfLocked(src.ID()); idx >= 0 {
		w.mu.Unlock()
		err := fmt.Errorf("add entry %q: %w", src.ID(), ErrDuplicateSource)
		w.logger.Warn("add watched source failed", zap.Error(err), zap.Int("existing_index", idx))
		return -1, err
	}
	e.lastUpdate = w.now()
	w.entries = append(w.entries, e)
	idx := len(w.entries) - 1
	w.mu.Unlock()

	w.emit()
	return idx, nil
}

func defaultLabel(name string) string {
	runes := []rune(name)
	if len(runes) > DefaultLabelLength {
		runes = runes[:DefaultLabelLength]
	}
	return string(runes)
}

// Remove deletes the entry at index i; later entries shift down by one.
func (w *Watchdog) Remove(i int) error {
	w.mu.Lock()
	if err := w.checkIndexLocked("remove entry", i); err != nil {
		w.mu.Unlock()
		return err
	}
	w.entries = append(w.entries[:i], w.entries[i+1:]...)
	w.mu.Unlock()

	w.emit()
	return nil
}

// RemoveAll clears the list.
func (w *Watchdog) RemoveAll() {
	w.mu.Lock()
	w.entries = nil
	w.mu.Unlock()

	w.emit()
}

// Swap exchanges the complete records at indices a and b, cached status included.
func (w *Watchdog) Swap(a, b int) error {
	w.mu.Lock()
	if err := w.checkIndexLocked("swap entries", a); err != nil {
		w.mu.Unlock()
		return err
	}
	if err := w.checkIndexLocked("swap entries", b); err != nil {
		w.mu.Unlock()
		return err
	}
	w.entries[a], w.entries[b] = w.entries[b], w.entries[a]
	w.mu.Unlock()

	w.emit()
	return nil
}

// IndexOf returns the index of the entry watching sourceID, or -1.
func (w *Watchdog) IndexOf(sourceID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.indexOfLocked(sourceID)
}

func (w *Watchdog) indexOfLocked(sourceID string) int {
	for i := range w.entries {
		if w.entries[i].source.ID() == sourceID {
			return i
		}
	}
	return -1
}

func (w *Watchdog) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *Watchdog) Source(i int) (Source, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkIndexLocked("get source", i); err != nil {
		return nil, err
	}
	return w.entries[i].source, nil
}

func (w *Watchdog) SourceName(i int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkIndexLocked("get source name", i); err != nil {
		return "", err
	}
	return w.entries[i].source.Name(), nil
}

func (w *Watchdog) Label(i int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkIndexLocked("get label", i); err != nil {
		return "", err
	}
	return w.entries[i].label, nil
}

func (w *Watchdog) SetLabel(i int, label string) error {
	w.mu.Lock()
	if err := w.checkIndexLocked("set label", i); err != nil {
		w.mu.Unlock()
		return err
	}
	w.entries[i].label = label
	w.mu.Unlock()

	w.emit()
	return nil
}

func (w *Watchdog) Tolerance(i int) (time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkIndexLocked("get tolerance", i); err != nil {
		return 0, err
	}
	return w.entries[i].tolerance, nil
}

// SetTolerance rejects non-positive values and leaves the entry untouched.
func (w *Watchdog) SetTolerance(i int, d time.Duration) error {
	w.mu.Lock()
	if err := w.checkIndexLocked("set tolerance", i); err != nil {
		w.mu.Unlock()
		return err
	}
	if d <= 0 {
		w.mu.Unlock()
		err := fmt.Errorf("set tolerance %s: %w", d, ErrInvalidTolerance)
		w.logger.Warn("set tolerance failed", zap.Error(err), zap.Int("index", i))
		return err
	}
	w.entries[i].tolerance = d
	w.mu.Unlock()

	w.emit()
	return nil
}

func (w *Watchdog) PlaySound(i int) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkIndexLocked("get play sound", i); err != nil {
		return false, err
	}
	return w.entries[i].playSound, nil
}

func (w *Watchdog) SetPlaySound(i int, play bool) error {
	w.mu.Lock()
	if err := w.checkIndexLocked("set play sound", i); err != nil {
		w.mu.Unlock()
		return err
	}
	w.entries[i].playSound = play
	w.mu.Unlock()

	w.emit()
	return nil
}

// UpToDate returns the status computed by the last UpdateStatus call.
// An invalid index reports true alongside the error.
func (w *Watchdog) UpToDate(i int) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkIndexLocked("get up to date", i); err != nil {
		return true, err
	}
	return w.entries[i].upToDate, nil
}

// Elapsed returns the time since the entry's last update.
func (w *Watchdog) Elapsed(i int) (time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkIndexLocked("get elapsed", i); err != nil {
		return 0, err
	}
	return w.now().Sub(w.entries[i].lastUpdate), nil
}

// Clone returns a deep copy of the entry list. Subscribers are not copied.
// The clone keeps this watchdog's name, clock and logger unless overridden.
func (w *Watchdog) Clone(opts ...Option) *Watchdog {
	base := []Option{WithName(w.name), WithNow(w.now), WithLogger(w.base)}
	c := New(append(base, opts...)...)

	w.mu.Lock()
	c.entries = append([]entry(nil), w.entries...)
	w.mu.Unlock()
	return c
}

func (w *Watchdog) checkIndexLocked(op string, i int) error {
	if i >= 0 && i < len(w.entries) {
		return nil
	}
	err := fmt.Errorf("%s: %w: %d (count %d)", op, ErrIndexOutOfRange, i, len(w.entries))
	w.logger.Warn("invalid entry index", zap.Error(err))
	return err
}
