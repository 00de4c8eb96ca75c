package persist

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pingsantohq/watchdog/internal/watchdog"
)

const delimiter = ";"

var ErrDelimiter = errors.New("value contains the field delimiter")

// CheckField reports ErrDelimiter when value cannot be stored in a
// delimited record field.
func CheckField(name, value string) error {
	if strings.Contains(value, delimiter) {
		return fmt.Errorf("%s %q: %w", name, value, ErrDelimiter)
	}
	return nil
}

// Record is the stored form of one watchdog. Every list field holds one
// value per entry, joined by semicolons and kept in entry order.
type Record struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	SourceIDs   string `yaml:"source_ids" json:"source_ids"`
	SourceNames string `yaml:"source_names,omitempty" json:"source_names,omitempty"`
	Labels      string `yaml:"labels" json:"labels"`
	PlaySound   string `yaml:"play_sound" json:"play_sound"`
	Tolerances  string `yaml:"tolerances" json:"tolerances"`
}

// Resolver maps a stored source ID back to a live source. The stored name is
// passed for resolvers that create missing sources.
type Resolver func(id, name string) (watchdog.Source, bool)

func Encode(w *watchdog.Watchdog) (Record, error) {
	snap := w.Snapshot()
	n := len(snap.Entries)
	ids := make([]string, 0, n)
	names := make([]string, 0, n)
	labels := make([]string, 0, n)
	sounds := make([]string, 0, n)
	tolerances := make([]string, 0, n)

	for _, e := range snap.Entries {
		for _, f := range [...]struct{ name, value string }{
			{"source id", e.SourceID},
			{"source name", e.SourceName},
			{"label", e.Label},
		} {
			if err := CheckField(f.name, f.value); err != nil {
				return Record{}, fmt.Errorf("encode watchdog %q entry %d: %w", snap.ID, e.Index, err)
			}
		}
		ids = append(ids, e.SourceID)
		names = append(names, e.SourceName)
		labels = append(labels, e.Label)
		sounds = append(sounds, strconv.FormatBool(e.PlaySound))
		tolerances = append(tolerances, formatSeconds(e.Tolerance))
	}

	return Record{
		ID:          snap.ID,
		Name:        snap.Name,
		SourceIDs:   strings.Join(ids, delimiter),
		SourceNames: strings.Join(names, delimiter),
		Labels:      strings.Join(labels, delimiter),
		PlaySound:   strings.Join(sounds, delimiter),
		Tolerances:  strings.Join(tolerances, delimiter),
	}, nil
}

// Decode rebuilds a watchdog from rec. Missing or malformed label, sound and
// tolerance values fall back to the entry defaults. Entries whose source
// cannot be resolved, or that repeat an earlier source, are skipped; they are
// reported through the returned error while the watchdog holding the
// remaining entries is still returned.
func Decode(rec Record, resolve Resolver, opts ...watchdog.Option) (*watchdog.Watchdog, error) {
	if resolve == nil {
		return nil, errors.New("decode record: nil resolver")
	}
	w := watchdog.New(append([]watchdog.Option{watchdog.WithID(rec.ID), watchdog.WithName(rec.Name)}, opts...)...)

	ids := splitField(rec.SourceIDs)
	names := splitField(rec.SourceNames)
	labels := splitLabels(rec.Labels, len(ids))
	sounds := splitField(rec.PlaySound)
	tolerances := splitField(rec.Tolerances)

	var errs []error
	for i, id := range ids {
		src, ok := resolve(id, fieldAt(names, i))
		if !ok {
			errs = append(errs, fmt.Errorf("decode watchdog %q entry %d: source %q not found", rec.ID, i, id))
			continue
		}

		var entryOpts []watchdog.EntryOption
		if i < len(labels) {
			entryOpts = append(entryOpts, watchdog.WithLabel(labels[i]))
		}
		entryOpts = append(entryOpts, watchdog.WithPlaySound(fieldAt(sounds, i) == "true"))
		if d, ok := parseTolerance(fieldAt(tolerances, i)); ok {
			entryOpts = append(entryOpts, watchdog.WithTolerance(d))
		}

		if _, err := w.Add(src, entryOpts...); err != nil {
			errs = append(errs, fmt.Errorf("decode watchdog %q entry %d: %w", rec.ID, i, err))
		}
	}
	return w, errors.Join(errs...)
}

func splitField(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, delimiter)
}

// splitLabels keeps an empty field as one empty label when there is exactly
// one entry; for longer lists an empty field means the labels were not stored.
func splitLabels(s string, entries int) []string {
	if s == "" && entries != 1 {
		return nil
	}
	return strings.Split(s, delimiter)
}

func fieldAt(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

// formatTolerance writes seconds in the shortest form that parses back to
// the same value.
func formatTolerance(d time.Duration) string {
	return formatSeconds(d.Seconds())
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'g', -1, 64)
}

func parseTolerance(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 {
		return 0, false
	}
	return time.Duration(math.Round(sec * float64(time.Second))), true
}
