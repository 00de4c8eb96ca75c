package watchdog

// Source is an externally owned object whose updates are being watched.
// The watchdog only keeps a reference; it never owns the source's lifetime.
type Source interface {
	ID() string
	Name() string
}

type staticSource struct {
	id   string
	name string
}

// NewSource returns a minimal Source with a fixed ID and name.
func NewSource(id, name string) Source {
	return staticSource{id: id, name: name}
}

func (s staticSource) ID() string   { return s.id }
func (s staticSource) Name() string { return s.name }
