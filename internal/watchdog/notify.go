package watchdog

// Subscribe registers fn to run after every modification. The returned
// function unregisters it.
func (w *Watchdog) Subscribe(fn ModifiedFunc) func() {
	if fn == nil {
		return func() {}
	}

	w.listenersMu.Lock()
	w.nextListenerID++
	id := w.nextListenerID
	w.listeners = append(w.listeners, listener{id: id, fn: fn})
	w.listenersMu.Unlock()

	return func() {
		w.listenersMu.Lock()
		defer w.listenersMu.Unlock()
		for i, l := range w.listeners {
			if l.id == id {
				w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
				return
			}
		}
	}
}

// emit must be called without w.mu held.
func (w *Watchdog) emit() {
	w.listenersMu.Lock()
	listeners := append([]listener(nil), w.listeners...)
	w.listenersMu.Unlock()

	for _, l := range listeners {
		l.fn(w)
	}
}
