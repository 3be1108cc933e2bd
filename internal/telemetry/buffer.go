package telemetry

import "sync"

// Buffer keeps records in memory in arrival order. It is used to hold one
// replicate's output until the coordinator flushes it, and to collect
// results for callers that want records rather than text.
type Buffer struct {
	mu      sync.Mutex
	header  bool
	entries []entry
}

type entry struct {
	tallies *Tallies
	totals  *Totals
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// WriteHeader notes that a header was requested. Replay never writes it.
func (b *Buffer) WriteHeader() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.header = true
	return nil
}

// WriteTallies stores t.
func (b *Buffer) WriteTallies(t Tallies) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry{tallies: &t})
	return nil
}

// WriteTotals stores t.
func (b *Buffer) WriteTotals(t Totals) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry{totals: &t})
	return nil
}

// HeaderWritten reports whether WriteHeader was called.
func (b *Buffer) HeaderWritten() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.header
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Tallies returns the buffered tallies records in arrival order.
func (b *Buffer) Tallies() []Tallies {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Tallies
	for _, e := range b.entries {
		if e.tallies != nil {
			out = append(out, *e.tallies)
		}
	}
	return out
}

// Totals returns the buffered totals records in arrival order.
func (b *Buffer) Totals() []Totals {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Totals
	for _, e := range b.entries {
		if e.totals != nil {
			out = append(out, *e.totals)
		}
	}
	return out
}

// ReplayTo writes every buffered record to dst in arrival order, then
// empties the buffer. It stops at the first error.
func (b *Buffer) ReplayTo(dst Sink) error {
	b.mu.Lock()
	entries := b.entries
	b.entries = nil
	b.mu.Unlock()

	for _, e := range entries {
		var err error
		if e.tallies != nil {
			err = dst.WriteTallies(*e.tallies)
		} else {
			err = dst.WriteTotals(*e.totals)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
