package processor

import (
	"sort"
	"time"
)

// Status is the per-symbol state a processor keeps between ticks.
type Status int

const (
	StatusNone Status = iota
	StatusPending
	StatusActive
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusClosing:
		return "CLOSING"
	}
	return "NONE"
}

type Lifecycle struct {
	Status    Status
	EntryTime time.Time
	// Meta holds strategy specific values recorded with the open.
	Meta map[string]float64
}

// Lifecycles maps symbols to their records. Transitions are only possible
// through its methods: NONE|PENDING -> PENDING -> ACTIVE -> CLOSING.
type Lifecycles struct {
	records map[string]Lifecycle
}

func NewLifecycles() *Lifecycles {
	return &Lifecycles{records: make(map[string]Lifecycle)}
}

func (l *Lifecycles) Get(symbol string) (Lifecycle, bool) {
	r, ok := l.records[symbol]
	return r, ok
}

func (l *Lifecycles) Status(symbol string) Status {
	return l.records[symbol].Status
}

// MarkPending records an open intent issued at t.
func (l *Lifecycles) MarkPending(symbol string, t time.Time) bool {
	switch l.Status(symbol) {
	case StatusNone, StatusPending:
		l.records[symbol] = Lifecycle{Status: StatusPending, EntryTime: t}
		return true
	}
	return false
}

// Confirm moves a pending record to active; any other state is left alone.
func (l *Lifecycles) Confirm(symbol string) bool {
	r, ok := l.records[symbol]
	if !ok || r.Status != StatusPending {
		return false
	}
	r.Status = StatusActive
	l.records[symbol] = r
	return true
}

// SetMeta stores a value on an existing record. It reports false when symbol is not tracked.
func (l *Lifecycles) SetMeta(symbol, key string, v float64) bool {
	r, ok := l.records[symbol]
	if !ok {
		return false
	}
	if r.Meta == nil {
		r.Meta = make(map[string]float64)
	}
	r.Meta[key] = v
	l.records[symbol] = r
	return true
}

func (l *Lifecycles) MarkClosing(symbol string) bool {
	r, ok := l.records[symbol]
	if !ok || r.Status != StatusActive {
		return false
	}
	r.Status = StatusClosing
	l.records[symbol] = r
	return true
}

func (l *Lifecycles) Remove(symbol string) {
	delete(l.records, symbol)
}

// Prune removes every record that is not active.
func (l *Lifecycles) Prune() {
	for symbol, r := range l.records {
		if r.Status != StatusActive {
			delete(l.records, symbol)
		}
	}
}

// Symbols returns the tracked symbols in sorted order.
func (l *Lifecycles) Symbols() []string {
	out := make([]string, 0, len(l.records))
	for symbol := range l.records {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (l *Lifecycles) Len() int {
	return len(l.records)
}
