package devices

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	ErrUnknownID   = errors.New("devices: unknown id")
	ErrNoCommander = errors.New("devices: no panel connection")
)

// Class names an entity family. It doubles as the MQTT topic segment.
type Class string

const (
	ClassSystem    Class = "system"
	ClassPartition Class = "partition"
	ClassZone      Class = "zone"
	ClassOutput    Class = "output"
)

// Edge is a state transition produced by a status update.
type Edge struct {
	Class Class
	ID    int
	Event string
}

func (e Edge) String() string {
	if e.Class == ClassSystem {
		return fmt.Sprintf("system %s", e.Event)
	}
	return fmt.Sprintf("%s %d %s", e.Class, e.ID, e.Event)
}

// Commander sends one command to the panel and returns its raw answer.
type Commander interface {
	SendCommand(ctx context.Context, cmd string, prog bool) (string, error)
}

// flag binds a status character to a boolean field and its edge events.
type flag[T any] struct {
	char  byte
	field func(*T) *bool
	on    string
	off   string
}

// applyFlags sets every flag in table from status and returns the events of
// the flags that changed. With silent set the flags are only initialized.
func applyFlags[T any](state *T, table []flag[T], status string, silent bool) []string {
	var events []string
	for _, f := range table {
		v := strings.IndexByte(status, f.char) >= 0
		p := f.field(state)
		if v != *p && !silent {
			if v {
				events = append(events, f.on)
			} else {
				events = append(events, f.off)
			}
		}
		*p = v
	}
	return events
}

// base carries what every entity shares. Embedders guard their own state
// with mu as well.
type base struct {
	id  int
	cmd Commander

	mu      sync.RWMutex
	label   string
	status  string
	applied bool
	stale   bool
}

func (b *base) ID() int {
	return b.id
}

func (b *base) Label() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.label
}

func (b *base) SetLabel(label string) {
	if label == "" {
		return
	}
	b.mu.Lock()
	b.label = label
	b.mu.Unlock()
}

// Status returns the last raw status string applied.
func (b *base) Status() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Stale reports whether the panel configuration changed after discovery.
func (b *base) Stale() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stale
}

func (b *base) MarkStale() {
	b.mu.Lock()
	b.stale = true
	b.mu.Unlock()
}

// record stores status and reports whether it is the first one. Callers
// hold mu.
func (b *base) record(status string) bool {
	first := !b.applied
	b.applied = true
	b.status = status
	return first
}

func (b *base) ack(ctx context.Context, command string) (bool, error) {
	if b.cmd == nil {
		return false, ErrNoCommander
	}
	resp, err := b.cmd.SendCommand(ctx, command, false)
	if err != nil {
		return false, fmt.Errorf("%s: %w", command, err)
	}
	if resp != "ACK" {
		return false, fmt.Errorf("%s: panel answered %q", command, resp)
	}
	return true, nil
}

type subscribers struct {
	mu  sync.RWMutex
	fns []func(Edge)
}

// Subscribe registers fn for every edge. fn runs on the caller of the
// status update and must not block.
func (s *subscribers) Subscribe(fn func(Edge)) {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

func (s *subscribers) notify(edges []Edge) {
	if len(edges) == 0 {
		return
	}
	s.mu.RLock()
	fns := slices.Clone(s.fns)
	s.mu.RUnlock()
	for _, e := range edges {
		for _, fn := range fns {
			fn(e)
		}
	}
}

// Entity is a partition, zone or output held in a List.
type Entity interface {
	ID() int
	Label() string
	Status() string
	ApplyStatus(status string) []string
	MarkStale()
}

// List is an indexed collection of entities numbered from 1. It forwards the
// edges of its members to its own subscribers.
type List[E Entity] struct {
	subscribers
	class Class
	items []E

	mu    sync.RWMutex
	ready bool
}

func newList[E Entity](class Class, n int, build func(id int) E) *List[E] {
	l := &List[E]{class: class, items: make([]E, n)}
	for i := range l.items {
		l.items[i] = build(i + 1)
	}
	return l
}

func (l *List[E]) Class() Class {
	return l.class
}

func (l *List[E]) Len() int {
	return len(l.items)
}

// ByID returns the entity numbered id.
func (l *List[E]) ByID(id int) (E, bool) {
	if id < 1 || id > len(l.items) {
		var zero E
		return zero, false
	}
	return l.items[id-1], true
}

func (l *List[E]) All() []E {
	return append([]E(nil), l.items...)
}

// Ready reports whether discovery filled the collection.
func (l *List[E]) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready
}

func (l *List[E]) SetReady(ready bool) {
	l.mu.Lock()
	l.ready = ready
	l.mu.Unlock()
}

// SetStatus applies a status string to entity id and notifies subscribers of
// the resulting edges.
func (l *List[E]) SetStatus(id int, status string) ([]Edge, error) {
	e, ok := l.ByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s %d", ErrUnknownID, l.class, id)
	}
	var edges []Edge
	for _, name := range e.ApplyStatus(status) {
		edges = append(edges, Edge{Class: l.class, ID: id, Event: name})
	}
	l.notify(edges)
	return edges, nil
}

func (l *List[E]) MarkStale() {
	for _, e := range l.items {
		e.MarkStale()
	}
}
