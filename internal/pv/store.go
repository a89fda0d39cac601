package pv

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors returned by Store operations. A rejected or clamped write
// is NOT an error: the caller detects it by comparing the returned value
// against the request.
var (
	ErrUnknownVariable = errors.New("unknown variable")
	ErrReadOnly        = errors.New("variable is read-only")
)

// WriteHook runs under the store lock on every accepted-kind external write.
// It receives the current and the requested (parsed, clamped) value and
// returns the value to store; returning cur reverts the write. The hook may
// set other variables through tx; those writes bypass hooks.
type WriteHook func(tx *Tx, cur, req Value) Value

type variable struct {
	def   Definition
	value Value
	hook  WriteHook
}

// Store holds all control variables behind a single mutex. External reads
// and writes serialize against the simulation engine's per-tick Update, so
// no caller ever observes a partially committed tick.
type Store struct {
	mu    sync.Mutex
	vars  map[string]*variable
	order []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{vars: make(map[string]*variable)}
}

// Register adds a variable. Registering a duplicate name is a programming
// error and panics.
func (s *Store) Register(def Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vars[def.Name]; ok {
		panic(fmt.Sprintf("pv: duplicate variable %q", def.Name))
	}
	s.vars[def.Name] = &variable{def: def, value: def.Default}
	s.order = append(s.order, def.Name)
}

// SetHook installs the write hook for a registered variable.
func (s *Store) SetHook(name string, hook WriteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	va, ok := s.vars[name]
	if !ok {
		panic(fmt.Sprintf("pv: hook for unknown variable %q", name))
	}
	va.hook = hook
}

// Read returns the last committed value of a variable.
func (s *Store) Read(name string) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	va, ok := s.vars[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return va.value, nil
}

// Definition returns a variable's metadata.
func (s *Store) Definition(name string) (Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	va, ok := s.vars[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return va.def, nil
}

// Names lists all variables in registration order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Snapshot returns a copy of every variable's current value.
func (s *Store) Snapshot() map[string]Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(map[string]Value, len(s.vars))
	for name, va := range s.vars {
		snap[name] = va.value
	}
	return snap
}

// RequestWrite validates and applies an external write. The returned value
// is what the store now holds: the request (possibly clamped), or the prior
// value if the request was rejected by parsing or by the variable's hook.
// Read-only variables return ErrReadOnly with the current value.
func (s *Store) RequestWrite(name, raw string) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	va, ok := s.vars[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	if va.def.ReadOnly {
		return va.value, fmt.Errorf("%w: %q", ErrReadOnly, name)
	}

	req, err := va.def.Parse(raw)
	if err != nil {
		// Out-of-domain request: revert to the current value.
		return va.value, nil
	}
	req = va.def.clamp(req)

	if va.hook != nil {
		req = va.hook(&Tx{s: s}, va.value, req)
	}
	va.value = req
	return va.value, nil
}

// Update runs fn with exclusive access to the store. The engine uses it to
// commit one whole tick atomically; writes inside fn bypass hooks and
// clamping.
func (s *Store) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{s: s})
}

// Tx provides direct variable access while the store lock is held, either
// inside Update or inside a WriteHook. It must not escape that scope.
type Tx struct {
	s *Store
}

func (tx *Tx) get(name string) *variable {
	va, ok := tx.s.vars[name]
	if !ok {
		panic(fmt.Sprintf("pv: unknown variable %q", name))
	}
	return va
}

// Get returns a variable's value.
func (tx *Tx) Get(name string) Value { return tx.get(name).value }

// Set stores a value without running hooks or clamps.
func (tx *Tx) Set(name string, v Value) { tx.get(name).value = v }

// Float reads a float variable.
func (tx *Tx) Float(name string) float64 { return tx.get(name).value.F }

// SetFloat writes a float variable.
func (tx *Tx) SetFloat(name string, f float64) { tx.get(name).value = Float(f) }

// Enum reads an enum variable's index.
func (tx *Tx) Enum(name string) int { return tx.get(name).value.Index }

// SetEnum writes an enum variable by index.
func (tx *Tx) SetEnum(name string, i int) { tx.get(name).value = Enum(i) }

// Bool reads a boolean variable.
func (tx *Tx) Bool(name string) bool { return tx.get(name).value.Flag }

// SetBool writes a boolean variable.
func (tx *Tx) SetBool(name string, b bool) { tx.get(name).value = Bool(b) }
