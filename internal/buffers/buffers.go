// Package buffers implements the NamedBufferStore: a process-lifetime
// mapping from name to growable byte buffer, plus the switches loaded from
// the switch file. Grounded in cmp_get_named_buf's name-lookup-or-create
// shape; Go's garbage-collected slices replace the original's manual
// malloc/realloc bookkeeping.
package buffers

import (
	"errors"
	"fmt"
)

// MaxNameLen bounds a buffer or switch name, matching the original
// MAX_BNAME constant.
const MaxNameLen = 31

// ErrDuplicateSwitch reports a switch name that is already defined (a
// switch file naming the same switch twice). The Go store has no cap on
// the number of buffers, so there is no "too many buffers" error.
var ErrDuplicateSwitch = errors.New("buffers: switch name already defined")

// ErrBadName reports a name outside the MaxNameLen / charset constraints.
var ErrBadName = errors.New("buffers: name is empty, too long, or not alphanumeric (optionally '&'-prefixed)")

// Store holds every named buffer and switch value for one run. It is
// initialized empty at program start and is never reset mid-run: buffers
// auto-grow on write and live for the process's lifetime.
type Store struct {
	bufs map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{bufs: make(map[string][]byte)}
}

// IsSwitch reports whether name is a switch name (leading '&').
func IsSwitch(name string) bool {
	return len(name) > 0 && name[0] == '&'
}

// ValidName reports whether name satisfies the NamedBuffer naming rule:
// at most MaxNameLen bytes, alphanumeric with an optional leading '&'.
func ValidName(name string) bool {
	if name == "" || len(name) > MaxNameLen {
		return false
	}
	i := 0
	if name[0] == '&' {
		i = 1
		if i == len(name) {
			return false
		}
	}
	for ; i < len(name); i++ {
		c := name[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// Get returns the current contents of the named buffer, or nil if it has
// never been written. It does not create the buffer — use GetOrCreate for
// write paths.
func (s *Store) Get(name string) []byte {
	return s.bufs[name]
}

// GetOrCreate returns the named buffer, creating it empty on first
// reference, matching cmp_get_named_buf(..., create=true, ...).
func (s *Store) GetOrCreate(name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if b, ok := s.bufs[name]; ok {
		return b, nil
	}
	s.bufs[name] = []byte{}
	return s.bufs[name], nil
}

// Set overwrites the named buffer's contents (auto-growing as needed —
// Go's append/copy make the original's realloc bookkeeping moot).
func (s *Store) Set(name string, data []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.bufs[name] = cp
	return nil
}

// Append adds data to the end of the named buffer, creating it if absent.
func (s *Store) Append(name string, data []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	s.bufs[name] = append(s.bufs[name], data...)
	return nil
}

// LoadSwitches populates switch buffers from a parsed switch file, adding
// the leading '&' to any name given without it, rejecting duplicate names.
func (s *Store) LoadSwitches(values map[string]string) error {
	for name, val := range values {
		if !IsSwitch(name) {
			name = "&" + name
		}
		if _, exists := s.bufs[name]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateSwitch, name)
		}
		if err := s.Set(name, []byte(val)); err != nil {
			return err
		}
	}
	return nil
}

// Names returns every currently registered buffer name, for diagnostics
// and the MESHTEST startup dump.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.bufs))
	for n := range s.bufs {
		names = append(names, n)
	}
	return names
}
