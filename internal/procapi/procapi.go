// Package procapi defines the shared vocabulary between the control-table
// compiler (internal/rules) and the procedures that execute against a
// record (internal/procs, internal/mesh): procedure return statuses, the
// per-call parameter context, and the name→function registry consulted at
// both compile time (for arity/position validation) and run time (for
// dispatch).
//
// It exists as its own package so rules and procs can both depend on it
// without rules needing to import procs (which would cycle back through
// the interpreter).
package procapi

import (
	"github.com/jbirkhimer/marcconv-sub001/internal/buffers"
	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/marcrec"
)

// Status is a procedure's return code, driving the interpreter's
// short-circuit control flow (spec.md §4.4).
type Status int

const (
	StatusOK         Status = iota // advance to true-next
	StatusIfFailed                 // advance to false-next; not an error
	StatusError                    // log and abort the record
	StatusDoneSF                   // short-circuit to end of subfield loop
	StatusDoneField                // short-circuit to end of field loop
	StatusKillField                // like DoneField, then delete the output field
	StatusDoneRecord                // short-circuit to the post-record step
	StatusKillRecord                // suppress emission of this record
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusIfFailed:
		return "IF_FAILED"
	case StatusError:
		return "ERROR"
	case StatusDoneSF:
		return "DONE_SF"
	case StatusDoneField:
		return "DONE_FIELD"
	case StatusKillField:
		return "KILL_FIELD"
	case StatusDoneRecord:
		return "DONE_RECORD"
	case StatusKillRecord:
		return "KILL_RECORD"
	default:
		return "UNKNOWN"
	}
}

// Position bit flags describe where a procedure may legally be invoked;
// they mirror marcconv.h's CMP_EE/CMP_RE/CMP_FE/CMP_SE family.
const (
	PosSessionPre = 1 << iota
	PosSessionPost
	PosRecordPre
	PosRecordPost
	PosFieldPre
	PosFieldPost
	PosSubfieldPre
	PosSubfieldPost

	PosAny = PosSessionPre | PosSessionPost | PosRecordPre | PosRecordPost |
		PosFieldPre | PosFieldPost | PosSubfieldPre | PosSubfieldPost
)

// Condition tags a compiled node as a plain procedure or a branch in an
// if/else/endif group (marcconv.h's CM_CND).
type Condition int

const (
	CondNone Condition = iota
	CondIf
	CondElse
	CondEndif
)

// ProcDataCap is the fixed size of the per-call scratch buffer holding
// "current data" (spec.md §4.4 / §5): procedures must neither retain
// pointers into it across calls nor write beyond its length.
const ProcDataCap = 16384

// ProcParams is the context passed to every builtin procedure invocation.
type ProcParams struct {
	// InputRec is a read-only duplicate of the live input record's
	// cursor: procedures may query it freely but must never advance the
	// main loop's own input cursor (spec.md §8 property 4).
	InputRec *marcrec.Record
	// OutputRec is the record under construction; procedures mutate it.
	OutputRec *marcrec.Record

	// Data is the current-data scratch buffer: a copy of the bytes the
	// calling loop is about to insert. Capacity is fixed at ProcDataCap.
	Data []byte

	// Args are the raw string arguments frozen from the control table at
	// compile time.
	Args []string

	Bufs *buffers.Store
	Diag *diag.Reporter

	// Call re-invokes another registered builtin with substituted
	// arguments (cmp_call), used by composite procedures.
	Call func(name string, args []string) (Status, error)

	// Builtin resolves a %fid/%focc/%fpos/%sid/%socc/%spos variable to
	// its current integer value.
	Builtin func(name string) (int, bool)
}

// checksum captures the subset of ProcParams that must be invariant
// across a single procedure call — the interpreter compares it before and
// after the call and treats a mismatch as a fatal misbehaving-procedure
// bug (spec.md §4.4).
type checksum struct {
	inputRec  *marcrec.Record
	outputRec *marcrec.Record
	bufs      *buffers.Store
	diagp     *diag.Reporter
	dataCap   int
}

// Checksum snapshots the invariant fields of pp.
func (pp *ProcParams) Checksum() checksum {
	return checksum{
		inputRec:  pp.InputRec,
		outputRec: pp.OutputRec,
		bufs:      pp.Bufs,
		diagp:     pp.Diag,
		dataCap:   cap(pp.Data),
	}
}

// ProcFunc is the signature every builtin procedure implements.
type ProcFunc func(*ProcParams) Status

// Spec describes one registered builtin: its identity, its legal argument
// count range, the scopes×pre/post positions it may appear in, and
// whether it participates in if/else/endif backpatching.
type Spec struct {
	Name      string
	Func      ProcFunc
	MinArgs   int
	MaxArgs   int // -1 means unbounded
	ValidPos  int
	Condition Condition
}

// Registry is the name→function lookup table consulted by the compiler
// (for validation) and the interpreter (for dispatch). It is built once at
// startup and is read-only thereafter.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds spec to the registry. Registering the same name twice
// replaces the previous entry — used by callers that want to override a
// generic procedure with a domain-specialized one under the same name.
func (r *Registry) Register(spec Spec) {
	r.specs[spec.Name] = spec
}

// Lookup returns the Spec registered under name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns every registered procedure name, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	return names
}
