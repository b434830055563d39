// Package mesh implements the MeshRulebook: the 650/651/655 Medical
// Subject Headings recombination engine described in spec.md §4.7,
// grounded in meshproc.c's mh_grp/mh_disp/mh_fld model.
package mesh

// Group is an exception-group label attached to a specific heading
// string, driving special-case treatment in the rulebook (meshproc.c's
// MH_GRP).
type Group int

const (
	GroupNone Group = iota
	GroupAge650
	GroupAgeSource
	GroupAgeTarget
	GroupLaw
	GroupLaw5
	GroupCaseRep
	GroupStats
	GroupStats5
	GroupDict
	GroupUSMed
	GroupUSMed1
)

// groupNames maps the exception-table's textual group names (as they
// appear in the exception table file) to Group values.
var groupNames = map[string]Group{
	"Age650":  GroupAge650,
	"Law":     GroupLaw,
	"Law5":    GroupLaw5,
	"CaseRep": GroupCaseRep,
	"Stats":   GroupStats,
	"Stats5":  GroupStats5,
	"Dict":    GroupDict,
	"USMed":   GroupUSMed,
	"USMed1":  GroupUSMed1,
}

// ParseGroup resolves a textual group name from the exception table.
func ParseGroup(s string) (Group, bool) {
	g, ok := groupNames[s]
	return g, ok
}

// Disposition records what the rulebook has decided to do with a working
// field (meshproc.c's MH_DISP).
type Disposition int

const (
	DispNone Disposition = iota
	DispOutput
	DispCombine
	DispComplete
	DispError
)

// NoRecombine values: 0 means combinations are permitted; a subfield code
// byte means combinations adding that code are blocked; NoRecombineAll
// blocks every combination.
const NoRecombineAll = 0xff

// MaxSubfields is the per-field subfield limit of meshproc.c's MH_MAX_SFS.
// The rulebook does not check it: extraction and the combination rules
// append subfields to a working field without any limit.
const MaxSubfields = 8

// MaxFields is the per-record limit on working MeshFields (100). The
// rulebook does not check it: extraction and field duplication append to
// the working slice without any limit.
const MaxFields = 100

// Subfield is one working subfield on a MeshField: its exception-group
// membership (if the group-tagged real subfield code is 'a' or 'x'), its
// code, and its payload.
type Subfield struct {
	Group Group
	Code  byte
	Data  []byte
}

// Field is the transient per-record working model for one 650/651/655
// heading (meshproc.c's MH_FLD).
type Field struct {
	Tag         int
	Indic1      byte
	Indic2      byte
	Disposition Disposition
	KeepIndic   bool
	NoRecombine int // 0, NoRecombineAll, or a subfield code byte
	Subfields   []Subfield
}

// Clone deep-copies a Field, used when a rule must duplicate a field
// rather than mutate it in place (to avoid clobbering an existing
// combination target).
func (f *Field) Clone() *Field {
	cp := *f
	cp.Subfields = make([]Subfield, len(f.Subfields))
	for i, s := range f.Subfields {
		cp.Subfields[i] = Subfield{Group: s.Group, Code: s.Code, Data: append([]byte(nil), s.Data...)}
	}
	return &cp
}

// First returns the first subfield, used by the case-report rule ("any
// field whose first subfield belongs to group CaseRep").
func (f *Field) First() (Subfield, bool) {
	if len(f.Subfields) == 0 {
		return Subfield{}, false
	}
	return f.Subfields[0], true
}

// FindCode returns the first subfield with the given code, if any.
func (f *Field) FindCode(code byte) (int, Subfield, bool) {
	for i, s := range f.Subfields {
		if s.Code == code {
			return i, s, true
		}
	}
	return -1, Subfield{}, false
}

// HasGroup reports whether any subfield on f belongs to group g.
func (f *Field) HasGroup(g Group) bool {
	for _, s := range f.Subfields {
		if s.Group == g {
			return true
		}
	}
	return false
}

// AllowsRecombine reports whether a new subfield of the given code may be
// combined onto f, honoring the no_recombine rule: 0 permits everything,
// NoRecombineAll blocks everything, and any other value blocks only that
// one code.
func (f *Field) AllowsRecombine(code byte) bool {
	switch f.NoRecombine {
	case 0:
		return true
	case NoRecombineAll:
		return false
	default:
		return byte(f.NoRecombine) != code
	}
}
