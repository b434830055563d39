package marcrec

// Synthetic subfield codes used to expose the two indicator bytes of a
// variable field as ordinary subfields at positions 0 and 1, so that every
// subfield-level code path (interpreter loops, BuiltinProcs addressing)
// can treat indicators and real subfields uniformly. Neither value is a
// printable ASCII byte in U+0021..U+007E, so they can never collide with a
// real subfield code.
const (
	IndicCode1 byte = 0x01
	IndicCode2 byte = 0x02
)

// LeaderLen is the fixed size of a MARC leader, treated as field 0.
const LeaderLen = 24

// Subfield is a code+payload pair within a variable field. A Subfield with
// Code == IndicCode1 or IndicCode2 is a pseudo-subfield standing in for an
// indicator; its Data must be exactly one byte.
type Subfield struct {
	Code byte
	Data []byte
}

// Field is a single MARC field. Tag < 10 fields are fixed (FixedData holds
// the opaque payload, Subfields/Indic1/Indic2 are unused); tag >= 10 are
// variable (Subfields holds the real subfields, indicators are exposed
// separately and also synthesized into position 0/1 on demand).
type Field struct {
	Tag       int
	Occ       int
	Indic1    byte
	Indic2    byte
	Subfields []Subfield
	FixedData []byte
}

// IsFixed reports whether the field's tag class is fixed-length (<10).
func (f *Field) IsFixed() bool { return f.Tag < 10 }

// NumSubfields returns the subfield count as seen by subfield-scope
// navigation: for variable fields this is 2 (the indicators) plus the
// count of real subfields; for fixed fields it is 0.
func (f *Field) NumSubfields() int {
	if f.IsFixed() {
		return 0
	}
	return 2 + len(f.Subfields)
}

// SubfieldAt returns the pseudo- or real subfield at the given position
// within subfield-scope navigation (0 == indicator 1, 1 == indicator 2,
// 2.. == Subfields[pos-2]).
func (f *Field) SubfieldAt(pos int) (Subfield, bool) {
	switch {
	case f.IsFixed():
		return Subfield{}, false
	case pos == 0:
		return Subfield{Code: IndicCode1, Data: []byte{f.Indic1}}, true
	case pos == 1:
		return Subfield{Code: IndicCode2, Data: []byte{f.Indic2}}, true
	case pos-2 >= 0 && pos-2 < len(f.Subfields):
		return f.Subfields[pos-2], true
	default:
		return Subfield{}, false
	}
}

// FindSubfield returns the occurrence'th real subfield (occurrences are
// counted among subfields with this code only; indicators are addressed
// via IndicCode1/IndicCode2 directly) and its position.
func (f *Field) FindSubfield(code byte, occ int) (pos int, sf Subfield, ok bool) {
	if code == IndicCode1 {
		if occ == 0 {
			return 0, Subfield{Code: IndicCode1, Data: []byte{f.Indic1}}, true
		}
		return 0, Subfield{}, false
	}
	if code == IndicCode2 {
		if occ == 0 {
			return 1, Subfield{Code: IndicCode2, Data: []byte{f.Indic2}}, true
		}
		return 0, Subfield{}, false
	}
	n := 0
	for i, s := range f.Subfields {
		if s.Code == code {
			if n == occ {
				return i + 2, s, true
			}
			n++
		}
	}
	return 0, Subfield{}, false
}

// CountSubfield returns how many real subfields carry the given code.
func (f *Field) CountSubfield(code byte) int {
	n := 0
	for _, s := range f.Subfields {
		if s.Code == code {
			n++
		}
	}
	return n
}

// Clone deep-copies a field, used by Record.Duplicate and by field
// combination logic in the MeSH rulebook.
func (f *Field) Clone() *Field {
	cp := *f
	if f.Subfields != nil {
		cp.Subfields = make([]Subfield, len(f.Subfields))
		for i, s := range f.Subfields {
			cp.Subfields[i] = Subfield{Code: s.Code, Data: append([]byte(nil), s.Data...)}
		}
	}
	if f.FixedData != nil {
		cp.FixedData = append([]byte(nil), f.FixedData...)
	}
	return &cp
}

// savedPos is one entry of the codec's bounded save/restore stack.
type savedPos struct {
	fieldIdx int
	sfIdx    int
}

// Record is the navigable in-memory model of a MARC record. The 24-byte
// leader is held apart in Leader; Fields holds the real fields in input
// order (Fields[0] is the first field after the leader), occurrences dense
// per tag. Navigation is via a single
// current-position cursor (field index + subfield index), mutated by the
// Goto*/Add/Delete methods below.
type Record struct {
	Leader [LeaderLen]byte
	Fields []*Field

	curField int // index into Fields, -1 if none positioned
	curSF    int // subfield-scope position within Fields[curField]

	saveStack []savedPos
}

// NewRecord returns an empty record (used to build an output record),
// with the leader's fixed-value bytes defaulted to spaces.
func NewRecord() *Record {
	r := &Record{curField: -1, curSF: -1}
	for i := range r.Leader {
		r.Leader[i] = ' '
	}
	return r
}

// NumFields returns the number of real (non-leader) fields.
func (r *Record) NumFields() int { return len(r.Fields) }

// FieldAt returns the field at the given 0-based ordinal index.
func (r *Record) FieldAt(i int) (*Field, bool) {
	if i < 0 || i >= len(r.Fields) {
		return nil, false
	}
	return r.Fields[i], true
}

// GotoField positions the cursor at the i'th field (ordinal index) and
// clears the subfield position.
func (r *Record) GotoField(i int) error {
	if i < 0 || i >= len(r.Fields) {
		return ErrPastEndOfRecord
	}
	r.curField = i
	r.curSF = -1
	return nil
}

// GotoSubfield positions the subfield cursor at position i within the
// current field.
func (r *Record) GotoSubfield(i int) error {
	f, ok := r.CurrentField()
	if !ok {
		return ErrNoCurrentField
	}
	if i < 0 || i >= f.NumSubfields() {
		return ErrPastEndOfField
	}
	r.curSF = i
	return nil
}

// CurrentField returns the field the cursor currently points at.
func (r *Record) CurrentField() (*Field, bool) {
	if r.curField < 0 || r.curField >= len(r.Fields) {
		return nil, false
	}
	return r.Fields[r.curField], true
}

// CurrentFieldIndex exposes the cursor's field ordinal, used by the %fid
// class of builtin variables.
func (r *Record) CurrentFieldIndex() int { return r.curField }

// CurrentSubfieldIndex exposes the cursor's subfield ordinal.
func (r *Record) CurrentSubfieldIndex() int { return r.curSF }

// CurrentSubfield returns the subfield the cursor currently points at.
func (r *Record) CurrentSubfield() (Subfield, bool) {
	f, ok := r.CurrentField()
	if !ok || r.curSF < 0 {
		return Subfield{}, false
	}
	return f.SubfieldAt(r.curSF)
}

// FindField positions the cursor at occurrence occ of the given tag and
// returns it; distinguishes "no such tag at all" from "tag exists, not at
// that occurrence" per §4.1's navigation API.
func (r *Record) FindField(tag, occ int) (*Field, error) {
	found := false
	for i, f := range r.Fields {
		if f.Tag == tag {
			found = true
			if f.Occ == occ {
				r.curField = i
				r.curSF = -1
				return f, nil
			}
		}
	}
	if !found {
		return nil, ErrNoSuchField
	}
	return nil, ErrNoSuchFieldOcc
}

// NextOccurrence returns the occurrence number the next field with this
// tag should receive (dense, 0-origin).
func (r *Record) NextOccurrence(tag int) int {
	n := 0
	for _, f := range r.Fields {
		if f.Tag == tag {
			n++
		}
	}
	return n
}

// AddField appends a new occurrence of tag, with default indicators
// (space) and no subfields, and makes it the current field.
func (r *Record) AddField(tag int) (*Field, error) {
	if tag < 0 || tag > 999 {
		return nil, ErrFieldIDRange
	}
	f := &Field{Tag: tag, Occ: r.NextOccurrence(tag), Indic1: ' ', Indic2: ' '}
	if tag < 10 {
		f.FixedData = []byte{}
	}
	r.Fields = append(r.Fields, f)
	r.curField = len(r.Fields) - 1
	r.curSF = -1
	return f, nil
}

// AddSubfield appends a subfield to the current field and positions the
// cursor at it. Adding to a fixed field is a no-op error.
func (r *Record) AddSubfield(code byte, data []byte) error {
	f, ok := r.CurrentField()
	if !ok {
		return ErrNoCurrentField
	}
	if f.IsFixed() {
		return ErrIndicatorOnFixed
	}
	if !OkSubfieldCode(code) {
		return ErrBadSubfieldCode
	}
	f.Subfields = append(f.Subfields, Subfield{Code: code, Data: append([]byte(nil), data...)})
	r.curSF = len(f.Subfields) + 1
	return nil
}

// DeleteField removes the current field and renumbers later occurrences
// of the same tag so occurrences stay dense.
func (r *Record) DeleteField() error {
	f, ok := r.CurrentField()
	if !ok {
		return ErrNoCurrentField
	}
	tag := f.Tag
	idx := r.curField
	r.Fields = append(r.Fields[:idx], r.Fields[idx+1:]...)
	for _, g := range r.Fields {
		if g.Tag == tag && g.Occ > f.Occ {
			g.Occ--
		}
	}
	r.curField = -1
	r.curSF = -1
	return nil
}

// DeleteSubfield removes the real subfield the cursor currently points
// at. Deleting an indicator pseudo-subfield is an error.
func (r *Record) DeleteSubfield() error {
	f, ok := r.CurrentField()
	if !ok {
		return ErrNoCurrentField
	}
	if r.curSF < 2 {
		return ErrNoCurrentSubfld
	}
	i := r.curSF - 2
	if i < 0 || i >= len(f.Subfields) {
		return ErrNoCurrentSubfld
	}
	f.Subfields = append(f.Subfields[:i], f.Subfields[i+1:]...)
	r.curSF = -1
	return nil
}

// SetIndicator sets indicator 1 or 2 on the current field.
func (r *Record) SetIndicator(which int, ch byte) error {
	f, ok := r.CurrentField()
	if !ok {
		return ErrNoCurrentField
	}
	if f.IsFixed() {
		return ErrIndicatorOnFixed
	}
	switch which {
	case 1:
		f.Indic1 = ch
	case 2:
		f.Indic2 = ch
	default:
		return ErrBadRef
	}
	return nil
}

// RenameField changes the current field's tag, refusing a change that
// would cross the fixed/variable class boundary.
func (r *Record) RenameField(newTag int) error {
	f, ok := r.CurrentField()
	if !ok {
		return ErrNoCurrentField
	}
	if newTag < 0 || newTag > 999 {
		return ErrFieldIDRange
	}
	wasFixed := f.Tag < 10
	willBeFixed := newTag < 10
	if wasFixed != willBeFixed {
		return ErrFixedVarMismatch
	}
	oldTag, oldOcc := f.Tag, f.Occ
	newOcc := r.NextOccurrence(newTag)
	f.Tag = newTag
	f.Occ = newOcc
	for _, g := range r.Fields {
		if g != f && g.Tag == oldTag && g.Occ > oldOcc {
			g.Occ--
		}
	}
	return nil
}

// RenameSubfield changes the code of the real subfield the cursor points
// at.
func (r *Record) RenameSubfield(newCode byte) error {
	f, ok := r.CurrentField()
	if !ok {
		return ErrNoCurrentField
	}
	if r.curSF < 2 {
		return ErrNoCurrentSubfld
	}
	if !OkSubfieldCode(newCode) {
		return ErrBadSubfieldCode
	}
	f.Subfields[r.curSF-2].Code = newCode
	return nil
}

// SavePos pushes the current cursor position on the bounded save stack.
func (r *Record) SavePos() error {
	if len(r.saveStack) >= MaxSavedPositions {
		return ErrSaveRestoreStack
	}
	r.saveStack = append(r.saveStack, savedPos{r.curField, r.curSF})
	return nil
}

// RestorePos pops and restores the most recently saved cursor position.
func (r *Record) RestorePos() error {
	if len(r.saveStack) == 0 {
		return ErrSaveRestoreStack
	}
	top := r.saveStack[len(r.saveStack)-1]
	r.saveStack = r.saveStack[:len(r.saveStack)-1]
	r.curField, r.curSF = top.fieldIdx, top.sfIdx
	return nil
}

// SaveDepth reports the current save stack depth — used by tests
// asserting the balance invariant in spec.md §8 property 5.
func (r *Record) SaveDepth() int { return len(r.saveStack) }

// Duplicate returns a deep, independent copy of the record with its own
// cursor and empty save stack, used by the interpreter to expose a
// read-only view of the input record to procedures while the output
// cursor is mutated (spec.md §8 property 4).
func (r *Record) Duplicate() *Record {
	d := &Record{Leader: r.Leader, curField: -1, curSF: -1}
	d.Fields = make([]*Field, len(r.Fields))
	for i, f := range r.Fields {
		d.Fields[i] = f.Clone()
	}
	return d
}

// OkSubfieldCode reports whether b is a legal real subfield code: a
// printable byte in U+0021..U+007E that is not one of the indicator
// sentinels.
func OkSubfieldCode(b byte) bool {
	if b == IndicCode1 || b == IndicCode2 {
		return false
	}
	return b >= 0x21 && b <= 0x7e
}
