package mesh

import (
	"bytes"
	"errors"
	"sort"

	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/marcrec"
)

// ErrKillRecord is returned by Process when a rule decides the whole record
// must be suppressed: an unrecognized 041 language code during the
// dictionary pass, or a duplicate heading surviving sort-and-emit.
var ErrKillRecord = errors.New("mesh: record killed by rulebook")

// Rulebook is the 650/651/655 recombination engine (spec.md §4.7), built
// once per process from an exception table and invoked once per record.
type Rulebook struct {
	exceptions *ExceptionTable
	diag       *diag.Reporter
}

// NewRulebook constructs a Rulebook bound to a loaded exception table and
// the process diagnostics sink.
func NewRulebook(exceptions *ExceptionTable, d *diag.Reporter) *Rulebook {
	return &Rulebook{exceptions: exceptions, diag: d}
}

// Process removes every 650/651/655 field from rec, runs the full
// recombination rule sequence against a transient working copy, and
// appends the surviving Output fields back to rec in sorted order. It
// returns ErrKillRecord when a rule demands the record be suppressed
// entirely; the caller must then discard rec instead of emitting it.
func (rb *Rulebook) Process(rec *marcrec.Record) error {
	langCodes := collect041Languages(rec)
	working := rb.extract(rec)
	if len(working) == 0 {
		return nil
	}

	has650 := false
	for _, f := range working {
		if f.Tag == 650 {
			has650 = true
			break
		}
	}

	if has650 {
		markOk650s(working)
		rb.age650(&working)
		caseReport(working)
		rb.geographic(&working)
		blockVOn9n(working)
		dictTriggered := rb.forms(&working)
		if dictTriggered {
			if err := rb.dict(&working, langCodes); err != nil {
				return err
			}
		}
		indic22(working)
	} else {
		noField650Path(working)
	}

	dropDollar9(working)
	outputNonmesh655(working)
	rb.endPeriod(working)

	sorted, err := rb.sortAndEmit(working)
	if err != nil {
		return err
	}
	for _, f := range sorted {
		appendToRecord(rec, f)
	}
	return nil
}

// extract removes every 650/651/655 field from rec.Fields and returns the
// corresponding working model, each subfield annotated with its exception
// group where the exception table covers the subfield's code ($a or $x).
func (rb *Rulebook) extract(rec *marcrec.Record) []*Field {
	var working []*Field
	kept := rec.Fields[:0:0]
	for _, mf := range rec.Fields {
		if mf.Tag != 650 && mf.Tag != 651 && mf.Tag != 655 {
			kept = append(kept, mf)
			continue
		}
		wf := &Field{Tag: mf.Tag, Indic1: mf.Indic1, Indic2: mf.Indic2}
		for _, sf := range mf.Subfields {
			group := GroupNone
			if sf.Code == 'a' || sf.Code == 'x' {
				if g, ok := rb.exceptions.Lookup(mf.Tag, sf.Code, string(sf.Data)); ok {
					group = g
				}
			}
			wf.Subfields = append(wf.Subfields, Subfield{Group: group, Code: sf.Code, Data: append([]byte(nil), sf.Data...)})
		}
		working = append(working, wf)
	}
	rec.Fields = kept
	return working
}

// collect041Languages gathers every 041 $a value, used by the dictionary
// pass. It reads rec before extract touches anything, though 041 is
// untouched by extract regardless.
func collect041Languages(rec *marcrec.Record) []string {
	var codes []string
	for _, f := range rec.Fields {
		if f.Tag != 41 {
			continue
		}
		for _, sf := range f.Subfields {
			if sf.Code == 'a' {
				codes = append(codes, string(sf.Data))
			}
		}
	}
	return codes
}

func markOk650s(working []*Field) {
	for _, f := range working {
		if f.Tag == 650 {
			f.Disposition = DispOutput
		}
	}
}

// age650 classifies every Age650-group 650 by (indicator-1 == '2') and the
// presence elsewhere of a field carrying $9=a, then combines each
// resulting age-source's $a as a new $x of every age-target, via the
// temporary code '|' swept back to 'x' at the end to dodge a
// false duplicate-tail collision with a pre-existing $x.
func (rb *Rulebook) age650(workingPtr *[]*Field) {
	working := *workingPtr
	var sources []*Field

	for _, f := range working {
		if f.Tag != 650 || !f.HasGroup(GroupAge650) {
			continue
		}
		ind2 := f.Indic1 == '2'
		other9a := existsOther9a(working, f)
		switch {
		case !ind2 && !other9a:
			f.KeepIndic = true
		case !ind2 && other9a:
			f.Disposition = DispCombine
			sources = append(sources, f)
		case ind2 && !other9a:
			f.Disposition = DispComplete
		case ind2 && other9a:
			f.KeepIndic = true
		}
	}
	if len(sources) == 0 {
		return
	}

	var targets []*Field
	for _, f := range working {
		if _, sf, ok := f.FindCode('9'); ok && string(sf.Data) == "a" {
			f.KeepIndic = true
			targets = append(targets, f)
		}
	}

	const tempCode = '|'
	for _, src := range sources {
		a, ok := firstSubfieldByCode(src, 'a')
		if !ok {
			continue
		}
		rb.combineInto(workingPtr, targets, tempCode, a.Data, combineOptions{})
	}

	working = *workingPtr
	for _, f := range working {
		for i := range f.Subfields {
			if f.Subfields[i].Code == tempCode {
				f.Subfields[i].Code = 'x'
			}
		}
	}
}

func existsOther9a(working []*Field, self *Field) bool {
	for _, f := range working {
		if f == self {
			continue
		}
		if _, sf, ok := f.FindCode('9'); ok && string(sf.Data) == "a" {
			return true
		}
	}
	return false
}

// caseReport retags any field whose first subfield belongs to group
// CaseRep as a 655 with $2=mesh, marked Combine.
func caseReport(working []*Field) {
	for _, f := range working {
		first, ok := f.First()
		if !ok || first.Group != GroupCaseRep {
			continue
		}
		f.Tag = 655
		if idx, _, ok2 := f.FindCode('2'); ok2 {
			f.Subfields[idx].Data = []byte("mesh")
		} else {
			f.Subfields = append(f.Subfields, Subfield{Code: '2', Data: []byte("mesh")})
		}
		f.Disposition = DispCombine
	}
}

// geographic adds each 651's $a as $z on every output 650 permitting
// combination, suppressing the USMed1 "United States" heading when the
// target already carries a USMed-group subfield.
func (rb *Rulebook) geographic(workingPtr *[]*Field) {
	targets := outputFields(*workingPtr, 650)
	for _, f651 := range allFields(*workingPtr, 651) {
		a, ok := firstSubfieldByCode(f651, 'a')
		if !ok {
			continue
		}
		rb.combineInto(workingPtr, targets, 'z', a.Data, combineOptions{
			sourceGroup:           a.Group,
			suppressIfSourceGroup: GroupUSMed1,
			suppressIfTargetGroup: GroupUSMed,
		})
	}
}

// blockVOn9n marks 650s carrying $9=n as refusing any further $v
// combination.
func blockVOn9n(working []*Field) {
	for _, f := range allFields(working, 650) {
		if _, sf, ok := f.FindCode('9'); ok && string(sf.Data) == "n" {
			f.NoRecombine = int('v')
		}
	}
}

// forms adds each mesh 655's $a as $v on every eligible output 650,
// honoring the Stats5/Law5 exception-group exclusions, and reports whether
// any Dict-group 655 participated (triggering the language pass).
func (rb *Rulebook) forms(workingPtr *[]*Field) bool {
	targets := outputFields(*workingPtr, 650)
	dictTriggered := false
	for _, f655 := range allFields(*workingPtr, 655) {
		if !(subfieldEquals(f655, '2', "mesh") || f655.Indic2 == '2') {
			continue
		}
		a, ok := firstSubfieldByCode(f655, 'a')
		if !ok {
			continue
		}
		opts := combineOptions{sourceGroup: a.Group}
		switch a.Group {
		case GroupStats5:
			opts.filterGroup = GroupStats
			opts.filterMinus = true
		case GroupLaw5:
			opts.filterGroup = GroupLaw
			opts.filterMinus = true
		}
		rb.combineInto(workingPtr, targets, 'v', a.Data, opts)
		if a.Group == GroupDict {
			dictTriggered = true
		}
	}
	return dictTriggered
}

// dict duplicates every Dict-group output 650 once (marking the duplicate
// fully non-recombinable so the non-language form survives untouched),
// then expands each non-und/mul 041 language code onto the originals as a
// new $x, killing the record on an unrecognized code.
func (rb *Rulebook) dict(workingPtr *[]*Field, langCodes []string) error {
	var dictTargets []*Field
	for _, f := range outputFields(*workingPtr, 650) {
		if f.HasGroup(GroupDict) {
			dictTargets = append(dictTargets, f)
		}
	}
	if len(dictTargets) == 0 {
		return nil
	}

	for _, f := range dictTargets {
		dup := f.Clone()
		dup.NoRecombine = NoRecombineAll
		*workingPtr = append(*workingPtr, dup)
	}

	for _, code := range langCodes {
		if IsSkippedLanguageCode(code) {
			continue
		}
		name, ok := LanguageName(code)
		if !ok {
			rb.diag.Report(diag.Error, "mesh: unrecognized 041 $a language code %q", code)
			return ErrKillRecord
		}
		rb.combineInto(workingPtr, dictTargets, 'x', []byte(name), combineOptions{})
	}
	return nil
}

// indic22 sets indicator-2 to '2' on every output field that did not have
// its indicators explicitly preserved by an earlier rule.
func indic22(working []*Field) {
	for _, f := range working {
		if f.Disposition == DispOutput && !f.KeepIndic {
			f.Indic2 = '2'
		}
	}
}

// noField650Path runs the 2b branch: every 651 is normalized and output;
// 655s combine into existing 651s or, absent any 651, are validated and
// output directly.
func noField650Path(working []*Field) {
	var f651s []*Field
	for _, f := range working {
		if f.Tag == 651 {
			f.Indic1, f.Indic2 = ' ', '2'
			f.Disposition = DispOutput
			f651s = append(f651s, f)
		}
	}

	for _, f := range working {
		if f.Tag != 655 {
			continue
		}
		if !isMesh655(f) {
			continue
		}
		if len(f651s) > 0 {
			a, ok := firstSubfieldByCode(f, 'a')
			if !ok {
				continue
			}
			for _, f651 := range f651s {
				appendOrDuplicateSubfield(&working, f651, 'v', a.Data)
			}
			f.Disposition = DispCombine
		} else {
			if hasSubfieldCode(f, 'a') && f.Indic1 == ' ' {
				f.Disposition = DispOutput
			}
		}
	}
}

// isMesh655 implements the shared "is this 655 a mesh heading" test used
// both to decide whether it combines into a 651 and, absent any 651,
// whether it validates on its own.
func isMesh655(f *Field) bool {
	if f.Indic2 == '7' && subfieldEquals(f, '2', "mesh") {
		return true
	}
	if f.Indic2 == '2' && !hasSubfieldCode(f, '2') {
		return true
	}
	return false
}

// appendOrDuplicateSubfield is the single-target special case of
// mesh_combine used by the no-650 path, where duplication candidates are
// limited to the one 651 at hand rather than a whole target snapshot.
func appendOrDuplicateSubfield(workingPtr *[]*Field, target *Field, code byte, payload []byte) {
	if n := len(target.Subfields); n > 0 && target.Subfields[n-1].Code == code {
		if bytes.Equal(target.Subfields[n-1].Data, payload) {
			return
		}
		dup := target.Clone()
		dup.Subfields = dup.Subfields[:len(dup.Subfields)-1]
		dup.Subfields = append(dup.Subfields, Subfield{Code: code, Data: append([]byte(nil), payload...)})
		*workingPtr = append(*workingPtr, dup)
		return
	}
	target.Subfields = append(target.Subfields, Subfield{Code: code, Data: append([]byte(nil), payload...)})
}

// dropDollar9 removes every $9 subfield from Output fields.
func dropDollar9(working []*Field) {
	for _, f := range working {
		if f.Disposition != DispOutput {
			continue
		}
		kept := f.Subfields[:0]
		for _, sf := range f.Subfields {
			if sf.Code != '9' {
				kept = append(kept, sf)
			}
		}
		f.Subfields = kept
	}
}

// outputNonmesh655 marks any 655 left unmarked by the branching rules as
// Output.
func outputNonmesh655(working []*Field) {
	for _, f := range working {
		if f.Tag == 655 && f.Disposition == DispNone {
			f.Disposition = DispOutput
		}
	}
}

// endPeriod ensures the last non-$2 subfield of each Output field ends
// with '.' or ')', trimming trailing spaces first; a field consisting only
// of $2 has its output cancelled with a diagnostic.
func (rb *Rulebook) endPeriod(working []*Field) {
	for _, f := range working {
		if f.Disposition != DispOutput {
			continue
		}
		lastIdx := -1
		for i := len(f.Subfields) - 1; i >= 0; i-- {
			if f.Subfields[i].Code != '2' {
				lastIdx = i
				break
			}
		}
		if lastIdx == -1 {
			rb.diag.Report(diag.Error, "mesh: field %d has no subfield other than $2, output cancelled", f.Tag)
			f.Disposition = DispError
			continue
		}
		trimmed := bytes.TrimRight(f.Subfields[lastIdx].Data, " ")
		if len(trimmed) == 0 || (trimmed[len(trimmed)-1] != '.' && trimmed[len(trimmed)-1] != ')') {
			trimmed = append(append([]byte(nil), trimmed...), '.')
		}
		f.Subfields[lastIdx].Data = trimmed
	}
}

// sortAndEmit orders surviving Output fields by (indicator-1, subfield
// strings in order, subfield count ascending) and fails the whole record
// if two fields end up byte-identical.
func (rb *Rulebook) sortAndEmit(working []*Field) ([]*Field, error) {
	var outs []*Field
	for _, f := range working {
		if f.Disposition == DispOutput {
			outs = append(outs, f)
		}
	}
	sort.SliceStable(outs, func(i, j int) bool {
		a, b := outs[i], outs[j]
		if a.Indic1 != b.Indic1 {
			return a.Indic1 < b.Indic1
		}
		n := len(a.Subfields)
		if len(b.Subfields) < n {
			n = len(b.Subfields)
		}
		for k := 0; k < n; k++ {
			sa, sb := string(a.Subfields[k].Data), string(b.Subfields[k].Data)
			if sa != sb {
				return sa < sb
			}
		}
		return len(a.Subfields) < len(b.Subfields)
	})
	for i := 1; i < len(outs); i++ {
		if fieldsEqual(outs[i-1], outs[i]) {
			rb.diag.Report(diag.Error, "mesh: duplicate heading after recombination, record killed")
			return nil, ErrKillRecord
		}
	}
	return outs, nil
}

func fieldsEqual(a, b *Field) bool {
	if a.Tag != b.Tag || a.Indic1 != b.Indic1 || a.Indic2 != b.Indic2 {
		return false
	}
	if len(a.Subfields) != len(b.Subfields) {
		return false
	}
	for i := range a.Subfields {
		if a.Subfields[i].Code != b.Subfields[i].Code || !bytes.Equal(a.Subfields[i].Data, b.Subfields[i].Data) {
			return false
		}
	}
	return true
}

func appendToRecord(rec *marcrec.Record, f *Field) {
	mf := &marcrec.Field{
		Tag:    f.Tag,
		Occ:    rec.NextOccurrence(f.Tag),
		Indic1: f.Indic1,
		Indic2: f.Indic2,
	}
	for _, sf := range f.Subfields {
		mf.Subfields = append(mf.Subfields, marcrec.Subfield{Code: sf.Code, Data: append([]byte(nil), sf.Data...)})
	}
	rec.Fields = append(rec.Fields, mf)
}

// combineOptions parameterizes one mesh_combine invocation: the
// exception-group admission filter (PLUS when filterMinus is false,
// requiring the target carry filterGroup; MINUS when true, requiring it
// not), and the USMed1/USMed geographic special case (suppress entirely
// when the source subfield's group is suppressIfSourceGroup and the target
// already carries suppressIfTargetGroup).
type combineOptions struct {
	sourceGroup Group

	filterGroup Group
	filterMinus bool

	suppressIfSourceGroup Group
	suppressIfTargetGroup Group
}

// combineInto implements mesh_combine: iterate only over the target
// snapshot passed in (fields that existed when the call began, so a
// duplicate appended mid-call is never reprocessed), skip targets that
// refuse the code or fail the exception-group filter, and either append
// the new subfield or duplicate the field when its tail subfield already
// carries the same code with different data. Every added subfield carries
// opts.sourceGroup as its group, so the dict rule can find the 650s a
// Dict-group 655 was combined onto.
func (rb *Rulebook) combineInto(workingPtr *[]*Field, targets []*Field, code byte, payload []byte, opts combineOptions) {
	snapshot := append([]*Field(nil), targets...)
	for _, f := range snapshot {
		if !f.AllowsRecombine(code) {
			continue
		}
		if opts.suppressIfSourceGroup != GroupNone && opts.sourceGroup == opts.suppressIfSourceGroup && f.HasGroup(opts.suppressIfTargetGroup) {
			continue
		}
		if opts.filterGroup != GroupNone {
			has := f.HasGroup(opts.filterGroup)
			if opts.filterMinus && has {
				continue
			}
			if !opts.filterMinus && !has {
				continue
			}
		}
		if n := len(f.Subfields); n > 0 && f.Subfields[n-1].Code == code {
			if bytes.Equal(f.Subfields[n-1].Data, payload) {
				continue
			}
			dup := f.Clone()
			dup.Subfields = dup.Subfields[:len(dup.Subfields)-1]
			dup.Subfields = append(dup.Subfields, Subfield{Group: opts.sourceGroup, Code: code, Data: append([]byte(nil), payload...)})
			*workingPtr = append(*workingPtr, dup)
			continue
		}
		f.Subfields = append(f.Subfields, Subfield{Group: opts.sourceGroup, Code: code, Data: append([]byte(nil), payload...)})
	}
}

func outputFields(working []*Field, tag int) []*Field {
	var out []*Field
	for _, f := range working {
		if f.Tag == tag && f.Disposition == DispOutput {
			out = append(out, f)
		}
	}
	return out
}

func allFields(working []*Field, tag int) []*Field {
	var out []*Field
	for _, f := range working {
		if f.Tag == tag {
			out = append(out, f)
		}
	}
	return out
}

func firstSubfieldByCode(f *Field, code byte) (Subfield, bool) {
	_, sf, ok := f.FindCode(code)
	return sf, ok
}

func hasSubfieldCode(f *Field, code byte) bool {
	_, _, ok := f.FindCode(code)
	return ok
}

func subfieldEquals(f *Field, code byte, want string) bool {
	_, sf, ok := f.FindCode(code)
	return ok && string(sf.Data) == want
}
