package procs

import (
	"strconv"
	"strings"

	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/mesh"
	"github.com/jbirkhimer/marcconv-sub001/internal/procapi"
)

// RegisterDomain installs the domain-specialized procedures that need a
// built Rulebook and/or qualifier table at construction time: mesh (the
// 650/651/655 recombination pass), meshqual (qualifier expansion against
// MESHQUALFILE), plus the NACO/ISBN/bibliographic helpers that round out
// the supplemented feature set. qual may be nil when no qualifier file was
// configured; meshqual then reports an error if invoked.
func RegisterDomain(reg *procapi.Registry, rb *mesh.Rulebook, qual *mesh.QualTable) {
	reg.Register(procapi.Spec{
		Name: "mesh", Func: meshProc(rb), MinArgs: 0, MaxArgs: 0,
		ValidPos: procapi.PosRecordPost,
	})
	reg.Register(procapi.Spec{
		Name: "meshqual", Func: meshQualProc(qual), MinArgs: 2, MaxArgs: 2,
		ValidPos: procapi.PosAny,
	})
	reg.Register(procapi.Spec{Name: "field000", Func: procField000, MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosRecordPre | procapi.PosRecordPost})
	reg.Register(procapi.Spec{Name: "isbnChecksum", Func: procIsbnChecksum, MinArgs: 2, MaxArgs: 2, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "dupField", Func: procDupField, MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosFieldPre | procapi.PosFieldPost})
	reg.Register(procapi.Spec{Name: "fieldLenCheck", Func: procFieldLenCheck, MinArgs: 2, MaxArgs: 2, ValidPos: procapi.PosFieldPre | procapi.PosFieldPost})
	reg.Register(procapi.Spec{Name: "nacoClean", Func: procNacoClean, MinArgs: 2, MaxArgs: 2, ValidPos: procapi.PosAny})
}

// meshProc adapts Rulebook.Process -- which operates on a whole record --
// into a record-post BuiltinProc, the only scope in which every 650/651/655
// field the table produced has already landed in the output record.
func meshProc(rb *mesh.Rulebook) procapi.ProcFunc {
	return func(pp *procapi.ProcParams) procapi.Status {
		if rb == nil {
			return reportErr(pp, "mesh: no rulebook configured")
		}
		if err := rb.Process(pp.OutputRec); err != nil {
			if err == mesh.ErrKillRecord {
				return procapi.StatusKillRecord
			}
			return reportErr(pp, "mesh: %v", err)
		}
		return procapi.StatusOK
	}
}

// meshQualProc expands a heading's trailing qualifier codes ("base/code")
// against the loaded qualifier table and writes the fully spelled-out form
// ("base -- term -- term") to dest.
func meshQualProc(qual *mesh.QualTable) procapi.ProcFunc {
	return func(pp *procapi.ProcParams) procapi.Status {
		if qual == nil {
			return reportErr(pp, "meshqual: no qualifier table configured")
		}
		data, err := readSource(pp, pp.Args[1])
		if err != nil {
			return reportErr(pp, "meshqual: %v", err)
		}
		base, terms := qual.Expand(string(data))
		out := base
		for _, t := range terms {
			out += " -- " + t
		}
		if err := writeDestination(pp, pp.Args[0], []byte(out), false); err != nil {
			return reportErr(pp, "meshqual: %v", err)
		}
		return procapi.StatusOK
	}
}

// Fixed MARC21 leader/008 byte positions that field000 normalizes.
const (
	leaderIndicatorCountPos    = 10 // always "2"
	leaderSubfieldCodeCountPos = 11 // always "2"
	leaderEntryMapPos          = 20 // always "4500"
	field008Tag                = 8
	field008Len                = 40
)

// procField000 repairs the leader/008 fixed positions, the way
// marcconv.c's tag-000 dispatch entry runs ahead of every other
// fixed-field handler: the leader's indicator-count and subfield-code-count
// bytes are always "2", its entry map is always "4500", and the 008
// field's fixed data is padded with spaces or truncated to its mandatory
// 40-byte length. A record missing every field is a malformed
// bibliographic record worth flagging outright.
func procField000(pp *procapi.ProcParams) procapi.Status {
	if pp.OutputRec.NumFields() == 0 {
		return reportErr(pp, "field000: record has no fields")
	}

	leader := &pp.OutputRec.Leader
	leader[leaderIndicatorCountPos] = '2'
	leader[leaderSubfieldCodeCountPos] = '2'
	copy(leader[leaderEntryMapPos:], "4500")

	f, err := pp.OutputRec.FindField(field008Tag, 0)
	if err != nil {
		f, err = pp.OutputRec.AddField(field008Tag)
		if err != nil {
			return reportErr(pp, "field000: %v", err)
		}
	}
	switch {
	case len(f.FixedData) < field008Len:
		padded := make([]byte, field008Len)
		copy(padded, f.FixedData)
		for i := len(f.FixedData); i < field008Len; i++ {
			padded[i] = ' '
		}
		f.FixedData = padded
	case len(f.FixedData) > field008Len:
		f.FixedData = f.FixedData[:field008Len]
	}
	return procapi.StatusOK
}

// procIsbnChecksum computes the ISBN-10 check character for the first 9
// digits of src and writes the full 10-character ISBN (with check digit)
// to dest. Returns StatusIfFailed if src does not contain at least 9
// digits.
func procIsbnChecksum(pp *procapi.ProcParams) procapi.Status {
	data, err := readSource(pp, pp.Args[1])
	if err != nil {
		return reportErr(pp, "isbnChecksum: %v", err)
	}
	digits := onlyDigits(string(data))
	if len(digits) < 9 {
		return procapi.StatusIfFailed
	}
	digits = digits[:9]
	sum := 0
	for i, r := range digits {
		d := int(r - '0')
		sum += d * (10 - i)
	}
	rem := sum % 11
	var check byte
	switch rem {
	case 0:
		check = '0'
	case 1:
		check = 'X'
	default:
		check = byte('0' + (11 - rem))
	}
	out := digits + string(check)
	if err := writeDestination(pp, pp.Args[0], []byte(out), false); err != nil {
		return reportErr(pp, "isbnChecksum: %v", err)
	}
	return procapi.StatusOK
}

func onlyDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// procDupField appends an independent copy of the current output field
// at the end of the record, leaving the cursor on the original -- the caller typically
// follows with renfld/copy to diverge the duplicate, the same pattern the
// mesh dict rule uses internally.
func procDupField(pp *procapi.ProcParams) procapi.Status {
	f, ok := pp.OutputRec.CurrentField()
	if !ok {
		return reportErr(pp, "dupField: no current output field")
	}
	dup := f.Clone()
	dup.Occ = pp.OutputRec.NextOccurrence(dup.Tag)
	pp.OutputRec.Fields = append(pp.OutputRec.Fields, dup)
	return procapi.StatusOK
}

// procFieldLenCheck enforces a total-data-length bound on the current
// output field, killing it outright when the combined subfield payload
// falls outside [min,max] -- a malformed-input guard rather than a branch
// test, since it acts rather than merely reporting.
func procFieldLenCheck(pp *procapi.ProcParams) procapi.Status {
	min, err := strconv.Atoi(pp.Args[0])
	if err != nil {
		return reportErr(pp, "fieldLenCheck: bad min %q", pp.Args[0])
	}
	max, err := strconv.Atoi(pp.Args[1])
	if err != nil {
		return reportErr(pp, "fieldLenCheck: bad max %q", pp.Args[1])
	}
	f, ok := pp.OutputRec.CurrentField()
	if !ok {
		return reportErr(pp, "fieldLenCheck: no current output field")
	}
	total := len(f.FixedData)
	for _, sf := range f.Subfields {
		total += len(sf.Data)
	}
	if total < min || (max > 0 && total > max) {
		if err := pp.Diag.Report(diag.Warning, "field %03d occurrence %d failed length check (%d bytes)", f.Tag, f.Occ, total); err != nil {
			return procapi.StatusError
		}
		return procapi.StatusKillField
	}
	return procapi.StatusOK
}

// procNacoClean applies a NACO-style filing normalization: strip everything
// but letters, digits and spaces, fold case, and collapse whitespace. No
// diacritic-folding table ships with this module, so non-ASCII letters pass
// through unchanged.
func procNacoClean(pp *procapi.ProcParams) procapi.Status {
	data, err := readSource(pp, pp.Args[1])
	if err != nil {
		return reportErr(pp, "nacoClean: %v", err)
	}
	var sb strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(string(data)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t':
			if !lastSpace {
				sb.WriteByte(' ')
			}
			lastSpace = true
		default:
			// punctuation and diacritics are dropped, matching NACO's
			// "ignore for filing" rule for the ASCII subset.
		}
	}
	out := strings.TrimRight(sb.String(), " ")
	if err := writeDestination(pp, pp.Args[0], []byte(out), false); err != nil {
		return reportErr(pp, "nacoClean: %v", err)
	}
	return procapi.StatusOK
}
