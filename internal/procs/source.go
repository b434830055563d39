// Package procs implements the BuiltinProcs catalog: the data-source
// addressing primitives (read_source/write_destination) and the library
// of named procedures the control-table compiler resolves against.
package procs

import (
	"fmt"
	"strconv"

	"github.com/jbirkhimer/marcconv-sub001/internal/ctlfile"
	"github.com/jbirkhimer/marcconv-sub001/internal/marcrec"
	"github.com/jbirkhimer/marcconv-sub001/internal/procapi"
)

// readSource resolves a single argument token to its current bytes,
// dispatching on its leading character per spec.md §4.5. Missing input
// data yields an empty slice rather than an error.
func readSource(pp *procapi.ProcParams, token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	switch c := token[0]; {
	case c >= '0' && c <= '9', c == '$', c == '@':
		return readMarcRef(pp.InputRec, token)
	case c == '%':
		return readPercent(pp, token)
	case c == '"':
		return []byte(ctlfile.StripQuotes(token)), nil
	default:
		return pp.Bufs.Get(token), nil
	}
}

// writeDestination resolves a single argument token as a write target and
// stores data into it, appending rather than replacing when appendMode is
// set.
func writeDestination(pp *procapi.ProcParams, token string, data []byte, appendMode bool) error {
	if token == "" {
		return fmt.Errorf("procs: empty destination")
	}
	switch c := token[0]; {
	case c >= '0' && c <= '9', c == '$', c == '@':
		return writeMarcRef(pp.OutputRec, token, data, appendMode)
	case c == '%':
		if token == "%data" {
			if len(data) > procapi.ProcDataCap {
				data = data[:procapi.ProcDataCap]
			}
			if appendMode {
				pp.Data = append(pp.Data, data...)
			} else {
				pp.Data = append(pp.Data[:0], data...)
			}
			return nil
		}
		return fmt.Errorf("procs: %q is read-only", token)
	case c == '"':
		return fmt.Errorf("procs: a quoted literal is not a valid destination")
	default:
		if appendMode {
			return pp.Bufs.Append(token, data)
		}
		return pp.Bufs.Set(token, data)
	}
}

func readPercent(pp *procapi.ProcParams, token string) ([]byte, error) {
	if token == "%data" {
		return pp.Data, nil
	}
	n, ok := pp.Builtin(token[1:])
	if !ok {
		return nil, fmt.Errorf("procs: unknown builtin variable %q", token)
	}
	return []byte(strconv.Itoa(n)), nil
}

func readMarcRef(rec *marcrec.Record, token string) ([]byte, error) {
	ref, err := marcrec.ParseRef(token)
	if err != nil {
		return nil, err
	}
	f, ok := findField(rec, ref.Tag, ref.FOcc)
	if !ok {
		return nil, nil
	}
	if ref.HasFixed {
		return sliceFixed(f, ref.Pos, ref.Len), nil
	}
	if ref.HasIndic {
		code := marcrec.IndicCode1
		if ref.Indic == 2 {
			code = marcrec.IndicCode2
		}
		_, sf, ok := f.FindSubfield(code, 0)
		if !ok {
			return nil, nil
		}
		return sf.Data, nil
	}
	if ref.HasSF {
		_, sf, ok := f.FindSubfield(ref.SFCode, normalizeOcc(ref.SOcc))
		if !ok {
			return nil, nil
		}
		return sf.Data, nil
	}
	return f.FixedData, nil
}

func writeMarcRef(rec *marcrec.Record, token string, data []byte, appendMode bool) error {
	ref, err := marcrec.ParseRef(token)
	if err != nil {
		return err
	}

	f, ok := findField(rec, ref.Tag, ref.FOcc)
	if !ok {
		f, err = rec.AddField(ref.Tag)
		if err != nil {
			return err
		}
	}

	if ref.HasFixed {
		writeFixed(f, ref.Pos, ref.Len, data)
		return nil
	}
	if ref.HasIndic {
		if ref.Indic == 1 {
			f.Indic1 = firstByteOrSpace(data)
		} else {
			f.Indic2 = firstByteOrSpace(data)
		}
		return nil
	}
	if ref.HasSF {
		return writeSubfield(f, ref.SFCode, ref.SOcc, data, appendMode)
	}
	if appendMode {
		f.FixedData = append(f.FixedData, data...)
	} else {
		f.FixedData = append([]byte(nil), data...)
	}
	return nil
}

func writeSubfield(f *marcrec.Field, code byte, occ int, data []byte, appendMode bool) error {
	if occ == marcrec.RefNew {
		f.Subfields = append(f.Subfields, marcrec.Subfield{Code: code, Data: append([]byte(nil), data...)})
		return nil
	}
	idx, _, ok := f.FindSubfield(code, normalizeOcc(occ))
	if !ok {
		f.Subfields = append(f.Subfields, marcrec.Subfield{Code: code, Data: append([]byte(nil), data...)})
		return nil
	}
	sfIdx := idx - 2
	if sfIdx < 0 || sfIdx >= len(f.Subfields) {
		return nil // addressed an indicator pseudo-subfield; nothing to replace
	}
	if appendMode {
		f.Subfields[sfIdx].Data = append(f.Subfields[sfIdx].Data, data...)
	} else {
		f.Subfields[sfIdx].Data = append([]byte(nil), data...)
	}
	return nil
}

func normalizeOcc(occ int) int {
	if occ == marcrec.RefCurrent || occ == marcrec.RefNew {
		return 0
	}
	return occ
}

func findField(rec *marcrec.Record, tag, occ int) (*marcrec.Field, bool) {
	if occ == marcrec.RefCurrent {
		return rec.CurrentField()
	}
	o := occ
	if o == marcrec.RefNew {
		o = rec.NextOccurrence(tag)
	}
	for i := 0; i < rec.NumFields(); i++ {
		f, _ := rec.FieldAt(i)
		if f.Tag == tag && f.Occ == o {
			return f, true
		}
	}
	return nil, false
}

func sliceFixed(f *marcrec.Field, pos, length int) []byte {
	if pos < 0 || pos >= len(f.FixedData) {
		return nil
	}
	end := pos + length
	if length <= 0 || end > len(f.FixedData) {
		end = len(f.FixedData)
	}
	return f.FixedData[pos:end]
}

func writeFixed(f *marcrec.Field, pos, length int, data []byte) {
	need := pos + length
	if need > len(f.FixedData) {
		grown := make([]byte, need)
		copy(grown, f.FixedData)
		for i := len(f.FixedData); i < need; i++ {
			grown[i] = ' '
		}
		f.FixedData = grown
	}
	n := copy(f.FixedData[pos:pos+length], data)
	for i := pos + n; i < pos+length; i++ {
		f.FixedData[i] = ' '
	}
}

func firstByteOrSpace(data []byte) byte {
	if len(data) == 0 {
		return ' '
	}
	return data[0]
}
