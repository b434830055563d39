package marcrec

import (
	"fmt"
	"io"
)

const (
	delimiter        = 0x1f
	fieldTerminator  = 0x1e
	recordTerminator = 0x1d
)

const dirEntryLen = 12 // tag(3) + length(4) + offset(5)

// ReadRecord reads one complete record from r in standard ISO 2709
// framing: a 5-byte decimal record length, a 24-byte leader, a directory
// of 12-byte entries, a data area, and a record terminator. It mirrors the
// teacher package's readRecord/decodeDirectory shape but builds a mutable
// Record rather than raw offset slices, since the engine must rewrite
// fields in place.
func ReadRecord(r io.Reader) (*Record, error) {
	lenBuf := make([]byte, 5)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("marcrec: read record length: %w", err)
	}
	if !allDigits(lenBuf) {
		return nil, ErrBadRecordLength
	}
	rlen := decodeDecimal(lenBuf)
	if rlen < LeaderLen+2 || rlen > MaxRecordSize {
		return nil, ErrBadRecordLength
	}

	raw := make([]byte, rlen)
	copy(raw, lenBuf)
	n, err := io.ReadFull(r, raw[5:])
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrIncompleteRecord
		}
		return nil, fmt.Errorf("marcrec: read record body: %w", err)
	}
	if n != rlen-5 {
		return nil, ErrShortRead
	}
	if raw[rlen-1] != recordTerminator {
		return nil, ErrMissingRecTerm
	}

	return parseRecord(raw)
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func decodeDecimal(b []byte) int {
	n := 0
	for _, c := range b {
		n = n*10 + int(c-'0')
	}
	return n
}

// parseRecord turns a raw, already-framed byte slice into a Record,
// validating every structural invariant named in spec.md §4.1.
func parseRecord(raw []byte) (*Record, error) {
	if len(raw) < LeaderLen+dirEntryLen+2 {
		return nil, ErrBadRecordLength
	}

	r := &Record{curField: -1, curSF: -1}
	copy(r.Leader[:], raw[:LeaderLen])

	if !allDigits(raw[12:17]) {
		return nil, ErrBadBaseAddress
	}
	baseAddr := decodeDecimal(raw[12:17])
	if baseAddr < LeaderLen || baseAddr >= len(raw) {
		return nil, ErrBadBaseAddress
	}

	type dirEntry struct {
		tag    int
		length int
		offset int
	}
	var entries []dirEntry
	i := LeaderLen
	for {
		if i >= len(raw) {
			return nil, ErrMissingDirTerm
		}
		if raw[i] == fieldTerminator {
			break
		}
		if i+dirEntryLen > baseAddr {
			return nil, ErrMissingDirTerm
		}
		chunk := raw[i : i+dirEntryLen]
		if !allDigits(chunk) {
			return nil, ErrBadDirectoryChar
		}
		tagStr := raw[i : i+3]
		tag := decodeDecimal(tagStr)
		length := decodeDecimal(raw[i+3 : i+7])
		offset := decodeDecimal(raw[i+7 : i+12])
		entries = append(entries, dirEntry{tag, length, offset})
		i += dirEntryLen
	}

	dataStart := baseAddr
	dataEnd := len(raw) - 1 // exclude record terminator
	sum := 0
	for _, e := range entries {
		sum += e.length
	}
	if dataStart+sum != dataEnd {
		return nil, ErrDirLenMismatch
	}

	tagOcc := map[int]int{}
	for _, e := range entries {
		start := dataStart + e.offset
		end := start + e.length
		if start < 0 || end > len(raw) || end < start {
			return nil, ErrDirLenMismatch
		}
		payload := raw[start:end]
		occ := tagOcc[e.tag]
		tagOcc[e.tag] = occ + 1

		f := &Field{Tag: e.tag, Occ: occ}
		if e.tag < 10 {
			// Fixed field payload ends with the field terminator.
			body := payload
			if len(body) > 0 && body[len(body)-1] == fieldTerminator {
				body = body[:len(body)-1]
			}
			f.FixedData = append([]byte(nil), body...)
		} else {
			if len(payload) < 3 {
				return nil, ErrIndicatorLen
			}
			f.Indic1 = payload[0]
			f.Indic2 = payload[1]
			body := payload[2:]
			if len(body) > 0 && body[len(body)-1] == fieldTerminator {
				body = body[:len(body)-1]
			}
			sfs, err := splitSubfields(body)
			if err != nil {
				return nil, err
			}
			f.Subfields = sfs
		}
		r.Fields = append(r.Fields, f)
	}
	return r, nil
}

// splitSubfields parses the subfield portion of a variable field's data,
// each introduced by 0x1f followed by one code byte.
func splitSubfields(body []byte) ([]Subfield, error) {
	var sfs []Subfield
	i := 0
	for i < len(body) {
		if body[i] != delimiter {
			// Data before the first delimiter, or a corrupt field; the
			// original C codec treats this permissively and skips it.
			i++
			continue
		}
		if i+1 >= len(body) {
			break
		}
		code := body[i+1]
		start := i + 2
		end := start
		for end < len(body) && body[end] != delimiter {
			end++
		}
		sfs = append(sfs, Subfield{Code: code, Data: append([]byte(nil), body[start:end]...)})
		i = end
	}
	return sfs, nil
}

// Serialize re-packs the record into its ISO 2709 wire form: it recomputes
// the directory and base address from scratch (per DESIGN NOTES: logical
// mutation is separated from physical framing, so offsets are never
// patched in place). Returns ErrWritePack if the packed size would exceed
// MaxRecordSize.
func (r *Record) Serialize() ([]byte, error) {
	type packed struct {
		tag  int
		data []byte
	}
	var fields []packed
	for _, f := range r.Fields {
		if f.IsFixed() {
			d := append(append([]byte(nil), f.FixedData...), fieldTerminator)
			fields = append(fields, packed{f.Tag, d})
			continue
		}
		var d []byte
		d = append(d, f.Indic1, f.Indic2)
		for _, sf := range f.Subfields {
			if !OkSubfieldCode(sf.Code) {
				return nil, ErrBadSubfieldCode
			}
			d = append(d, delimiter, sf.Code)
			d = append(d, sf.Data...)
		}
		d = append(d, fieldTerminator)
		fields = append(fields, packed{f.Tag, d})
	}

	dirLen := len(fields)*dirEntryLen + 1 // +1 for directory's own terminator
	baseAddr := LeaderLen + dirLen

	var dir []byte
	var data []byte
	offset := 0
	for _, p := range fields {
		if p.tag < 0 || p.tag > 999 {
			return nil, ErrFieldIDRange
		}
		if len(p.data) > 9999 {
			return nil, ErrFieldTooLong
		}
		dir = append(dir, []byte(fmt.Sprintf("%03d%04d%05d", p.tag, len(p.data), offset))...)
		data = append(data, p.data...)
		offset += len(p.data)
	}
	dir = append(dir, fieldTerminator)

	total := baseAddr + len(data) + 1 // +1 for record terminator
	if total > MaxRecordSize {
		return nil, ErrWritePack
	}

	out := make([]byte, 0, total)
	out = append(out, []byte(fmt.Sprintf("%05d", total))...)
	leader := r.Leader
	copy(leader[0:5], fmt.Sprintf("%05d", total))
	copy(leader[12:17], fmt.Sprintf("%05d", baseAddr))
	out = append(out, leader[5:]...)
	out = append(out, dir...)
	out = append(out, data...)
	out = append(out, recordTerminator)
	return out, nil
}
