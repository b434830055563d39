// Package marcrec implements the MARC codec: a navigable in-memory record
// model plus a parser/serializer for the standard ISO 2709 / MARC 21
// framing (5-byte record length, 24-byte leader, directory, field and
// subfield delimiters).
package marcrec

import "errors"

// Structural errors produced while parsing a record from its wire form.
// Each corresponds to a distinct MARC_ERR_* kind in the original C codec;
// they are kept distinct here so callers can log a specific diagnostic per
// violation rather than a single generic "bad record" message.
var (
	ErrBadRecordLength  = errors.New("marcrec: record length is not a valid 5-digit decimal")
	ErrBadBaseAddress   = errors.New("marcrec: base address of data is not a valid 5-digit decimal")
	ErrBadDirectoryChar = errors.New("marcrec: non-digit byte in directory entry")
	ErrMissingDirTerm   = errors.New("marcrec: directory missing field terminator")
	ErrDirLenMismatch   = errors.New("marcrec: sum of directory field lengths does not match leader length")
	ErrMissingRecTerm   = errors.New("marcrec: record missing record terminator")
	ErrShortRead        = errors.New("marcrec: short read, buffer smaller than declared record length")
	ErrIncompleteRecord = errors.New("marcrec: incomplete trailing record at end of stream")
	ErrWritePack        = errors.New("marcrec: could not pack record for write, size exceeds maximum")
)

// Model-violation errors: fatal to the single mutating operation that
// triggered them, and in turn fatal for the record being built.
var (
	ErrFieldIDRange     = errors.New("marcrec: field tag out of range 0..999")
	ErrTooManyFields    = errors.New("marcrec: too many fields in record")
	ErrTooManySubfields = errors.New("marcrec: too many subfields in field")
	ErrIndicatorLen     = errors.New("marcrec: indicator value must be exactly one byte")
	ErrBadSubfieldCode  = errors.New("marcrec: subfield code is not a printable non-indicator byte")
	ErrFieldTooLong     = errors.New("marcrec: field length overflows directory entry width")
	ErrNoCurrentField   = errors.New("marcrec: no current field")
	ErrNoCurrentSubfld  = errors.New("marcrec: no current subfield")
	ErrSaveRestoreStack = errors.New("marcrec: save/restore position stack imbalance or overflow")
	ErrFixedVarMismatch = errors.New("marcrec: rename would change field between fixed and variable class")
	ErrIndicatorOnFixed = errors.New("marcrec: indicators only apply to variable fields")
	ErrBadRef           = errors.New("marcrec: invalid marc_ref syntax")
)

// Lookup navigation results. These are not fatal — they are ordinary
// "not found" outcomes a caller tests for, distinct from each other so
// BuiltinProcs can tell "no such tag" from "tag exists, wrong occurrence".
var (
	ErrNoSuchField        = errors.New("marcrec: no field with that tag")
	ErrNoSuchFieldOcc     = errors.New("marcrec: field exists but not at that occurrence")
	ErrNoSuchSubfield     = errors.New("marcrec: no subfield with that code")
	ErrNoSuchSubfieldOcc  = errors.New("marcrec: subfield exists but not at that occurrence")
	ErrPastEndOfRecord    = errors.New("marcrec: position is past the end of the record")
	ErrPastEndOfField     = errors.New("marcrec: position is past the end of the field")
	ErrFixedFieldNoOffset = errors.New("marcrec: fixed field has no data at that offset")
)

// MaxRecordSize is the largest serialized record the codec will produce or
// accept, per §3's invariant.
const MaxRecordSize = 100000

// MaxSavedPositions bounds the save/restore position stack (§5's "bounded
// stack depth").
const MaxSavedPositions = 32
