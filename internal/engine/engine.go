// Package engine implements the RuleInterpreter (spec.md §4.4): it walks
// one input record at session/record/field/subfield scope, driving the
// ProcNode chains a rules.RuleProgram compiled, with the short-circuit
// control-flow semantics of §4.4's status table. It is the glue between
// internal/rules (the compiled program), internal/marcrec (the record
// model procedures mutate), and internal/procapi (the ProcParams context
// and Status values every procedure speaks).
package engine

import (
	"fmt"

	"github.com/jbirkhimer/marcconv-sub001/internal/buffers"
	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/marcrec"
	"github.com/jbirkhimer/marcconv-sub001/internal/procapi"
	"github.com/jbirkhimer/marcconv-sub001/internal/rules"
)

// ChecksumMismatchError is returned when a procedure mutates one of the
// invariant fields of its ProcParams across a single call — spec.md §4.4's
// "the interpreter checksums the invariant fields of ProcParams across
// each call to detect misbehaving procedures; mismatch is fatal."
type ChecksumMismatchError struct {
	Proc string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("engine: procedure %q corrupted its ProcParams context", e.Proc)
}

// Interpreter drives one RuleProgram against a stream of input records.
type Interpreter struct {
	prog     *rules.RuleProgram
	registry *procapi.Registry
	bufs     *buffers.Store
	diag     *diag.Reporter
}

// New constructs an Interpreter bound to a compiled program, the builtin
// registry (consulted only for the re-entrant Call path), the named
// buffer store, and the diagnostics sink.
func New(prog *rules.RuleProgram, reg *procapi.Registry, bufs *buffers.Store, d *diag.Reporter) *Interpreter {
	return &Interpreter{prog: prog, registry: reg, bufs: bufs, diag: d}
}

// RunSessionPre executes the session-pre chain once, before any record is
// read.
func (in *Interpreter) RunSessionPre() error {
	pp, _ := in.newParams(marcrec.NewRecord(), marcrec.NewRecord())
	_, err := in.runChain(in.prog.SessionPre, pp)
	return err
}

// RunSessionPost executes the session-post chain once, after the last
// record has been processed.
func (in *Interpreter) RunSessionPost() error {
	pp, _ := in.newParams(marcrec.NewRecord(), marcrec.NewRecord())
	_, err := in.runChain(in.prog.SessionPost, pp)
	return err
}

// ProcessRecord runs the full record-pre / per-field / record-post walk of
// spec.md §4.4 against input, returning the built output record and
// whether it should be written. keep is false both when a rule killed the
// record and when the output ended up with no real fields (§4.4 step 4);
// in the first case output is nil, in the second it is the empty record.
// A procedure returning ERROR aborts only this record (nil output, keep
// false, nil error). A non-nil error means a fatal diagnostic was raised
// (the error threshold was exceeded, or a ProcParams checksum mismatch
// was detected) and the whole run must stop.
func (in *Interpreter) ProcessRecord(input *marcrec.Record, recNum int64, recID string) (output *marcrec.Record, keep bool, err error) {
	in.diag.SetRecordLocation(recNum, recID)

	output = marcrec.NewRecord()
	output.Leader = input.Leader
	inputDup := input.Duplicate()

	pp, loopState := in.newParams(inputDup, output)

	killed := false

	st, err := in.runChain(in.prog.RecordPre, pp)
	if err != nil {
		return nil, false, err
	}
	switch st {
	case procapi.StatusError:
		return nil, false, nil
	case procapi.StatusKillRecord:
		killed = true
	case procapi.StatusDoneRecord:
		// skip straight to record-post
	default:
		recordSignal, ferr := in.runFieldLoop(pp, loopState, inputDup, output)
		if ferr != nil {
			return nil, false, ferr
		}
		switch recordSignal {
		case procapi.StatusError:
			return nil, false, nil
		case procapi.StatusKillRecord:
			killed = true
		}
	}

	st, err = in.runChain(in.prog.RecordPost, pp)
	if err != nil {
		return nil, false, err
	}
	switch st {
	case procapi.StatusError:
		return nil, false, nil
	case procapi.StatusKillRecord:
		killed = true
	}

	if killed {
		return nil, false, nil
	}
	return output, output.NumFields() > 0, nil
}

// fieldLoopState threads the %fid/%focc/%fpos/%sid/%socc/%spos builtin
// variables (spec.md §4.6's "current or builtin" source kind) through the
// nested field/subfield loops; each is read live by pp.Builtin, so a
// procedure always sees the position of the subfield or field whose chain
// is currently executing.
type fieldLoopState struct {
	fieldTag, fieldOcc, fieldPos int
	sfCode, sfOcc, sfPos         int
}

func (in *Interpreter) newParams(inputRec, outputRec *marcrec.Record) (*procapi.ProcParams, *fieldLoopState) {
	state := &fieldLoopState{}
	pp := &procapi.ProcParams{
		InputRec:  inputRec,
		OutputRec: outputRec,
		Data:      make([]byte, 0, procapi.ProcDataCap),
		Bufs:      in.bufs,
		Diag:      in.diag,
	}
	pp.Builtin = func(name string) (int, bool) {
		switch name {
		case "fid":
			return state.fieldTag, true
		case "focc":
			return state.fieldOcc, true
		case "fpos":
			return state.fieldPos, true
		case "sid":
			return state.sfCode, true
		case "socc":
			return state.sfOcc, true
		case "spos":
			return state.sfPos, true
		default:
			return 0, false
		}
	}
	pp.Call = func(name string, args []string) (procapi.Status, error) {
		return in.CallBuiltin(pp, name, args)
	}
	return pp, state
}

// CallBuiltin re-invokes another registered procedure with substituted
// arguments, restoring pp.Args afterward -- the cmp_call re-entrant
// invocation path a composite procedure (spec.md "Supplemented features")
// uses to delegate part of its work to an existing builtin.
func (in *Interpreter) CallBuiltin(pp *procapi.ProcParams, name string, args []string) (procapi.Status, error) {
	spec, ok := in.registry.Lookup(name)
	if !ok {
		return procapi.StatusError, fmt.Errorf("engine: cmp_call: unknown procedure %q", name)
	}
	saved := pp.Args
	pp.Args = args
	status := spec.Func(pp)
	pp.Args = saved
	return status, nil
}

// runFieldLoop implements spec.md §4.4 step 2: walk every field of the
// duplicated input record, add its output counterpart, run field-pre, copy
// subfields (or the fixed payload) under subfield-pre/post, then
// field-post, deleting the output field if it ended up empty.
//
// It returns a non-zero signal when a chain anywhere in the field or
// subfield loops short-circuited all the way to record scope
// (StatusDoneRecord/StatusKillRecord), so the caller can skip straight to
// the record-post step; a nil error paired with signal StatusOK means the
// loop completed normally.
func (in *Interpreter) runFieldLoop(pp *procapi.ProcParams, state *fieldLoopState, inputDup, output *marcrec.Record) (procapi.Status, error) {
	for i := 0; i < inputDup.NumFields(); i++ {
		inField, _ := inputDup.FieldAt(i)
		if err := inputDup.GotoField(i); err != nil {
			return procapi.StatusError, nil
		}

		outField, ferr := output.AddField(inField.Tag)
		if ferr != nil {
			rerr := in.diag.Report(diag.Error, "engine: could not add output field for tag %03d: %v", inField.Tag, ferr)
			return procapi.StatusError, rerr
		}
		outIdx := output.NumFields() - 1

		state.fieldTag = inField.Tag
		state.fieldOcc = inField.Occ
		state.fieldPos = i

		deleteField := false

		st, err := in.runChain(in.prog.FieldChain(inField.Tag, false), pp)
		if err != nil {
			return procapi.StatusError, err
		}

		runSubfields := true
		switch st {
		case procapi.StatusError:
			return procapi.StatusError, nil
		case procapi.StatusDoneRecord, procapi.StatusKillRecord:
			return st, nil
		case procapi.StatusKillField:
			deleteField = true
			runSubfields = false
		case procapi.StatusDoneField:
			runSubfields = false
		}

		// A field-pre procedure (makefld, makesf) may have moved the output
		// cursor off this field; reposition before touching outField again.
		_ = output.GotoField(outIdx)

		if runSubfields && !inField.IsFixed() {
			sig, serr := in.runSubfieldLoop(pp, inputDup, inField, output, outIdx, state)
			if serr != nil {
				return procapi.StatusError, serr
			}
			switch sig {
			case procapi.StatusError:
				return procapi.StatusError, nil
			case procapi.StatusDoneRecord, procapi.StatusKillRecord:
				return sig, nil
			case procapi.StatusKillField:
				deleteField = true
				runSubfields = false
			case procapi.StatusDoneField:
				runSubfields = false
			}
		} else if runSubfields {
			outField.FixedData = append([]byte(nil), inField.FixedData...)
		}

		_ = output.GotoField(outIdx)

		if runSubfields && !deleteField {
			st, err = in.runChain(in.prog.FieldChain(inField.Tag, true), pp)
			if err != nil {
				return procapi.StatusError, err
			}
			switch st {
			case procapi.StatusError:
				return procapi.StatusError, nil
			case procapi.StatusDoneRecord, procapi.StatusKillRecord:
				return st, nil
			case procapi.StatusKillField:
				deleteField = true
			}
		}

		if deleteField || fieldIsEmpty(outField) {
			deleteFieldAt(output, outField)
		}
	}
	return procapi.StatusOK, nil
}

// runSubfieldLoop implements spec.md §4.4 step 2c: for each subfield of
// inField (including the two indicator pseudo-subfields), run
// subfield-pre, copy into the output field unless a DONE_SF suppressed it,
// then run subfield-post. Copying goes through the output record's own
// AddSubfield/SetIndicator so the output cursor lands on the new subfield,
// the same way a procedure like rensf addressing "the current output
// subfield" expects to find it.
func (in *Interpreter) runSubfieldLoop(pp *procapi.ProcParams, inputDup, output *marcrec.Record, inField *marcrec.Field, outIdx int, state *fieldLoopState) (procapi.Status, error) {
	n := inField.NumSubfields()
	occSoFar := map[byte]int{}

	for j := 0; j < n; j++ {
		sf, ok := inField.SubfieldAt(j)
		if !ok {
			continue
		}
		if err := inputDup.GotoSubfield(j); err != nil {
			return procapi.StatusError, nil
		}

		state.sfCode = int(sf.Code)
		state.sfPos = j
		if sf.Code == marcrec.IndicCode1 || sf.Code == marcrec.IndicCode2 {
			state.sfOcc = 0
		} else {
			state.sfOcc = occSoFar[sf.Code]
			occSoFar[sf.Code]++
		}

		pp.Data = append(pp.Data[:0], sf.Data...)
		if len(pp.Data) > procapi.ProcDataCap {
			pp.Data = pp.Data[:procapi.ProcDataCap]
		}

		_ = output.GotoField(outIdx)
		chain := in.prog.SubfieldChain(inField.Tag, sf.Code, false)
		st, err := in.runChain(chain, pp)
		if err != nil {
			return procapi.StatusError, err
		}

		suppressed := false
		switch st {
		case procapi.StatusError:
			return procapi.StatusError, nil
		case procapi.StatusDoneRecord, procapi.StatusKillRecord, procapi.StatusDoneField, procapi.StatusKillField:
			return st, nil
		case procapi.StatusDoneSF:
			suppressed = true
		}

		if !suppressed {
			_ = output.GotoField(outIdx)
			if cerr := copySubfield(output, sf); cerr != nil {
				rerr := in.diag.Report(diag.Error, "engine: could not copy subfield %q: %v", sf.Code, cerr)
				return procapi.StatusError, rerr
			}

			_ = output.GotoField(outIdx)
			postChain := in.prog.SubfieldChain(inField.Tag, sf.Code, true)
			st, err = in.runChain(postChain, pp)
			if err != nil {
				return procapi.StatusError, err
			}
			switch st {
			case procapi.StatusError:
				return procapi.StatusError, nil
			case procapi.StatusDoneRecord, procapi.StatusKillRecord, procapi.StatusDoneField, procapi.StatusKillField:
				return st, nil
			}
		}
	}
	return procapi.StatusOK, nil
}

// copySubfield writes sf onto output's current field: an indicator byte for
// the two pseudo-codes, a real subfield (positioning the output cursor onto
// it) otherwise.
func copySubfield(output *marcrec.Record, sf marcrec.Subfield) error {
	switch sf.Code {
	case marcrec.IndicCode1:
		return output.SetIndicator(1, firstByteOrSpace(sf.Data))
	case marcrec.IndicCode2:
		return output.SetIndicator(2, firstByteOrSpace(sf.Data))
	default:
		return output.AddSubfield(sf.Code, sf.Data)
	}
}

func firstByteOrSpace(data []byte) byte {
	if len(data) == 0 {
		return ' '
	}
	return data[0]
}

// fieldIsEmpty reports whether outField carries no real content: a fixed
// field with no bytes, or a variable field with no real subfields (the
// two indicator pseudo-subfields don't count), mirroring spec.md §4.4's
// "length equals 1 byte for fixed, 3 bytes for variable with only
// indicators and a terminator" rule restated over the logical model.
func fieldIsEmpty(f *marcrec.Field) bool {
	if f.IsFixed() {
		return len(f.FixedData) == 0
	}
	return len(f.Subfields) == 0
}

// deleteFieldAt removes f from rec.Fields and renumbers later occurrences
// of the same tag, the same bookkeeping marcrec.Record.DeleteField does
// for the cursor-based API, but usable here without disturbing rec's
// current cursor (the field loop tracks its own position by index).
func deleteFieldAt(rec *marcrec.Record, f *marcrec.Field) {
	idx := -1
	for i, g := range rec.Fields {
		if g == f {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	tag, occ := f.Tag, f.Occ
	rec.Fields = append(rec.Fields[:idx], rec.Fields[idx+1:]...)
	for _, g := range rec.Fields {
		if g.Tag == tag && g.Occ > occ {
			g.Occ--
		}
	}
}

// runChain walks a compiled chain from head, dispatching each node's
// builtin and following TrueNext/FalseNext per its returned Status. It
// returns the short-circuit Status that ended the chain, or StatusOK if
// the chain ran off its end without one (the interpreter's "proceed
// normally" sentinel — not necessarily the last node's own return value).
//
// A node that returns OK or IF_FAILED is free to reposition the output
// cursor (makefld, makesf) and have later nodes in the same chain see that
// position; the field/subfield loop re-anchors the cursor to the field
// under construction at each phase boundary rather than the interpreter
// undoing it node by node.
func (in *Interpreter) runChain(head *rules.ProcNode, pp *procapi.ProcParams) (procapi.Status, error) {
	node := head
	for node != nil {
		before := pp.Checksum()

		status := node.Spec.Func(pp)

		after := pp.Checksum()
		if before != after {
			rerr := in.diag.Report(diag.Fatal, "procedure %q corrupted its call context", node.Name)
			if rerr == nil {
				rerr = &ChecksumMismatchError{Proc: node.Name}
			}
			return procapi.StatusError, rerr
		}

		switch status {
		case procapi.StatusOK:
			node = node.TrueNext
		case procapi.StatusIfFailed:
			node = node.FalseNext
		default:
			return status, nil
		}
	}
	return procapi.StatusOK, nil
}
