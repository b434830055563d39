package engine_test

import (
	"strings"
	"testing"

	"github.com/jbirkhimer/marcconv-sub001/internal/buffers"
	"github.com/jbirkhimer/marcconv-sub001/internal/ctlfile"
	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/engine"
	"github.com/jbirkhimer/marcconv-sub001/internal/marcrec"
	"github.com/jbirkhimer/marcconv-sub001/internal/procapi"
	"github.com/jbirkhimer/marcconv-sub001/internal/procs"
	"github.com/jbirkhimer/marcconv-sub001/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, ctlSrc string) (*engine.Interpreter, *diag.Reporter) {
	t.Helper()
	var sb strings.Builder
	d := diag.New(&sb, 50)
	reg := procapi.NewRegistry()
	procs.Register(reg)

	c := rules.NewControlCompiler(reg, d)
	prog, err := c.Compile(ctlfile.New(strings.NewReader(ctlSrc), "test.ctl"))
	require.NoError(t, err)

	return engine.New(prog, reg, buffers.New(), d), d
}

func oneField245(title string) *marcrec.Record {
	r := marcrec.NewRecord()
	f, _ := r.AddField(245)
	_ = r.AddSubfield('a', []byte(title))
	_ = f
	return r
}

// TestEmptyProgramIsIdentity grounds spec.md Scenario A: a control table
// with no rules at all copies every field and subfield through unchanged.
func TestEmptyProgramIsIdentity(t *testing.T) {
	in, _ := newEngine(t, "")
	input := oneField245("The hobbit")

	out, keep, err := in.ProcessRecord(input, 1, "")
	require.NoError(t, err)
	require.True(t, keep)
	require.Equal(t, 1, out.NumFields())

	f, ok := out.FieldAt(0)
	require.True(t, ok)
	assert.Equal(t, 245, f.Tag)
	require.Len(t, f.Subfields, 1)
	assert.Equal(t, "The hobbit", string(f.Subfields[0].Data))
}

// TestFieldRenameAppliesToOutputOnly grounds Scenario B: a post= renfld
// rewrites the output tag while the input record keeps its original tag.
func TestFieldRenameAppliesToOutputOnly(t *testing.T) {
	in, _ := newEngine(t, "field=245\npost=renfld/210\n")
	input := oneField245("Moby Dick")

	out, keep, err := in.ProcessRecord(input, 1, "")
	require.NoError(t, err)
	require.True(t, keep)
	require.Equal(t, 1, out.NumFields())

	f, _ := out.FieldAt(0)
	assert.Equal(t, 210, f.Tag)
	require.Len(t, f.Subfields, 1)
	assert.Equal(t, "Moby Dick", string(f.Subfields[0].Data))
	assert.Equal(t, 245, input.Fields[0].Tag)
}

// TestSubfieldKillFieldDropsWholeField grounds the KILL_FIELD short-circuit:
// a subfield-pre killfld on 'a' removes the entire output field even though
// other subfields in the same field would otherwise have survived.
func TestSubfieldKillFieldDropsWholeField(t *testing.T) {
	in, _ := newEngine(t, "field=245\nsubfield=a\nprep=killfld\n")

	input := marcrec.NewRecord()
	input.AddField(245)
	_ = input.AddSubfield('a', []byte("doomed"))
	_ = input.AddSubfield('b', []byte("survivor"))

	out, keep, err := in.ProcessRecord(input, 1, "")
	require.NoError(t, err)
	assert.False(t, keep)
	assert.Equal(t, 0, out.NumFields())
}

// TestSubfieldDoneSFSuppressesOnlyThatSubfield grounds the DONE_SF
// short-circuit: a donesf on subfield 'a' drops just that one subfield,
// leaving its siblings and the rest of the field intact.
func TestSubfieldDoneSFSuppressesOnlyThatSubfield(t *testing.T) {
	in, _ := newEngine(t, "field=245\nsubfield=a\nprep=donesf\n")

	input := marcrec.NewRecord()
	input.AddField(245)
	_ = input.AddSubfield('a', []byte("dropped"))
	_ = input.AddSubfield('b', []byte("kept"))

	out, keep, err := in.ProcessRecord(input, 1, "")
	require.NoError(t, err)
	require.True(t, keep)
	require.Equal(t, 1, out.NumFields())

	f, _ := out.FieldAt(0)
	require.Len(t, f.Subfields, 1)
	assert.Equal(t, byte('b'), f.Subfields[0].Code)
	assert.Equal(t, "kept", string(f.Subfields[0].Data))
}

// TestRecordPreConditionalKill grounds spec.md Scenario C: a record-pre
// if/killrec pair suppresses the whole record when the condition is true,
// and leaves a non-matching record untouched.
func TestRecordPreConditionalKill(t *testing.T) {
	in, _ := newEngine(t, "record\nprep=if/245$a/=/\"kill me\"\nprep=killrec\nendif\n")

	killed := marcrec.NewRecord()
	killed.AddField(245)
	_ = killed.AddSubfield('a', []byte("kill me"))

	out, keep, err := in.ProcessRecord(killed, 1, "")
	require.NoError(t, err)
	assert.False(t, keep)
	assert.Nil(t, out)

	spared := marcrec.NewRecord()
	spared.AddField(245)
	_ = spared.AddSubfield('a', []byte("spare me"))

	out2, keep2, err2 := in.ProcessRecord(spared, 2, "")
	require.NoError(t, err2)
	require.True(t, keep2)
	require.Equal(t, 1, out2.NumFields())
}

// TestMakefldMakesfBuildsAuxiliaryField exercises a multi-step field-post
// chain where makefld repositions the output cursor onto a brand-new field
// and a following makesf writes into it -- the scenario that forced the
// interpreter to re-anchor the output cursor at phase boundaries instead of
// restoring it after every node.
func TestMakefldMakesfBuildsAuxiliaryField(t *testing.T) {
	in, _ := newEngine(t, "field=245\npost=makefld/500\npost=copy/%data/245$a\npost=makesf/a\n")

	input := oneField245("A tale of two cities")
	out, keep, err := in.ProcessRecord(input, 1, "")
	require.NoError(t, err)
	require.True(t, keep)
	require.Equal(t, 2, out.NumFields())

	orig, _ := out.FieldAt(0)
	assert.Equal(t, 245, orig.Tag)

	aux, _ := out.FieldAt(1)
	assert.Equal(t, 500, aux.Tag)
	require.Len(t, aux.Subfields, 1)
	assert.Equal(t, "A tale of two cities", string(aux.Subfields[0].Data))
}

// TestSessionChainsRunWithoutARecord grounds the session-pre/post entry
// points: they execute against an empty synthetic record and never panic
// even when the program has no session-scoped rules at all.
func TestSessionChainsRunWithoutARecord(t *testing.T) {
	in, _ := newEngine(t, "")
	require.NoError(t, in.RunSessionPre())
	require.NoError(t, in.RunSessionPost())
}

// TestChecksumMismatchIsFatal grounds the interpreter's own misbehaving-
// procedure guard: a builtin that corrupts its ProcParams context by
// swapping in a different buffer store must abort the record with an error
// rather than silently continuing.
func TestChecksumMismatchIsFatal(t *testing.T) {
	reg := procapi.NewRegistry()
	procs.Register(reg)
	reg.Register(procapi.Spec{
		Name:     "corrupt",
		MinArgs:  0,
		MaxArgs:  0,
		ValidPos: procapi.PosAny,
		Func: func(pp *procapi.ProcParams) procapi.Status {
			pp.Bufs = buffers.New()
			return procapi.StatusOK
		},
	})

	var sb strings.Builder
	d := diag.New(&sb, 50)
	c := rules.NewControlCompiler(reg, d)
	prog, err := c.Compile(ctlfile.New(strings.NewReader("record\nprep=corrupt\n"), "test.ctl"))
	require.NoError(t, err)

	in := engine.New(prog, reg, buffers.New(), d)
	_, keep, perr := in.ProcessRecord(oneField245("whatever"), 1, "")
	require.Error(t, perr)
	assert.False(t, keep)
}
