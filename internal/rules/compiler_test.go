package rules

import (
	"strings"
	"testing"

	"github.com/jbirkhimer/marcconv-sub001/internal/ctlfile"
	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/procapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *procapi.Registry {
	reg := procapi.NewRegistry()
	reg.Register(procapi.Spec{Name: "if", MinArgs: 0, MaxArgs: -1, ValidPos: procapi.PosAny, Condition: procapi.CondIf})
	reg.Register(procapi.Spec{Name: "killrec", MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "renfld", MinArgs: 1, MaxArgs: 1, ValidPos: procapi.PosFieldPre | procapi.PosFieldPost})
	reg.Register(procapi.Spec{Name: "nop", MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosAny})
	return reg
}

func compile(t *testing.T, src string) (*RuleProgram, *diag.Reporter) {
	t.Helper()
	var sb strings.Builder
	d := diag.New(&sb, 50)
	c := NewControlCompiler(testRegistry(), d)
	prog, err := c.Compile(ctlfile.New(strings.NewReader(src), "test.ctl"))
	require.NoError(t, err)
	return prog, d
}

// TestCompileConditionalKill grounds spec.md Scenario C: an if node with no
// else must leave its FalseNext dangling to whatever follows endif, and
// skip the killrec node entirely when the condition is false.
func TestCompileConditionalKill(t *testing.T) {
	src := "record\nprep=if/\"hello\"/=/\"world\"\nprep=killrec\nendif\n"
	prog, _ := compile(t, src)

	require.NotNil(t, prog.RecordPre)
	ifNode := prog.RecordPre
	assert.Equal(t, "if", ifNode.Name)
	require.NotNil(t, ifNode.TrueNext)
	assert.Equal(t, "killrec", ifNode.TrueNext.Name)
	assert.Nil(t, ifNode.FalseNext, "false branch should dangle past endif with nothing following")
}

func TestCompileFieldRename(t *testing.T) {
	src := "field=001\npost=renfld/010\n"
	prog, _ := compile(t, src)

	node := prog.FieldChain(1, true)
	require.NotNil(t, node)
	assert.Equal(t, "renfld", node.Name)
	assert.Equal(t, []string{"010"}, node.Args)
}

// TestCompileSubfieldRulesDoNotLeakAcrossFields grounds spec.md §3's
// per-tag FieldRules model: two different field patterns can each declare
// a rule under the same subfield code 'a' without clobbering each other.
func TestCompileSubfieldRulesDoNotLeakAcrossFields(t *testing.T) {
	src := "field=245\nsubfield=a\nprep=killrec\nfield=700\nsubfield=a\nprep=nop\n"
	prog, _ := compile(t, src)

	n245 := prog.SubfieldChain(245, 'a', false)
	require.NotNil(t, n245)
	assert.Equal(t, "killrec", n245.Name)

	n700 := prog.SubfieldChain(700, 'a', false)
	require.NotNil(t, n700)
	assert.Equal(t, "nop", n700.Name)
}

func TestCompileIfElseConverges(t *testing.T) {
	src := "record\nprep=if/\"a\"/=/\"a\"\nprep=nop\nelse\nprep=killrec\nendif\nprep=nop\n"
	prog, _ := compile(t, src)

	ifNode := prog.RecordPre
	require.NotNil(t, ifNode)
	require.NotNil(t, ifNode.TrueNext)
	require.NotNil(t, ifNode.FalseNext)
	assert.Equal(t, "nop", ifNode.TrueNext.Name)
	assert.Equal(t, "killrec", ifNode.FalseNext.Name)

	require.NotNil(t, ifNode.TrueNext.TrueNext)
	require.NotNil(t, ifNode.FalseNext.TrueNext)
	assert.Same(t, ifNode.TrueNext.TrueNext, ifNode.FalseNext.TrueNext)
	assert.Equal(t, "nop", ifNode.TrueNext.TrueNext.Name)
}

func TestCompileUnknownProcedureReported(t *testing.T) {
	src := "record\nprep=frobnicate\n"
	_, d := compile(t, src)
	assert.Equal(t, 1, d.Errors())
}

func TestCompileRejectsMismatchedScope(t *testing.T) {
	src := "field=100\nprep=killrec\npost=renfld/200\n"
	_, d := compile(t, src)
	// killrec is valid anywhere; renfld is valid on field pre/post, so
	// this particular table compiles clean -- this test instead checks
	// a genuinely invalid scope usage below.
	assert.Equal(t, 0, d.Errors())

	src2 := "subfield=a\npost=renfld/200\n"
	_, d2 := compile(t, src2)
	assert.Equal(t, 1, d2.Errors())
}

// TestCompileDuplicateFieldRangeReported grounds spec.md's "duplicate range
// rule" compile error (marcconv.c's x_count-equality check): declaring the
// same tag pattern twice must be reported, not silently merged.
func TestCompileDuplicateFieldRangeReported(t *testing.T) {
	src := "field=245\nprep=killrec\nfield=245\nprep=nop\n"
	prog, d := compile(t, src)
	assert.Equal(t, 1, d.Errors())

	node := prog.FieldChain(245, false)
	require.NotNil(t, node)
	assert.Equal(t, "killrec", node.Name, "first declaration's chain should remain bound")
}

func TestCompileDuplicateWildcardFieldRangeReported(t *testing.T) {
	src := "field=9XX\nprep=killrec\nfield=9XX\nprep=nop\n"
	_, d := compile(t, src)
	assert.Equal(t, 1, d.Errors())
}

func TestCompileDistinctFieldRangesNotDuplicate(t *testing.T) {
	src := "field=245\nprep=killrec\nfield=700\nprep=nop\n"
	_, d := compile(t, src)
	assert.Equal(t, 0, d.Errors())
}

func TestEndifWithoutIfReported(t *testing.T) {
	_, d := compile(t, "record\nendif\n")
	assert.Equal(t, 1, d.Errors())
}
