package rules

import (
	"io"
	"strings"

	"github.com/jbirkhimer/marcconv-sub001/internal/ctlfile"
	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/marcrec"
	"github.com/jbirkhimer/marcconv-sub001/internal/procapi"
)

// MaxBranchDepth bounds nested if/else/endif groups (spec.md §5's
// bounded-stack resource note, applied to the compiler's own structures
// rather than just the codec's save stack).
const MaxBranchDepth = 64

// danglingExit names one exit of a not-yet-linked node, waiting for the
// node that will eventually follow it.
type danglingExit struct {
	node *ProcNode
	exit int // 0 = TrueNext only, 1 = FalseNext only, 2 = both
}

// chain is a partially built linear sequence with one or more dangling
// exits still to be patched to whatever node comes next.
type chain struct {
	dangling []danglingExit
}

func (c *chain) append(n *ProcNode) {
	for _, d := range c.dangling {
		switch d.exit {
		case 0:
			d.node.TrueNext = n
		case 1:
			d.node.FalseNext = n
		default:
			d.node.TrueNext = n
			d.node.FalseNext = n
		}
	}
	if n.Spec.Condition == procapi.CondIf {
		c.dangling = nil
	} else {
		c.dangling = []danglingExit{{n, 2}}
	}
}

// ifFrame tracks one open if/[else]/endif group.
type ifFrame struct {
	ifNode    *ProcNode
	thenChain *chain
	elseChain *chain
	inElse    bool
}

// scopeKey identifies one of the entry chains a prep=/post= line can
// attach to. fieldKey is set whenever the scope nests inside a field block
// (field itself, or one of its subfields/indicators), so subfield chains
// compiled under one field pattern never leak into another's.
type scopeKey struct {
	pos      int
	fieldKey string // tag pattern, set for field- and subfield-scoped positions
	sfKey    string // subfield code or "*", set only when pos is subfield-scoped
}

// ControlCompiler parses a control-table file into a RuleProgram,
// validating every procedure reference against a Registry and
// backpatching if/else/endif groups as it goes.
type ControlCompiler struct {
	registry *procapi.Registry
	diag     *diag.Reporter
	program  *RuleProgram

	scope          scopeKey
	currentField   string // tag pattern of the innermost "field=" block seen, for subfield nesting
	chains         map[scopeKey]*chain
	branchStack    []*ifFrame
	declaredFields map[string]bool // tag patterns already opened by a "field" line, for duplicate-range detection
}

// NewControlCompiler constructs a compiler validating against reg and
// reporting diagnostics to d.
func NewControlCompiler(reg *procapi.Registry, d *diag.Reporter) *ControlCompiler {
	return &ControlCompiler{
		registry:       reg,
		diag:           d,
		program:        newRuleProgram(),
		scope:          scopeKey{pos: procapi.PosRecordPre},
		chains:         make(map[scopeKey]*chain),
		declaredFields: make(map[string]bool),
	}
}

// Compile reads every line from r, returning the finished program. A
// non-nil error means r could not be read or a fatal diagnostic was
// raised (maximum-error threshold exceeded). Other problems, an
// unbalanced if/else/endif at EOF included, are reported and counted as
// errors without stopping the compile.
func (c *ControlCompiler) Compile(r *ctlfile.Reader) (*RuleProgram, error) {
	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		c.diag.SetCompileLocation(r.Name(), line.Num)
		if err := c.processLine(line); err != nil {
			return nil, err
		}
	}
	if len(c.branchStack) > 0 {
		if err := c.diag.Report(diag.Error, "unterminated if at end of file"); err != nil {
			return nil, err
		}
	}
	return c.program, nil
}

func (c *ControlCompiler) processLine(line ctlfile.Line) error {
	switch line.Key {
	case "session":
		c.currentField = ""
		c.scope = scopeKey{pos: procapi.PosSessionPre}
		return nil
	case "record":
		c.currentField = ""
		c.scope = scopeKey{pos: procapi.PosRecordPre}
		return nil
	case "field":
		pattern := "XXX"
		if len(line.Values) > 0 {
			pattern = normalizeTagPattern(line.Values[0])
		}
		if c.declaredFields[pattern] {
			if err := c.diag.Report(diag.Error, "duplicate range rule for field %q", pattern); err != nil {
				return err
			}
		}
		c.declaredFields[pattern] = true
		c.currentField = pattern
		c.scope = scopeKey{pos: procapi.PosFieldPre, fieldKey: pattern}
		return nil
	case "subfield":
		code := "*"
		if len(line.Values) > 0 {
			code = line.Values[0]
		}
		c.scope = scopeKey{pos: procapi.PosSubfieldPre, fieldKey: c.currentField, sfKey: code}
		return nil
	case "indicator":
		which := "1"
		if len(line.Values) > 0 {
			which = line.Values[0]
		}
		code := string(marcrec.IndicCode1)
		if which == "2" {
			code = string(marcrec.IndicCode2)
		}
		c.scope = scopeKey{pos: procapi.PosSubfieldPre, fieldKey: c.currentField, sfKey: code}
		return nil
	case "prep":
		return c.addProc(line, false)
	case "post":
		return c.addProc(line, true)
	case "else":
		return c.handleElse()
	case "endif":
		return c.handleEndif()
	default:
		if strings.HasPrefix(line.Key, "&") {
			return nil // switch assignment, meaningless inside a control file
		}
		return c.diag.Report(diag.Error, "unrecognized control-table key %q", line.Key)
	}
}

func normalizeTagPattern(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if len(v) != 3 {
		return v
	}
	return v
}

func postScope(s scopeKey) scopeKey {
	switch s.pos {
	case procapi.PosSessionPre:
		return scopeKey{pos: procapi.PosSessionPost}
	case procapi.PosRecordPre:
		return scopeKey{pos: procapi.PosRecordPost}
	case procapi.PosFieldPre:
		return scopeKey{pos: procapi.PosFieldPost, fieldKey: s.fieldKey}
	case procapi.PosSubfieldPre:
		return scopeKey{pos: procapi.PosSubfieldPost, fieldKey: s.fieldKey, sfKey: s.sfKey}
	default:
		return s
	}
}

func (c *ControlCompiler) activeChain() *chain {
	key := c.scope
	if len(c.branchStack) > 0 {
		return nil // active chain is the top frame's then/else chain, handled by caller
	}
	ch, ok := c.chains[key]
	if !ok {
		ch = &chain{}
		c.chains[key] = ch
	}
	return ch
}

func (c *ControlCompiler) appendNode(n *ProcNode) {
	if len(c.branchStack) > 0 {
		top := c.branchStack[len(c.branchStack)-1]
		if top.inElse {
			top.elseChain.append(n)
		} else {
			top.thenChain.append(n)
		}
		return
	}
	c.activeChain().append(n)
}

func (c *ControlCompiler) addProc(line ctlfile.Line, isPost bool) error {
	if len(line.Values) == 0 {
		return c.diag.Report(diag.Error, "%s= requires a procedure name", line.Key)
	}
	name := line.Values[0]
	args := line.Values[1:]

	spec, ok := c.registry.Lookup(name)
	if !ok {
		return c.diag.Report(diag.Error, "unknown procedure %q", name)
	}
	if len(args) < spec.MinArgs || (spec.MaxArgs >= 0 && len(args) > spec.MaxArgs) {
		return c.diag.Report(diag.Error, "procedure %q takes %d-%d arguments, got %d", name, spec.MinArgs, spec.MaxArgs, len(args))
	}

	scope := c.scope
	if isPost {
		scope = postScope(c.scope)
	}
	if spec.ValidPos&scope.pos == 0 {
		return c.diag.Report(diag.Error, "procedure %q is not valid in this scope", name)
	}

	node := &ProcNode{Name: name, Args: args, Spec: spec}

	if len(c.branchStack) == 0 {
		ch, ok := c.chains[scope]
		if !ok {
			ch = &chain{}
			c.chains[scope] = ch
		}
		ch.append(node)
		c.bindHead(scope, node)
	} else {
		c.appendNode(node)
	}

	if spec.Condition == procapi.CondIf {
		if len(c.branchStack) >= MaxBranchDepth {
			return c.diag.Report(diag.Error, "if/endif nesting exceeds maximum depth %d", MaxBranchDepth)
		}
		frame := &ifFrame{
			ifNode:    node,
			thenChain: &chain{dangling: []danglingExit{{node, 0}}},
		}
		c.branchStack = append(c.branchStack, frame)
	}
	return nil
}

// bindHead records the first node compiled into a given scope as that
// scope's published entry point in the RuleProgram, if it isn't already
// set (a scope chain's head never moves once assigned).
func (c *ControlCompiler) bindHead(scope scopeKey, node *ProcNode) {
	switch scope.pos {
	case procapi.PosSessionPre:
		if c.program.SessionPre == nil {
			c.program.SessionPre = node
		}
	case procapi.PosSessionPost:
		if c.program.SessionPost == nil {
			c.program.SessionPost = node
		}
	case procapi.PosRecordPre:
		if c.program.RecordPre == nil {
			c.program.RecordPre = node
		}
	case procapi.PosRecordPost:
		if c.program.RecordPost == nil {
			c.program.RecordPost = node
		}
	case procapi.PosFieldPre:
		fr := c.program.fieldRules(scope.fieldKey)
		if fr.Pre == nil {
			fr.Pre = node
		}
	case procapi.PosFieldPost:
		fr := c.program.fieldRules(scope.fieldKey)
		if fr.Post == nil {
			fr.Post = node
		}
	case procapi.PosSubfieldPre:
		fr := c.program.fieldRules(scope.fieldKey)
		if _, ok := fr.SubfieldPre[scope.sfKey]; !ok {
			fr.SubfieldPre[scope.sfKey] = node
		}
	case procapi.PosSubfieldPost:
		fr := c.program.fieldRules(scope.fieldKey)
		if _, ok := fr.SubfieldPost[scope.sfKey]; !ok {
			fr.SubfieldPost[scope.sfKey] = node
		}
	}
}

func (c *ControlCompiler) handleElse() error {
	if len(c.branchStack) == 0 {
		return c.diag.Report(diag.Error, "else without matching if")
	}
	top := c.branchStack[len(c.branchStack)-1]
	if top.inElse {
		return c.diag.Report(diag.Error, "duplicate else for the same if")
	}
	top.inElse = true
	top.elseChain = &chain{dangling: []danglingExit{{top.ifNode, 1}}}
	return nil
}

func (c *ControlCompiler) handleEndif() error {
	if len(c.branchStack) == 0 {
		return c.diag.Report(diag.Error, "endif without matching if")
	}
	n := len(c.branchStack) - 1
	frame := c.branchStack[n]
	c.branchStack = c.branchStack[:n]

	var converged []danglingExit
	converged = append(converged, frame.thenChain.dangling...)
	if frame.inElse {
		converged = append(converged, frame.elseChain.dangling...)
	} else {
		converged = append(converged, danglingExit{frame.ifNode, 1})
	}

	if len(c.branchStack) > 0 {
		outer := c.branchStack[len(c.branchStack)-1]
		if outer.inElse {
			outer.elseChain.dangling = append(outer.elseChain.dangling, converged...)
		} else {
			outer.thenChain.dangling = append(outer.thenChain.dangling, converged...)
		}
	} else {
		ch := c.activeChain()
		ch.dangling = append(ch.dangling, converged...)
	}
	return nil
}
