package procs

import (
	"strconv"
	"strings"
	"time"

	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/procapi"
)

// Register installs the generic BuiltinProcs catalog -- the procedures
// available in every control table regardless of domain -- into reg.
// Domain-specialized procedures (mesh, the NACO/ISBN helpers) are
// registered separately by RegisterDomain once their supporting tables are
// loaded.
func Register(reg *procapi.Registry) {
	reg.Register(procapi.Spec{Name: "if", Func: procIf, MinArgs: 2, MaxArgs: 3, ValidPos: procapi.PosAny, Condition: procapi.CondIf})
	reg.Register(procapi.Spec{Name: "nop", Func: procNop, MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "indic", Func: procIndic, MinArgs: 2, MaxArgs: 2, ValidPos: procapi.PosFieldPre | procapi.PosFieldPost})
	reg.Register(procapi.Spec{Name: "clear", Func: procClear, MinArgs: 1, MaxArgs: 1, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "copy", Func: procCopy, MinArgs: 2, MaxArgs: 2, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "append", Func: procAppend, MinArgs: 2, MaxArgs: 2, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "substr", Func: procSubstr, MinArgs: 3, MaxArgs: 4, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "normalize", Func: procNormalize, MinArgs: 2, MaxArgs: 2, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "makefld", Func: procMakefld, MinArgs: 1, MaxArgs: 1, ValidPos: procapi.PosRecordPre | procapi.PosRecordPost | procapi.PosFieldPre | procapi.PosFieldPost})
	reg.Register(procapi.Spec{Name: "makesf", Func: procMakesf, MinArgs: 1, MaxArgs: 1, ValidPos: procapi.PosFieldPre | procapi.PosFieldPost | procapi.PosSubfieldPre | procapi.PosSubfieldPost})
	reg.Register(procapi.Spec{Name: "renfld", Func: procRenfld, MinArgs: 1, MaxArgs: 1, ValidPos: procapi.PosFieldPre | procapi.PosFieldPost})
	reg.Register(procapi.Spec{Name: "rensf", Func: procRensf, MinArgs: 1, MaxArgs: 1, ValidPos: procapi.PosSubfieldPre | procapi.PosSubfieldPost})
	reg.Register(procapi.Spec{Name: "killfld", Func: procKillfld, MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosFieldPre | procapi.PosFieldPost | procapi.PosSubfieldPre | procapi.PosSubfieldPost})
	reg.Register(procapi.Spec{Name: "killrec", Func: procKillrec, MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "donesf", Func: procDonesf, MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosSubfieldPre | procapi.PosSubfieldPost})
	reg.Register(procapi.Spec{Name: "donefld", Func: procDonefld, MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosFieldPre | procapi.PosFieldPost | procapi.PosSubfieldPre | procapi.PosSubfieldPost})
	reg.Register(procapi.Spec{Name: "donerec", Func: procDonerec, MinArgs: 0, MaxArgs: 0, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "today", Func: procToday, MinArgs: 2, MaxArgs: 2, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "y2toy4", Func: procY2toY4, MinArgs: 2, MaxArgs: 2, ValidPos: procapi.PosAny})
	reg.Register(procapi.Spec{Name: "log", Func: procLog, MinArgs: 1, MaxArgs: -1, ValidPos: procapi.PosAny})
}

func reportErr(pp *procapi.ProcParams, format string, args ...any) procapi.Status {
	pp.Diag.Report(diag.Error, format, args...)
	return procapi.StatusError
}

func procNop(pp *procapi.ProcParams) procapi.Status {
	return procapi.StatusOK
}

// procIf implements the single conditional primitive every control table's
// branching is built from: if(src, op, value?). op may be prefixed with
// '!' (negate the result) and/or '~' (case-insensitive comparison, ignored
// for the numeric operators). '*' tests for non-empty data and takes no
// value; '9' tests that every byte of src is a decimal digit and also
// takes no value. '=' is byte-equality, '^' leading-substring, '?'
// substring-anywhere, and '<' '>' '<=' '>=' parse both sides as signed
// decimal integers.
func procIf(pp *procapi.ProcParams) procapi.Status {
	args := pp.Args
	srcTok, opTok := args[0], args[1]

	negate, ci := false, false
	op := opTok
	for len(op) > 0 && (op[0] == '!' || op[0] == '~') {
		if op[0] == '!' {
			negate = true
		} else {
			ci = true
		}
		op = op[1:]
	}

	srcData, err := readSource(pp, srcTok)
	if err != nil {
		return reportErr(pp, "if: %v", err)
	}
	src := string(srcData)

	var result bool
	switch op {
	case "*":
		result = len(srcData) > 0
	case "9":
		result = len(src) > 0 && isAllDigits(src)
	default:
		if len(args) < 3 {
			return reportErr(pp, "if: operator %q requires a value argument", op)
		}
		valData, err := readSource(pp, args[2])
		if err != nil {
			return reportErr(pp, "if: %v", err)
		}
		val := string(valData)
		switch op {
		case "=":
			if ci {
				result = strings.EqualFold(src, val)
			} else {
				result = src == val
			}
		case "^":
			if ci {
				result = strings.HasPrefix(strings.ToLower(src), strings.ToLower(val))
			} else {
				result = strings.HasPrefix(src, val)
			}
		case "?":
			if ci {
				result = strings.Contains(strings.ToLower(src), strings.ToLower(val))
			} else {
				result = strings.Contains(src, val)
			}
		case "<", ">", "<=", ">=":
			a, aok := parseSignedInt(src)
			b, bok := parseSignedInt(val)
			if !aok || !bok {
				return reportErr(pp, "if: operator %q requires numeric operands, got %q and %q", op, src, val)
			}
			switch op {
			case "<":
				result = a < b
			case ">":
				result = a > b
			case "<=":
				result = a <= b
			case ">=":
				result = a >= b
			}
		default:
			return reportErr(pp, "if: unknown operator %q", opTok)
		}
	}

	if negate {
		result = !result
	}
	if result {
		return procapi.StatusOK
	}
	return procapi.StatusIfFailed
}

// parseSignedInt accepts an optional leading '-' followed by one or more
// decimal digits and nothing else, per the if procedure's numeric operand
// rule (spec.md §4.6).
func parseSignedInt(s string) (int, bool) {
	if strings.HasPrefix(s, "+") {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func procIndic(pp *procapi.ProcParams) procapi.Status {
	which := pp.Args[0]
	chData, err := readSource(pp, pp.Args[1])
	if err != nil {
		return reportErr(pp, "indic: %v", err)
	}
	ch := firstByteOrSpace(chData)
	f, ok := pp.OutputRec.CurrentField()
	if !ok {
		return reportErr(pp, "indic: no current output field")
	}
	switch which {
	case "1":
		f.Indic1 = ch
	case "2":
		f.Indic2 = ch
	default:
		return reportErr(pp, "indic: first argument must be 1 or 2, got %q", which)
	}
	return procapi.StatusOK
}

func procClear(pp *procapi.ProcParams) procapi.Status {
	if err := writeDestination(pp, pp.Args[0], nil, false); err != nil {
		return reportErr(pp, "clear: %v", err)
	}
	return procapi.StatusOK
}

func procCopy(pp *procapi.ProcParams) procapi.Status {
	data, err := readSource(pp, pp.Args[1])
	if err != nil {
		return reportErr(pp, "copy: %v", err)
	}
	if err := writeDestination(pp, pp.Args[0], data, false); err != nil {
		return reportErr(pp, "copy: %v", err)
	}
	return procapi.StatusOK
}

func procAppend(pp *procapi.ProcParams) procapi.Status {
	data, err := readSource(pp, pp.Args[1])
	if err != nil {
		return reportErr(pp, "append: %v", err)
	}
	if err := writeDestination(pp, pp.Args[0], data, true); err != nil {
		return reportErr(pp, "append: %v", err)
	}
	return procapi.StatusOK
}

// procSubstr extracts a byte range from src. A negative start counts from
// the end of the data (clamped at 0); a missing, zero, or over-large
// length means "to end of data".
func procSubstr(pp *procapi.ProcParams) procapi.Status {
	data, err := readSource(pp, pp.Args[1])
	if err != nil {
		return reportErr(pp, "substr: %v", err)
	}
	start, err := strconv.Atoi(pp.Args[2])
	if err != nil {
		return reportErr(pp, "substr: bad start offset %q", pp.Args[2])
	}
	if start < 0 {
		start += len(data)
		if start < 0 {
			start = 0
		}
	}
	if start > len(data) {
		start = len(data)
	}

	end := len(data)
	if len(pp.Args) == 4 {
		length, err := strconv.Atoi(pp.Args[3])
		if err != nil || length < 0 {
			return reportErr(pp, "substr: bad length %q", pp.Args[3])
		}
		if length > 0 && start+length < len(data) {
			end = start + length
		}
	}

	if err := writeDestination(pp, pp.Args[0], data[start:end], false); err != nil {
		return reportErr(pp, "substr: %v", err)
	}
	return procapi.StatusOK
}

// procNormalize keeps alphanumerics and '-', lower-cases the result, and
// collapses any run of other characters into a single space -- but only
// when that run contained at least one space; a run of pure punctuation
// with no space (e.g. "/." or a trailing ".") is dropped entirely rather
// than becoming one.
func procNormalize(pp *procapi.ProcParams) procapi.Status {
	data, err := readSource(pp, pp.Args[1])
	if err != nil {
		return reportErr(pp, "normalize: %v", err)
	}
	norm := normalizeText(string(data))
	if err := writeDestination(pp, pp.Args[0], []byte(norm), false); err != nil {
		return reportErr(pp, "normalize: %v", err)
	}
	return procapi.StatusOK
}

func normalizeText(s string) string {
	var sb strings.Builder
	i := 0
	lower := strings.ToLower(s)
	for i < len(lower) {
		c := lower[i]
		if isKeptRune(c) {
			sb.WriteByte(c)
			i++
			continue
		}
		j := i
		sawSpace := false
		for j < len(lower) && !isKeptRune(lower[j]) {
			if lower[j] == ' ' {
				sawSpace = true
			}
			j++
		}
		if sawSpace {
			sb.WriteByte(' ')
		}
		i = j
	}
	return sb.String()
}

func isKeptRune(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c == '-'
}

func procMakefld(pp *procapi.ProcParams) procapi.Status {
	tag, err := strconv.Atoi(pp.Args[0])
	if err != nil {
		return reportErr(pp, "makefld: bad tag %q", pp.Args[0])
	}
	if _, err := pp.OutputRec.AddField(tag); err != nil {
		return reportErr(pp, "makefld: %v", err)
	}
	return procapi.StatusOK
}

func procMakesf(pp *procapi.ProcParams) procapi.Status {
	code := pp.Args[0]
	if len(code) != 1 {
		return reportErr(pp, "makesf: code must be a single character, got %q", code)
	}
	if err := pp.OutputRec.AddSubfield(code[0], pp.Data); err != nil {
		return reportErr(pp, "makesf: %v", err)
	}
	return procapi.StatusOK
}

func procRenfld(pp *procapi.ProcParams) procapi.Status {
	tag, err := strconv.Atoi(pp.Args[0])
	if err != nil {
		return reportErr(pp, "renfld: bad tag %q", pp.Args[0])
	}
	if err := pp.OutputRec.RenameField(tag); err != nil {
		return reportErr(pp, "renfld: %v", err)
	}
	return procapi.StatusOK
}

func procRensf(pp *procapi.ProcParams) procapi.Status {
	code := pp.Args[0]
	if len(code) != 1 {
		return reportErr(pp, "rensf: code must be a single character, got %q", code)
	}
	if err := pp.OutputRec.RenameSubfield(code[0]); err != nil {
		return reportErr(pp, "rensf: %v", err)
	}
	return procapi.StatusOK
}

func procKillfld(pp *procapi.ProcParams) procapi.Status { return procapi.StatusKillField }
func procKillrec(pp *procapi.ProcParams) procapi.Status { return procapi.StatusKillRecord }
func procDonesf(pp *procapi.ProcParams) procapi.Status  { return procapi.StatusDoneSF }
func procDonefld(pp *procapi.ProcParams) procapi.Status { return procapi.StatusDoneField }
func procDonerec(pp *procapi.ProcParams) procapi.Status { return procapi.StatusDoneRecord }

// procToday writes the current local date to dest in one of the two
// control-table formats.
func procToday(pp *procapi.ProcParams) procapi.Status {
	now := time.Now()
	var out string
	switch pp.Args[1] {
	case `"YYYYMMDD"`, "YYYYMMDD":
		out = now.Format("20060102")
	case `"YYMMDD"`, "YYMMDD":
		out = now.Format("060102")
	default:
		return reportErr(pp, "today: unknown format %q", pp.Args[1])
	}
	if err := writeDestination(pp, pp.Args[0], []byte(out), false); err != nil {
		return reportErr(pp, "today: %v", err)
	}
	return procapi.StatusOK
}

// procY2toY4 expands the leading 2-digit year of src to 4 digits, applying
// the sliding century window (00-34 -> 20xx, 35-99 -> 19xx), and appends
// whatever bytes followed the year unchanged. Source must be all-digit and
// at most 6 bytes.
func procY2toY4(pp *procapi.ProcParams) procapi.Status {
	data, err := readSource(pp, pp.Args[1])
	if err != nil {
		return reportErr(pp, "y2toy4: %v", err)
	}
	s := string(data)
	if len(s) < 2 || len(s) > 6 || !isAllDigits(s) {
		return reportErr(pp, "y2toy4: %q is not all-digit and <= 6 bytes", s)
	}
	y, _ := strconv.Atoi(s[:2])
	century := 1900
	if y < 35 {
		century = 2000
	}
	out := strconv.Itoa(century+y) + s[2:]
	if err := writeDestination(pp, pp.Args[0], []byte(out), false); err != nil {
		return reportErr(pp, "y2toy4: %v", err)
	}
	return procapi.StatusOK
}

// procLog emits a diagnostic at the requested severity, built from the
// concatenation of every remaining argument's resolved data.
func procLog(pp *procapi.ProcParams) procapi.Status {
	sev, ok := parseSeverity(pp.Args[0])
	if !ok {
		return reportErr(pp, "log: unknown severity %q", pp.Args[0])
	}
	var sb strings.Builder
	for _, tok := range pp.Args[1:] {
		data, err := readSource(pp, tok)
		if err != nil {
			return reportErr(pp, "log: %v", err)
		}
		sb.Write(data)
	}
	if err := pp.Diag.Report(sev, "%s", sb.String()); err != nil {
		return procapi.StatusError
	}
	return procapi.StatusOK
}

func parseSeverity(s string) (diag.Severity, bool) {
	switch strings.ToLower(strings.Trim(s, `"`)) {
	case "info":
		return diag.NoError, true
	case "warn":
		return diag.Warning, true
	case "error":
		return diag.Error, true
	case "fatal":
		return diag.Fatal, true
	case "cont":
		return diag.Continue, true
	default:
		return 0, false
	}
}
