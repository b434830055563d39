// Package ctlfile implements the ControlLineReader: a line-oriented text
// file reader that strips comments and whitespace and splits each active
// line into a key and one or more slash-separated values, grounded in the
// original cm_ctl_line/get_key_line/parse_ctl trio.
package ctlfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// MaxLineLen is the longest control-file line the reader accepts.
const MaxLineLen = 512

// Separator divides value components within the right-hand side of a
// control line; a separator inside a paired double quote does not split.
const Separator = '/'

// Comment introduces a line comment running to end of line.
const Comment = '#'

// Line is one parsed, non-blank, non-comment control-file line.
type Line struct {
	Num    int      // 1-origin source line number, for diagnostics
	Key    string   // alphanumerics, optionally '&'-prefixed for switches
	Values []string // slash-separated value components, quotes preserved verbatim
}

// Reader reads successive Lines from a control file.
type Reader struct {
	sc   *bufio.Scanner
	name string
	num  int
}

// New wraps r as a ControlLineReader; name is used only for diagnostics.
func New(r io.Reader, name string) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, MaxLineLen), MaxLineLen)
	return &Reader{sc: sc, name: name}
}

// Name returns the reader's source name, for diagnostic location strings.
func (r *Reader) Name() string { return r.name }

// Next returns the next active line, or io.EOF when the file is exhausted.
// Lines longer than MaxLineLen are truncated at the scanner boundary and
// reported as an error (the original C implementation used a fixed
// fgets buffer with the same effect).
func (r *Reader) Next() (Line, error) {
	for r.sc.Scan() {
		r.num++
		raw := r.sc.Text()
		if len(raw) > MaxLineLen {
			return Line{}, fmt.Errorf("ctlfile: %s(%d): line exceeds %d bytes", r.name, r.num, MaxLineLen)
		}

		if idx := strings.IndexByte(raw, Comment); idx >= 0 {
			raw = raw[:idx]
		}
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		key, values, err := splitKeyValue(trimmed)
		if err != nil {
			return Line{}, fmt.Errorf("ctlfile: %s(%d): %w", r.name, r.num, err)
		}
		return Line{Num: r.num, Key: key, Values: values}, nil
	}
	if err := r.sc.Err(); err != nil {
		return Line{}, fmt.Errorf("ctlfile: %s: %w", r.name, err)
	}
	return Line{}, io.EOF
}

// splitKeyValue separates "key = value[/value...]" (the "= value" part is
// optional, yielding a nil Values slice) following get_key_line's rule: the
// key is alphanumerics optionally prefixed with '&'; everything after the
// key (and an optional '=') is the value side, split on unquoted '/'.
func splitKeyValue(line string) (string, []string, error) {
	i := 0
	if i < len(line) && line[i] == '&' {
		i++
	}
	start := i
	for i < len(line) && isAlnum(line[i]) {
		i++
	}
	if i == start {
		return "", nil, fmt.Errorf("empty key")
	}
	key := line[:i]

	rest := strings.TrimLeft(line[i:], " \t")
	rest = strings.TrimPrefix(rest, "=")
	rest = strings.TrimLeft(rest, " \t")

	if rest == "" {
		return key, nil, nil
	}
	return key, splitValues(rest), nil
}

// splitValues splits s on Separator, treating a Separator inside a pair of
// double quotes as literal text rather than a divider. An internal
// backslash-quote escape is not recognized — quoted text is taken
// literally between quote marks, matching parse_ctl's inquotes toggle.
func splitValues(s string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == Separator && !inQuotes:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, strings.TrimSpace(cur.String()))
	return out
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// StripQuotes removes a single pair of surrounding double quotes from s, if
// present, mirroring strip_quotes() in the original source.
func StripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
