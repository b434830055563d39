package marcrec

import (
	"strconv"
	"strings"
)

// Occurrence sentinels accepted by ParseRef: RefCurrent stands for the
// textual '*' ("the occurrence the cursor is already on"), RefNew stands
// for '+' ("force a new occurrence"); RefNew is only legal for writes.
const (
	RefCurrent = -1
	RefNew     = -2
)

// Ref is the parsed form of a textual MARC reference:
//
//	tag[:focc][$sf[:socc]][@indic][:pos:len]
//
// e.g. "245:0$a:1", "008:*:7:4", "650:+@1".
type Ref struct {
	Tag      int
	FOcc     int // RefCurrent/RefNew or a literal occurrence
	HasSF    bool
	SFCode   byte
	SOcc     int // RefCurrent/RefNew or a literal occurrence; valid only if HasSF
	HasIndic bool
	Indic    int // 1 or 2; valid only if HasIndic
	HasFixed bool
	Pos, Len int
}

// ParseRef parses the textual reference grammar described in spec.md
// §4.1. Sentinel occurrence characters '*' (CURRENT) and '+' (NEW) are
// accepted wherever an occurrence is expected.
func ParseRef(text string) (Ref, error) {
	var ref Ref
	ref.FOcc = 0
	ref.SOcc = 0

	if len(text) < 3 {
		return Ref{}, ErrBadRef
	}
	tagStr := text[:3]
	tag, err := strconv.Atoi(tagStr)
	if err != nil || tag < 0 || tag > 999 {
		return Ref{}, ErrBadRef
	}
	ref.Tag = tag
	rest := text[3:]

	// Optional :focc — only present if the next token is a bare
	// occurrence, i.e. starts with ':' and is followed by a digit or a
	// sentinel character, not by a second ':' (which would belong to a
	// trailing pos:len pair with no focc present — not ambiguous here
	// since focc always comes first).
	if strings.HasPrefix(rest, ":") {
		rest = rest[1:]
		occStr, tail, err := takeToken(rest)
		if err != nil {
			return Ref{}, err
		}
		occ, err := parseOcc(occStr)
		if err != nil {
			return Ref{}, err
		}
		ref.FOcc = occ
		rest = tail
	}

	if strings.HasPrefix(rest, "$") {
		rest = rest[1:]
		if len(rest) == 0 {
			return Ref{}, ErrBadRef
		}
		code := rest[0]
		if !OkSubfieldCode(code) {
			return Ref{}, ErrBadRef
		}
		ref.HasSF = true
		ref.SFCode = code
		rest = rest[1:]
		if strings.HasPrefix(rest, ":") {
			rest = rest[1:]
			occStr, tail, err := takeToken(rest)
			if err != nil {
				return Ref{}, err
			}
			occ, err := parseOcc(occStr)
			if err != nil {
				return Ref{}, err
			}
			ref.SOcc = occ
			rest = tail
		}
	}

	if strings.HasPrefix(rest, "@") {
		rest = rest[1:]
		if len(rest) == 0 || (rest[0] != '1' && rest[0] != '2') {
			return Ref{}, ErrBadRef
		}
		ref.HasIndic = true
		ref.Indic = int(rest[0] - '0')
		rest = rest[1:]
	}

	if strings.HasPrefix(rest, ":") {
		rest = rest[1:]
		posStr, tail, err := takeToken(rest)
		if err != nil {
			return Ref{}, err
		}
		pos, err := strconv.Atoi(posStr)
		if err != nil || pos < 0 {
			return Ref{}, ErrBadRef
		}
		if !strings.HasPrefix(tail, ":") {
			return Ref{}, ErrBadRef
		}
		tail = tail[1:]
		lenStr, tail2, err := takeToken(tail)
		if err != nil {
			return Ref{}, err
		}
		length, err := strconv.Atoi(lenStr)
		if err != nil || length < 0 {
			return Ref{}, ErrBadRef
		}
		ref.HasFixed = true
		ref.Pos = pos
		ref.Len = length
		rest = tail2
	}

	if rest != "" {
		return Ref{}, ErrBadRef
	}
	return ref, nil
}

// takeToken splits s at the next ':', '$', or '@', whichever comes first,
// returning the token and the unconsumed remainder (including the
// delimiter).
func takeToken(s string) (token, rest string, err error) {
	idx := strings.IndexAny(s, ":$@")
	if idx == -1 {
		return s, "", nil
	}
	return s[:idx], s[idx:], nil
}

func parseOcc(s string) (int, error) {
	switch s {
	case "*":
		return RefCurrent, nil
	case "+":
		return RefNew, nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, ErrBadRef
		}
		return n, nil
	}
}
