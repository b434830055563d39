package mesh

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// QualRecord is one entry of the MeSH qualifier table (MESHQUALFILE): a
// short qualifier code (a '/'-separated segment after a heading, e.g.
// "ec" in "Diabetes/ec")
// mapped to its expanded display form (e.g. "economics"), grounded in
// marcproc.c's load_quals/lookup_qual/cmp_f606.
type QualRecord struct {
	Code string
	Term string
}

// QualTable is the sorted, binary-searchable qualifier table, the same
// shape as ExceptionTable.
type QualTable struct {
	recs []QualRecord
}

// LoadQualTable parses the MESHQUALFILE format: one "code:term" pair per
// line, blank lines and '#' comments ignored.
func LoadQualTable(r io.Reader) (*QualTable, error) {
	sc := bufio.NewScanner(r)
	var recs []QualRecord
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		code, term, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("mesh: qualifier table line %d: expected code:term", lineNo)
		}
		code = strings.TrimSpace(code)
		term = strings.TrimSpace(term)
		if code == "" || term == "" {
			return nil, fmt.Errorf("mesh: qualifier table line %d: empty code or term", lineNo)
		}
		recs = append(recs, QualRecord{Code: code, Term: term})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Code < recs[j].Code })
	return &QualTable{recs: recs}, nil
}

// Lookup resolves a qualifier code to its expanded term.
func (t *QualTable) Lookup(code string) (string, bool) {
	lo, hi := 0, len(t.recs)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.recs[mid].Code < code {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(t.recs) && t.recs[lo].Code == code {
		return t.recs[lo].Term, true
	}
	return "", false
}

// Len reports the number of loaded qualifiers.
func (t *QualTable) Len() int { return len(t.recs) }

// Expand splits a heading of the form "base/code1/code2" and returns the
// base heading plus the expanded term for each trailing qualifier code it
// recognizes; unrecognized trailing segments are left untouched (cmp_f606
// passes through anything lookup_qual doesn't find).
func (t *QualTable) Expand(heading string) (base string, terms []string) {
	parts := strings.Split(heading, "/")
	base = parts[0]
	for _, p := range parts[1:] {
		if term, ok := t.Lookup(p); ok {
			terms = append(terms, term)
		} else {
			terms = append(terms, p)
		}
	}
	return base, terms
}
