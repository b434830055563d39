package mesh

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/marcrec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRulebook(t *testing.T, exceptionTable string) (*Rulebook, *bytes.Buffer) {
	t.Helper()
	tbl, err := LoadExceptionTable(strings.NewReader(exceptionTable))
	require.NoError(t, err)
	var buf bytes.Buffer
	return NewRulebook(tbl, diag.New(&buf, 50)), &buf
}

func sfVal(f *marcrec.Field, code byte) (string, bool) {
	for _, sf := range f.Subfields {
		if sf.Code == code {
			return string(sf.Data), true
		}
	}
	return "", false
}

func field(tag int, indic1, indic2 byte, subs ...marcrec.Subfield) *marcrec.Field {
	return &marcrec.Field{Tag: tag, Indic1: indic1, Indic2: indic2, Subfields: subs}
}

func sf(code byte, data string) marcrec.Subfield {
	return marcrec.Subfield{Code: code, Data: []byte(data)}
}

// TestGeographicCombinationWithUSMedSuppression grounds spec.md Scenario E:
// a 651 geographic heading combines onto eligible 650s as $z, except one
// suppressed by the USMed1/USMed special case.
func TestGeographicCombinationWithUSMedSuppression(t *testing.T) {
	exc := "651:a:USMed1:United States\n650:x:USMed:legislation & jurisprudence\n"
	rb, _ := newTestRulebook(t, exc)

	rec := marcrec.NewRecord()
	rec.Fields = []*marcrec.Field{
		field(650, ' ', '2', sf('a', "Chemistry")),
		field(651, ' ', ' ', sf('a', "United States")),
		field(650, ' ', ' ', sf('a', "Medicaid"), sf('x', "legislation & jurisprudence")),
	}

	err := rb.Process(rec)
	require.NoError(t, err)

	var chemistry, medicaid *marcrec.Field
	for _, f := range rec.Fields {
		if f.Tag != 650 {
			continue
		}
		if a, _ := sfVal(f, 'a'); a == "Chemistry" {
			chemistry = f
		} else if a == "Medicaid" {
			medicaid = f
		}
	}
	require.NotNil(t, chemistry)
	require.NotNil(t, medicaid)

	z, ok := sfVal(chemistry, 'z')
	assert.True(t, ok)
	assert.Equal(t, "United States.", z)
	assert.Equal(t, byte('2'), chemistry.Indic2)

	_, ok = sfVal(medicaid, 'z')
	assert.False(t, ok, "USMed target must suppress the USMed1 combination")
}

// TestLanguageDictionaryExpansion grounds spec.md Scenario F: a Dict-group
// 655 combines as $v onto 650s, and 041 language codes expand into
// duplicated $x-bearing copies while und is silently skipped.
func TestLanguageDictionaryExpansion(t *testing.T) {
	exc := "655:a:Dict:Dictionary\n"
	rb, _ := newTestRulebook(t, exc)

	rec := marcrec.NewRecord()
	rec.Fields = []*marcrec.Field{
		field(41, ' ', ' ', sf('a', "eng"), sf('a', "fre"), sf('a', "und")),
		field(650, ' ', ' ', sf('a', "Medicine")),
		field(655, ' ', '2', sf('a', "Dictionary")),
	}

	err := rb.Process(rec)
	require.NoError(t, err)

	var withEnglish, withFrench, plain bool
	count650 := 0
	for _, f := range rec.Fields {
		if f.Tag != 650 {
			continue
		}
		count650++
		v, _ := sfVal(f, 'v')
		x, hasX := sfVal(f, 'x')
		if hasX {
			assert.Equal(t, "Dictionary", v)
		} else {
			assert.Equal(t, "Dictionary.", v)
		}
		switch {
		case !hasX:
			plain = true
		case x == "English.":
			withEnglish = true
		case x == "French.":
			withFrench = true
		}
	}
	assert.Equal(t, 3, count650)
	assert.True(t, plain, "non-language duplicate must survive")
	assert.True(t, withEnglish)
	assert.True(t, withFrench)
}

// TestCaseReportRetagsAndCombines grounds meshproc.c's mrule_case_report: a
// CaseRep-group 650 becomes a combine-only 655 source whose heading is
// added as $v to the remaining output 650, rather than being emitted
// itself.
func TestCaseReportRetagsAndCombines(t *testing.T) {
	exc := "650:a:CaseRep:Case Reports\n"
	rb, _ := newTestRulebook(t, exc)

	rec := marcrec.NewRecord()
	rec.Fields = []*marcrec.Field{
		field(650, ' ', ' ', sf('a', "Case Reports")),
		field(650, ' ', ' ', sf('a', "Diabetes Mellitus")),
	}
	err := rb.Process(rec)
	require.NoError(t, err)

	require.Len(t, rec.Fields, 1)
	f := rec.Fields[0]
	assert.Equal(t, 650, f.Tag)
	a, _ := sfVal(f, 'a')
	assert.Equal(t, "Diabetes Mellitus", a)
	v, ok := sfVal(f, 'v')
	assert.True(t, ok)
	assert.Equal(t, "Case Reports.", v)
}

func TestEndPeriodAppendsDotAndCancelsOnlyDollar2(t *testing.T) {
	rb, _ := newTestRulebook(t, "")

	rec := marcrec.NewRecord()
	rec.Fields = []*marcrec.Field{
		field(650, ' ', ' ', sf('a', "Medicine  ")),
		field(650, ' ', ' ', sf('2', "mesh")),
	}
	err := rb.Process(rec)
	require.NoError(t, err)

	require.Len(t, rec.Fields, 1)
	a, _ := sfVal(rec.Fields[0], 'a')
	assert.Equal(t, "Medicine.", a)
}

func TestDuplicateOutputFieldsKillRecord(t *testing.T) {
	rb, _ := newTestRulebook(t, "")

	rec := marcrec.NewRecord()
	rec.Fields = []*marcrec.Field{
		field(650, ' ', '2', sf('a', "Medicine.")),
		field(650, ' ', '2', sf('a', "Medicine.")),
	}
	err := rb.Process(rec)
	assert.ErrorIs(t, err, ErrKillRecord)
}

func TestNoField650PathValidatesLoneField655(t *testing.T) {
	rb, _ := newTestRulebook(t, "")

	rec := marcrec.NewRecord()
	rec.Fields = []*marcrec.Field{
		field(655, ' ', '2', sf('a', "Fiction")),
	}
	err := rb.Process(rec)
	require.NoError(t, err)
	require.Len(t, rec.Fields, 1)
	assert.Equal(t, 655, rec.Fields[0].Tag)
}

func TestNoField650PathCombines655IntoField651(t *testing.T) {
	rb, _ := newTestRulebook(t, "")

	rec := marcrec.NewRecord()
	rec.Fields = []*marcrec.Field{
		field(651, ' ', ' ', sf('a', "France")),
		field(655, ' ', '2', sf('a', "Fiction")),
	}
	err := rb.Process(rec)
	require.NoError(t, err)
	require.Len(t, rec.Fields, 1)
	f := rec.Fields[0]
	assert.Equal(t, 651, f.Tag)
	v, ok := sfVal(f, 'v')
	assert.True(t, ok)
	assert.Equal(t, "Fiction.", v)
}
