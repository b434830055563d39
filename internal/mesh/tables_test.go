package mesh

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadExceptionTableAndLookup(t *testing.T) {
	src := "# comment\n\n650:a:Age650:Aged\n650:a:CaseRep:Case Reports\n651:a:USMed:United States\n"
	tbl, err := LoadExceptionTable(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	g, ok := tbl.Lookup(650, 'a', "Aged")
	require.True(t, ok)
	assert.Equal(t, GroupAge650, g)

	g, ok = tbl.Lookup(651, 'a', "United States")
	require.True(t, ok)
	assert.Equal(t, GroupUSMed, g)

	_, ok = tbl.Lookup(650, 'a', "Nonexistent")
	assert.False(t, ok)
}

func TestLoadExceptionTableRejectsBadField(t *testing.T) {
	_, err := LoadExceptionTable(strings.NewReader("999:a:Law:Foo\n"))
	assert.Error(t, err)
}

func TestLoadExceptionTableRejectsUnknownGroup(t *testing.T) {
	_, err := LoadExceptionTable(strings.NewReader("650:a:Bogus:Foo\n"))
	assert.Error(t, err)
}

func TestLanguageName(t *testing.T) {
	name, ok := LanguageName("eng")
	require.True(t, ok)
	assert.Equal(t, "English", name)

	_, ok = LanguageName("und")
	assert.False(t, ok)
	assert.True(t, IsSkippedLanguageCode("und"))
	assert.True(t, IsSkippedLanguageCode("mul"))

	_, ok = LanguageName("xyz")
	assert.False(t, ok)
	assert.False(t, IsSkippedLanguageCode("xyz"))
}

func TestLoadQualTableAndExpand(t *testing.T) {
	src := "ec:economics\nth:therapy\n"
	tbl, err := LoadQualTable(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	term, ok := tbl.Lookup("ec")
	require.True(t, ok)
	assert.Equal(t, "economics", term)

	base, terms := tbl.Expand("Diabetes/ec/th")
	assert.Equal(t, "Diabetes", base)
	assert.Equal(t, []string{"economics", "therapy"}, terms)

	base, terms = tbl.Expand("Diabetes/zz")
	assert.Equal(t, "Diabetes", base)
	assert.Equal(t, []string{"zz"}, terms)
}
