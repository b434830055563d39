package ctlfile

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSkipsCommentsAndBlanks(t *testing.T) {
	src := "# a comment\n\n   \nfield = 650\n"
	r := New(strings.NewReader(src), "test.ctl")

	line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "field", line.Key)
	assert.Equal(t, []string{"650"}, line.Values)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSplitValuesRespectsQuotes(t *testing.T) {
	line, values, err := splitKeyValue(`prep = if/"a/b"/=/"world"`)
	require.NoError(t, err)
	assert.Equal(t, "prep", line)
	assert.Equal(t, []string{"if", `"a/b"`, "=", `"world"`}, values)
}

func TestSplitValuesQuotedSlash(t *testing.T) {
	vals := splitValues(`if/"a/b"/=/"world"`)
	assert.Equal(t, []string{"if", `"a/b"`, "=", `"world"`}, vals)
}

func TestSwitchKey(t *testing.T) {
	key, values, err := splitKeyValue("&mylabel = something")
	require.NoError(t, err)
	assert.Equal(t, "&mylabel", key)
	assert.Equal(t, []string{"something"}, values)
}

func TestKeyWithNoValue(t *testing.T) {
	key, values, err := splitKeyValue("record")
	require.NoError(t, err)
	assert.Equal(t, "record", key)
	assert.Nil(t, values)
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "hi", StripQuotes(`"hi"`))
	assert.Equal(t, "hi", StripQuotes("hi"))
}
