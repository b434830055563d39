package buffers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateThenSetAppend(t *testing.T) {
	s := New()
	b, err := s.GetOrCreate("src")
	require.NoError(t, err)
	assert.Empty(t, b)

	require.NoError(t, s.Set("src", []byte("hello")))
	require.NoError(t, s.Append("src", []byte(" world")))
	assert.Equal(t, "hello world", string(s.Get("src")))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("abc123"))
	assert.True(t, ValidName("&switch1"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("&"))
	assert.False(t, ValidName("has space"))
	assert.False(t, ValidName("toolong12345678901234567890123456"))
}

func TestLoadSwitchesRejectsDuplicate(t *testing.T) {
	s := New()
	require.NoError(t, s.LoadSwitches(map[string]string{"&a": "1"}))
	err := s.LoadSwitches(map[string]string{"&a": "2"})
	assert.ErrorIs(t, err, ErrDuplicateSwitch)
}

func TestIsSwitch(t *testing.T) {
	assert.True(t, IsSwitch("&foo"))
	assert.False(t, IsSwitch("foo"))
}
