package marcrec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullRecord is lifted from the Harvard Library Open Metadata sample used
// by the teacher package's own test suite.
const fullRecord = "00458nam a22001577u 4500001001200000005001700012008004100029035001600070245005400086260004100140300003500181650003100216710003300247988001300280906000700293\x1e000000002-7\x1e20120831093346.0\x1e821202|1937    |||||||  |||| |0||||eng|d\x1e0 \x1faocm83544809\x1e00\x1faGarden exhibition /\x1fcSan Francisco Museum of Art.\x1e0 \x1faSan Francisco :\x1fbThe Museum,\x1fc[1937]\x1e  \x1fa1 folded sheet (4p.) ;\x1fc14 cm.\x1e 0\x1faHorticultural exhibitions.\x1e2 \x1faSan Francisco Museum of Art.\x1e  \x1fa20020608\x1e  \x1f0MH\x1e\x1d"

func TestReadRecordRoundTrip(t *testing.T) {
	d := strings.NewReader(fullRecord)
	rec, err := ReadRecord(d)
	require.NoError(t, err)
	require.Equal(t, 11, rec.NumFields())

	out, err := rec.Serialize()
	require.NoError(t, err)

	reread, err := ReadRecord(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, rec.NumFields(), reread.NumFields())
	for i := 0; i < rec.NumFields(); i++ {
		a, _ := rec.FieldAt(i)
		b, _ := reread.FieldAt(i)
		assert.Equal(t, a.Tag, b.Tag)
		assert.Equal(t, a.Occ, b.Occ)
		assert.Equal(t, a.Indic1, b.Indic1)
		assert.Equal(t, a.Indic2, b.Indic2)
		assert.Equal(t, a.Subfields, b.Subfields)
		assert.Equal(t, a.FixedData, b.FixedData)
	}
}

func TestFindFieldAndSubfield(t *testing.T) {
	rec, err := ReadRecord(strings.NewReader(fullRecord))
	require.NoError(t, err)

	f, err := rec.FindField(245, 0)
	require.NoError(t, err)
	_, sf, ok := f.FindSubfield('a', 0)
	require.True(t, ok)
	assert.Equal(t, "Garden exhibition /", string(sf.Data))

	_, sf, ok = f.FindSubfield('c', 0)
	require.True(t, ok)
	assert.Equal(t, "San Francisco Museum of Art.", string(sf.Data))

	_, _, ok = f.FindSubfield('z', 0)
	assert.False(t, ok)

	_, err = rec.FindField(666, 0)
	assert.ErrorIs(t, err, ErrNoSuchField)

	_, err = rec.FindField(245, 1)
	assert.ErrorIs(t, err, ErrNoSuchFieldOcc)
}

func TestIndicatorPseudoSubfields(t *testing.T) {
	rec, err := ReadRecord(strings.NewReader(fullRecord))
	require.NoError(t, err)
	f, err := rec.FindField(245, 0)
	require.NoError(t, err)

	sf0, ok := f.SubfieldAt(0)
	require.True(t, ok)
	assert.Equal(t, IndicCode1, sf0.Code)
	assert.Equal(t, []byte{'0'}, sf0.Data)

	sf1, ok := f.SubfieldAt(1)
	require.True(t, ok)
	assert.Equal(t, IndicCode2, sf1.Code)
	assert.Equal(t, []byte{'0'}, sf1.Data)

	assert.Equal(t, 2+len(f.Subfields), f.NumSubfields())
}

func TestAddRenameDeleteField(t *testing.T) {
	rec := NewRecord()
	f, err := rec.AddField(245)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Occ)

	require.NoError(t, rec.AddSubfield('a', []byte("Title")))
	require.NoError(t, rec.RenameField(246))
	f2, _ := rec.CurrentField()
	assert.Equal(t, 246, f2.Tag)

	require.NoError(t, rec.DeleteField())
	assert.Equal(t, 0, rec.NumFields())
}

func TestRenameFieldRefusesClassChange(t *testing.T) {
	rec := NewRecord()
	_, err := rec.AddField(1)
	require.NoError(t, err)
	err = rec.RenameField(245)
	assert.ErrorIs(t, err, ErrFixedVarMismatch)
}

func TestSaveRestorePosBalance(t *testing.T) {
	rec, err := ReadRecord(strings.NewReader(fullRecord))
	require.NoError(t, err)
	require.NoError(t, rec.GotoField(0))
	require.NoError(t, rec.SavePos())
	require.NoError(t, rec.GotoField(5))
	require.NoError(t, rec.RestorePos())
	assert.Equal(t, 0, rec.CurrentFieldIndex())
	assert.Equal(t, 0, rec.SaveDepth())

	err = rec.RestorePos()
	assert.ErrorIs(t, err, ErrSaveRestoreStack)
}

func TestDuplicateIsIndependent(t *testing.T) {
	rec, err := ReadRecord(strings.NewReader(fullRecord))
	require.NoError(t, err)
	dup := rec.Duplicate()
	require.NoError(t, dup.GotoField(0))
	require.NoError(t, dup.DeleteField())
	assert.Equal(t, 11, rec.NumFields())
	assert.Equal(t, 10, dup.NumFields())
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("245:0$a:1@1:3:2")
	require.NoError(t, err)
	assert.Equal(t, 245, ref.Tag)
	assert.Equal(t, 0, ref.FOcc)
	assert.True(t, ref.HasSF)
	assert.Equal(t, byte('a'), ref.SFCode)
	assert.Equal(t, 1, ref.SOcc)
	assert.True(t, ref.HasIndic)
	assert.Equal(t, 1, ref.Indic)
	assert.True(t, ref.HasFixed)
	assert.Equal(t, 3, ref.Pos)
	assert.Equal(t, 2, ref.Len)

	ref, err = ParseRef("008:*:7:4")
	require.NoError(t, err)
	assert.Equal(t, 8, ref.Tag)
	assert.Equal(t, RefCurrent, ref.FOcc)
	assert.Equal(t, 7, ref.Pos)
	assert.Equal(t, 4, ref.Len)

	ref, err = ParseRef("650:+")
	require.NoError(t, err)
	assert.Equal(t, RefNew, ref.FOcc)

	_, err = ParseRef("65")
	assert.ErrorIs(t, err, ErrBadRef)
}

func TestBadRecordLength(t *testing.T) {
	_, err := ReadRecord(strings.NewReader("abcde" + fullRecord[5:]))
	assert.ErrorIs(t, err, ErrBadRecordLength)
}

func TestMissingRecordTerminator(t *testing.T) {
	broken := fullRecord[:len(fullRecord)-1] + " "
	_, err := ReadRecord(strings.NewReader(broken))
	assert.ErrorIs(t, err, ErrMissingRecTerm)
}
