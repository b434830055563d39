package procs

import (
	"strings"
	"testing"

	"github.com/jbirkhimer/marcconv-sub001/internal/buffers"
	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/marcrec"
	"github.com/jbirkhimer/marcconv-sub001/internal/mesh"
	"github.com/jbirkhimer/marcconv-sub001/internal/procapi"
	"github.com/stretchr/testify/require"
)

func TestMeshProcWiresRulebookOverOutputRecord(t *testing.T) {
	exc, err := mesh.LoadExceptionTable(strings.NewReader(""))
	require.NoError(t, err)

	var sb strings.Builder
	d := diag.New(&sb, 50)
	rb := mesh.NewRulebook(exc, d)

	out := marcrec.NewRecord()
	_, _ = out.AddField(650)
	f, _ := out.CurrentField()
	f.Indic2 = ' '
	require.NoError(t, out.AddSubfield('a', []byte("Diabetes Mellitus")))

	pp := &procapi.ProcParams{
		InputRec:  marcrec.NewRecord(),
		OutputRec: out,
		Data:      make([]byte, 0, procapi.ProcDataCap),
		Bufs:      buffers.New(),
		Diag:      d,
	}

	status := meshProc(rb)(pp)
	require.Equal(t, procapi.StatusOK, status)
	require.Equal(t, 1, out.NumFields())
}

func TestMeshQualProcExpandsQualifierCodes(t *testing.T) {
	qt, err := mesh.LoadQualTable(strings.NewReader("QX:epidemiology\n"))
	require.NoError(t, err)

	pp := &procapi.ProcParams{
		InputRec:  marcrec.NewRecord(),
		OutputRec: marcrec.NewRecord(),
		Data:      make([]byte, 0, procapi.ProcDataCap),
		Args:      []string{"&dest", `"Diabetes Mellitus/QX"`},
		Bufs:      buffers.New(),
		Diag:      diag.New(&strings.Builder{}, 50),
	}

	status := meshQualProc(qt)(pp)
	require.Equal(t, procapi.StatusOK, status)
	require.Equal(t, "Diabetes Mellitus -- epidemiology", string(pp.Bufs.Get("&dest")))
}

// TestProcField000NormalizesLeaderAndPads008 grounds marcconv.c's tag-000
// dispatch entry: the leader's fixed indicator-count/entry-map bytes get
// forced, and a short 008 is padded out to its mandatory 40 bytes.
func TestProcField000NormalizesLeaderAndPads008(t *testing.T) {
	out := marcrec.NewRecord()
	f, err := out.AddField(8)
	require.NoError(t, err)
	f.FixedData = []byte("750101s")

	pp := &procapi.ProcParams{
		OutputRec: out,
		Diag:      diag.New(&strings.Builder{}, 50),
	}

	require.Equal(t, procapi.StatusOK, procField000(pp))
	require.Equal(t, byte('2'), out.Leader[10])
	require.Equal(t, byte('2'), out.Leader[11])
	require.Equal(t, "4500", string(out.Leader[20:24]))

	f008, err := out.FindField(8, 0)
	require.NoError(t, err)
	require.Len(t, f008.FixedData, 40)
	require.Equal(t, "750101s", string(f008.FixedData[:7]))
	require.Equal(t, byte(' '), f008.FixedData[39])
}

func TestProcField000AddsMissing008(t *testing.T) {
	out := marcrec.NewRecord()
	_, err := out.AddField(245)
	require.NoError(t, err)

	pp := &procapi.ProcParams{
		OutputRec: out,
		Diag:      diag.New(&strings.Builder{}, 50),
	}

	require.Equal(t, procapi.StatusOK, procField000(pp))
	f008, err := out.FindField(8, 0)
	require.NoError(t, err)
	require.Len(t, f008.FixedData, 40)
}

func TestProcField000EmptyRecordReportsError(t *testing.T) {
	pp := &procapi.ProcParams{
		OutputRec: marcrec.NewRecord(),
		Diag:      diag.New(&strings.Builder{}, 50),
	}
	require.Equal(t, procapi.StatusError, procField000(pp))
}

func TestProcDupFieldAppendsIndependentCopy(t *testing.T) {
	out := marcrec.NewRecord()
	_, _ = out.AddField(650)
	require.NoError(t, out.AddSubfield('a', []byte("Diabetes Mellitus")))

	pp := &procapi.ProcParams{
		OutputRec: out,
		Diag:      diag.New(&strings.Builder{}, 50),
	}
	require.Equal(t, procapi.StatusOK, procDupField(pp))
	require.Equal(t, 2, out.NumFields())

	second, _ := out.FieldAt(1)
	require.Equal(t, 650, second.Tag)
	require.Equal(t, 1, second.Occ)

	second.Subfields[0].Data[0] = 'X'
	first, _ := out.FieldAt(0)
	require.NotEqual(t, first.Subfields[0].Data[0], second.Subfields[0].Data[0])
}
