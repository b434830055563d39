package diag

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCompileLocation(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 5)
	r.SetCompileLocation("rules.ctl", 12)
	err := r.Report(Error, "unknown procedure %q", "frobnicate")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "rules.ctl(12) :")
	assert.Contains(t, buf.String(), "Error: unknown procedure")
}

func TestReportRecordLocation(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 5)
	r.SetRecordLocation(42, "BibID=12345")
	require.NoError(t, r.Report(Warning, "odd field"))
	assert.Contains(t, buf.String(), "Input rec# 42 : BibID=12345 :")
	assert.Equal(t, 1, r.Warnings())
}

func TestErrorsEscalateToFatal(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 2)
	require.NoError(t, r.Report(Error, "e1"))
	require.NoError(t, r.Report(Error, "e2"))
	err := r.Report(Error, "e3")
	require.Error(t, err)
	var fe *FatalError
	assert.ErrorAs(t, err, &fe)
}

func TestFatalSeverityAlwaysErrors(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 100)
	err := r.Report(Fatal, "boom")
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 5)
	r.Summary(10, 8)
	assert.True(t, strings.Contains(buf.String(), "10 input records, 8 output records"))
}
