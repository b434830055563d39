// Package diag implements the Diagnostics component: a severity-tagged
// error reporter with per-session counters, per-control-file location,
// and per-record identifier, grounded in cm_error's header/severity/
// counting logic.
package diag

import (
	"fmt"
	"io"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
)

// Severity mirrors CM_SEVERITY.
type Severity int

const (
	Fatal Severity = iota
	Error
	Warning
	NoError
	Continue
)

func (s Severity) label() string {
	switch s {
	case Continue, NoError:
		return ""
	case Warning:
		return "Warning: "
	case Error:
		return "Error: "
	case Fatal:
		return "Fatal error: "
	default:
		return ""
	}
}

// FatalError is returned by Report when a diagnostic escalates to fatal,
// either directly (severity Fatal) or because the error count exceeded
// MaxErrors. The interpreter's run loop treats this as a reason to flush
// the log, print the summary, and terminate.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string { return e.Message }

// Reporter is the process-lifetime diagnostics sink. One Reporter is
// constructed at startup and passed to every component that can emit a
// diagnostic.
type Reporter struct {
	w         io.Writer
	maxErrors int

	runID string

	// Location state, mirroring the original's S_ctlfile/S_line_num vs.
	// S_in_recs distinction: compile-time diagnostics carry a control-file
	// name and line number; conversion-time diagnostics carry a record
	// number and optional bib identifier.
	ctlFile string
	ctlLine int
	recNum  int64
	recID   string

	warnings int
	errors   int
}

// New constructs a Reporter writing to w, escalating to fatal after
// maxErrors ERROR-severity reports.
func New(w io.Writer, maxErrors int) *Reporter {
	return &Reporter{w: w, maxErrors: maxErrors, runID: uuid.NewString()}
}

// BeginRun writes the run-separator header every invocation starts the
// log file with: a separator line, a human-readable timestamp, and a run
// identifier so a multi-run log file can be correlated against other
// telemetry.
func (r *Reporter) BeginRun(now time.Time) {
	fmt.Fprintf(r.w, "-----\nmarcconv run %s started %s\n", r.runID, now.Format(time.RFC1123))
}

// SetCompileLocation switches the reporter into compile-time mode: every
// subsequent Report call is prefixed with "filename(line) : ".
func (r *Reporter) SetCompileLocation(ctlFile string, line int) {
	r.ctlFile = ctlFile
	r.ctlLine = line
	r.recNum = 0
}

// SetRecordLocation switches the reporter into conversion-time mode: every
// subsequent Report call is prefixed with "Input rec# N : [BibID=...|UI=...] : ".
func (r *Reporter) SetRecordLocation(recNum int64, recID string) {
	r.ctlLine = 0
	r.recNum = recNum
	r.recID = recID
}

// Warnings and Errors report the session counters used in the final run
// summary.
func (r *Reporter) Warnings() int { return r.warnings }
func (r *Reporter) Errors() int   { return r.errors }

// Report emits one diagnostic line. It returns a *FatalError when the
// severity is Fatal, or when an Error-severity report pushes the running
// error count past maxErrors — the caller must treat a non-nil error as a
// reason to abort the run.
func (r *Reporter) Report(sev Severity, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)

	header := r.location()

	switch sev {
	case Warning:
		r.warnings++
	case Error:
		r.errors++
		if r.errors > r.maxErrors {
			sev = Fatal
		}
	}

	if sev == Continue {
		fmt.Fprintf(r.w, "  %s\n", msg)
		return nil
	}

	// "<location> : <severity>: <message>" per spec.md §6's log format.
	fmt.Fprintf(r.w, "%s%s%s\n", header, sev.label(), msg)

	if sev == Fatal {
		return &FatalError{Message: msg}
	}
	return nil
}

func (r *Reporter) location() string {
	if r.ctlLine > 0 {
		return fmt.Sprintf("%s(%d) : ", r.ctlFile, r.ctlLine)
	}
	if r.recNum > 0 {
		if r.recID != "" {
			return fmt.Sprintf("Input rec# %d : %s : ", r.recNum, r.recID)
		}
		return fmt.Sprintf("Input rec# %d : ", r.recNum)
	}
	return ""
}

// Summary writes the end-of-run report: input/output record counts plus
// warning/error totals.
func (r *Reporter) Summary(inputRecs, outputRecs int64) {
	fmt.Fprintf(r.w, "-----\n%d input records, %d output records, %d warnings, %d errors\n",
		inputRecs, outputRecs, r.warnings, r.errors)
}

// DumpValue writes a deep structural dump of v to the reporter's sink,
// used only when MESHTEST requests a startup table dump; mirrors
// unm-art-mario's spew.Dump of parsed MARC state.
func (r *Reporter) DumpValue(label string, v any) {
	fmt.Fprintf(r.w, "%s:\n%s\n", label, spew.Sdump(v))
}
