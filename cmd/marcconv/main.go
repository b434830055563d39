// Command marcconv is the process entry point: it wires ArgParser,
// MarcCodec, ControlCompiler, BuiltinProcs, MeshRulebook, Diagnostics and
// the RuleInterpreter together into the batch conversion pipeline the
// spec describes, grounded in marcconv.c's top-level driver loop.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jbirkhimer/marcconv-sub001/internal/argopt"
	"github.com/jbirkhimer/marcconv-sub001/internal/buffers"
	"github.com/jbirkhimer/marcconv-sub001/internal/ctlfile"
	"github.com/jbirkhimer/marcconv-sub001/internal/diag"
	"github.com/jbirkhimer/marcconv-sub001/internal/engine"
	"github.com/jbirkhimer/marcconv-sub001/internal/marcrec"
	"github.com/jbirkhimer/marcconv-sub001/internal/mesh"
	"github.com/jbirkhimer/marcconv-sub001/internal/procapi"
	"github.com/jbirkhimer/marcconv-sub001/internal/procs"
	"github.com/jbirkhimer/marcconv-sub001/internal/rules"
)

// defaultMeshExceptionFile is the fixed exception-table name MeshRulebook
// looks for in the current directory. Unlike the qualifier table, spec.md
// §6 names no environment variable to relocate it, so a missing file is
// tolerated: startup logs a warning, and the mesh procedure registers with
// a nil Rulebook and reports an error only if a control table actually
// invokes it. defaultMeshLanguageFile is not opened: no language table
// file is read, and the rulebook uses its compiled-in language map.
const (
	defaultMeshExceptionFile = "meshexcp"
	defaultMeshLanguageFile  = "meshlang"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	opt, err := argopt.Parse(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, argopt.Usage)
		return 1
	}

	logFile, err := os.OpenFile(opt.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marcconv: open log %s: %v\n", opt.LogPath, err)
		return 1
	}
	defer logFile.Close()

	d := diag.New(logFile, opt.MaxErrors)
	d.BeginRun(time.Now())

	if err := mainRun(opt, d); err != nil {
		if fe, ok := err.(*diag.FatalError); ok {
			fmt.Fprintln(os.Stderr, fe.Error())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func mainRun(opt argopt.Options, d *diag.Reporter) error {
	reg := procapi.NewRegistry()
	procs.Register(reg)

	bufs := buffers.New()
	if opt.SwitchPath != "" {
		if err := loadSwitchFile(bufs, opt.SwitchPath); err != nil {
			return fmt.Errorf("marcconv: load switch file: %w", err)
		}
	}

	qual, err := loadQualTable(d)
	if err != nil {
		return err
	}
	rb, err := loadRulebook(d)
	if err != nil {
		return err
	}
	procs.RegisterDomain(reg, rb, qual)

	if os.Getenv("MESHTEST") != "" {
		d.DumpValue("qualTable", qual)
		d.DumpValue("rulebook", rb)
	}

	ctlPath := opt.ControlPath
	if ctlPath == "" {
		return &diag.FatalError{Message: "marcconv: no control table specified"}
	}
	ctlReader, err := openControlFile(ctlPath, opt.CtlDir)
	if err != nil {
		return fmt.Errorf("marcconv: open control table: %w", err)
	}
	defer ctlReader.Close()

	compiler := rules.NewControlCompiler(reg, d)
	prog, err := compiler.Compile(ctlfile.New(ctlReader, ctlPath))
	if err != nil {
		return err
	}

	in, err := os.Open(opt.InputPath)
	if err != nil {
		return fmt.Errorf("marcconv: open input: %w", err)
	}
	defer in.Close()

	outFlags := os.O_CREATE | os.O_WRONLY
	if opt.Append {
		outFlags |= os.O_APPEND
	} else {
		outFlags |= os.O_TRUNC
	}
	out, err := os.OpenFile(opt.OutputPath, outFlags, 0o644)
	if err != nil {
		return fmt.Errorf("marcconv: open output: %w", err)
	}
	defer out.Close()
	outw := bufio.NewWriter(out)
	defer outw.Flush()

	interp := engine.New(prog, reg, bufs, d)
	if err := interp.RunSessionPre(); err != nil {
		return err
	}

	var inRecs, outRecs int64
	defer func() { d.Summary(inRecs, outRecs) }()

	recNum := int64(0)
	for {
		rec, rerr := marcrec.ReadRecord(in)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if rerr2 := d.Report(diag.Error, "read record: %v", rerr); rerr2 != nil {
				return rerr2
			}
			break
		}
		recNum++
		if int64(opt.Skip) >= recNum {
			continue
		}
		inRecs++

		output, keep, perr := interp.ProcessRecord(rec, recNum, bibID(rec))
		if perr != nil {
			return perr
		}
		if keep {
			packed, serr := output.Serialize()
			if serr != nil {
				return fmt.Errorf("marcconv: serialize output record %d: %w", recNum, serr)
			}
			if _, werr := outw.Write(packed); werr != nil {
				return fmt.Errorf("marcconv: write output record %d: %w", recNum, werr)
			}
			outRecs++
		}

		if opt.MaxRecs > 0 && inRecs >= int64(opt.MaxRecs) {
			break
		}
	}

	if err := interp.RunSessionPost(); err != nil {
		return err
	}
	if err := outw.Flush(); err != nil {
		return fmt.Errorf("marcconv: flush output: %w", err)
	}

	return nil
}

// bibID derives the "BibID=…" / "UI=…" log-location suffix spec.md §6
// asks for: field 001 (the record's own control number) if present,
// otherwise the first 035 $a (a union identifier, often prefixed with a
// source code like "(OCoLC)").
func bibID(rec *marcrec.Record) string {
	if f, err := rec.FindField(1, 0); err == nil {
		return "BibID=" + string(f.FixedData)
	}
	if f, err := rec.FindField(35, 0); err == nil {
		if _, sf, ok := f.FindSubfield('a', 0); ok {
			return "UI=" + string(sf.Data)
		}
	}
	return ""
}

func loadQualTable(d *diag.Reporter) (*mesh.QualTable, error) {
	path := os.Getenv("MESHQUALFILE")
	if path == "" {
		path = "meshqual"
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			_ = d.Report(diag.Warning, "mesh qualifier file %s not found, meshqual procedure will be unavailable", path)
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return mesh.LoadQualTable(f)
}

func loadRulebook(d *diag.Reporter) (*mesh.Rulebook, error) {
	excp, err := loadExceptionTable(d)
	if err != nil {
		return nil, err
	}
	if excp == nil {
		return nil, nil
	}
	return mesh.NewRulebook(excp, d), nil
}

func loadExceptionTable(d *diag.Reporter) (*mesh.ExceptionTable, error) {
	f, err := os.Open(defaultMeshExceptionFile)
	if err != nil {
		if os.IsNotExist(err) {
			_ = d.Report(diag.Warning, "mesh exception table %s not found, mesh procedure will be unavailable", defaultMeshExceptionFile)
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", defaultMeshExceptionFile, err)
	}
	defer f.Close()
	return mesh.LoadExceptionTable(f)
}

func loadSwitchFile(bufs *buffers.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	values := make(map[string]string)
	r := ctlfile.New(f, path)
	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		name := line.Key
		if len(name) == 0 || name[0] != '&' {
			return fmt.Errorf("switch file %s: line %d: expected &name, got %q", path, line.Num, line.Key)
		}
		name = name[1:]
		val := ""
		if len(line.Values) > 0 {
			val = line.Values[0]
		}
		values[name] = val
	}
	return bufs.LoadSwitches(values)
}

// openControlFile opens name directly, falling back to altDir/name (the
// -p search path, §6) when the direct lookup fails.
func openControlFile(name, altDir string) (*os.File, error) {
	f, err := os.Open(name)
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) || altDir == "" {
		return nil, err
	}
	return os.Open(altDir + string(os.PathSeparator) + name)
}
