// Package argopt implements the ArgParser: positional-argument and
// short-option extraction for the marcconv command line (spec.md §6),
// grounded in amuopt.c's single-dash, cluster-free get-opt semantics
// rather than a generic flag library. An option's letter alone decides
// whether it consumes the rest of its token as a value (-e50) or takes
// none (-a); there is no long-option form and no option clustering.
package argopt

import (
	"errors"
	"fmt"
	"strconv"
)

// DefaultMaxErrors and DefaultLogPath mirror amuopt.c's compiled-in
// defaults, used when -e / -l are not given.
const (
	DefaultMaxErrors = 50
	DefaultLogPath   = "marcconv.log"
)

// ErrUsage is returned for any malformed command line: an unrecognized
// option, a value option missing its argument, too few positional
// arguments, or an explicit -?/-h request. The caller prints Usage and
// exits 1 in every case, an explicit help request included, since
// marcconv is not an interactive tool.
var ErrUsage = errors.New("argopt: usage error")

// Options holds the parsed command line: the four positional paths (the
// last two optional) and every -flag the run recognizes.
type Options struct {
	Append    bool
	MaxErrors int
	LogPath   string
	MaxRecs   int // 0 means unbounded
	CtlDir    string
	Skip      int

	InputPath   string
	OutputPath  string
	ControlPath string
	SwitchPath  string
}

// Usage is the fixed help text printed on -?/-h or any usage error,
// matching amuopt.c's single usage line.
const Usage = "usage: marcconv [-a] [-e<n>] [-l<path>] [-n<n>] [-p<path>] [-s<n>] infile outfile [ctlfile [switchfile]]"

// Parse extracts Options from argv (not including argv[0]). It returns
// ErrUsage (wrapped with a reason) for any malformed command line.
func Parse(argv []string) (Options, error) {
	opt := Options{MaxErrors: DefaultMaxErrors, LogPath: DefaultLogPath}

	var positional []string

	i := 0
	for i < len(argv) {
		arg := argv[i]
		if len(arg) < 2 || arg[0] != '-' {
			positional = append(positional, arg)
			i++
			continue
		}

		letter := arg[1]
		value := arg[2:]

		switch letter {
		case '?', 'h':
			return Options{}, fmt.Errorf("%w: help requested\n%s", ErrUsage, Usage)
		case 'a':
			if value != "" {
				return Options{}, fmt.Errorf("%w: -a takes no argument", ErrUsage)
			}
			opt.Append = true
		case 'e':
			resolved, consumed, err := resolveOptionValue(argv, i, letter, value)
			if err != nil {
				return Options{}, err
			}
			i = consumed
			n, err := parseIntArg(letter, resolved)
			if err != nil {
				return Options{}, err
			}
			opt.MaxErrors = n
		case 'l':
			resolved, consumed, err := resolveOptionValue(argv, i, letter, value)
			if err != nil {
				return Options{}, err
			}
			i = consumed
			opt.LogPath = resolved
		case 'n':
			resolved, consumed, err := resolveOptionValue(argv, i, letter, value)
			if err != nil {
				return Options{}, err
			}
			i = consumed
			n, err := parseIntArg(letter, resolved)
			if err != nil {
				return Options{}, err
			}
			opt.MaxRecs = n
		case 'p':
			resolved, consumed, err := resolveOptionValue(argv, i, letter, value)
			if err != nil {
				return Options{}, err
			}
			i = consumed
			opt.CtlDir = resolved
		case 's':
			resolved, consumed, err := resolveOptionValue(argv, i, letter, value)
			if err != nil {
				return Options{}, err
			}
			i = consumed
			n, err := parseIntArg(letter, resolved)
			if err != nil {
				return Options{}, err
			}
			opt.Skip = n
		default:
			return Options{}, fmt.Errorf("%w: unrecognized option -%c", ErrUsage, letter)
		}
		i++
	}

	if len(positional) < 2 {
		return Options{}, fmt.Errorf("%w: insufficient arguments, need at least infile and outfile\n%s", ErrUsage, Usage)
	}
	if len(positional) > 4 {
		return Options{}, fmt.Errorf("%w: too many positional arguments", ErrUsage)
	}

	opt.InputPath = positional[0]
	opt.OutputPath = positional[1]
	if len(positional) > 2 {
		opt.ControlPath = positional[2]
	}
	if len(positional) > 3 {
		opt.SwitchPath = positional[3]
	}

	return opt, nil
}

// resolveOptionValue returns the value for a value-taking option the way
// amuopt.c's get_opt does: a value glued onto the option token (-e50) is
// used as-is; otherwise the next argv token is consumed as the value,
// unless that token is absent or itself looks like an option, in which case
// it's a genuine missing-argument error. The returned index is the argv
// position the caller should treat as just consumed (the loop's trailing
// i++ moves past it).
func resolveOptionValue(argv []string, i int, letter byte, glued string) (string, int, error) {
	if glued != "" {
		return glued, i, nil
	}
	next := i + 1
	if next >= len(argv) || looksLikeOption(argv[next]) {
		return "", i, fmt.Errorf("%w: -%c requires an argument", ErrUsage, letter)
	}
	return argv[next], next, nil
}

func looksLikeOption(s string) bool {
	return len(s) > 0 && s[0] == '-'
}

func parseIntArg(letter byte, value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: -%c requires a numeric argument", ErrUsage, letter)
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: -%c argument %q is not a non-negative integer", ErrUsage, letter, value)
	}
	return n, nil
}
