package rsyncopts

import (
	"fmt"
	"strconv"
	"strings"
)

// argInfo describes how a poptOption consumes (or doesn't consume) a
// command-line argument, mirroring the subset of popt(3)'s POPT_ARG_*
// flags this package implements.
type argInfo int

const (
	POPT_ARG_NONE argInfo = iota
	POPT_ARG_STRING
	POPT_ARG_INT
	POPT_ARG_VAL
	POPT_BIT_SET
)

// poptOption is one row of an option table: a long name, an optional
// single-character short name, how its argument (if any) is consumed,
// where to store it, and the value returned to (or ORed/assigned for)
// the caller.
type poptOption struct {
	longName  string
	shortName string
	argInfo   argInfo
	arg       any
	val       int
}

const (
	POPT_ERROR_BADOPT = 1
	POPT_ERROR_NOARG  = 2
)

// PoptError reports a command-line parsing failure: an unknown option
// or one missing its required argument.
type PoptError struct {
	Errno      int
	DaemonMode bool
	Option     string
}

func (e *PoptError) Error() string {
	switch e.Errno {
	case POPT_ERROR_NOARG:
		return fmt.Sprintf("option %s requires an argument", e.Option)
	default:
		return fmt.Sprintf("unknown option %s", e.Option)
	}
}

// Context drives one pass of option parsing over args using table,
// accumulating non-option arguments into RemainingArgs.
type Context struct {
	Options       *Options
	RemainingArgs []string

	table []poptOption
	args  []string
	pos   int

	// shortCluster holds the not-yet-consumed tail of a bundled short
	// option token (e.g. the "vr" remaining after consuming "n" from
	// "-nvr").
	shortCluster string

	lastOptArg string
}

func findLong(table []poptOption, name string) (poptOption, bool) {
	for _, opt := range table {
		if opt.longName == name {
			return opt, true
		}
	}
	return poptOption{}, false
}

func findShort(table []poptOption, name string) (poptOption, bool) {
	for _, opt := range table {
		if opt.shortName == name {
			return opt, true
		}
	}
	return poptOption{}, false
}

func needsArg(info argInfo) bool {
	return info == POPT_ARG_STRING || info == POPT_ARG_INT
}

func (pc *Context) storeArg(opt poptOption, value string) error {
	pc.lastOptArg = value
	if opt.arg == nil {
		return nil
	}
	switch opt.argInfo {
	case POPT_ARG_STRING:
		p, ok := opt.arg.(*string)
		if !ok {
			return fmt.Errorf("BUG: option %q: arg is not *string", opt.longName)
		}
		*p = value
	case POPT_ARG_INT:
		p, ok := opt.arg.(*int)
		if !ok {
			return fmt.Errorf("BUG: option %q: arg is not *int", opt.longName)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return &PoptError{Errno: POPT_ERROR_NOARG, Option: "--" + opt.longName}
		}
		*p = n
	}
	return nil
}

func (pc *Context) applyNoArg(opt poptOption) error {
	if opt.arg == nil {
		return nil
	}
	p, ok := opt.arg.(*int)
	if !ok {
		return fmt.Errorf("BUG: option %q: arg is not *int", opt.longName)
	}
	switch opt.argInfo {
	case POPT_ARG_NONE:
		*p = 1
	case POPT_ARG_VAL:
		*p = opt.val
	case POPT_BIT_SET:
		*p |= opt.val
	}
	return nil
}

func optLabel(opt poptOption) string {
	if opt.longName != "" {
		return "--" + opt.longName
	}
	return "-" + opt.shortName
}

// poptGetOptArg returns the argument consumed by the most recently
// returned option, for special-case handlers that pass arg=nil in the
// table (e.g. --info, --compare-dest).
func (pc *Context) poptGetOptArg() string {
	return pc.lastOptArg
}

// poptGetNextOpt returns the val of the next recognized option that
// needs special-case handling in ParseArguments's switch, or -1 once
// every token has been consumed. Options with val == 0 (and POPT_ARG_VAL
// / POPT_BIT_SET options generally) are applied as a side effect and
// never surfed to the caller.
func (pc *Context) poptGetNextOpt() (int, error) {
	for {
		if pc.shortCluster != "" {
			r := pc.shortCluster[:1]
			rest := pc.shortCluster[1:]
			opt, found := findShort(pc.table, r)
			if !found {
				pc.shortCluster = ""
				return 0, &PoptError{Errno: POPT_ERROR_BADOPT, Option: "-" + r}
			}
			if needsArg(opt.argInfo) {
				var value string
				if rest != "" {
					value = rest
				} else {
					if pc.pos >= len(pc.args) {
						return 0, &PoptError{Errno: POPT_ERROR_NOARG, Option: optLabel(opt)}
					}
					value = pc.args[pc.pos]
					pc.pos++
				}
				pc.shortCluster = ""
				if err := pc.storeArg(opt, value); err != nil {
					return 0, err
				}
				if opt.val != 0 {
					return opt.val, nil
				}
				continue
			}
			pc.shortCluster = rest
			if err := pc.applyNoArg(opt); err != nil {
				return 0, err
			}
			if opt.val != 0 && opt.argInfo == POPT_ARG_NONE {
				return opt.val, nil
			}
			continue
		}

		if pc.pos >= len(pc.args) {
			return -1, nil
		}
		tok := pc.args[pc.pos]

		if tok == "--" {
			pc.pos++
			pc.RemainingArgs = append(pc.RemainingArgs, pc.args[pc.pos:]...)
			pc.pos = len(pc.args)
			return -1, nil
		}

		if tok == "-" || !strings.HasPrefix(tok, "-") {
			pc.RemainingArgs = append(pc.RemainingArgs, pc.args[pc.pos:]...)
			pc.pos = len(pc.args)
			return -1, nil
		}

		pc.pos++

		if strings.HasPrefix(tok, "--") {
			name := tok[2:]
			value := ""
			hasValue := false
			if idx := strings.IndexByte(name, '='); idx >= 0 {
				value = name[idx+1:]
				name = name[:idx]
				hasValue = true
			}
			opt, found := findLong(pc.table, name)
			if !found {
				return 0, &PoptError{Errno: POPT_ERROR_BADOPT, Option: "--" + name}
			}
			if needsArg(opt.argInfo) {
				if !hasValue {
					if pc.pos >= len(pc.args) {
						return 0, &PoptError{Errno: POPT_ERROR_NOARG, Option: optLabel(opt)}
					}
					value = pc.args[pc.pos]
					pc.pos++
				}
				if err := pc.storeArg(opt, value); err != nil {
					return 0, err
				}
				if opt.val != 0 {
					return opt.val, nil
				}
				continue
			}
			if err := pc.applyNoArg(opt); err != nil {
				return 0, err
			}
			if opt.val != 0 && opt.argInfo == POPT_ARG_NONE {
				return opt.val, nil
			}
			continue
		}

		// Single-dash token: either one short option or a bundle of them.
		pc.shortCluster = tok[1:]
	}
}
