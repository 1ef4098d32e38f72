// Package fault implements the fault-injection decision engine: given an
// operation kind, a backing path, and a size, it decides whether to let a
// filesystem call pass through untouched or deviate from it in a
// reproducible way.
package fault

import (
	"path/filepath"
	"syscall"
	"time"
)

// Operation identifies a filesystem callback kind. The set is closed and
// mirrors the POSIX verbs the operation layer implements 1:1.
type Operation int

const (
	OpLookup Operation = iota
	OpGetattr
	OpSetattr
	OpOpen
	OpCreate
	OpRead
	OpWrite
	OpRelease
	OpFlush
	OpFsync
	OpMkdir
	OpRmdir
	OpUnlink
	OpRename
	OpReaddir
	OpStatfs
	OpReadlink
	OpSymlink
)

var operationNames = map[Operation]string{
	OpLookup:   "lookup",
	OpGetattr:  "getattr",
	OpSetattr:  "setattr",
	OpOpen:     "open",
	OpCreate:   "create",
	OpRead:     "read",
	OpWrite:    "write",
	OpRelease:  "release",
	OpFlush:    "flush",
	OpFsync:    "fsync",
	OpMkdir:    "mkdir",
	OpRmdir:    "rmdir",
	OpUnlink:   "unlink",
	OpRename:   "rename",
	OpReaddir:  "readdir",
	OpStatfs:   "statfs",
	OpReadlink: "readlink",
	OpSymlink:  "symlink",
}

// String returns the config-file / log spelling of the operation.
func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "unknown"
}

// ParseOperation maps a config-file operation name to an Operation.
func ParseOperation(s string) (Operation, bool) {
	for op, name := range operationNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

// RuleKind is the tagged-variant discriminator for a FaultRule.
type RuleKind int

const (
	KindNone RuleKind = iota
	KindError
	KindDelay
	KindCorruptData
	KindShortIO
	KindSpaceExhaustion
	KindSlow
)

func (k RuleKind) String() string {
	switch k {
	case KindNone:
		return "NONE"
	case KindError:
		return "ERROR"
	case KindDelay:
		return "DELAY"
	case KindCorruptData:
		return "CORRUPT_DATA"
	case KindShortIO:
		return "SHORT_IO"
	case KindSpaceExhaustion:
		return "SPACE_EXHAUSTION"
	case KindSlow:
		return "SLOW"
	default:
		return "UNKNOWN"
	}
}

// Match selects which (operation, path, size) triples a rule applies to.
type Match struct {
	// Operations restricts the rule to this set. A nil/empty set never
	// admits anything; the config loader rejects rules with no
	// target_operations.
	Operations map[Operation]struct{}

	// PathGlob is a shell-style glob (filepath.Match syntax). Empty
	// means "any path".
	PathGlob string

	// MinSize/MaxSize bound the operation's natural size parameter.
	// -1 means unbounded on that side.
	MinSize int64
	MaxSize int64
}

// Admits reports whether this Match selects (op, path, size).
func (m Match) Admits(op Operation, path string, size int64) bool {
	if _, ok := m.Operations[op]; !ok {
		return false
	}
	if m.PathGlob != "" {
		ok, err := filepath.Match(m.PathGlob, path)
		if err != nil || !ok {
			return false
		}
	}
	if m.MinSize >= 0 && size < m.MinSize {
		return false
	}
	if m.MaxSize >= 0 && size > m.MaxSize {
		return false
	}
	return true
}

// ErrorParams configures a KindError rule.
type ErrorParams struct {
	Errno syscall.Errno
}

// DelayParams configures KindDelay and KindSlow rules. For KindSlow the
// sampled delay is scaled by the operation's size.
type DelayParams struct {
	MinMs int
	MaxMs int
}

// CorruptParams configures a KindCorruptData rule.
type CorruptParams struct {
	// Percent is the percentage, in [0,100], of buffer bytes to flip.
	Percent float64
}

// ShortIOParams configures a KindShortIO rule.
type ShortIOParams struct {
	// Ratio is the fraction, in (0,1], of bytes actually written.
	Ratio float64
}

// SpaceParams configures a KindSpaceExhaustion rule.
type SpaceParams struct {
	ThresholdBytes int64
}

// FaultRule is one ordered entry of the configured rule set.
type FaultRule struct {
	Match       Match
	Kind        RuleKind
	Probability float64

	Error   ErrorParams
	Delay   DelayParams
	Corrupt CorruptParams
	ShortIO ShortIOParams
	Space   SpaceParams
}

// Action is the verdict a Decision carries.
type Action int

const (
	ActionPass Action = iota
	ActionFail
	ActionDelay
	ActionMutate
	ActionShorten
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "PASS"
	case ActionFail:
		return "FAIL"
	case ActionDelay:
		return "DELAY"
	case ActionMutate:
		return "MUTATE"
	case ActionShorten:
		return "SHORTEN"
	default:
		return "UNKNOWN"
	}
}

// Decision is the ephemeral, per-call verdict produced by Decide.
type Decision struct {
	Action Action

	// Errno is set when Action == ActionFail.
	Errno syscall.Errno

	// Delay is set when Action == ActionDelay.
	Delay time.Duration

	// CorruptPercent is set when Action == ActionMutate.
	CorruptPercent float64

	// ShortenTo is set when Action == ActionShorten: the number of
	// bytes that should actually be written.
	ShortenTo int64

	// Rule is the matched rule, for logging. Nil when no rule matched.
	Rule *FaultRule
}
