// Package vfs implements the passthrough filesystem operation layer: a
// go-fuse node tree that forwards every call to a backing directory,
// consulting a fault.Injector before performing the real syscall.
package vfs

import (
	"context"
	"strconv"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/jihwankim/nas-emu-fuse/pkg/fault"
	"github.com/jihwankim/nas-emu-fuse/pkg/logging"
)

// MetricsRecorder receives a copy of every decision the injector makes,
// for the optional Prometheus exporter. It is never consulted to make a
// decision.
type MetricsRecorder interface {
	Observe(op fault.Operation, action fault.Action)
}

// Config bundles the collaborators a mounted tree needs.
type Config struct {
	BackingRoot string
	Injector    *fault.Injector
	Logger      *logging.Logger
	Metrics     MetricsRecorder
	// Done is closed by the shutdown coordinator; any in-flight
	// DELAY/SLOW sleep returns immediately once it closes.
	Done <-chan struct{}
}

// shared is the state every node and file handle in one mounted tree
// holds a pointer to. It is never mutated after NewRoot except through
// the space accountant and the injector's own internal counters/PRNG.
type shared struct {
	backingRoot string
	injector    *fault.Injector
	logger      *logging.Logger
	metrics     MetricsRecorder
	space       *spaceAccountant
	done        <-chan struct{}
}

// NewRoot builds the root node of a passthrough tree rooted at
// cfg.BackingRoot, ready to be passed to fs.Mount.
func NewRoot(cfg Config) fs.InodeEmbedder {
	s := &shared{
		backingRoot: cfg.BackingRoot,
		injector:    cfg.Injector,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		space:       newSpaceAccountant(cfg.BackingRoot),
		done:        cfg.Done,
	}
	return &passthroughNode{shared: s}
}

func (s *shared) usedBytes() int64 {
	return s.space.used_()
}

// decide queries the injector for (op, path, size) and logs the verdict
// at DEBUG, so a harness can recover the full decision trace with a
// `decision=` grep over the log.
func (s *shared) decide(op fault.Operation, path, logPath string, size int64) fault.Decision {
	d := s.injector.Decide(op, path, size, s.usedBytes())
	if s.metrics != nil {
		s.metrics.Observe(op, d.Action)
	}
	if s.logger != nil {
		s.logger.Op(logging.LevelDebug, op.String(), logPath, d.Action.String(), detailFor(d))
	}
	return d
}

func detailFor(d fault.Decision) string {
	switch d.Action {
	case fault.ActionFail:
		return d.Errno.Error()
	case fault.ActionDelay:
		return d.Delay.String()
	case fault.ActionMutate:
		return "percent=" + strconv.FormatFloat(d.CorruptPercent, 'g', -1, 64)
	case fault.ActionShorten:
		return "bytes=" + strconv.FormatInt(d.ShortenTo, 10)
	default:
		return ""
	}
}

// gate performs the injector query and the generic part of decision
// branching: FAIL returns its errno without touching the backing store,
// DELAY sleeps then proceeds as PASS. MUTATE/SHORTEN are only
// meaningful to read/write and are left for the caller to apply.
func (s *shared) gate(ctx context.Context, op fault.Operation, path, logPath string, size int64) (fault.Decision, syscall.Errno) {
	d := s.decide(op, path, logPath, size)
	switch d.Action {
	case fault.ActionFail:
		return d, d.Errno
	case fault.ActionDelay:
		s.sleep(ctx, d.Delay)
		return d, 0
	default:
		return d, 0
	}
}

// sleep blocks for d or until shutdown/context cancellation, whichever
// comes first, so SIGINT/SIGTERM can cut an injected delay short.
func (s *shared) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.done:
	case <-ctx.Done():
	}
}
