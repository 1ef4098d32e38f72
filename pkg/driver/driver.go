// Package driver wires the logger, configuration, fault injector, and
// filesystem operation layer together, mounts the FUSE tree, and
// coordinates an orderly unmount on SIGINT/SIGTERM.
package driver

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jihwankim/nas-emu-fuse/pkg/config"
	"github.com/jihwankim/nas-emu-fuse/pkg/fault"
	"github.com/jihwankim/nas-emu-fuse/pkg/logging"
	"github.com/jihwankim/nas-emu-fuse/pkg/metrics"
	"github.com/jihwankim/nas-emu-fuse/pkg/vfs"
)

// Options configures a single mount run.
type Options struct {
	Policy      *config.RuntimePolicy
	Logger      *logging.Logger
	Metrics     *metrics.Exporter
	RunID       string
	MultiThread bool
}

// Driver owns one mounted tree for its whole lifetime. Shutdown is a
// channel closed exactly once, triggered by SIGINT/SIGTERM or an
// explicit Shutdown call.
type Driver struct {
	opts     Options
	injector *fault.Injector
	server   *fuse.Server

	once     sync.Once
	done     chan struct{}
	sigCh    chan os.Signal
	callback func()
}

// New builds a Driver ready to Mount. The injector is constructed here,
// not in main, because it must be seeded before the first callback can
// possibly fire.
func New(opts Options) *Driver {
	return &Driver{
		opts:     opts,
		injector: fault.New(opts.Policy.GlobalSeed, opts.Policy.FaultRules),
		done:     make(chan struct{}),
	}
}

// Mount builds the passthrough tree and registers it with the kernel
// FUSE interface. Single-threaded dispatch is the default; --threads
// opts into multi-threaded mode, where decision reproducibility holds
// only per-thread.
func (d *Driver) Mount() error {
	if err := checkMountPoint(d.opts.Policy.MountPoint); err != nil {
		return err
	}

	root := vfs.NewRoot(vfs.Config{
		BackingRoot: d.opts.Policy.BackingRoot,
		Injector:    d.injector,
		Logger:      d.opts.Logger,
		Metrics:     d.opts.Metrics,
		Done:        d.done,
	})

	mountOpts := &fs.Options{
		MountOptions: fuse.MountOptions{
			SingleThreaded: !d.opts.MultiThread,
			FsName:         "nas-emu-fuse",
			Name:           "nas-emu-fuse",
		},
	}

	server, err := fs.Mount(d.opts.Policy.MountPoint, root, mountOpts)
	if err != nil {
		return fmt.Errorf("mount %s: %w", d.opts.Policy.MountPoint, err)
	}
	d.server = server
	return nil
}

// Serve installs the signal handler and blocks until the mount is
// unmounted, either by Shutdown or by an external umount(8).
func (d *Driver) Serve(ctx context.Context) {
	d.sigCh = make(chan os.Signal, 1)
	signal.Notify(d.sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-d.sigCh:
			d.Shutdown(fmt.Sprintf("signal: %v", sig))
		case <-ctx.Done():
			d.Shutdown("context canceled")
		case <-d.done:
		}
	}()

	d.server.Wait()
}

// Shutdown closes the done channel exactly once, interrupting any
// in-flight DELAY/SLOW sleep (pkg/vfs's shared.sleep selects on this
// same channel), then requests an unmount. Safe to call more than once
// and from any goroutine.
func (d *Driver) Shutdown(reason string) {
	d.once.Do(func() {
		close(d.done)
		signal.Stop(d.sigCh)
		if d.opts.Logger != nil {
			d.opts.Logger.Info("shutting down: " + reason)
		}
		if err := d.server.Unmount(); err != nil && d.opts.Logger != nil {
			d.opts.Logger.Warn("unmount failed: " + err.Error())
		}
	})
}

// Counters exposes the injector's observability counters, e.g. for a
// final log line at shutdown.
func (d *Driver) Counters() map[fault.Operation]fault.OpCounters {
	return d.injector.Counters()
}

// checkMountPoint verifies the mount point exists, is a directory, and
// is empty.
func checkMountPoint(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("mount point %q: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point %q is not a directory", path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("mount point %q: %w", path, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("mount point %q is not empty", path)
	}
	return nil
}
