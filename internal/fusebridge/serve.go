package fusebridge

import (
	"context"
	"log"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Serve mounts core at mountpoint and blocks until the mount is
// unmounted, either by the kernel, by ctx being canceled (the caller
// is expected to derive ctx from pinoq.InterruptibleContext so a
// SIGINT/SIGTERM asks the kernel to unmount rather than killing the
// process mid-write), or by a serving error: one goroutine joins the
// mount, another watches ctx and requests an unmount, and Serve
// returns whichever finishes first's error.
//
// debugLogger, if non-nil, is wired into jacobsa/fuse's own
// MountConfig.DebugLogger to trace every op the kernel sends down;
// the CLI driver enables it behind its -debug flag.
func Serve(ctx context.Context, mountpoint string, core *FS, debugLogger *log.Logger) error {
	mfs, err := fuse.Mount(mountpoint, fuseutil.NewFileSystemServer(core), &fuse.MountConfig{
		DebugLogger: debugLogger,
	})
	if err != nil {
		return xerrors.Errorf("fusebridge: mounting %s: %w", mountpoint, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unmounted := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := mfs.Join(gctx)
		if err == nil {
			// The kernel unmounted us: wake the watcher without
			// having it request a second unmount.
			close(unmounted)
		}
		cancel()
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		select {
		case <-unmounted:
			return nil
		default:
		}
		if err := fuse.Unmount(mountpoint); err != nil {
			return xerrors.Errorf("fusebridge: unmounting %s: %w", mountpoint, err)
		}
		return nil
	})
	return g.Wait()
}
