package imgfixture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/aceeric/imgfixture/internal/archive"
	"github.com/aceeric/imgfixture/internal/buildsync"
	"github.com/aceeric/imgfixture/internal/manifest"
	"github.com/aceeric/imgfixture/pkg/imgfixture/types"
)

// ErrDiscarded is wrapped by the error of a build whose archiving was
// cancelled, or that was cancelled by the caller.
var ErrDiscarded = archive.ErrDiscarded

// Create builds '<directory>/<name>.tar' in a goroutine and returns a channel that
// receives the outcome of the build and is then closed. Without options the image
// has a 'null' entrypoint and cmd and the default poison environment.
func Create(ctx context.Context, directory, name string, opts ...BuildOpt) <-chan error {
	b, err := NewBuilder(directory, name, opts...)
	if err != nil {
		ch := make(chan error, 1)
		ch <- err
		close(ch)
		return ch
	}
	return b.Start(ctx)
}

// Start runs Create in a goroutine. The returned channel receives exactly one
// value and is then closed.
func (b *Builder) Start(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- b.Create(ctx)
	}()
	return ch
}

// Create builds the tarball. If concurrent builds are enabled (see
// SetConcurrentBuilds) and another goroutine is already building the same
// tarball then this function waits for that build and returns its outcome.
func (b *Builder) Create(ctx context.Context) error {
	if !buildsync.Enabled() {
		return b.build(ctx)
	}
	if b.State() != Init {
		return fmt.Errorf("builder for %q has already been used", b.Tarfile())
	}
	key, err := filepath.Abs(b.Tarfile())
	if err != nil {
		return err
	}
	so := buildsync.EnqueueBuild(key)
	if so.Result == buildsync.IsEnqueued {
		return b.wait(ctx, so)
	}
	err = b.build(ctx)
	buildsync.DoneBuild(key, err)
	return err
}

// wait receives the outcome of the build another goroutine is running for the
// same tarball and moves the receiver to the matching terminal state.
func (b *Builder) wait(ctx context.Context, so buildsync.SyncObj) error {
	b.log.Debug("waiting for build in progress")
	err := buildsync.Wait(ctx, so)
	if err == nil {
		b.setState(Done)
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("build %w: %w", ErrDiscarded, err)
	}
	return b.fail(err)
}

// step is one transition of the build. If 'run' succeeds the build moves to 'to'.
type step struct {
	to  State
	run func(context.Context) error
}

// build runs every step in order and stops at the first one that fails.
// Nothing that was created before the failure is cleaned up.
func (b *Builder) build(ctx context.Context) error {
	if b.State() != Init {
		return fmt.Errorf("builder for %q has already been used", b.Tarfile())
	}
	steps := []step{
		{DirsCreated, b.createDirs},
		{ManifestsWritten, b.writeManifests},
		{RootfsPopulated, b.populateRootfs},
		{LayerArchived, b.archiveLayer},
		{RootfsRemoved, b.removeRootfs},
		{VersionWritten, b.writeVersion},
		{ImageArchived, b.archiveImage},
		{ImageDirRemoved, b.removeImageDir},
	}
	for _, s := range steps {
		if ctx.Err() != nil {
			return b.fail(fmt.Errorf("build %w: %w", ErrDiscarded, ctx.Err()))
		}
		if err := s.run(ctx); err != nil {
			return b.fail(err)
		}
		b.setState(s.to)
		b.log.Debugf("build state: %s", s.to)
	}
	b.setState(Done)
	b.log.Infof("created image tarball %q", b.Tarfile())
	return nil
}

// fail records the failure and returns the passed error.
func (b *Builder) fail(err error) error {
	b.mu.Lock()
	b.failedAt = b.state
	b.state = Failed
	b.mu.Unlock()
	b.log.WithField("state", b.failedAt.String()).Errorf("build failed: %s", err)
	return err
}

func (b *Builder) createDirs(context.Context) error {
	fs := b.Opts.Fs
	if err := mkdirAll(fs, b.Opts.Directory); err != nil {
		return err
	}
	if err := mkdir(fs, b.imageDir()); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := mkdir(fs, b.layerDir()); err != nil {
		return fmt.Errorf("failed to create image layer %q: %w", types.LayerId, err)
	}
	if err := mkdir(fs, b.rootfsDir()); err != nil {
		return fmt.Errorf("failed to create layer rootfs directory: %w", err)
	}
	return nil
}

func (b *Builder) writeManifests(context.Context) error {
	ri, err := manifest.NewRepositoryIndex(b.Opts.Name, types.LayerId)
	if err != nil {
		return err
	}
	repositories, err := ri.ToString()
	if err != nil {
		return err
	}
	lm, err := manifest.NewLayerManifest(types.LayerId, b.Opts.Entrypoint, b.Opts.Cmd, b.Opts.Environment)
	if err != nil {
		return err
	}
	layerJson, err := lm.ToString()
	if err != nil {
		return err
	}
	if err := writeFile(b.Opts.Fs, filepath.Join(b.imageDir(), types.RepositoriesFileName), repositories); err != nil {
		return fmt.Errorf("failed to save image 'repositories': %w", err)
	}
	if err := writeFile(b.Opts.Fs, filepath.Join(b.layerDir(), types.LayerConfigFileName), layerJson); err != nil {
		return fmt.Errorf("failed to save image layer %q: %w", types.LayerId, err)
	}
	return nil
}

func (b *Builder) populateRootfs(context.Context) error {
	if err := b.Opts.Populator.Populate(b.rootfsDir()); err != nil {
		return fmt.Errorf("failed to create image rootfs: %w", err)
	}
	return nil
}

func (b *Builder) archiveLayer(ctx context.Context) error {
	ch := b.Opts.Archiver.Archive(ctx, b.rootfsDir(), filepath.Join(b.layerDir(), types.LayerTarFileName))
	return await(ctx, "root filesystem", ch)
}

func (b *Builder) removeRootfs(context.Context) error {
	if err := removeAll(b.Opts.Fs, b.rootfsDir()); err != nil {
		return fmt.Errorf("failed to remove layer rootfs directory: %w", err)
	}
	return nil
}

func (b *Builder) writeVersion(context.Context) error {
	if err := writeFile(b.Opts.Fs, filepath.Join(b.layerDir(), types.LayerVersionFileName), []byte(types.LayerVersion)); err != nil {
		return fmt.Errorf("failed to save layer version: %w", err)
	}
	return nil
}

func (b *Builder) archiveImage(ctx context.Context) error {
	ch := b.Opts.Archiver.Archive(ctx, b.imageDir(), b.Tarfile())
	return await(ctx, "image", ch)
}

func (b *Builder) removeImageDir(context.Context) error {
	if err := removeAll(b.Opts.Fs, b.imageDir()); err != nil {
		return fmt.Errorf("failed to remove image directory: %w", err)
	}
	return nil
}

// await suspends the build until the archiver sends its outcome or the context
// is done. A closed channel, a cancelled archiver, and a cancelled context are
// all reported as discarded.
func await(ctx context.Context, what string, ch <-chan error) error {
	select {
	case err, ok := <-ch:
		if !ok {
			return fmt.Errorf("failed to tar %s: %w", what, ErrDiscarded)
		} else if err == nil {
			return nil
		} else if archive.IsDiscarded(err) {
			return fmt.Errorf("failed to tar %s: %w", what, ErrDiscarded)
		}
		return fmt.Errorf("failed to tar %s: %w", what, err)
	case <-ctx.Done():
		return fmt.Errorf("failed to tar %s: %w", what, ErrDiscarded)
	}
}
