package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrDiscarded is wrapped by the error an Archiver sends when the archiving
// was cancelled before it finished.
var ErrDiscarded = errors.New("discarded")

// Archiver tars the contents of 'sourceDir' into 'tarfile'. Entries in the
// tarball are relative to 'sourceDir'.
type Archiver interface {
	Archive(ctx context.Context, sourceDir, tarfile string) <-chan error
}

// CommandArchiver shells out to a tar binary.
type CommandArchiver struct {
	// Tar is the tar binary. If empty, 'tar' is located on the PATH.
	Tar string
}

// NewCommandArchiver returns a CommandArchiver that uses the 'tar' on the PATH.
func NewCommandArchiver() CommandArchiver {
	return CommandArchiver{Tar: "tar"}
}

// Archive runs tar in a goroutine and sends the outcome on the returned channel.
func (ca CommandArchiver) Archive(ctx context.Context, sourceDir, tarfile string) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- ca.run(ctx, sourceDir, tarfile)
	}()
	return ch
}

func (ca CommandArchiver) run(ctx context.Context, sourceDir, tarfile string) error {
	bin := ca.Tar
	if bin == "" {
		bin = "tar"
	}
	// tar opens the archive before it changes to the source directory but
	// an absolute path avoids depending on that
	dest, err := filepath.Abs(tarfile)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin, "-c", "-f", dest, "-C", sourceDir, ".")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrDiscarded, ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("failed to run %q: %w: %s", strings.Join(cmd.Args, " "), err, msg)
		}
		return fmt.Errorf("failed to run %q: %w", strings.Join(cmd.Args, " "), err)
	}
	return nil
}

// IsDiscarded returns true if the passed error indicates that the archiving
// was cancelled rather than failed.
func IsDiscarded(err error) bool {
	return errors.Is(err, ErrDiscarded) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
