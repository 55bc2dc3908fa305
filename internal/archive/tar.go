package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// TarArchiver builds the tarball in-process. Both the source directory and the
// tarfile live on the Fs in the receiver.
type TarArchiver struct {
	Fs afero.Fs
}

// NewTarArchiver returns a TarArchiver on the passed filesystem.
func NewTarArchiver(fs afero.Fs) TarArchiver {
	return TarArchiver{Fs: fs}
}

// Archive writes the tarball in a goroutine and sends the outcome on the
// returned channel.
func (ta TarArchiver) Archive(ctx context.Context, sourceDir, tarfile string) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- ta.toTar(ctx, sourceDir, tarfile)
	}()
	return ch
}

// toTar walks 'sourceDir' in lexical order and adds every entry to 'tarfile'
// with a name like the system tar would produce for 'tar -C sourceDir .', i.e.
// './', './foo', './bar/', and so on. The context is checked between entries.
func (ta TarArchiver) toTar(ctx context.Context, sourceDir, tarfile string) error {
	file, err := ta.Fs.Create(tarfile)
	if err != nil {
		return err
	}
	defer file.Close()
	tw := tar.NewWriter(file)

	err = afero.Walk(ta.Fs, sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrDiscarded, ctx.Err())
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		name := "./"
		if rel != "." {
			name += filepath.ToSlash(rel)
		}
		return ta.addEntry(tw, path, info, name)
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return file.Close()
}

// addEntry adds the file system object identified by 'actualFile' to the
// passed tar writer. The 'nameInTar' arg gives the object its name in the
// tarball. Directories get a trailing slash.
func (ta TarArchiver) addEntry(tw *tar.Writer, actualFile string, info os.FileInfo, nameInTar string) error {
	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		lr, ok := ta.Fs.(afero.LinkReader)
		if !ok {
			return fmt.Errorf("unable to read symlink %q on this filesystem", actualFile)
		}
		target, err := lr.ReadlinkIfPossible(actualFile)
		if err != nil {
			return err
		}
		link = target
	}
	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = nameInTar
	if info.IsDir() && nameInTar != "./" {
		header.Name += "/"
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	file, err := ta.Fs.Open(actualFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(tw, file)
	return err
}
