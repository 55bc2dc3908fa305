package testhelpers

import (
	"archive/tar"
	"bytes"
	"context"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"
)

// MakeDigest generates a random digest
func MakeDigest() string {
	foo := fmt.Sprintf("%d", rand.Uint64())
	return digest.FromBytes([]byte(foo)).Encoded()
}

// UntarFile is a test helper that reads the passed tarfile from the passed
// filesystem and returns a map of entry name to entry content. Leading "./"
// is stripped from names and directories are returned with a nil value and a
// trailing slash.
func UntarFile(fs afero.Fs, tarfile string) (map[string][]byte, error) {
	f, err := fs.Open(tarfile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Untar(f)
}

// UntarBytes is UntarFile for an in-memory tarball, e.g. a 'layer.tar' that
// was itself extracted from an image tarball.
func UntarBytes(b []byte) (map[string][]byte, error) {
	return Untar(bytes.NewReader(b))
}

// Untar reads every entry from the passed reader.
func Untar(r io.Reader) (map[string][]byte, error) {
	entries := make(map[string][]byte)
	tarReader := tar.NewReader(r)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(header.Name, "./")
		if name == "" {
			continue
		}
		switch header.Typeflag {
		case tar.TypeDir:
			entries[path.Clean(name)+"/"] = nil
		case tar.TypeReg:
			b, err := io.ReadAll(tarReader)
			if err != nil {
				return nil, err
			}
			entries[name] = b
		}
	}
	return entries, nil
}

// FakeArchiver is an archiver that doesn't touch the filesystem. It records
// each call and returns the configured outcome.
type FakeArchiver struct {
	// Errs is indexed by call number. A missing entry means success.
	Errs  map[int]error
	Calls [][2]string
	// Block causes Archive to never complete until the context is done.
	Block bool
	// Entered, if not nil, receives a value each time Archive is called
	// without blocking the caller.
	Entered chan struct{}
}

// Archive implements archive.Archiver
func (fa *FakeArchiver) Archive(ctx context.Context, sourceDir, tarfile string) <-chan error {
	call := len(fa.Calls)
	fa.Calls = append(fa.Calls, [2]string{sourceDir, tarfile})
	ch := make(chan error, 1)
	if fa.Entered != nil {
		select {
		case fa.Entered <- struct{}{}:
		default:
		}
	}
	if fa.Block {
		go func() {
			<-ctx.Done()
			ch <- ctx.Err()
			close(ch)
		}()
		return ch
	}
	ch <- fa.Errs[call]
	close(ch)
	return ch
}

// FakePopulator writes one file into the rootfs, or returns Err.
type FakePopulator struct {
	Fs  afero.Fs
	Err error
}

// Populate implements rootfs.Populator
func (fp FakePopulator) Populate(dir string) error {
	if fp.Err != nil {
		return fp.Err
	}
	return afero.WriteFile(fp.Fs, path.Join(dir, "hello"), []byte("frobozz"), 0644)
}
