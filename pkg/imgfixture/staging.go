package imgfixture

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// mkdirAll creates the passed directory and any missing parents. It is not an
// error if the directory already exists.
func mkdirAll(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create '%s': %w", dir, err)
	}
	return nil
}

// mkdir creates the passed directory. The parent must exist and the
// directory must not.
func mkdir(fs afero.Fs, dir string) error {
	if exists, err := afero.Exists(fs, dir); err != nil {
		return fmt.Errorf("failed to create '%s': %w", dir, err)
	} else if exists {
		return fmt.Errorf("failed to create '%s': %w", dir, os.ErrExist)
	}
	if err := fs.Mkdir(dir, 0755); err != nil {
		return fmt.Errorf("failed to create '%s': %w", dir, err)
	}
	return nil
}

// removeAll removes the passed directory and everything in it. Unlike
// os.RemoveAll it is an error if the directory doesn't exist.
func removeAll(fs afero.Fs, dir string) error {
	if _, err := fs.Stat(dir); err != nil {
		return fmt.Errorf("failed to remove '%s': %w", dir, err)
	}
	if err := fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove '%s': %w", dir, err)
	}
	return nil
}

// writeFile creates or truncates the passed file and writes the passed bytes
// to it.
func writeFile(fs afero.Fs, file string, content []byte) error {
	if err := afero.WriteFile(fs, file, content, 0644); err != nil {
		return fmt.Errorf("failed to write '%s': %w", file, err)
	}
	return nil
}
