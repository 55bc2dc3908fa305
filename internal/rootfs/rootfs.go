// Package rootfs populates a directory with a minimal linux root filesystem
// by copying a handful of binaries and configuration files from the host,
// along with the shared libraries the binaries link against.
package rootfs

import (
	"debug/elf"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/afero"
)

// Populator fills the directory at 'dir' with a root filesystem. The
// directory must already exist.
type Populator interface {
	Populate(dir string) error
}

// LinuxRootfs copies Files from Source into the target directory on Dest,
// preserving each file's path and mode, and creates Dirs as empty directories.
// Shared libraries needed by ELF files in the list are copied too if they
// can be found in LibDirs.
type LinuxRootfs struct {
	Source  afero.Fs
	Dest    afero.Fs
	Files   []string
	Dirs    []string
	LibDirs []string
}

// DefaultFiles are the host files copied into the rootfs.
var DefaultFiles = []string{
	"/bin/echo",
	"/bin/ls",
	"/bin/ping",
	"/bin/sh",
	"/bin/sleep",
	"/etc/group",
	"/etc/hosts",
	"/etc/nsswitch.conf",
	"/etc/passwd",
}

// DefaultDirs are the mount points and scratch directories every rootfs gets.
var DefaultDirs = []string{
	"/bin",
	"/dev",
	"/etc",
	"/lib",
	"/lib64",
	"/mnt",
	"/proc",
	"/sys",
	"/tmp",
	"/usr",
}

// DefaultLibDirs is where shared libraries are looked up.
var DefaultLibDirs = []string{
	"/lib64",
	"/lib/x86_64-linux-gnu",
	"/lib/aarch64-linux-gnu",
	"/usr/lib64",
	"/usr/lib/x86_64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
	"/lib",
	"/usr/lib",
}

// NewLinuxRootfs returns a LinuxRootfs that copies the default files from the
// OS filesystem into the OS filesystem. Files in the default list that don't
// exist on the host are left out.
func NewLinuxRootfs() LinuxRootfs {
	osFs := afero.NewOsFs()
	return LinuxRootfs{
		Source:  osFs,
		Dest:    osFs,
		Files:   existing(osFs, DefaultFiles),
		Dirs:    DefaultDirs,
		LibDirs: DefaultLibDirs,
	}
}

// Populate creates the directories and copies the files. A file in the
// Files list that can't be read from Source is an error, as is a needed
// library that can't be found.
func (r LinuxRootfs) Populate(dir string) error {
	for _, d := range r.Dirs {
		target := filepath.Join(dir, d)
		if err := r.Dest.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", target, err)
		}
	}
	files, err := r.withLibraries(r.Files)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := r.copyFile(f, filepath.Join(dir, f)); err != nil {
			return err
		}
	}
	return nil
}

// withLibraries returns the passed files plus the transitive closure of their
// ELF interpreters and DT_NEEDED libraries, in a stable order without duplicates.
func (r LinuxRootfs) withLibraries(files []string) ([]string, error) {
	result := []string{}
	pending := append([]string{}, files...)
	for len(pending) > 0 {
		f := pending[0]
		pending = pending[1:]
		if slices.Contains(result, f) {
			continue
		}
		result = append(result, f)
		deps, err := r.dependencies(f)
		if err != nil {
			return nil, err
		}
		pending = append(pending, deps...)
	}
	return result, nil
}

// dependencies returns the interpreter and needed libraries of the passed file
// on Source. A file that isn't ELF has no dependencies.
func (r LinuxRootfs) dependencies(file string) ([]string, error) {
	f, err := r.Source.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", file, err)
	}
	defer f.Close()
	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, nil
	}
	defer ef.Close()

	deps := []string{}
	for _, prog := range ef.Progs {
		if prog.Type == elf.PT_INTERP {
			b, err := io.ReadAll(prog.Open())
			if err == nil && len(b) > 0 {
				deps = append(deps, string(b[:len(b)-1]))
			}
		}
	}
	libs, err := ef.ImportedLibraries()
	if err != nil {
		return nil, fmt.Errorf("failed to read shared libraries of '%s': %w", file, err)
	}
	for _, lib := range libs {
		if p, ok := r.findLibrary(lib); ok {
			deps = append(deps, p)
		} else {
			return nil, fmt.Errorf("unable to find library '%s' needed by '%s'", lib, file)
		}
	}
	return deps, nil
}

func (r LinuxRootfs) findLibrary(lib string) (string, bool) {
	for _, d := range r.LibDirs {
		p := filepath.Join(d, lib)
		if ok, _ := afero.Exists(r.Source, p); ok {
			return p, true
		}
	}
	return "", false
}

// copyFile copies one regular file, following symlinks on Source.
func (r LinuxRootfs) copyFile(from, to string) error {
	info, err := r.Source.Stat(from)
	if err != nil {
		return fmt.Errorf("failed to stat '%s': %w", from, err)
	}
	if err := r.Dest.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", filepath.Dir(to), err)
	}
	src, err := r.Source.Open(from)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", from, err)
	}
	defer src.Close()
	dst, err := r.Dest.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", to, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy '%s' to '%s': %w", from, to, err)
	}
	return nil
}

// existing filters the passed paths down to the ones present on the passed fs.
func existing(fs afero.Fs, paths []string) []string {
	found := []string{}
	for _, p := range paths {
		if ok, _ := afero.Exists(fs, p); ok {
			found = append(found, p)
		}
	}
	return found
}
