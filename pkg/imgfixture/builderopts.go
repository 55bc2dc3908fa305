package imgfixture

import (
	"fmt"
	"strings"

	"github.com/aceeric/imgfixture/internal/archive"
	"github.com/aceeric/imgfixture/internal/rootfs"
	"github.com/aceeric/imgfixture/pkg/imgfixture/types"
	"github.com/docker/distribution/reference"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// BuilderOpts defines all the configurable behaviors of the Builder.
type BuilderOpts struct {
	// Directory is where the tarball is created. It is created with its
	// parents if it does not exist.
	Directory string
	// Name is the image name. The tarball is '<Directory>/<Name>.tar'.
	Name string
	// Entrypoint is a JSON literal, e.g.: '["sh", "-c"]'. Defaults to 'null'.
	Entrypoint string
	// Cmd is a JSON literal, e.g.: '["echo hello"]'. Defaults to 'null'.
	Cmd string
	// Environment is the image environment as 'KEY=VALUE' strings. A nil
	// value gets the default poison environment. A non-nil empty value
	// gets an empty environment.
	Environment []string
	// Fs is the filesystem the staging directories are created on.
	Fs afero.Fs
	// Archiver tars the layer and the image.
	Archiver archive.Archiver
	// Populator fills the layer rootfs.
	Populator rootfs.Populator
	// Logger receives state transitions.
	Logger logrus.FieldLogger
}

// NewBuilderOpts is a convenience function that initializes and returns a BuilderOpts
// struct for the most common use case: the OS filesystem, the system tar, and a
// rootfs populated from the host.
func NewBuilderOpts(directory, name string) BuilderOpts {
	return BuilderOpts{Directory: directory, Name: name}.withDefaults()
}

// defaultPopulator inspects the host so it is only called if no populator was
// supplied.
var defaultPopulator = func() rootfs.Populator {
	return rootfs.NewLinuxRootfs()
}

// WithEntrypoint sets the entrypoint JSON literal.
func WithEntrypoint(entrypoint string) BuildOpt {
	return func(o *BuilderOpts) {
		o.Entrypoint = entrypoint
	}
}

// WithCmd sets the cmd JSON literal.
func WithCmd(cmd string) BuildOpt {
	return func(o *BuilderOpts) {
		o.Cmd = cmd
	}
}

// WithEnvironment replaces the image environment.
func WithEnvironment(env ...string) BuildOpt {
	return func(o *BuilderOpts) {
		o.Environment = append([]string{}, env...)
	}
}

// WithFs sets the filesystem. Note that the default archiver and populator
// work on the OS filesystem so they will usually be overridden too.
func WithFs(fs afero.Fs) BuildOpt {
	return func(o *BuilderOpts) {
		o.Fs = fs
	}
}

// WithArchiver sets the archiver.
func WithArchiver(a archive.Archiver) BuildOpt {
	return func(o *BuilderOpts) {
		o.Archiver = a
	}
}

// WithPopulator sets the rootfs populator.
func WithPopulator(p rootfs.Populator) BuildOpt {
	return func(o *BuilderOpts) {
		o.Populator = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) BuildOpt {
	return func(o *BuilderOpts) {
		o.Logger = l
	}
}

// InMemory configures the builder to run entirely on the passed in-memory (or
// any other) filesystem with the in-process tar writer. The populator is left
// alone.
func InMemory(fs afero.Fs) BuildOpt {
	return func(o *BuilderOpts) {
		o.Fs = fs
		o.Archiver = archive.NewTarArchiver(fs)
	}
}

// withDefaults returns a copy of the receiver with every zero-valued field set
// to its default. Only the missing defaults are built so a supplied Populator
// keeps the host from being inspected.
func (o BuilderOpts) withDefaults() BuilderOpts {
	if o.Entrypoint == "" {
		o.Entrypoint = types.NullJson
	}
	if o.Cmd == "" {
		o.Cmd = types.NullJson
	}
	if o.Environment == nil {
		o.Environment = types.DefaultEnvironment()
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Archiver == nil {
		o.Archiver = archive.NewCommandArchiver()
	}
	if o.Populator == nil {
		o.Populator = defaultPopulator()
	}
	if o.Logger == nil {
		o.Logger = log
	}
	return o
}

// validate performs option validation and returns an error if any options are
// invalid. The image name has to be a bare repository name because it is used
// as a directory name in the staging area.
func (o BuilderOpts) validate() error {
	if o.Directory == "" {
		return fmt.Errorf("directory is undefined")
	}
	if o.Name == "" {
		return fmt.Errorf("image name is undefined")
	}
	if strings.Contains(o.Name, "/") {
		return fmt.Errorf("invalid image name %q: must not contain a path separator", o.Name)
	}
	if ref, err := reference.ParseNormalizedNamed(o.Name); err != nil {
		return fmt.Errorf("invalid image name %q: %w", o.Name, err)
	} else if !reference.IsNameOnly(ref) {
		return fmt.Errorf("invalid image name %q: must not have a tag or digest", o.Name)
	}
	return nil
}
