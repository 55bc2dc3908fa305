package imgfixture

import (
	"path/filepath"
	"sync"

	"github.com/aceeric/imgfixture/pkg/imgfixture/types"
	"github.com/sirupsen/logrus"
)

// Builder is the top-level abstraction. It carries everything that is needed to
// build one image tarball. A Builder is intended to be used for a single build.
type Builder struct {
	// Opts defines all the configurable behaviors of the builder.
	Opts BuilderOpts
	// mu guards state, which can be read while a build runs in another goroutine
	mu    sync.Mutex
	state State
	// failedAt is the last state reached before the build failed
	failedAt State
	log      logrus.FieldLogger
}

// BuildOpt supports creating a Builder with variadic args.
type BuildOpt func(*BuilderOpts)

// NewBuilder creates a Builder for '<directory>/<name>.tar' with the defaults from
// NewBuilderOpts and any additional options from the opts variadic list. Example:
// suppose you need an image whose entrypoint is a shell. Then:
//
//	b, err := imgfixture.NewBuilder("/tmp/images", "alpine", imgfixture.WithEntrypoint(`["sh", "-c"]`))
func NewBuilder(directory, name string, opts ...BuildOpt) (*Builder, error) {
	o := BuilderOpts{Directory: directory, Name: name}
	for _, opt := range opts {
		opt(&o)
	}
	return NewBuilderWith(o)
}

// NewBuilderWith initializes and returns a Builder from the passed options. Zero
// valued options get the defaults that NewBuilderOpts would give them.
func NewBuilderWith(o BuilderOpts) (*Builder, error) {
	o = o.withDefaults()
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &Builder{
		Opts:  o,
		state: Init,
		log: o.Logger.WithFields(logrus.Fields{
			"image":     o.Name,
			"directory": o.Directory,
		}),
	}, nil
}

// State returns the state the build is in.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailedAt returns the last state the build reached before it failed. It is
// only meaningful if State returns Failed.
func (b *Builder) FailedAt() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failedAt
}

// Tarfile returns the path of the tarball the receiver builds.
func (b *Builder) Tarfile() string {
	return filepath.Join(b.Opts.Directory, b.Opts.Name+".tar")
}

// imageDir is the staging directory that becomes the tarball.
func (b *Builder) imageDir() string {
	return filepath.Join(b.Opts.Directory, b.Opts.Name)
}

// layerDir is the directory of the single layer, named by the layer id.
func (b *Builder) layerDir() string {
	return filepath.Join(b.imageDir(), types.LayerId)
}

// rootfsDir is the staging directory that becomes 'layer.tar'.
func (b *Builder) rootfsDir() string {
	return filepath.Join(b.layerDir(), types.RootfsDirName)
}

func (b *Builder) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}
