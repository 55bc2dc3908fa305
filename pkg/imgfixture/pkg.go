// Package imgfixture is a library for building synthetic image tarballs for tests.
// The tarballs have the legacy 'docker save' layout - a 'repositories' index and a
// single layer directory with 'json', 'layer.tar', and 'VERSION' files - and can be
// imported by a container runtime without network access or a real image build.
//
// The top level functions provided by the library are:
//
//	func Create(ctx, directory, name string, opts ...BuildOpt)    - Builds '<directory>/<name>.tar' asynchronously
//	func NewBuilder(directory, name string, opts ...BuildOpt)     - Returns a new Builder struct
//	func NewBuilderWith(o BuilderOpts)                            - Returns a new Builder struct with explicit options
//
// Once you have a Builder, then:
//
//	func (b *Builder) Create(ctx context.Context)  - Builds the tarball and returns the outcome
//	func (b *Builder) Start(ctx context.Context)   - Builds the tarball in a goroutine
//	func (b *Builder) State()                      - Returns the state of the build
package imgfixture
