package types

// LayerId is the id of the single layer in every fixture image. It is a fixed
// literal shaped like a sha256 hex digest, not the hash of the layer content.
const LayerId = "815b809d588c80fd6ddf4d6ac244ad1c01ae4cbe0f91cc7480e306671ee9c346"

// names of the files and directories inside a legacy 'docker save' tarball
const (
	RepositoriesFileName = "repositories"
	LayerConfigFileName  = "json"
	LayerTarFileName     = "layer.tar"
	LayerVersionFileName = "VERSION"
	RootfsDirName        = "layer"
)

// LayerVersion is the content of the VERSION file in each layer directory.
const LayerVersion = "1.0"

// LatestTag is the only tag written to the repositories index.
const LatestTag = "latest"

// NullJson is the default entrypoint and cmd literal.
const NullJson = "null"

// DefaultEnvironment returns the environment that is baked into the image
// config when the caller doesn't supply one. The values are deliberately
// invalid for a real executor so that tests can detect image environment
// variables leaking into places they shouldn't.
func DefaultEnvironment() []string {
	return []string{
		"LD_LIBRARY_PATH=invalid",
		"LIBPROCESS_IP=invalid",
		"LIBPROCESS_PORT=invalid",
	}
}
