package manifest

import (
	"bytes"
	_ "crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/aceeric/imgfixture/pkg/imgfixture/types"
	"github.com/opencontainers/go-digest"
)

// Constant values for the layer manifest. They have no meaning beyond making
// the manifest look like one a docker 1.9 daemon would produce.
const (
	created       = "2016-03-02T17:16:00.167415955Z"
	containerId   = "eb53609036555d26c39bdccfa9850426934bdfde96111d099041689b2251a377"
	hostname      = "eb5360903655"
	dockerVersion = "1.9.1"
	architecture  = "amd64"
	osType        = "linux"
	addCmd        = "#(nop) ADD file:81ba6f20bdb99e6c13c434a577069860b6656908031162083b1ac9c02c71dd9f in /"
)

// RepositoryIndex is the structure of the 'repositories' file at the top of
// a legacy image tarball: image name -> tag -> layer id.
type RepositoryIndex map[string]map[string]string

// ContainerConfig is the subset of the docker v1 container config that is
// rendered into the layer manifest. Cmd and Entrypoint are raw JSON so that
// callers can express any shape without this package modeling it.
type ContainerConfig struct {
	Hostname     string              `json:"Hostname"`
	Domainname   string              `json:"Domainname"`
	User         string              `json:"User"`
	AttachStdin  bool                `json:"AttachStdin"`
	AttachStdout bool                `json:"AttachStdout"`
	AttachStderr bool                `json:"AttachStderr"`
	Tty          bool                `json:"Tty"`
	OpenStdin    bool                `json:"OpenStdin"`
	StdinOnce    bool                `json:"StdinOnce"`
	Env          []string            `json:"Env"`
	Cmd          json.RawMessage     `json:"Cmd"`
	Image        string              `json:"Image"`
	Volumes      map[string]struct{} `json:"Volumes"`
	WorkingDir   string              `json:"WorkingDir"`
	Entrypoint   json.RawMessage     `json:"Entrypoint"`
	OnBuild      []string            `json:"OnBuild"`
	Labels       map[string]string   `json:"Labels"`
}

// LayerManifest is the structure of the 'json' file in a layer directory of a
// legacy image tarball.
type LayerManifest struct {
	Id              string          `json:"id"`
	Created         string          `json:"created"`
	Container       string          `json:"container"`
	ContainerConfig ContainerConfig `json:"container_config"`
	DockerVersion   string          `json:"docker_version"`
	Config          ContainerConfig `json:"config"`
	Architecture    string          `json:"architecture"`
	Os              string          `json:"os"`
}

// NewRepositoryIndex returns an index with exactly one image having exactly
// one tag: 'latest'.
func NewRepositoryIndex(name, layerId string) (RepositoryIndex, error) {
	if name == "" {
		return nil, fmt.Errorf("image name is undefined")
	}
	if err := ValidateLayerId(layerId); err != nil {
		return nil, err
	}
	return RepositoryIndex{
		name: {types.LatestTag: layerId},
	}, nil
}

// ToString renders the index as compact JSON.
func (ri RepositoryIndex) ToString() ([]byte, error) {
	return json.Marshal(ri)
}

// NewLayerManifest builds the manifest for the layer identified by 'layerId'. The
// 'entrypoint' and 'cmd' args are JSON literals like `["sh", "-c"]` or `null`. They
// are parsed before they are embedded and a malformed literal is an error. The
// 'env' arg is embedded as a JSON array in the order given.
func NewLayerManifest(layerId, entrypoint, cmd string, env []string) (LayerManifest, error) {
	if err := ValidateLayerId(layerId); err != nil {
		return LayerManifest{}, err
	}
	ep, err := parseLiteral("entrypoint", entrypoint)
	if err != nil {
		return LayerManifest{}, err
	}
	c, err := parseLiteral("cmd", cmd)
	if err != nil {
		return LayerManifest{}, err
	}
	if env == nil {
		env = []string{}
	}
	cfg := baseConfig()
	cfg.Env = append([]string{}, env...)
	cfg.Cmd = c
	cfg.Entrypoint = ep

	containerCfg := baseConfig()
	containerCfg.Cmd, _ = json.Marshal([]string{"/bin/sh", "-c", addCmd})

	return LayerManifest{
		Id:              layerId,
		Created:         created,
		Container:       containerId,
		ContainerConfig: containerCfg,
		DockerVersion:   dockerVersion,
		Config:          cfg,
		Architecture:    architecture,
		Os:              osType,
	}, nil
}

// ToString renders the manifest as compact JSON.
func (lm LayerManifest) ToString() ([]byte, error) {
	return json.Marshal(lm)
}

// ValidateLayerId returns an error if the passed id is not shaped like a
// bare sha256 hex digest.
func ValidateLayerId(layerId string) error {
	if err := digest.NewDigestFromEncoded(digest.SHA256, layerId).Validate(); err != nil {
		return fmt.Errorf("invalid layer id %q: %w", layerId, err)
	}
	return nil
}

func baseConfig() ContainerConfig {
	return ContainerConfig{
		Hostname: hostname,
	}
}

// parseLiteral parses the passed JSON literal and returns it compacted. The
// 'field' arg is only used to build the error message.
func parseLiteral(field, literal string) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal([]byte(literal), &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s %q: %w", field, literal, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(literal)); err != nil {
		return nil, fmt.Errorf("failed to parse %s %q: %w", field, literal, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
