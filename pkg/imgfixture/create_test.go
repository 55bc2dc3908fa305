package imgfixture

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aceeric/imgfixture/internal/archive"
	"github.com/aceeric/imgfixture/internal/buildsync"
	"github.com/aceeric/imgfixture/internal/testhelpers"
	"github.com/aceeric/imgfixture/pkg/imgfixture/types"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBuilder returns a builder that runs entirely in memory.
func memBuilder(t *testing.T, fs afero.Fs, name string, opts ...BuildOpt) *Builder {
	opts = append([]BuildOpt{InMemory(fs), WithPopulator(testhelpers.FakePopulator{Fs: fs})}, opts...)
	b, err := NewBuilder("/images", name, opts...)
	require.NoError(t, err)
	return b
}

// readImage extracts the image tarball and the layer tarball inside it.
func readImage(t *testing.T, fs afero.Fs, tarfile string) (map[string][]byte, map[string][]byte) {
	image, err := testhelpers.UntarFile(fs, tarfile)
	require.NoError(t, err)
	layerTar, ok := image[types.LayerId+"/layer.tar"]
	require.True(t, ok, "layer.tar is missing from the image")
	layer, err := testhelpers.UntarBytes(layerTar)
	require.NoError(t, err)
	return image, layer
}

func TestCreate(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := memBuilder(t, fs, "alpine")
	require.NoError(t, b.Create(context.Background()))
	assert.Equal(t, Done, b.State())

	entries, err := afero.ReadDir(fs, "/images")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alpine.tar", entries[0].Name())
	assert.False(t, entries[0].IsDir())

	image, layer := readImage(t, fs, "/images/alpine.tar")
	assert.JSONEq(t, `{"alpine":{"latest":"815b809d588c80fd6ddf4d6ac244ad1c01ae4cbe0f91cc7480e306671ee9c346"}}`, string(image["repositories"]))
	assert.Equal(t, "1.0", string(image[types.LayerId+"/VERSION"]))
	assert.Contains(t, image, types.LayerId+"/")
	assert.Contains(t, image, types.LayerId+"/json")
	assert.NotContains(t, image, types.LayerId+"/layer/")
	assert.Equal(t, "frobozz", string(layer["hello"]))

	var lm struct {
		Id     string `json:"id"`
		Config struct {
			Env        []string
			Cmd        json.RawMessage
			Entrypoint json.RawMessage
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(image[types.LayerId+"/json"], &lm))
	assert.Equal(t, types.LayerId, lm.Id)
	assert.Equal(t, types.DefaultEnvironment(), lm.Config.Env)
	assert.Equal(t, "null", string(lm.Config.Cmd))
	assert.Equal(t, "null", string(lm.Config.Entrypoint))
}

func TestCreateWithConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := memBuilder(t, fs, "busybox",
		WithEntrypoint(`["sh", "-c"]`),
		WithCmd(`["echo hello"]`),
		WithEnvironment("PATH=/bin", "FOO=bar"))
	require.NoError(t, b.Create(context.Background()))

	image, _ := readImage(t, fs, "/images/busybox.tar")
	var lm struct {
		Config struct {
			Env        []string
			Cmd        []string
			Entrypoint []string
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(image[types.LayerId+"/json"], &lm))
	assert.Equal(t, []string{"PATH=/bin", "FOO=bar"}, lm.Config.Env)
	assert.Equal(t, []string{"echo hello"}, lm.Config.Cmd)
	assert.Equal(t, []string{"sh", "-c"}, lm.Config.Entrypoint)
}

func TestCreateAsync(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := <-Create(context.Background(), "/images/nested/deeper", "alpine",
		InMemory(fs), WithPopulator(testhelpers.FakePopulator{Fs: fs}))
	require.NoError(t, err)
	exists, err := afero.Exists(fs, "/images/nested/deeper/alpine.tar")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateInvalidOpts(t *testing.T) {
	err := <-Create(context.Background(), "/images", "")
	assert.ErrorContains(t, err, "image name is undefined")
}

func TestCreateImageDirExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/images/alpine/frobozz", []byte("zork"), 0644))
	fa := &testhelpers.FakeArchiver{}
	b := memBuilder(t, fs, "alpine", WithArchiver(fa))

	err := b.Create(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "/images/alpine")
	assert.Equal(t, Failed, b.State())
	assert.Equal(t, Init, b.FailedAt())
	assert.Empty(t, fa.Calls)

	entries, err := afero.ReadDir(fs, "/images")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alpine", entries[0].Name())
	entries, err = afero.ReadDir(fs, "/images/alpine")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "frobozz", entries[0].Name())
}

func TestCreateMalformedEntrypoint(t *testing.T) {
	fs := afero.NewMemMapFs()
	fa := &testhelpers.FakeArchiver{}
	b := memBuilder(t, fs, "alpine", WithArchiver(fa), WithEntrypoint("{invalid"))

	err := b.Create(context.Background())
	assert.ErrorContains(t, err, "failed to parse entrypoint")
	assert.Equal(t, DirsCreated, b.FailedAt())
	assert.Empty(t, fa.Calls)
	// no cleanup on failure
	exists, _ := afero.DirExists(fs, "/images/alpine/"+types.LayerId+"/layer")
	assert.True(t, exists)
}

func TestCreatePopulatorFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := memBuilder(t, fs, "alpine", WithPopulator(testhelpers.FakePopulator{Err: errors.New("no busybox for you")}))
	err := b.Create(context.Background())
	assert.ErrorContains(t, err, "no busybox for you")
	assert.Equal(t, ManifestsWritten, b.FailedAt())
}

func TestCreateArchiverDiscards(t *testing.T) {
	for idx, step := range []State{RootfsPopulated, VersionWritten} {
		fs := afero.NewMemMapFs()
		fa := &testhelpers.FakeArchiver{Errs: map[int]error{idx: archive.ErrDiscarded}}
		b := memBuilder(t, fs, "alpine", WithArchiver(fa))
		err := b.Create(context.Background())
		assert.ErrorContains(t, err, "discarded")
		assert.ErrorIs(t, err, ErrDiscarded)
		assert.Equal(t, step, b.FailedAt())
		assert.Len(t, fa.Calls, idx+1)
	}
}

func TestCreateArchiverFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	fa := &testhelpers.FakeArchiver{Errs: map[int]error{1: errors.New("flathead")}}
	b := memBuilder(t, fs, "alpine", WithArchiver(fa))
	err := b.Create(context.Background())
	assert.EqualError(t, err, "failed to tar image: flathead")
	assert.NotErrorIs(t, err, ErrDiscarded)
	assert.Equal(t, VersionWritten, b.FailedAt())
	require.Len(t, fa.Calls, 2)
	assert.Equal(t, "/images/alpine/"+types.LayerId+"/layer", fa.Calls[0][0])
	assert.Equal(t, "/images/alpine/"+types.LayerId+"/layer.tar", fa.Calls[0][1])
	assert.Equal(t, "/images/alpine", fa.Calls[1][0])
	assert.Equal(t, "/images/alpine.tar", fa.Calls[1][1])
	// the staging dir is left behind for diagnosis
	b2, err := afero.ReadFile(fs, "/images/alpine/"+types.LayerId+"/VERSION")
	require.NoError(t, err)
	assert.Equal(t, "1.0", string(b2))
}

func TestCreateCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	fa := &testhelpers.FakeArchiver{Block: true, Entered: make(chan struct{}, 1)}
	b := memBuilder(t, fs, "alpine", WithArchiver(fa))
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Start(ctx)
	<-fa.Entered
	cancel()
	err := <-ch
	assert.ErrorContains(t, err, "failed to tar root filesystem: discarded")
	assert.Equal(t, Failed, b.State())
	assert.Equal(t, RootfsPopulated, b.FailedAt())
}

func TestCreateCancelledBeforeStart(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := memBuilder(t, fs, "alpine")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Create(ctx)
	assert.ErrorContains(t, err, "discarded")
	assert.Equal(t, Init, b.FailedAt())
}

func TestCreateTwice(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := memBuilder(t, fs, "alpine")
	require.NoError(t, b.Create(context.Background()))
	assert.ErrorContains(t, b.Create(context.Background()), "already been used")
}

func TestCreateDistinctBuildsConcurrently(t *testing.T) {
	fs := afero.NewMemMapFs()
	var wg sync.WaitGroup
	names := []string{"alpine", "busybox", "ubuntu", "fedora"}
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = <-memBuilder(t, fs, name).Start(context.Background())
		}()
	}
	wg.Wait()
	for i, name := range names {
		assert.NoError(t, errs[i], name)
		exists, _ := afero.Exists(fs, "/images/"+name+".tar")
		assert.True(t, exists, name)
	}
}

// slowArchiver delays the in-process archiver so that concurrent builds overlap.
type slowArchiver struct {
	archive.TarArchiver
}

func (sa slowArchiver) Archive(ctx context.Context, sourceDir, tarfile string) <-chan error {
	time.Sleep(200 * time.Millisecond)
	return sa.TarArchiver.Archive(ctx, sourceDir, tarfile)
}

func TestCreateSameImageWithConcurrentBuilds(t *testing.T) {
	SetConcurrentBuilds(10)
	defer buildsync.DisableConcurrentBuilds()

	fs := afero.NewMemMapFs()
	var wg sync.WaitGroup
	builders := make([]*Builder, 3)
	errs := make([]error, len(builders))
	for i := range builders {
		builders[i] = memBuilder(t, fs, "alpine", WithArchiver(slowArchiver{archive.NewTarArchiver(fs)}))
	}
	for i, b := range builders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.Create(context.Background())
		}()
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err)
		assert.Equal(t, Done, builders[i].State())
	}
	entries, err := afero.ReadDir(fs, "/images")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alpine.tar", entries[0].Name())
}

// A builder waiting on another build of the same tarball honors its own context.
func TestCreateSameImageWaiterCancelled(t *testing.T) {
	SetConcurrentBuilds(10)
	defer buildsync.DisableConcurrentBuilds()

	fs := afero.NewMemMapFs()
	fa := &testhelpers.FakeArchiver{Block: true, Entered: make(chan struct{}, 1)}
	leader := memBuilder(t, fs, "alpine", WithArchiver(fa))
	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()
	leaderCh := leader.Start(leaderCtx)
	<-fa.Entered

	waiter := memBuilder(t, fs, "alpine", WithArchiver(&testhelpers.FakeArchiver{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := waiter.Create(ctx)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorContains(t, err, "discarded")
	assert.ErrorIs(t, err, ErrDiscarded)
	assert.NotErrorIs(t, err, buildsync.ErrTimeout)
	assert.Equal(t, Failed, waiter.State())
	assert.Equal(t, Init, waiter.FailedAt())

	cancelLeader()
	assert.ErrorIs(t, <-leaderCh, ErrDiscarded)
	assert.Equal(t, Failed, leader.State())
}

// TestCreateOnDisk builds with the system tar on the OS filesystem.
func TestCreateOnDisk(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar is not on the PATH")
	}
	d := filepath.Join(t.TempDir(), "images")
	fs := afero.NewOsFs()
	err := <-Create(context.Background(), d, "alpine", WithPopulator(testhelpers.FakePopulator{Fs: fs}))
	require.NoError(t, err)

	entries, err := afero.ReadDir(fs, d)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alpine.tar", entries[0].Name())
	image, layer := readImage(t, fs, filepath.Join(d, "alpine.tar"))
	assert.JSONEq(t, `{"alpine":{"latest":"`+types.LayerId+`"}}`, string(image["repositories"]))
	assert.Equal(t, "frobozz", string(layer["hello"]))
}
