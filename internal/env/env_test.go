package env

import (
	"errors"
	"path/filepath"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/internal/fake"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

func testRegistry(t *testing.T) *channel_archiver.ProviderRegistry {
	t.Helper()
	var r channel_archiver.ProviderRegistry
	r.MustAdd(channel_archiver.Provider{
		Name:  "fake",
		New:   func(c channel_archiver.Config) (channel_archiver.MediaProvider, error) { return fake.NewProvider(c.TempDir), nil },
		Match: func(s string) (string, error) { return s, nil },
	})
	return &r
}

func testConfig(t *testing.T, backend string) channel_archiver.Config {
	t.Helper()
	root := t.TempDir()
	config := channel_archiver.DefaultConfig
	config.StoreBackend = backend
	config.Provider = "fake"
	config.ProcessingDir = filepath.Join(root, "processing")
	config.CompletedDir = filepath.Join(root, "completed")
	config.TempDir = filepath.Join(root, "tmp")
	return config
}

func TestBuild_Backends(t *testing.T) {
	for _, backend := range []string{channel_archiver.StoreBackendJSON, channel_archiver.StoreBackendBolt, channel_archiver.StoreBackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			assert := assert_.New(t)
			configDir := filepath.Join(t.TempDir(), "config")
			config := testConfig(t, backend)
			build := func() Env {
				e, err := NewEnvBuilder().Config(config).ConfigDir(configDir).ProviderRegistry(testRegistry(t)).Build()
				require_.NoError(t, err)
				return e
			}

			e := build()
			assert.Equal(configDir, e.ConfigDir())
			assert.IsType(&fake.Provider{}, e.Provider())
			assert.NotNil(e.Transcoder())
			assert.DirExists(config.ProcessingDir)
			assert.DirExists(config.CompletedDir)
			require_.NoError(t, e.Store().AddChannel(store.Channel{ID: "c1", Name: "One", DownloadCount: 1, MaximumDuration: 10}))
			assert.FileExists(filepath.Join(configDir, channel_archiver.DefaultStoreFilename(backend)))
			require_.NoError(t, e.Close())

			// State survives a rebuild
			e = build()
			assert.Equal("One", e.Store().Channel("c1").Unwrap().Name)
			require_.NoError(t, e.Close())
		})
	}
}

func TestBuild_ExplicitStorePath(t *testing.T) {
	assert := assert_.New(t)
	config := testConfig(t, channel_archiver.StoreBackendJSON)
	config.StorePath = filepath.Join(t.TempDir(), "nested", "state.json")
	e, err := NewEnvBuilder().Config(config).ConfigDir(t.TempDir()).ProviderRegistry(testRegistry(t)).Build()
	require_.NoError(t, err)
	defer e.Close()
	require_.NoError(t, e.Store().AddChannel(store.Channel{ID: "c1"}))
	assert.FileExists(config.StorePath)
}

func TestBuild_Errors(t *testing.T) {
	assert := assert_.New(t)

	_, err := NewEnvBuilder().Config(testConfig(t, "json")).ProviderRegistry(testRegistry(t)).Build()
	assert.Error(err)

	config := testConfig(t, "json")
	config.Provider = "nope"
	_, err = NewEnvBuilder().Config(config).ConfigDir(t.TempDir()).ProviderRegistry(testRegistry(t)).Build()
	assert.True(errors.Is(err, channel_archiver.ErrUnknownProvider))

	config = testConfig(t, "carrier-pigeon")
	_, err = NewEnvBuilder().Config(config).ConfigDir(t.TempDir()).ProviderRegistry(testRegistry(t)).Build()
	assert.True(errors.Is(err, channel_archiver.ErrValidation))

	// A malformed document is fatal
	_, err = NewEnvBuilder().
		Config(testConfig(t, "json")).
		ConfigDir(t.TempDir()).
		ProviderRegistry(testRegistry(t)).
		Backend(&store.MemoryBackend{Data: []byte("{")}).
		Build()
	assert.True(errors.Is(err, channel_archiver.ErrValidation))
}
