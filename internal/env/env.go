// Package env assembles the long-lived objects a command needs: configuration, the record store on the configured
// backend, the media provider and the transcoder.
package env

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/database"
	"github.com/alanbriolat/channel-archiver/internal/boltdb"
	"github.com/alanbriolat/channel-archiver/internal/ffmpeg"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

type Env interface {
	Context() context.Context
	Config() channel_archiver.Config
	ConfigDir() string
	Store() *store.Store
	Provider() channel_archiver.MediaProvider
	Transcoder() channel_archiver.Transcoder
	Logger() *zap.Logger
	ProviderRegistry() *channel_archiver.ProviderRegistry
	// Close releases the store and its backend.
	Close() error
}

type env struct {
	config           channel_archiver.Config
	configDir        string
	ctx              context.Context
	store            *store.Store
	provider         channel_archiver.MediaProvider
	transcoder       channel_archiver.Transcoder
	log              *zap.Logger
	providerRegistry *channel_archiver.ProviderRegistry
}

func (e *env) Context() context.Context {
	return e.ctx
}

func (e *env) Config() channel_archiver.Config {
	return e.config
}

func (e *env) ConfigDir() string {
	return e.configDir
}

func (e *env) Store() *store.Store {
	return e.store
}

func (e *env) Provider() channel_archiver.MediaProvider {
	return e.provider
}

func (e *env) Transcoder() channel_archiver.Transcoder {
	return e.transcoder
}

func (e *env) Logger() *zap.Logger {
	return e.log
}

func (e *env) ProviderRegistry() *channel_archiver.ProviderRegistry {
	return e.providerRegistry
}

func (e *env) Close() error {
	return e.store.Close()
}

type EnvBuilder interface {
	Build() (Env, error)
	Context(ctx context.Context) EnvBuilder
	Logger(l *zap.Logger) EnvBuilder
	Config(c channel_archiver.Config) EnvBuilder
	// ConfigDir specifies an exact configuration path to use.
	ConfigDir(path string) EnvBuilder
	// UserConfigDir will use the specified application to generate a configuration path, according to the platform's
	// default user application data path, e.g. ~/.config/{{appName}}.
	UserConfigDir(appName string) EnvBuilder
	// Backend specifies an existing store backend to use, instead of the one named by the config.
	Backend(b store.Backend) EnvBuilder
	ProviderRegistry(r *channel_archiver.ProviderRegistry) EnvBuilder
	// Transcoder replaces the ffmpeg transcoder.
	Transcoder(t channel_archiver.Transcoder) EnvBuilder
}

type envBuilder struct {
	env
	backend       store.Backend
	makeConfigDir func(*envBuilder) (string, error)
}

func NewEnvBuilder() EnvBuilder {
	return &envBuilder{
		env: env{
			config:           channel_archiver.DefaultConfig,
			ctx:              context.Background(),
			log:              zap.L(),
			providerRegistry: &channel_archiver.DefaultProviderRegistry,
		},
	}
}

// storePath gives the configured store path, or the backend's default file inside the config dir.
func storePath(config channel_archiver.Config, configDir string) string {
	if config.StorePath != "" {
		return config.StorePath
	}
	return filepath.Join(configDir, channel_archiver.DefaultStoreFilename(config.StoreBackend))
}

func openBackend(config channel_archiver.Config, path string, log *zap.Logger) (store.Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create store dir for %v: %w", path, err)
	}
	switch config.StoreBackend {
	case channel_archiver.StoreBackendBolt:
		return boltdb.New(path)
	case channel_archiver.StoreBackendSQLite:
		return database.NewDatabase(path, log)
	default:
		return store.NewFileBackend(path), nil
	}
}

func (b *envBuilder) Build() (_ Env, err error) {
	// Validate the builder configuration
	if b.makeConfigDir == nil {
		return nil, fmt.Errorf("must use ConfigDir() or UserConfigDir()")
	}
	if err = b.config.Validate(); err != nil {
		return nil, err
	}

	env := b.env
	log := env.log.Sugar().Named("env")

	if env.configDir, err = b.makeConfigDir(b); err != nil {
		return nil, fmt.Errorf("failed to find config dir: %w", err)
	}
	if err = os.MkdirAll(env.configDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create config dir %v: %w", env.configDir, err)
	}
	for _, dir := range []string{env.config.ProcessingDir, env.config.CompletedDir, env.config.TempDir} {
		if err = os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %v: %w", dir, err)
		}
	}

	if env.provider, err = env.providerRegistry.New(env.config.Provider, env.config); err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	if env.transcoder == nil {
		env.transcoder = ffmpeg.New(env.config.FFmpegPath, env.config.ProgressUpdateInterval)
	}

	backend := b.backend
	if backend == nil {
		path := storePath(env.config, env.configDir)
		log.Debugw("opening store", "backend", env.config.StoreBackend, "path", path)
		if backend, err = openBackend(env.config, path, env.log); err != nil {
			return nil, err
		}
	}
	if env.store, err = store.Open(backend); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &env, nil
}

func (b *envBuilder) Context(ctx context.Context) EnvBuilder {
	b.ctx = ctx
	return b
}

func (b *envBuilder) Logger(l *zap.Logger) EnvBuilder {
	b.log = l
	return b
}

func (b *envBuilder) Config(c channel_archiver.Config) EnvBuilder {
	b.config = c
	return b
}

func (b *envBuilder) ConfigDir(path string) EnvBuilder {
	b.configDir = path
	b.makeConfigDir = func(b *envBuilder) (string, error) { return b.configDir, nil }
	return b
}

func (b *envBuilder) UserConfigDir(appName string) EnvBuilder {
	b.configDir = ""
	b.makeConfigDir = func(b *envBuilder) (string, error) {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
	return b
}

func (b *envBuilder) Backend(backend store.Backend) EnvBuilder {
	b.backend = backend
	return b
}

func (b *envBuilder) ProviderRegistry(r *channel_archiver.ProviderRegistry) EnvBuilder {
	b.providerRegistry = r
	return b
}

func (b *envBuilder) Transcoder(t channel_archiver.Transcoder) EnvBuilder {
	b.transcoder = t
	return b
}
