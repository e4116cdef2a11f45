package channel_archiver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

const (
	StoreBackendJSON   = "json"
	StoreBackendBolt   = "bolt"
	StoreBackendSQLite = "sqlite"
)

type Config struct {
	StoreBackend string
	// Empty means "derive from the config dir and backend".
	StorePath     string
	ProcessingDir string
	CompletedDir  string
	TempDir       string
	Provider      string
	FFmpegPath    string

	TranscodeTimeout time.Duration
	// Minimum interval between transcode progress notifications.
	ProgressUpdateInterval time.Duration
	RoutineInterval        time.Duration
	ThumbnailInterval      time.Duration
	HTTPTimeout            time.Duration
}

var DefaultConfig = Config{
	StoreBackend:           StoreBackendJSON,
	ProcessingDir:          filepath.Join("downloads", "processing"),
	CompletedDir:           filepath.Join("downloads", "completed"),
	TempDir:                os.TempDir(),
	Provider:               "youtube",
	FFmpegPath:             "ffmpeg",
	TranscodeTimeout:       time.Hour,
	ProgressUpdateInterval: 500 * time.Millisecond,
	RoutineInterval:        time.Hour,
	ThumbnailInterval:      24 * time.Hour,
	HTTPTimeout:            30 * time.Second,
}

// DefaultStoreFilename gives the store file name used for a backend when no explicit path is configured.
func DefaultStoreFilename(backend string) string {
	switch backend {
	case StoreBackendBolt:
		return "watching.db"
	case StoreBackendSQLite:
		return "watching.sqlite3"
	default:
		return "watching.json"
	}
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendJSON, StoreBackendBolt, StoreBackendSQLite:
	default:
		return &ValidationError{Entity: "config", Field: "store_backend", Reason: fmt.Sprintf("unknown backend %q", c.StoreBackend)}
	}
	dirs := []struct {
		field string
		value string
	}{
		{"processing_dir", c.ProcessingDir},
		{"completed_dir", c.CompletedDir},
		{"temp_dir", c.TempDir},
	}
	for _, d := range dirs {
		if d.value == "" {
			return &ValidationError{Entity: "config", Field: d.field, Reason: "must not be empty"}
		}
	}
	if c.Provider == "" {
		return &ValidationError{Entity: "config", Field: "provider", Reason: "must not be empty"}
	}
	durations := []struct {
		field string
		value time.Duration
	}{
		{"transcode_timeout", c.TranscodeTimeout},
		{"progress_update_interval", c.ProgressUpdateInterval},
		{"routine_interval", c.RoutineInterval},
		{"thumbnail_interval", c.ThumbnailInterval},
		{"http_timeout", c.HTTPTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return &ValidationError{Entity: "config", Field: d.field, Reason: "must be positive"}
		}
	}
	return nil
}

// fileConfig is the on-disk shape of Config. Durations are strings such as "90s" or "1h30m".
type fileConfig struct {
	StoreBackend           string `toml:"store_backend" yaml:"store_backend"`
	StorePath              string `toml:"store_path" yaml:"store_path"`
	ProcessingDir          string `toml:"processing_dir" yaml:"processing_dir"`
	CompletedDir           string `toml:"completed_dir" yaml:"completed_dir"`
	TempDir                string `toml:"temp_dir" yaml:"temp_dir"`
	Provider               string `toml:"provider" yaml:"provider"`
	FFmpegPath             string `toml:"ffmpeg_path" yaml:"ffmpeg_path"`
	TranscodeTimeout       string `toml:"transcode_timeout" yaml:"transcode_timeout"`
	ProgressUpdateInterval string `toml:"progress_update_interval" yaml:"progress_update_interval"`
	RoutineInterval        string `toml:"routine_interval" yaml:"routine_interval"`
	ThumbnailInterval      string `toml:"thumbnail_interval" yaml:"thumbnail_interval"`
	HTTPTimeout            string `toml:"http_timeout" yaml:"http_timeout"`
}

// LoadConfigFile reads a TOML or YAML file (chosen by extension) and overlays its non-empty values onto base.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		return base, fmt.Errorf("unsupported config file type: %v", path)
	}
	if err != nil {
		return base, fmt.Errorf("failed to parse config file %v: %w", path, err)
	}
	return fc.apply(base)
}

func (fc *fileConfig) apply(c Config) (Config, error) {
	strs := []struct {
		dst *string
		src string
	}{
		{&c.StoreBackend, fc.StoreBackend},
		{&c.StorePath, fc.StorePath},
		{&c.ProcessingDir, fc.ProcessingDir},
		{&c.CompletedDir, fc.CompletedDir},
		{&c.TempDir, fc.TempDir},
		{&c.Provider, fc.Provider},
		{&c.FFmpegPath, fc.FFmpegPath},
	}
	for _, s := range strs {
		if s.src != "" {
			*s.dst = s.src
		}
	}
	durations := []struct {
		name string
		dst  *time.Duration
		src  string
	}{
		{"transcode_timeout", &c.TranscodeTimeout, fc.TranscodeTimeout},
		{"progress_update_interval", &c.ProgressUpdateInterval, fc.ProgressUpdateInterval},
		{"routine_interval", &c.RoutineInterval, fc.RoutineInterval},
		{"thumbnail_interval", &c.ThumbnailInterval, fc.ThumbnailInterval},
		{"http_timeout", &c.HTTPTimeout, fc.HTTPTimeout},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return c, &ValidationError{Entity: "config", Field: d.name, Reason: err.Error()}
		}
		*d.dst = v
	}
	return c, nil
}
