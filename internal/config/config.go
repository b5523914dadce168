// Package config loads signavatar settings from defaults, an optional YAML
// file and SIGNAVATAR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ayusman/signavatar/internal/pipeline"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// SIGNAVATAR_PIPELINE_THRESHOLD=0.5.
const EnvPrefix = "SIGNAVATAR"

// DefaultLabels are the gesture classes of the bundled model, in output
// order.
var DefaultLabels = []string{
	"thumbs_up",
	"peace_sign",
	"deaf",
	"girl",
	"hard of hearing",
	"hearing",
	"help",
	"how",
	"know",
	"me",
	"meet",
}

// Pipeline holds the sequence classification settings.
type Pipeline struct {
	Window        int      `mapstructure:"window" yaml:"window"`
	Features      int      `mapstructure:"features" yaml:"features"`
	KeypointWidth int      `mapstructure:"keypoint_width" yaml:"keypoint_width"`
	Labels        []string `mapstructure:"labels" yaml:"labels"`
	Threshold     float64  `mapstructure:"threshold" yaml:"threshold"`
	Warmup        bool     `mapstructure:"warmup" yaml:"warmup"`
}

// Model locates the model description.
type Model struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Server holds the HTTP listener settings.
type Server struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
}

// Store locates the SQLite database.
type Store struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Capture configures the local camera loop used by `signavatar run`.
type Capture struct {
	// Source is a camera device ID ("0") or a video file path.
	Source string `mapstructure:"source" yaml:"source"`
	FPS    int    `mapstructure:"fps" yaml:"fps"`
}

// Detector configures the MediaPipe holistic subprocess.
type Detector struct {
	Script          string  `mapstructure:"script" yaml:"script"`
	Python          string  `mapstructure:"python" yaml:"python"`
	MinConfidence   float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	MinTrackingConf float64 `mapstructure:"min_tracking_confidence" yaml:"min_tracking_confidence"`
}

// Log configures logrus.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the effective configuration.
type Config struct {
	DataDir  string   `mapstructure:"data_dir" yaml:"data_dir"`
	Pipeline Pipeline `mapstructure:"pipeline" yaml:"pipeline"`
	Model    Model    `mapstructure:"model" yaml:"model"`
	Server   Server   `mapstructure:"server" yaml:"server"`
	Store    Store    `mapstructure:"store" yaml:"store"`
	Capture  Capture  `mapstructure:"capture" yaml:"capture"`
	Detector Detector `mapstructure:"detector" yaml:"detector"`
	Log      Log      `mapstructure:"log" yaml:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "~/.signavatar")

	v.SetDefault("pipeline.window", 20)
	v.SetDefault("pipeline.features", 300)
	v.SetDefault("pipeline.keypoint_width", 4)
	v.SetDefault("pipeline.labels", DefaultLabels)
	v.SetDefault("pipeline.threshold", 0.3)
	v.SetDefault("pipeline.warmup", true)

	v.SetDefault("model.path", "~/.signavatar/models/model.json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.static_dir", "")

	v.SetDefault("store.path", "")

	v.SetDefault("capture.source", "0")
	v.SetDefault("capture.fps", 15)

	v.SetDefault("detector.script", "")
	v.SetDefault("detector.python", "")
	v.SetDefault("detector.min_confidence", 0.8)
	v.SetDefault("detector.min_tracking_confidence", 0.9)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
}

// Load builds the configuration. If path is empty, signavatar.yaml is
// searched in the working directory and in ~/.signavatar; a missing file is
// not an error. It returns the config file used, or "" if none.
func Load(path string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return nil, "", err
		}
		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName("signavatar")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".signavatar"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return &cfg, v.ConfigFileUsed(), nil
}

func (c *Config) normalize() error {
	var err error
	if c.DataDir, err = expandPath(c.DataDir); err != nil {
		return err
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "signavatar.db")
	}
	for _, p := range []*string{&c.Model.Path, &c.Store.Path, &c.Server.StaticDir, &c.Detector.Script} {
		if *p, err = expandPath(*p); err != nil {
			return err
		}
	}
	for i, label := range c.Pipeline.Labels {
		c.Pipeline.Labels[i] = strings.TrimSpace(label)
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	return nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.Window < 1 {
		return fmt.Errorf("pipeline.window must be at least 1, got %d", p.Window)
	}
	if p.Features < 1 {
		return fmt.Errorf("pipeline.features must be at least 1, got %d", p.Features)
	}
	if p.KeypointWidth < 2 || p.KeypointWidth > 4 {
		return fmt.Errorf("pipeline.keypoint_width must be between 2 and 4, got %d", p.KeypointWidth)
	}
	if len(p.Labels) == 0 {
		return errors.New("pipeline.labels must list at least one label")
	}
	seen := make(map[string]bool, len(p.Labels))
	for _, label := range p.Labels {
		if label == "" {
			return errors.New("pipeline.labels must not contain empty labels")
		}
		if seen[label] {
			return fmt.Errorf("pipeline.labels contains %q twice", label)
		}
		seen[label] = true
	}
	if p.Threshold < 0 || p.Threshold >= 1 {
		return fmt.Errorf("pipeline.threshold must be in [0,1), got %v", p.Threshold)
	}
	if c.Capture.FPS < 1 {
		return fmt.Errorf("capture.fps must be at least 1, got %d", c.Capture.FPS)
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log.format must be auto, text or json, got %q", c.Log.Format)
	}
	return nil
}

// PipelineConfig converts the settings into a pipeline.Config.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Window:        c.Pipeline.Window,
		Features:      c.Pipeline.Features,
		KeypointWidth: c.Pipeline.KeypointWidth,
		Labels:        append([]string(nil), c.Pipeline.Labels...),
		Threshold:     c.Pipeline.Threshold,
		Warmup:        c.Pipeline.Warmup,
	}
}

// LockPath is the file guarding the data directory against a second
// instance.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "signavatar.lock")
}

// EnsureDirectories creates the data directory and the database's parent.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, filepath.Dir(c.Store.Path)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(value string) (string, error) {
	if value == "" {
		return value, nil
	}
	if strings.HasPrefix(value, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if value == "~" {
			value = home
		} else if len(value) > 1 && (value[1] == '/' || value[1] == '\\') {
			value = filepath.Join(home, value[2:])
		}
	}
	abs, err := filepath.Abs(filepath.Clean(value))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return abs, nil
}
