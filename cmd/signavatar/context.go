package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/signavatar/internal/classifier"
	"github.com/ayusman/signavatar/internal/config"
	"github.com/ayusman/signavatar/internal/logging"
	"github.com/ayusman/signavatar/internal/pipeline"
	"github.com/ayusman/signavatar/internal/pose"
	"github.com/ayusman/signavatar/internal/store"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configFile string
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, file, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Log.Level = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
		}
		if err := logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		if file != "" {
			logrus.WithField("file", file).Debug("Loaded configuration")
		}
		c.config = cfg
		c.configFile = file
	})
	return c.config, c.configErr
}

// lock guards the data directory against a second serve or run instance.
func (c *commandContext) lock() (*flock.Flock, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another signavatar instance is using %s", cfg.DataDir)
	}
	return lock, nil
}

func (c *commandContext) openStore() (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// pipelineConfig applies the threshold saved in the store, if any, over
// the configured one.
func (c *commandContext) pipelineConfig(st *store.Store) (pipeline.Config, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return pipeline.Config{}, err
	}
	pc := cfg.PipelineConfig()
	pc.Logger = logrus.StandardLogger()
	if st == nil {
		return pc, nil
	}

	value, err := st.Settings().Get(store.SettingThreshold)
	if errors.Is(err, store.ErrNotFound) {
		return pc, nil
	}
	if err != nil {
		return pipeline.Config{}, err
	}
	threshold, err := parseThreshold(value)
	if err != nil {
		logrus.WithError(err).Warn("Ignoring stored threshold")
		return pc, nil
	}
	pc.Threshold = threshold
	return pc, nil
}

func (c *commandContext) loadModel(pc pipeline.Config) (*classifier.Model, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return classifier.Load(cfg.Model.Path, pc.Shape(), classifier.LoadOptions{
		Labels: pc.Labels,
		Warmup: pc.Warmup,
		Logger: logrus.StandardLogger(),
	})
}

func loadPoses(labels []string, st *store.Store) (*pose.Table, error) {
	table := pose.NewTable(labels)
	if st == nil {
		return table, nil
	}
	if err := table.Load(st.Poses(), logrus.StandardLogger()); err != nil {
		return nil, err
	}
	return table, nil
}

func parseThreshold(value string) (float64, error) {
	threshold, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q", value)
	}
	if threshold < 0 || threshold >= 1 {
		return 0, fmt.Errorf("threshold must be in [0, 1), got %v", threshold)
	}
	return threshold, nil
}
