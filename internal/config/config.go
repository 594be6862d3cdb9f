package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	Seed                uint64  `mapstructure:"seed" yaml:"seed"`
	CandidateTimeoutSec int     `mapstructure:"candidate_timeout_sec" yaml:"candidate_timeout_sec"`
	Workers             int     `mapstructure:"workers" yaml:"workers"`
	CVFolds             int     `mapstructure:"cv_folds" yaml:"cv_folds"`
	TestFraction        float64 `mapstructure:"test_fraction" yaml:"test_fraction"`
	MaxOneHot           int     `mapstructure:"max_one_hot" yaml:"max_one_hot"`

	// Clustering
	DefaultK            int     `mapstructure:"default_k" yaml:"default_k"`
	DBSCANEps           float64 `mapstructure:"dbscan_eps" yaml:"dbscan_eps"`
	DBSCANMinSamples    int     `mapstructure:"dbscan_min_samples" yaml:"dbscan_min_samples"`
	HierarchicalMaxRows int     `mapstructure:"hierarchical_max_rows" yaml:"hierarchical_max_rows"`

	// Anomaly detection
	Contamination       float64 `mapstructure:"contamination" yaml:"contamination"`
	IsolationTrees      int     `mapstructure:"isolation_trees" yaml:"isolation_trees"`
	IsolationSampleSize int     `mapstructure:"isolation_sample_size" yaml:"isolation_sample_size"`
	LOFNeighbors        int     `mapstructure:"lof_neighbors" yaml:"lof_neighbors"`

	// Time series
	Frequency       string `mapstructure:"frequency" yaml:"frequency"`
	ForecastHorizon int    `mapstructure:"forecast_horizon" yaml:"forecast_horizon"`

	// Loading
	MaxRows int `mapstructure:"max_rows" yaml:"max_rows"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// Keys lists the settable configuration keys in display order.
var Keys = []string{
	"seed", "candidate_timeout_sec", "workers", "cv_folds", "test_fraction", "max_one_hot",
	"default_k", "dbscan_eps", "dbscan_min_samples", "hierarchical_max_rows",
	"contamination", "isolation_trees", "isolation_sample_size", "lof_neighbors",
	"frequency", "forecast_horizon", "max_rows", "log_level", "log_format",
}

// Default returns the built-in settings, the same values Load falls back to.
func Default() *Global {
	return &Global{
		Seed:                42,
		CandidateTimeoutSec: 30,
		Workers:             4,
		CVFolds:             5,
		TestFraction:        0.3,
		MaxOneHot:           10,
		DefaultK:            3,
		DBSCANEps:           0.5,
		DBSCANMinSamples:    5,
		HierarchicalMaxRows: 3000,
		Contamination:       0.1,
		IsolationTrees:      100,
		IsolationSampleSize: 256,
		LOFNeighbors:        20,
		Frequency:           "M",
		ForecastHorizon:     12,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.shelter/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		dir := filepath.Join(home, ".shelter")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("SHELTER")
	v.AutomaticEnv()

	v.SetDefault("seed", 42)
	v.SetDefault("candidate_timeout_sec", 30)
	v.SetDefault("workers", 4)
	v.SetDefault("cv_folds", 5)
	v.SetDefault("test_fraction", 0.3)
	v.SetDefault("max_one_hot", 10)
	v.SetDefault("default_k", 3)
	v.SetDefault("dbscan_eps", 0.5)
	v.SetDefault("dbscan_min_samples", 5)
	v.SetDefault("hierarchical_max_rows", 3000)
	v.SetDefault("contamination", 0.1)
	v.SetDefault("isolation_trees", 100)
	v.SetDefault("isolation_sample_size", 256)
	v.SetDefault("lof_neighbors", 20)
	v.SetDefault("frequency", "M")
	v.SetDefault("forecast_horizon", 12)
	v.SetDefault("max_rows", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".shelter"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Set parses val for key and stores it. Unknown keys and malformed or
// out-of-range values are rejected without modifying c.
func (c *Global) Set(key, val string) error {
	val = strings.TrimSpace(val)
	setInt := func(dst *int, floor int) error {
		i, err := strconv.Atoi(val)
		if err != nil || i < floor {
			return fmt.Errorf("invalid int for %s: %v", key, val)
		}
		*dst = i
		return nil
	}
	// setFloat accepts lo < f <= hi.
	setFloat := func(dst *float64, lo, hi float64) error {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || f <= lo || f > hi {
			return fmt.Errorf("invalid float for %s: %v", key, val)
		}
		*dst = f
		return nil
	}
	switch key {
	case "seed":
		u, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed: %v", val)
		}
		c.Seed = u
	case "candidate_timeout_sec":
		return setInt(&c.CandidateTimeoutSec, 1)
	case "workers":
		return setInt(&c.Workers, 1)
	case "cv_folds":
		return setInt(&c.CVFolds, 2)
	case "test_fraction":
		return setFloat(&c.TestFraction, 0, 0.5)
	case "max_one_hot":
		return setInt(&c.MaxOneHot, 1)
	case "default_k":
		return setInt(&c.DefaultK, 2)
	case "dbscan_eps":
		return setFloat(&c.DBSCANEps, 0, math.MaxFloat64)
	case "dbscan_min_samples":
		return setInt(&c.DBSCANMinSamples, 1)
	case "hierarchical_max_rows":
		return setInt(&c.HierarchicalMaxRows, 2)
	case "contamination":
		return setFloat(&c.Contamination, 0, 0.5)
	case "isolation_trees":
		return setInt(&c.IsolationTrees, 1)
	case "isolation_sample_size":
		return setInt(&c.IsolationSampleSize, 2)
	case "lof_neighbors":
		return setInt(&c.LOFNeighbors, 1)
	case "frequency":
		switch strings.ToUpper(val) {
		case "D", "W", "M", "Q", "Y":
			c.Frequency = strings.ToUpper(val)
		default:
			return fmt.Errorf("invalid frequency: %s (use D, W, M, Q or Y)", val)
		}
	case "forecast_horizon":
		return setInt(&c.ForecastHorizon, 1)
	case "max_rows":
		return setInt(&c.MaxRows, 0)
	case "log_level":
		switch strings.ToLower(val) {
		case "debug", "info", "warn", "error":
			c.LogLevel = strings.ToLower(val)
		default:
			return fmt.Errorf("invalid log_level: %s (use debug, info, warn or error)", val)
		}
	case "log_format":
		switch strings.ToLower(val) {
		case "text", "json":
			c.LogFormat = strings.ToLower(val)
		default:
			return fmt.Errorf("invalid log_format: %s (use text or json)", val)
		}
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

// Get renders the current value of key, or false for an unknown key.
func (c *Global) Get(key string) (string, bool) {
	switch key {
	case "seed":
		return strconv.FormatUint(c.Seed, 10), true
	case "candidate_timeout_sec":
		return strconv.Itoa(c.CandidateTimeoutSec), true
	case "workers":
		return strconv.Itoa(c.Workers), true
	case "cv_folds":
		return strconv.Itoa(c.CVFolds), true
	case "test_fraction":
		return strconv.FormatFloat(c.TestFraction, 'g', -1, 64), true
	case "max_one_hot":
		return strconv.Itoa(c.MaxOneHot), true
	case "default_k":
		return strconv.Itoa(c.DefaultK), true
	case "dbscan_eps":
		return strconv.FormatFloat(c.DBSCANEps, 'g', -1, 64), true
	case "dbscan_min_samples":
		return strconv.Itoa(c.DBSCANMinSamples), true
	case "hierarchical_max_rows":
		return strconv.Itoa(c.HierarchicalMaxRows), true
	case "contamination":
		return strconv.FormatFloat(c.Contamination, 'g', -1, 64), true
	case "isolation_trees":
		return strconv.Itoa(c.IsolationTrees), true
	case "isolation_sample_size":
		return strconv.Itoa(c.IsolationSampleSize), true
	case "lof_neighbors":
		return strconv.Itoa(c.LOFNeighbors), true
	case "frequency":
		return c.Frequency, true
	case "forecast_horizon":
		return strconv.Itoa(c.ForecastHorizon), true
	case "max_rows":
		return strconv.Itoa(c.MaxRows), true
	case "log_level":
		return c.LogLevel, true
	case "log_format":
		return c.LogFormat, true
	}
	return "", false
}
