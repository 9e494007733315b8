// Package config parses and validates the dictionary-compression core's
// configuration. The host cache engine's own INI/CLI loader is out of
// scope; this package only consumes the flat key/value map that loader
// would hand over at the boundary.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TrainMode selects the dictionary-training parameter set.
type TrainMode int

const (
	// TrainFast builds the dictionary with zstd.SpeedFastest as the
	// builder's compression level.
	TrainFast TrainMode = iota
	// TrainOptimize builds the dictionary with zstd.SpeedBestCompression
	// as the builder's compression level. Both modes use the same fixed
	// builder parameters; no parameter search is run.
	TrainOptimize
)

func ParseTrainMode(s string) (TrainMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fast":
		return TrainFast, nil
	case "optimize":
		return TrainOptimize, nil
	default:
		return TrainFast, fmt.Errorf("unknown train_mode %q (want fast|optimize)", s)
	}
}

func (m TrainMode) String() string {
	if m == TrainOptimize {
		return "optimize"
	}
	return "fast"
}

// Config holds every tunable of the dictionary-compression core. It is
// read-only after Validate succeeds; callers must not mutate a Config
// shared with a running Core.
type Config struct {
	EnableComp bool
	EnableDict bool

	DictDir  string
	DictSize int64 // target dictionary size, bytes

	ZstdLevel   int
	MinCompSize int64
	MaxCompSize int64

	EnableTraining     bool
	RetrainingInterval time.Duration
	MinTrainingSize    int64
	EWMAAlpha          float64
	RetrainDrop        float64
	TrainMode          TrainMode

	DictRetainMax     int
	GCCoolPeriod      time.Duration
	GCQuarantinePeriod time.Duration

	EnableSampling       bool
	SampleP              float64
	SampleWindowDuration time.Duration
	SpoolDir             string
	SpoolMaxBytes        int64
}

// Default returns sane out-of-the-box configuration values.
func Default() *Config {
	return &Config{
		EnableComp: true,
		EnableDict: true,

		DictDir:  "./dicts",
		DictSize: 64 * 1024,

		ZstdLevel:   3,
		MinCompSize: 32,
		MaxCompSize: 1024 * 1024,

		EnableTraining:     true,
		RetrainingInterval: 10 * time.Minute,
		MinTrainingSize:    1 << 20,
		EWMAAlpha:          0.2,
		RetrainDrop:        0.1,
		TrainMode:          TrainFast,

		DictRetainMax:      3,
		GCCoolPeriod:       time.Hour,
		GCQuarantinePeriod: 24 * time.Hour,

		EnableSampling:       true,
		SampleP:              0.01,
		SampleWindowDuration: 0,
		SpoolDir:             "./spool",
		SpoolMaxBytes:        64 << 20,
	}
}

// FromMap builds a Config starting from Default() and overlaying any
// keys present in m, using the boundary's flat key naming.
func FromMap(m map[string]string) (*Config, error) {
	c := Default()
	for k, v := range m {
		if err := c.setKey(k, v); err != nil {
			return nil, fmt.Errorf("config key %q: %w", k, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) setKey(key, v string) error {
	var err error
	switch key {
	case "enable_comp":
		c.EnableComp, err = parseBool(v)
	case "enable_dict":
		c.EnableDict, err = parseBool(v)
	case "dict_dir":
		c.DictDir = v
	case "dict_size":
		c.DictSize, err = ParseSize(v)
	case "zstd_level":
		c.ZstdLevel, err = strconv.Atoi(v)
	case "min_comp_size":
		c.MinCompSize, err = ParseSize(v)
	case "max_comp_size":
		c.MaxCompSize, err = ParseSize(v)
	case "enable_training":
		c.EnableTraining, err = parseBool(v)
	case "retraining_interval":
		c.RetrainingInterval, err = ParseDuration(v)
	case "min_training_size":
		c.MinTrainingSize, err = ParseSize(v)
	case "ewma_alpha":
		c.EWMAAlpha, err = strconv.ParseFloat(v, 64)
	case "retrain_drop":
		c.RetrainDrop, err = strconv.ParseFloat(v, 64)
	case "train_mode":
		c.TrainMode, err = ParseTrainMode(v)
	case "dict_retain_max":
		c.DictRetainMax, err = strconv.Atoi(v)
	case "gc_cool_period":
		c.GCCoolPeriod, err = ParseDuration(v)
	case "gc_quarantine_period":
		c.GCQuarantinePeriod, err = ParseDuration(v)
	case "enable_sampling":
		c.EnableSampling, err = parseBool(v)
	case "sample_p":
		c.SampleP, err = strconv.ParseFloat(v, 64)
	case "sample_window_duration":
		c.SampleWindowDuration, err = ParseDuration(v)
	case "spool_dir":
		c.SpoolDir = v
	case "spool_max_bytes":
		c.SpoolMaxBytes, err = ParseSize(v)
	default:
		// Unknown keys are ignored: the boundary map may carry keys for
		// other host-engine subsystems (protocol parser, slab allocator)
		// that are out of this core's scope.
	}
	return err
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("not a bool: %q", v)
	}
}

// ParseSize parses a byte size with an optional K/M/G suffix (SI-1024,
// i.e. K=1024, M=1024^2, G=1024^3).
func ParseSize(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	mult := int64(1)
	suffix := v[len(v)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1024
		v = v[:len(v)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		v = v[:len(v)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		v = v[:len(v)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", v, err)
	}
	return n * mult, nil
}

// ParseDuration parses a duration with an s/m/h suffix. A bare integer
// is interpreted as seconds.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	suffix := v[len(v)-1]
	switch suffix {
	case 's', 'm', 'h':
		n, err := strconv.ParseInt(v[:len(v)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		switch suffix {
		case 's':
			return time.Duration(n) * time.Second, nil
		case 'm':
			return time.Duration(n) * time.Minute, nil
		case 'h':
			return time.Duration(n) * time.Hour, nil
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return time.Duration(n) * time.Second, nil
}

// Validate sanity-checks the configuration. On failure it disables
// compression and dictionary use in place so the core still starts in
// pass-through mode, and returns a non-nil error describing the
// problems. mcz.Open logs that error and keeps running degraded;
// cmd/mczd does not turn it into a non-zero exit code.
func (c *Config) Validate() error {
	var problems []string
	if c.ZstdLevel < 1 || c.ZstdLevel > 22 {
		problems = append(problems, fmt.Sprintf("zstd_level %d out of [1,22]", c.ZstdLevel))
	}
	if c.MinCompSize < 0 || c.MaxCompSize < c.MinCompSize {
		problems = append(problems, "min_comp_size/max_comp_size invalid")
	}
	if c.DictSize <= 0 {
		problems = append(problems, "dict_size must be positive")
	}
	if c.EWMAAlpha < 0 || c.EWMAAlpha > 1 {
		problems = append(problems, "ewma_alpha must be in [0,1]")
	}
	if c.RetrainDrop < 0 || c.RetrainDrop > 1 {
		problems = append(problems, "retrain_drop must be in [0,1]")
	}
	if c.SampleP < 0 || c.SampleP > 1 {
		problems = append(problems, "sample_p must be in [0,1]")
	}
	if c.DictRetainMax <= 0 {
		problems = append(problems, "dict_retain_max must be positive")
	}
	if len(problems) == 0 {
		return nil
	}
	c.EnableComp = false
	c.EnableDict = false
	return fmt.Errorf("config invalid, compression disabled: %s", strings.Join(problems, "; "))
}
