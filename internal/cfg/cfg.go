package cfg

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"model-explain/internal/attribution"
	"model-explain/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelPath          string
	RemoteURL          string
	TargetClass        int
	RESTTimeout        time.Duration
	DataPath           string
	BackgroundPath     string
	LabelColumn        string
	BackgroundSize     int
	Method             string
	Seed               int64
	Workers            int
	Surrogate          attribution.SurrogateOptions
	PermutationRepeats int
	StorePath          string
	ServerPort         int
	LogLevel           string
}

type ConfigFile struct {
	Model struct {
		Path        string `yaml:"path"`
		RemoteURL   string `yaml:"remoteURL"`
		TargetClass *int   `yaml:"targetClass"`
		RESTTimeout string `yaml:"restTimeout"`
	} `yaml:"model"`

	Data struct {
		Path           string `yaml:"path"`
		Background     string `yaml:"background"`
		LabelColumn    string `yaml:"labelColumn"`
		BackgroundSize int    `yaml:"backgroundSize"`
	} `yaml:"data"`

	Explain struct {
		Method             string                       `yaml:"method"`
		Seed               int64                        `yaml:"seed"`
		Workers            int                          `yaml:"workers"`
		PermutationRepeats int                          `yaml:"permutationRepeats"`
		Surrogate          attribution.SurrogateOptions `yaml:"surrogate"`
	} `yaml:"explain"`

	System struct {
		StorePath  string `yaml:"storePath"`
		ServerPort int    `yaml:"serverPort"`
		LogLevel   string `yaml:"logLevel"`
	} `yaml:"system"`
}

// Load reads settings from CONFIG_FILE when set, otherwise from the environment.
// A .env file in the working directory is loaded first; variables already set
// take precedence over it.
func Load() (Settings, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Settings{}, err
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	restTimeout, err := time.ParseDuration(config.Model.RESTTimeout)
	if err != nil {
		restTimeout = 5 * time.Second
	}

	targetClass := common.DefaultTargetClass
	if config.Model.TargetClass != nil {
		targetClass = *config.Model.TargetClass
	}

	surrogate := config.Explain.Surrogate
	settings := Settings{
		ModelPath:      getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		RemoteURL:      getEnvOrDefault(common.EnvRemoteModelURL, config.Model.RemoteURL),
		TargetClass:    getIntOrDefault(common.EnvTargetClass, targetClass),
		RESTTimeout:    getDurationOrDefault(common.EnvRESTTimeout, restTimeout),
		DataPath:       getEnvOrDefault(common.EnvDataPath, config.Data.Path),
		BackgroundPath: getEnvOrDefault(common.EnvBackgroundPath, config.Data.Background),
		LabelColumn:    getEnvOrDefault(common.EnvLabelColumn, config.Data.LabelColumn),
		BackgroundSize: getIntFromEnvOrConfig(common.EnvBackgroundSize, config.Data.BackgroundSize, common.DefaultBackgroundSize),
		Method:         getEnvOrDefault(common.EnvExplainMethod, orDefault(config.Explain.Method, attribution.MethodAuto)),
		Seed:           getInt64OrDefault(common.EnvExplainSeed, config.Explain.Seed),
		Workers:        getIntFromEnvOrConfig(common.EnvWorkers, config.Explain.Workers, runtime.NumCPU()),
		Surrogate: attribution.SurrogateOptions{
			KernelWidth:  getFloatFromEnvOrConfig(common.EnvKernelWidth, surrogate.KernelWidth, 0),
			SampleBudget: getIntFromEnvOrConfig(common.EnvSampleBudget, surrogate.SampleBudget, common.DefaultSampleBudget),
			BatchSize:    getIntFromEnvOrConfig(common.EnvBatchSize, surrogate.BatchSize, common.DefaultBatchSize),
			Tolerance:    getFloatFromEnvOrConfig(common.EnvTolerance, surrogate.Tolerance, common.DefaultTolerance),
			MaxFeatures:  getIntFromEnvOrConfig(common.EnvMaxFeatures, surrogate.MaxFeatures, 0),
			Ridge:        getFloatFromEnvOrConfig(common.EnvRidge, surrogate.Ridge, common.DefaultRidge),
		},
		PermutationRepeats: getIntFromEnvOrConfig(common.EnvPermutationRepeats, config.Explain.PermutationRepeats, common.DefaultPermutationRepeats),
		StorePath:          getEnvOrDefault(common.EnvStorePath, orDefault(config.System.StorePath, common.DefaultStorePath)),
		ServerPort:         getIntFromEnvOrConfig(common.EnvServerPort, config.System.ServerPort, common.DefaultServerPort),
		LogLevel:           getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel)),
	}
	settings.Surrogate.Seed = settings.Seed

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelPath:      getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		RemoteURL:      os.Getenv(common.EnvRemoteModelURL), // optional
		TargetClass:    getIntOrDefault(common.EnvTargetClass, common.DefaultTargetClass),
		RESTTimeout:    getDurationOrDefault(common.EnvRESTTimeout, 5*time.Second),
		DataPath:       os.Getenv(common.EnvDataPath),
		BackgroundPath: os.Getenv(common.EnvBackgroundPath),
		LabelColumn:    os.Getenv(common.EnvLabelColumn),
		BackgroundSize: getIntOrDefault(common.EnvBackgroundSize, common.DefaultBackgroundSize),
		Method:         getEnvOrDefault(common.EnvExplainMethod, attribution.MethodAuto),
		Seed:           getInt64OrDefault(common.EnvExplainSeed, 0),
		Workers:        getIntOrDefault(common.EnvWorkers, runtime.NumCPU()),
		Surrogate: attribution.SurrogateOptions{
			KernelWidth:  getFloatOrDefault(common.EnvKernelWidth, 0), // 0.75·√p
			SampleBudget: getIntOrDefault(common.EnvSampleBudget, common.DefaultSampleBudget),
			BatchSize:    getIntOrDefault(common.EnvBatchSize, common.DefaultBatchSize),
			Tolerance:    getFloatOrDefault(common.EnvTolerance, common.DefaultTolerance),
			MaxFeatures:  getIntOrDefault(common.EnvMaxFeatures, 0),
			Ridge:        getFloatOrDefault(common.EnvRidge, common.DefaultRidge),
		},
		PermutationRepeats: getIntOrDefault(common.EnvPermutationRepeats, common.DefaultPermutationRepeats),
		StorePath:          getEnvOrDefault(common.EnvStorePath, common.DefaultStorePath),
		ServerPort:         getIntOrDefault(common.EnvServerPort, common.DefaultServerPort),
		LogLevel:           getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
	}
	settings.Surrogate.Seed = settings.Seed

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Level returns the parsed log level.
func (s *Settings) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// AttributionOptions returns the explainer options for the configured method.
func (s *Settings) AttributionOptions() attribution.Options {
	return attribution.Options{Method: s.Method, Surrogate: s.Surrogate}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs range checks on configuration values
func validateSettings(settings *Settings) error {
	// Model source
	if settings.ModelPath == "" && settings.RemoteURL == "" {
		return fmt.Errorf("a model path or remote model URL is required")
	}
	if settings.TargetClass < 0 {
		return fmt.Errorf("target class must be non-negative, got %d", settings.TargetClass)
	}
	if settings.RESTTimeout < time.Second || settings.RESTTimeout > time.Minute {
		return fmt.Errorf("REST timeout must be between 1s and 1m, got %v", settings.RESTTimeout)
	}

	switch settings.Method {
	case attribution.MethodAuto, attribution.MethodTree, attribution.MethodLinear,
		attribution.MethodLIME, attribution.MethodKernel:
	default:
		return fmt.Errorf("unknown attribution method %q", settings.Method)
	}

	// Validate integer values
	if settings.Workers <= 0 || settings.Workers > 256 {
		return fmt.Errorf("workers must be between 1 and 256, got %d", settings.Workers)
	}
	if settings.BackgroundSize <= 0 || settings.BackgroundSize > 100000 {
		return fmt.Errorf("background size must be between 1 and 100000, got %d", settings.BackgroundSize)
	}
	if settings.PermutationRepeats <= 0 || settings.PermutationRepeats > 1000 {
		return fmt.Errorf("permutation repeats must be between 1 and 1000, got %d", settings.PermutationRepeats)
	}
	if settings.ServerPort < 1024 || settings.ServerPort > 65535 {
		return fmt.Errorf("server port must be between 1024 and 65535, got %d", settings.ServerPort)
	}

	// Surrogate sampling
	s := settings.Surrogate
	if s.BatchSize <= 0 || s.BatchSize > 1000000 {
		return fmt.Errorf("batch size must be between 1 and 1000000, got %d", s.BatchSize)
	}
	if s.SampleBudget < s.BatchSize || s.SampleBudget > 10000000 {
		return fmt.Errorf("sample budget must be between batch size %d and 10000000, got %d", s.BatchSize, s.SampleBudget)
	}
	if s.Tolerance <= 0 || s.Tolerance > 1 {
		return fmt.Errorf("tolerance must be in (0, 1], got %g", s.Tolerance)
	}
	if s.KernelWidth < 0 {
		return fmt.Errorf("kernel width must be non-negative, got %g", s.KernelWidth)
	}
	if s.MaxFeatures < 0 {
		return fmt.Errorf("max features must be non-negative, got %d", s.MaxFeatures)
	}
	if s.Ridge < 0 {
		return fmt.Errorf("ridge must be non-negative, got %g", s.Ridge)
	}

	if settings.StorePath == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}
