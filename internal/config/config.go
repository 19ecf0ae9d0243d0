package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type LoggerConfig struct {
	Verbosity string `yaml:"verbosity"`
	Encoding  string `yaml:"encoding"`
}

type RuntimeConfig struct {
	// Libraries are tried in order when loading the CUDA runtime
	Libraries []string `yaml:"libraries"`
	// DriverLibraries are tried in order when loading the CUDA driver; optional
	DriverLibraries []string `yaml:"driverLibraries"`
}

type ToolkitConfig struct {
	IncludeDirEnv string   `yaml:"includeDirEnv"`
	HomeEnvs      []string `yaml:"homeEnvs"`
	SearchPaths   []string `yaml:"searchPaths"`
	Header        string   `yaml:"header"`
}

type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Toolkit ToolkitConfig `yaml:"toolkit"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Logger.Verbosity == "" {
		c.Logger.Verbosity = "info"
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "json"
	}
	if len(c.Runtime.Libraries) == 0 {
		c.Runtime.Libraries = []string{"libcudart.so", "libcudart.so.12", "libcudart.so.11.0"}
	}
	if len(c.Runtime.DriverLibraries) == 0 {
		c.Runtime.DriverLibraries = []string{"libcuda.so.1", "libcuda.so"}
	}
	if c.Toolkit.IncludeDirEnv == "" {
		c.Toolkit.IncludeDirEnv = "NVTE_CUDA_INCLUDE_DIR"
	}
	if c.Toolkit.HomeEnvs == nil {
		c.Toolkit.HomeEnvs = []string{"CUDA_HOME", "CUDA_DIR", "CUDA_PATH"}
	}
	if c.Toolkit.SearchPaths == nil {
		c.Toolkit.SearchPaths = []string{"/usr/local/cuda", "/opt/cuda", "/usr"}
	}
	if c.Toolkit.Header == "" {
		c.Toolkit.Header = "cuda_runtime.h"
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	return &config, nil
}
