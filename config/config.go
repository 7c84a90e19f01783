package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"AniObjCut/square"

	"gopkg.in/yaml.v3"
)

type BackendConfig struct {
	Kind           string `yaml:"kind"`
	Address        string `yaml:"address"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type Config struct {
	Host          string        `yaml:"host"`
	HTTPPort      int           `yaml:"HTTPPort"`
	RPCPort       int           `yaml:"RPCPort"`
	MonitorPort   int           `yaml:"MonitorPort"`
	WorkersNum    int           `yaml:"workersNum"`
	QueueLen      int           `yaml:"queueLen"`
	OutputDir     string        `yaml:"outputDir"`
	TempDir       string        `yaml:"tempDir"`
	APIKey        string        `yaml:"apiKey"`
	LogLevel      string        `yaml:"logLevel"`
	MaxUploadMB   int           `yaml:"maxUploadMB"`
	MaxSize       int           `yaml:"maxSize"`
	MaxPixels     int           `yaml:"maxPixels"`
	Backend       BackendConfig `yaml:"backend"`
	UseRegServer  bool          `yaml:"UseRegServer"`
	RegServerHost string        `yaml:"RegServerHost"`
	RegServerPort int           `yaml:"RegServerPort"`
}

const (
	BackendHTTP = "http"
	BackendGRPC = "grpc"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Host:        "0.0.0.0",
		HTTPPort:    39728,
		WorkersNum:  runtime.NumCPU(),
		OutputDir:   filepath.Join(os.TempDir(), "aniobjcut"),
		TempDir:     os.TempDir(),
		LogLevel:    "info",
		MaxUploadMB: 50,
		MaxSize:     2048,
		MaxPixels:   40_000_000,
		Backend: BackendConfig{
			Kind:           BackendHTTP,
			Address:        "http://127.0.0.1:39729",
			TimeoutSeconds: 30,
		},
	}
}

// Load reads path over the defaults, then applies HOST, PORT, API_KEY and DETECTOR_URL.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q: %w", v, err)
		}
		c.HTTPPort = port
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("DETECTOR_URL"); v != "" {
		c.Backend.Address = v
	}
	return nil
}

func (c *Config) normalize() {
	if c.WorkersNum <= 0 {
		c.WorkersNum = 1
	}
	if c.QueueLen <= 0 {
		c.QueueLen = c.WorkersNum * 4
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 30
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 50
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 2048
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = 40_000_000
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
}

func (c Config) Validate() error {
	switch c.Backend.Kind {
	case BackendHTTP, BackendGRPC:
	default:
		return fmt.Errorf("unsupported backend kind %q", c.Backend.Kind)
	}
	if c.Backend.Address == "" {
		return errors.New("backend address is empty")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTPPort %d", c.HTTPPort)
	}
	if c.MaxSize < square.MinSize || c.MaxSize > square.MaxSize {
		return fmt.Errorf("maxSize %d out of [%d,%d]", c.MaxSize, square.MinSize, square.MaxSize)
	}
	if c.OutputDir == "" {
		return errors.New("outputDir is empty")
	}
	if c.UseRegServer && c.RegServerHost == "" {
		return errors.New("UseRegServer needs RegServerHost")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}
