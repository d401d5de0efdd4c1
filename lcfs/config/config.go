package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 16642
	DefaultCacheCapacity = 64
)

// Device is the geometry of one device served by the executor daemon.
type Device struct {
	ID      uint8  `yaml:"id"`
	Sectors uint16 `yaml:"sectors"`
	Blocks  uint16 `yaml:"blocks"`
}

type Config struct {
	//Host device bus host
	Host string `yaml:"host"`
	//Port device bus port
	Port int `yaml:"port"`
	//DialTimeout timeout for connecting to the bus
	DialTimeout time.Duration `yaml:"dial_timeout"`
	//RequestTimeout deadline of a single bus request, zero disables it
	RequestTimeout time.Duration `yaml:"request_timeout"`
	//CacheCapacity number of blocks kept in the block cache
	CacheCapacity int `yaml:"cache_capacity"`
	//StatAddress listen address of the stat service, empty disables it
	StatAddress string `yaml:"stat_address"`
	//DebugMode run in debug mode
	DebugMode bool `yaml:"debug"`
	//ShutdownTimeout timeout for shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// executor daemon settings
	Server ServerConfig `yaml:"server"`
}

type ServerConfig struct {
	//Listen address the executor daemon listens on, defaults to Host:Port
	Listen string `yaml:"listen"`
	//Store block store backend: memory, badger, leveldb or nutsdb
	Store string `yaml:"store"`
	//StorePath directory of persistent block stores
	StorePath string `yaml:"store_path"`
	//Devices devices attached to the bus
	Devices []Device `yaml:"devices"`
}

// Default returns configuration with every field set.
func Default() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		DialTimeout:     5 * time.Second,
		RequestTimeout:  10 * time.Second,
		CacheCapacity:   DefaultCacheCapacity,
		ShutdownTimeout: 10 * time.Second,
		Server: ServerConfig{
			Store: "memory",
			Devices: []Device{
				{ID: 0, Sectors: 10, Blocks: 64},
				{ID: 1, Sectors: 10, Blocks: 64},
				{ID: 3, Sectors: 20, Blocks: 32},
			},
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Address returns the bus endpoint.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ListenAddress returns the address the executor daemon binds.
func (c *Config) ListenAddress() string {
	if c.Server.Listen != "" {
		return c.Server.Listen
	}
	return c.Address()
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.CacheCapacity)
	}
	seen := make(map[uint8]bool)
	for _, d := range c.Server.Devices {
		if d.ID >= 16 {
			return fmt.Errorf("device id %d does not fit the probe bitmap", d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("device %d configured twice", d.ID)
		}
		if d.Sectors == 0 || d.Blocks == 0 {
			return fmt.Errorf("device %d has empty geometry", d.ID)
		}
		seen[d.ID] = true
	}
	switch c.Server.Store {
	case "memory", "badger", "leveldb", "nutsdb":
	default:
		return fmt.Errorf("unknown block store %q", c.Server.Store)
	}
	return nil
}
