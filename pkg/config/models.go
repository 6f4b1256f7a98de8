package config

import (
	"github.com/veesix-networks/osvdhcp/pkg/config/ip"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
)

type Config struct {
	Logging    Logging       `yaml:"logging"`
	OpDB       OpDB          `yaml:"opdb,omitempty"`
	API        API           `yaml:"api,omitempty"`
	Monitoring Monitoring    `yaml:"monitoring,omitempty"`
	DHCP       ip.DHCPConfig `yaml:"dhcp"`
}

type API struct {
	Address  string `yaml:"address"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

type Logging struct {
	Format     string                     `yaml:"format"`
	Level      logger.LogLevel            `yaml:"level"`
	Components map[string]logger.LogLevel `yaml:"components,omitempty"`
}

type OpDB struct {
	Path     string `yaml:"path,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

type Monitoring struct {
	Prometheus PrometheusConfig `yaml:"prometheus,omitempty"`
}

type PrometheusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty"`
}
