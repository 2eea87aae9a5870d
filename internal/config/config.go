package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" yaml:"listen_addr" default:":8000"`
	DataPath     string `envconfig:"DATA_PATH" yaml:"data_path" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" yaml:"database_path" default:""`
	LogPath      string `envconfig:"LOG_PATH" yaml:"log_path" default:""`

	// MasterKey is the process-wide credential encryption key. Every
	// operation that touches stored secrets fails with a configuration
	// error when it is empty.
	MasterKey string `envconfig:"MASTER_KEY" yaml:"master_key" default:""`

	// Timeouts for the blocking phases of a request.
	SSHConnectTimeout time.Duration `envconfig:"SSH_CONNECT_TIMEOUT" yaml:"ssh_connect_timeout" default:"15s"`
	DBConnectTimeout  time.Duration `envconfig:"DB_CONNECT_TIMEOUT" yaml:"db_connect_timeout" default:"15s"`
	QueryTimeout      time.Duration `envconfig:"QUERY_TIMEOUT" yaml:"query_timeout" default:"60s"`

	// TunnelMaxLifetime bounds how long a tunnel may stay registered
	// before the reaper force-closes it.
	TunnelMaxLifetime time.Duration `envconfig:"TUNNEL_MAX_LIFETIME" yaml:"tunnel_max_lifetime" default:"10m"`
}

var Cfg Settings

// Load populates Cfg from the environment, then overlays values from an
// optional YAML file named by DBBRIDGE_CONFIG_FILE. Keys present in the
// file win over environment values.
func Load() {
	if err := envconfig.Process("DBBRIDGE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if path := os.Getenv("DBBRIDGE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("failed to read config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, &Cfg); err != nil {
			log.Fatalf("failed to parse config file %s: %v", path, err)
		}
	}

	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "dbbridge.db")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "dbbridge.log")
	}
}
