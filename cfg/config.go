package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ReaderConfiguration controls how binlog events are framed and verified
type ReaderConfiguration struct {
	MaxEventSize       uint32  `toml:"max_event_size"`   // Events declaring more bytes fail with EVENT_TOO_LARGE
	VerifyChecksum     bool    `toml:"verify_checksum"`  // Verify CRC32 trailers
	ShrinkThreshold    int     `toml:"shrink_threshold"` // Small requests before the decryption buffer halves
	Follow             bool    `toml:"follow"`           // Keep tailing files after reaching the end
	FollowPollMS       int     `toml:"follow_poll_ms"`
	FollowMaxBackoffMS int     `toml:"follow_max_backoff_ms"`
	RateLimit          float64 `toml:"rate_limit"` // Events per second per stream, 0 = unlimited
	RateBurst          int     `toml:"rate_burst"`
}

// EncryptionConfiguration points at the keyring used for encrypted binlogs
type EncryptionConfiguration struct {
	Enabled      bool   `toml:"enabled"`
	KeyringPath  string `toml:"keyring_path"`
	KeyCacheSize int    `toml:"key_cache_size"`
}

// StreamConfiguration names one binlog source
type StreamConfiguration struct {
	Name          string `toml:"name"`
	Path          string `toml:"path"`
	StartPosition uint64 `toml:"start_position"` // 0 = right after the magic header
}

// SinkConfiguration describes one publish destination
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // kafka, nats, sqlite
	Format          string   `toml:"format"` // json, msgpack
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	SQLitePath      string   `toml:"sqlite_path"`
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterEvents    []string `toml:"filter_events"`    // Glob over event type names
	FilterDatabases []string `toml:"filter_databases"` // Glob over database names
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// PublisherConfiguration controls fan-out of decoded events
type PublisherConfiguration struct {
	Enabled       bool                `toml:"enabled"`
	Dedup         bool                `toml:"dedup"`
	DedupCapacity uint                `toml:"dedup_capacity"`
	Sinks         []SinkConfiguration `toml:"sinks"`
}

// AdminConfiguration for the HTTP status server
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Required on /admin requests when set
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics, served by the admin server
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Reader     ReaderConfiguration     `toml:"reader"`
	Encryption EncryptionConfiguration `toml:"encryption"`
	Streams    []StreamConfiguration   `toml:"streams"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	BinlogFlag     = flag.String("binlog", "", "Binlog file to stream in addition to configured streams")
	FollowFlag     = flag.Bool("follow", false, "Keep tailing binlog files after reaching the end")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./binlogstream-data",

	Reader: ReaderConfiguration{
		MaxEventSize:       1 << 30,
		VerifyChecksum:     true,
		ShrinkThreshold:    100,
		FollowPollMS:       200,
		FollowMaxBackoffMS: 5000,
		RateBurst:          1000,
	},

	Encryption: EncryptionConfiguration{
		KeyCacheSize: 64,
	},

	Publisher: PublisherConfiguration{
		DedupCapacity: 250000,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8090,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Path:    "/metrics",
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}
	if *FollowFlag {
		Config.Reader.Follow = true
	}
	if *BinlogFlag != "" {
		Config.Streams = append(Config.Streams, StreamConfiguration{
			Name: streamNameFromPath(*BinlogFlag),
			Path: *BinlogFlag,
		})
	}

	if Config.NodeID == 0 {
		Config.NodeID = generateNodeID()
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

func streamNameFromPath(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, ".zst")
}

// generateNodeID derives a stable node ID from the machine ID, falling back
// to the hostname on hosts without one.
func generateNodeID() uint64 {
	id, err := machineid.ProtectedID("binlogstream")
	if err != nil {
		log.Warn().Err(err).Msg("Machine ID unavailable, deriving node ID from hostname")
		id, err = os.Hostname()
		if err != nil || id == "" {
			id = "localhost"
		}
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}

var validSinkFormats = map[string]bool{"json": true, "msgpack": true}

// Validate checks configuration for errors
func Validate() error {
	if Config.Reader.MaxEventSize < 19 {
		return fmt.Errorf("reader max event size must be >= 19 bytes")
	}
	if Config.Reader.ShrinkThreshold < 1 {
		return fmt.Errorf("reader shrink threshold must be >= 1")
	}
	if Config.Reader.Follow && Config.Reader.FollowPollMS < 1 {
		return fmt.Errorf("follow poll interval must be >= 1ms")
	}
	if Config.Reader.FollowMaxBackoffMS < Config.Reader.FollowPollMS {
		return fmt.Errorf("follow max backoff must be >= follow poll interval")
	}
	if Config.Reader.RateLimit < 0 {
		return fmt.Errorf("reader rate limit must be >= 0")
	}
	if Config.Reader.RateLimit > 0 && Config.Reader.RateBurst < 1 {
		return fmt.Errorf("reader rate burst must be >= 1 when rate limiting")
	}

	if Config.Encryption.Enabled && Config.Encryption.KeyringPath == "" {
		return fmt.Errorf("encryption enabled without keyring_path")
	}
	if Config.Encryption.KeyCacheSize < 1 {
		return fmt.Errorf("key cache size must be >= 1")
	}

	seen := make(map[string]bool, len(Config.Streams))
	for i, s := range Config.Streams {
		if s.Name == "" {
			return fmt.Errorf("stream %d has no name", i)
		}
		if s.Path == "" {
			return fmt.Errorf("stream %q has no path", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stream name %q", s.Name)
		}
		seen[s.Name] = true
	}

	if Config.Publisher.Enabled {
		if Config.Publisher.Dedup && Config.Publisher.DedupCapacity == 0 {
			return fmt.Errorf("dedup capacity must be > 0")
		}
		for _, s := range Config.Publisher.Sinks {
			if s.Name == "" {
				return fmt.Errorf("publisher sink has no name")
			}
			if !validSinkFormats[s.Format] {
				return fmt.Errorf("sink %q: invalid format %q", s.Name, s.Format)
			}
			if s.RetryMultiplier != 0 && s.RetryMultiplier < 1 {
				return fmt.Errorf("sink %q: retry multiplier must be >= 1", s.Name)
			}
		}
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}
