package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Configuration {
	return &Configuration{
		NodeID:  1,
		DataDir: "./test-data",
		Reader: ReaderConfiguration{
			MaxEventSize:       1 << 20,
			VerifyChecksum:     true,
			ShrinkThreshold:    100,
			FollowPollMS:       100,
			FollowMaxBackoffMS: 1000,
		},
		Encryption: EncryptionConfiguration{
			KeyCacheSize: 8,
		},
		Streams: []StreamConfiguration{
			{Name: "primary", Path: "/var/lib/mysql/binlog.000001"},
		},
		Admin: AdminConfiguration{
			Enabled: true,
			Port:    8090,
		},
		Logging: LoggingConfiguration{
			Format: "console",
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"tiny max event size", func(c *Configuration) { c.Reader.MaxEventSize = 18 }},
		{"zero shrink threshold", func(c *Configuration) { c.Reader.ShrinkThreshold = 0 }},
		{"follow without poll", func(c *Configuration) { c.Reader.Follow = true; c.Reader.FollowPollMS = 0 }},
		{"backoff below poll", func(c *Configuration) { c.Reader.FollowMaxBackoffMS = 10 }},
		{"negative rate", func(c *Configuration) { c.Reader.RateLimit = -1 }},
		{"rate without burst", func(c *Configuration) { c.Reader.RateLimit = 10; c.Reader.RateBurst = 0 }},
		{"encryption without keyring", func(c *Configuration) { c.Encryption.Enabled = true }},
		{"zero key cache", func(c *Configuration) { c.Encryption.KeyCacheSize = 0 }},
		{"unnamed stream", func(c *Configuration) { c.Streams[0].Name = "" }},
		{"stream without path", func(c *Configuration) { c.Streams[0].Path = "" }},
		{"duplicate stream", func(c *Configuration) { c.Streams = append(c.Streams, c.Streams[0]) }},
		{"bad sink format", func(c *Configuration) {
			c.Publisher.Enabled = true
			c.Publisher.Sinks = []SinkConfiguration{{Name: "k", Type: "kafka", Format: "avro"}}
		}},
		{"dedup without capacity", func(c *Configuration) {
			c.Publisher.Enabled = true
			c.Publisher.Dedup = true
		}},
		{"bad admin port", func(c *Configuration) { c.Admin.Port = 70000 }},
		{"bad log format", func(c *Configuration) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		Config = validConfig()
		tt.mutate(Config)
		if err := Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.NodeID = 0
	Config.DataDir = t.TempDir()

	if err := Load("non-existent-file.toml"); err != nil {
		t.Errorf("Expected no error for non-existent file, got: %v", err)
	}
	if Config.NodeID == 0 {
		t.Error("Expected node ID to be auto-generated")
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
node_id = 7
data_dir = "` + filepath.Join(dir, "data") + `"

[reader]
max_event_size = 4096
verify_checksum = false

[[streams]]
name = "a"
path = "/tmp/binlog.000001"

[publisher]
enabled = true

[[publisher.sinks]]
name = "audit"
type = "sqlite"
format = "json"
filter_events = ["QUERY_EVENT"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	Config = validConfig()
	Config.Streams = nil
	if err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if Config.NodeID != 7 {
		t.Errorf("Expected node ID 7, got %d", Config.NodeID)
	}
	if Config.Reader.MaxEventSize != 4096 || Config.Reader.VerifyChecksum {
		t.Errorf("Reader section not applied: %+v", Config.Reader)
	}
	if len(Config.Streams) != 1 || Config.Streams[0].Name != "a" {
		t.Errorf("Expected one stream named a, got %+v", Config.Streams)
	}
	if len(Config.Publisher.Sinks) != 1 || Config.Publisher.Sinks[0].FilterEvents[0] != "QUERY_EVENT" {
		t.Errorf("Sink section not applied: %+v", Config.Publisher.Sinks)
	}
	if _, err := os.Stat(Config.DataDir); err != nil {
		t.Errorf("Data directory was not created: %v", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := t.TempDir()
	*DataDirFlag = tempDir
	*NodeIDFlag = 12345
	*AdminPortFlag = 9999
	*BinlogFlag = "/data/binlog.000042.zst"
	*FollowFlag = true

	defer func() {
		*DataDirFlag = ""
		*NodeIDFlag = 0
		*AdminPortFlag = 0
		*BinlogFlag = ""
		*FollowFlag = false
	}()

	Config = validConfig()
	Config.Streams = nil

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}
	if Config.NodeID != 12345 {
		t.Errorf("Expected node ID 12345, got %d", Config.NodeID)
	}
	if Config.Admin.Port != 9999 {
		t.Errorf("Expected admin port 9999, got %d", Config.Admin.Port)
	}
	if !Config.Reader.Follow {
		t.Error("Expected follow mode from flag")
	}
	if len(Config.Streams) != 1 || Config.Streams[0].Name != "binlog.000042" {
		t.Errorf("Expected stream binlog.000042, got %+v", Config.Streams)
	}
}

func TestGenerateNodeID(t *testing.T) {
	id1 := generateNodeID()
	if id1 == 0 {
		t.Error("Generated node ID should not be 0")
	}
	if id2 := generateNodeID(); id1 != id2 {
		t.Error("Node ID should be deterministic for same machine")
	}
}

func BenchmarkValidate(b *testing.B) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	for i := 0; i < b.N; i++ {
		Validate()
	}
}
