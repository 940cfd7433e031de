package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDumpsLocation = "tmp/dump_hook"
	DefaultExcludeTable  = "schema_migrations"
	DefaultSourceName    = "default"

	// RegenerateEnv forces every run to seed and capture again, overwriting existing snapshots.
	RegenerateEnv = "DUMP_HOOK_REGENERATE"
)

type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
)

func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return EnginePostgres, nil
	case "mysql":
		return EngineMySQL, nil
	default:
		return "", fmt.Errorf("unsupported engine %q (expected postgres or mysql)", s)
	}
}

func (e *Engine) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseEngine(raw)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Source describes one database taking part in a snapshot.
type Source struct {
	Name     string `yaml:"name"`
	Engine   Engine `yaml:"engine"`
	Database string `yaml:"database"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
}

type Tools struct {
	PgDump    string `yaml:"pg_dump"`
	PgRestore string `yaml:"pg_restore"`
	MySQLDump string `yaml:"mysqldump"`
	MySQL     string `yaml:"mysql"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

type RemoteConfig struct {
	Enabled      bool               `yaml:"enabled"`
	Bucket       string             `yaml:"bucket"`
	Prefix       string             `yaml:"prefix"`
	Region       string             `yaml:"region"`
	Endpoint     string             `yaml:"endpoint"`
	StorageClass types.StorageClass `yaml:"storage_class"`
	Retry        struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry,omitempty"`
	AgePublicKey    string `yaml:"age_public_key,omitempty"`
	AgeIdentityFile string `yaml:"age_identity_file,omitempty"`
}

// Settings holds everything a hook needs for its lifetime. The default connection
// fields are only used when Sources is empty.
type Settings struct {
	DumpsLocation  string `yaml:"dumps_location"`
	RemoveOldDumps bool   `yaml:"remove_old_dumps"`
	Actual         string `yaml:"actual,omitempty"`

	Engine   Engine `yaml:"engine"`
	Database string `yaml:"database"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`

	Sources []Source `yaml:"sources,omitempty"`

	ExcludeTable    string       `yaml:"exclude_table"`
	Tools           Tools        `yaml:"tools"`
	Lock            bool         `yaml:"lock"`
	VerifyChecksums bool         `yaml:"verify_checksums"`
	Log             LogConfig    `yaml:"log"`
	Remote          RemoteConfig `yaml:"remote"`

	// Regenerate is only set from the environment.
	Regenerate bool `yaml:"-"`
}

func Default() *Settings {
	return &Settings{
		DumpsLocation:  DefaultDumpsLocation,
		RemoveOldDumps: true,
		Engine:         EnginePostgres,
		ExcludeTable:   DefaultExcludeTable,
		Tools: Tools{
			PgDump:    "pg_dump",
			PgRestore: "pg_restore",
			MySQLDump: "mysqldump",
			MySQL:     "mysql",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Setup builds fresh default settings, hands them to fn for mutation and applies
// environment overrides. Nothing from a previous Setup is carried over.
func Setup(fn func(*Settings)) *Settings {
	s := Default()
	if fn != nil {
		fn(s)
	}
	s.ApplyEnv()
	return s
}

func Load(filename string) (*Settings, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	s.ApplyEnv()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return s, nil
}

func (s *Settings) ApplyEnv() {
	if v, ok := os.LookupEnv(RegenerateEnv); ok {
		s.Regenerate = envTruthy(v)
	}
}

func envTruthy(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	switch strings.ToLower(v) {
	case "no", "off", "n":
		return false
	}
	return true
}

func (s *Settings) Validate() error {
	if s.DumpsLocation == "" {
		return fmt.Errorf("dumps_location is required")
	}
	if _, err := ParseEngine(string(s.Engine)); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if s.Port < 0 {
		return fmt.Errorf("port must be non-negative")
	}

	seen := make(map[string]bool, len(s.Sources))
	for i, src := range s.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if strings.ContainsAny(src.Name, `/\`) {
			return fmt.Errorf("sources[%d].name must not contain path separators", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, src.Name)
		}
		seen[src.Name] = true
		if _, err := ParseEngine(string(src.Engine)); err != nil {
			return fmt.Errorf("sources[%d].engine: %w", i, err)
		}
		if src.Database == "" {
			return fmt.Errorf("sources[%d].database is required", i)
		}
		if src.Port < 0 {
			return fmt.Errorf("sources[%d].port must be non-negative", i)
		}
	}

	if s.Remote.Enabled {
		if s.Remote.Bucket == "" {
			return fmt.Errorf("remote.bucket is required when remote is enabled")
		}
		if s.Remote.Region == "" {
			return fmt.Errorf("remote.region is required when remote is enabled")
		}
		if s.Remote.AgePublicKey != "" {
			if !strings.HasPrefix(s.Remote.AgePublicKey, "age1") {
				return fmt.Errorf("remote.age_public_key must start with 'age1'")
			}
			if s.Remote.AgeIdentityFile == "" {
				return fmt.Errorf("remote.age_identity_file is required when remote.age_public_key is set")
			}
		}
	}
	return nil
}

// MultiSource reports whether named sources are configured.
func (s *Settings) MultiSource() bool {
	return len(s.Sources) > 0
}

// DefaultSource builds the synthetic source used in single-source mode.
func (s *Settings) DefaultSource() Source {
	return Source{
		Name:     DefaultSourceName,
		Engine:   s.Engine,
		Database: s.Database,
		Username: s.Username,
		Password: s.Password,
		Host:     s.Host,
		Port:     s.Port,
	}
}

func (s *Settings) RemoteRetryAttempts() int {
	if s.Remote.Retry.MaxAttempts > 0 {
		return s.Remote.Retry.MaxAttempts
	}
	return 3
}

func (s *Settings) RemoteStorageClass() types.StorageClass {
	if s.Remote.StorageClass != "" {
		return s.Remote.StorageClass
	}
	return types.StorageClassStandard
}
