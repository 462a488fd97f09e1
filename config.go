package ringpool

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultName is the database entry returned by Registry.Default.
const DefaultName = "default"

// envPrefix starts every environment override, e.g.
// RINGPOOL_DEFAULT_DBPASSWORD overrides the password of the "default" entry.
const envPrefix = "RINGPOOL_"

// DatabaseConfig is one named entry of a registry config file. Keys follow
// the db.config layout: a top-level object maps logical names to entries.
type DatabaseConfig struct {
	Type     DBType            `yaml:"DBType" toml:"DBType"`
	Host     string            `yaml:"DBServerAdd" toml:"DBServerAdd"`
	Port     flexInt           `yaml:"DBServerPort" toml:"DBServerPort"`
	Database string            `yaml:"DBDataBaseName" toml:"DBDataBaseName"`
	Username string            `yaml:"DBUserName" toml:"DBUserName"`
	Password string            `yaml:"DBPassword" toml:"DBPassword"`
	Path     string            `yaml:"DBPath" toml:"DBPath"`
	Params   map[string]string `yaml:"DBParams" toml:"DBParams"`

	// Pool parameters. Timeouts are in seconds. A missing or zero value takes
	// the DefaultConfig value.
	IdleTimeout flexInt `yaml:"ConnectionTimeout" toml:"ConnectionTimeout"`
	PoolSize    flexInt `yaml:"DBPoolNum" toml:"DBPoolNum"`
	OpenTimeout flexInt `yaml:"OpenTimeout" toml:"OpenTimeout"`
}

// Credentials extracts the connect parameters.
func (databaseConfig DatabaseConfig) Credentials() Credentials {
	return Credentials{
		Type:     databaseConfig.Type,
		Host:     databaseConfig.Host,
		Port:     int(databaseConfig.Port),
		Username: databaseConfig.Username,
		Password: databaseConfig.Password,
		Database: databaseConfig.Database,
		Path:     databaseConfig.Path,
		Params:   databaseConfig.Params,
	}
}

// PoolConfig converts the entry to pool parameters, starting from
// DefaultConfig for the values the entry leaves out.
func (databaseConfig DatabaseConfig) PoolConfig() Config {
	config := DefaultConfig()
	if databaseConfig.PoolSize != 0 {
		config.Size = int(databaseConfig.PoolSize)
	}
	if databaseConfig.IdleTimeout != 0 {
		config.IdleTimeout = time.Duration(databaseConfig.IdleTimeout) * time.Second
	}
	if databaseConfig.OpenTimeout != 0 {
		config.OpenTimeout = time.Duration(databaseConfig.OpenTimeout) * time.Second
	}
	return config
}

// Validate checks the entry without connecting.
func (databaseConfig DatabaseConfig) Validate() error {
	credentials := databaseConfig.Credentials()
	if _, err := credentials.DriverName(); err != nil {
		return err
	}
	if normalizeType(credentials.Type) == SQLite {
		if credentials.Path == "" && credentials.Database == "" {
			return configError("DBPath or DBDataBaseName is required for %s", SQLite)
		}
	} else if credentials.Database == "" {
		return configError("DBDataBaseName is required")
	}
	if databaseConfig.Port < 0 || databaseConfig.Port > 65535 {
		return configError("DBServerPort %d out of range", databaseConfig.Port)
	}
	return databaseConfig.PoolConfig().Validate()
}

// FileConfig is the parsed content of a registry config file.
type FileConfig struct {
	Databases map[string]DatabaseConfig
}

// Names returns the entry names in sorted order.
func (fileConfig *FileConfig) Names() []string {
	names := make([]string, 0, len(fileConfig.Databases))
	for name := range fileConfig.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every entry and reports all failures together.
func (fileConfig *FileConfig) Validate() error {
	if len(fileConfig.Databases) == 0 {
		return configError("no databases configured")
	}
	var errs []error
	for _, name := range fileConfig.Names() {
		if err := fileConfig.Databases[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("database %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// LoadConfig reads a registry config file, applies environment overrides and
// validates the result. The format is picked by extension: .toml is TOML,
// anything else (.yaml, .yml, .json, .config) is parsed as YAML, which also
// accepts JSON.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}

	fileConfig, err := ParseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	fileConfig.applyEnvOverrides(os.Getenv)

	if err := fileConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.WithField("path", path).WithField("databases", len(fileConfig.Databases)).Debug("config loaded")
	return fileConfig, nil
}

// ParseConfig decodes a config document in the given format ("yaml", "json"
// or "toml"). It does not validate.
func ParseConfig(data []byte, format string) (*FileConfig, error) {
	databases := make(map[string]DatabaseConfig)

	switch strings.ToLower(format) {
	case "yaml", "yml", "json":
		if err := yaml.Unmarshal(data, &databases); err != nil {
			return nil, configError("%v", err)
		}
	case "toml":
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&databases); err != nil {
			return nil, configError("%v", err)
		}
	default:
		return nil, configError("unknown config format %q", format)
	}

	return &FileConfig{Databases: databases}, nil
}

// applyEnvOverrides lets RINGPOOL_<NAME>_<KEY> replace the connect parameters
// of an entry, so secrets can stay out of the file.
func (fileConfig *FileConfig) applyEnvOverrides(getenv func(string) string) {
	for name, databaseConfig := range fileConfig.Databases {
		prefix := envPrefix + envName(name) + "_"

		if v := getenv(prefix + "DBSERVERADD"); v != "" {
			databaseConfig.Host = v
		}
		if v := getenv(prefix + "DBSERVERPORT"); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				databaseConfig.Port = flexInt(port)
			} else {
				log.WithField("database", name).Warn("ignoring non-numeric port override")
			}
		}
		if v := getenv(prefix + "DBUSERNAME"); v != "" {
			databaseConfig.Username = v
		}
		if v := getenv(prefix + "DBPASSWORD"); v != "" {
			databaseConfig.Password = v
		}
		if v := getenv(prefix + "DBPATH"); v != "" {
			databaseConfig.Path = v
		}

		fileConfig.Databases[name] = databaseConfig
	}
}

func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// flexInt decodes numbers written either as numbers or as strings, as found
// in hand-written configs ("DBPoolNum": "10" in JSON, DBPoolNum = "10" in
// TOML).
type flexInt int

func (i *flexInt) UnmarshalYAML(value *yaml.Node) error {
	n, err := parseFlexInt(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*i = n
	return nil
}

// UnmarshalText is used by the TOML decoder for both integer and string
// values.
func (i *flexInt) UnmarshalText(text []byte) error {
	n, err := parseFlexInt(string(text))
	if err != nil {
		return err
	}
	*i = n
	return nil
}

func parseFlexInt(text string) (flexInt, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(s, "_", ""))
	if err != nil {
		// TOML allows 0x, 0o and 0b integers.
		n64, err := strconv.ParseInt(s, 0, strconv.IntSize)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", text)
		}
		n = int(n64)
	}
	return flexInt(n), nil
}
