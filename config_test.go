package ringpool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonConfig = `{
  "default": {
    "DBType": "MYSQL",
    "DBServerAdd": "10.0.0.5",
    "DBServerPort": "3307",
    "DBDataBaseName": "orders",
    "DBUserName": "app",
    "DBPassword": "secret",
    "ConnectionTimeout": "600",
    "DBPoolNum": "8"
  },
  "reports": {
    "DBType": "PGSQL",
    "DBServerAdd": "pg.internal",
    "DBDataBaseName": "reports",
    "DBUserName": "reader",
    "DBPassword": "pw",
    "ConnectionTimeout": 300,
    "DBPoolNum": 4,
    "trim": "zym"
  }
}`

const tomlConfig = `
[default]
DBType = "SQLITE"
DBPath = "/var/lib/app/app.db"
ConnectionTimeout = 120
DBPoolNum = 2
OpenTimeout = 5

[default.DBParams]
_busy_timeout = "5000"
`

func TestParseConfig(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		fileConfig, err := ParseConfig([]byte(jsonConfig), "json")
		require.NoError(t, err)
		require.NoError(t, fileConfig.Validate())
		assert.Equal(t, []string{"default", "reports"}, fileConfig.Names())

		def := fileConfig.Databases["default"]
		assert.Equal(t, MySQL, def.Type)
		assert.Equal(t, "10.0.0.5", def.Host)
		assert.Equal(t, 3307, int(def.Port))
		assert.Equal(t, Config{Size: 8, IdleTimeout: 10 * time.Minute, OpenTimeout: 30 * time.Second}, def.PoolConfig())

		reports := fileConfig.Databases["reports"]
		assert.Equal(t, Config{Size: 4, IdleTimeout: 5 * time.Minute, OpenTimeout: 30 * time.Second}, reports.PoolConfig())
	})

	t.Run("toml", func(t *testing.T) {
		fileConfig, err := ParseConfig([]byte(tomlConfig), "toml")
		require.NoError(t, err)
		require.NoError(t, fileConfig.Validate())

		def := fileConfig.Databases["default"]
		assert.Equal(t, SQLite, def.Type)
		assert.Equal(t, "/var/lib/app/app.db", def.Path)
		assert.Equal(t, map[string]string{"_busy_timeout": "5000"}, def.Params)
		assert.Equal(t, Config{Size: 2, IdleTimeout: 2 * time.Minute, OpenTimeout: 5 * time.Second}, def.PoolConfig())
	})

	t.Run("toml numbers as strings", func(t *testing.T) {
		fileConfig, err := ParseConfig([]byte(`
[default]
DBType = "MYSQL"
DBDataBaseName = "orders"
DBServerPort = "3307"
ConnectionTimeout = "90"
DBPoolNum = "8"
OpenTimeout = 1_0
`), "toml")
		require.NoError(t, err)
		require.NoError(t, fileConfig.Validate())

		def := fileConfig.Databases["default"]
		assert.Equal(t, 3307, int(def.Port))
		assert.Equal(t, Config{Size: 8, IdleTimeout: 90 * time.Second, OpenTimeout: 10 * time.Second}, def.PoolConfig())
	})

	t.Run("toml bad number", func(t *testing.T) {
		_, err := ParseConfig([]byte("[default]\nDBPoolNum = \"many\"\n"), "toml")
		assert.True(t, errors.Is(err, ErrConfiguration))
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := ParseConfig([]byte(jsonConfig), "ini")
		assert.True(t, errors.Is(err, ErrConfiguration))
	})

	t.Run("bad number", func(t *testing.T) {
		_, err := ParseConfig([]byte(`{"default": {"DBPoolNum": "many"}}`), "json")
		assert.True(t, errors.Is(err, ErrConfiguration))
	})
}

func TestDatabaseConfigValidate(t *testing.T) {
	t.Parallel()

	valid := DatabaseConfig{
		Type:        MySQL,
		Database:    "orders",
		IdleTimeout: 60,
		PoolSize:    2,
	}

	tests := []struct {
		name   string
		mutate func(c *DatabaseConfig)
		ok     bool
	}{
		{"valid", func(c *DatabaseConfig) {}, true},
		{"lower case type", func(c *DatabaseConfig) { c.Type = "mysql" }, true},
		{"unsupported type", func(c *DatabaseConfig) { c.Type = "ORACLE" }, false},
		{"missing database", func(c *DatabaseConfig) { c.Database = "" }, false},
		{"default pool size", func(c *DatabaseConfig) { c.PoolSize = 0 }, true},
		{"default timeouts", func(c *DatabaseConfig) { c.IdleTimeout = 0; c.OpenTimeout = 0 }, true},
		{"negative pool", func(c *DatabaseConfig) { c.PoolSize = -1 }, false},
		{"negative idle timeout", func(c *DatabaseConfig) { c.IdleTimeout = -1 }, false},
		{"negative open timeout", func(c *DatabaseConfig) { c.OpenTimeout = -1 }, false},
		{"bad port", func(c *DatabaseConfig) { c.Port = 70000 }, false},
		{"sqlite without path", func(c *DatabaseConfig) { c.Type = SQLite; c.Database = "" }, false},
		{"sqlite with path", func(c *DatabaseConfig) { c.Type = SQLite; c.Database = ""; c.Path = "a.db" }, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrConfiguration), "unexpected error %v", err)
			}
		})
	}
}

func TestPoolConfigDefaults(t *testing.T) {
	t.Parallel()

	databaseConfig := DatabaseConfig{Type: MySQL, Database: "orders"}
	assert.Equal(t, DefaultConfig(), databaseConfig.PoolConfig())

	databaseConfig.PoolSize = 3
	want := DefaultConfig()
	want.Size = 3
	assert.Equal(t, want, databaseConfig.PoolConfig())
}

func TestFileConfigValidateReportsEveryEntry(t *testing.T) {
	t.Parallel()

	fileConfig := &FileConfig{Databases: map[string]DatabaseConfig{
		"a": {Type: "H2"},
		"b": {Type: MySQL, Database: "b", PoolSize: -1, IdleTimeout: 1},
	}}
	err := fileConfig.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), `database "a"`)
	assert.Contains(t, err.Error(), `database "b"`)

	assert.True(t, errors.Is((&FileConfig{}).Validate(), ErrConfiguration))
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()

	fileConfig, err := ParseConfig([]byte(jsonConfig), "json")
	require.NoError(t, err)

	env := map[string]string{
		"RINGPOOL_DEFAULT_DBPASSWORD":   "from-env",
		"RINGPOOL_DEFAULT_DBSERVERPORT": "3310",
		"RINGPOOL_REPORTS_DBSERVERADD":  "replica.internal",
	}
	fileConfig.applyEnvOverrides(func(key string) string { return env[key] })

	assert.Equal(t, "from-env", fileConfig.Databases["default"].Password)
	assert.Equal(t, 3310, int(fileConfig.Databases["default"].Port))
	assert.Equal(t, "replica.internal", fileConfig.Databases["reports"].Host)
	assert.Equal(t, "reader", fileConfig.Databases["reports"].Username)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "db.config")
	require.NoError(t, os.WriteFile(jsonPath, []byte(jsonConfig), 0o600))
	tomlPath := filepath.Join(dir, "db.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(tomlConfig), 0o600))
	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("default:\n  DBType: MYSQL\n"), 0o600))

	fileConfig, err := LoadConfig(jsonPath)
	require.NoError(t, err)
	assert.Len(t, fileConfig.Databases, 2)

	fileConfig, err = LoadConfig(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, SQLite, fileConfig.Databases["default"].Type)

	_, err = LoadConfig(badPath)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DEFAULT", envName("default"))
	assert.Equal(t, "REPORTS_EU_1", envName("reports-eu.1"))
}
