package ringpool

import (
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBType names the database server a pool connects to.
type DBType string

const (
	MySQL    DBType = "MYSQL"
	Postgres DBType = "PGSQL"
	SQLite   DBType = "SQLITE"
)

var defaultPorts = map[DBType]int{
	MySQL:    3306,
	Postgres: 5432,
}

// Credentials holds everything needed to reach one database.
type Credentials struct {
	Type     DBType
	Host     string
	Port     int
	Username string
	Password string
	Database string
	// Path is the database file for embedded databases. Database is used when
	// it's empty.
	Path   string
	Params map[string]string
}

// DriverName returns the database/sql driver registered for the credentials'
// database type.
func (credentials Credentials) DriverName() (string, error) {
	switch normalizeType(credentials.Type) {
	case MySQL:
		return "mysql", nil
	case Postgres:
		return "postgres", nil
	case SQLite:
		return "sqlite3", nil
	default:
		return "", configError("unsupported database type %q", credentials.Type)
	}
}

// DataSourceName builds the driver-specific DSN.
func (credentials Credentials) DataSourceName() (string, error) {
	switch normalizeType(credentials.Type) {
	case MySQL:
		return credentials.mysqlDSN(), nil
	case Postgres:
		return credentials.postgresDSN(), nil
	case SQLite:
		return credentials.sqliteDSN()
	default:
		return "", configError("unsupported database type %q", credentials.Type)
	}
}

// Opener returns a DriverOpener for the credentials.
func (credentials Credentials) Opener() (*DriverOpener, error) {
	driverName, err := credentials.DriverName()
	if err != nil {
		return nil, err
	}
	dsn, err := credentials.DataSourceName()
	if err != nil {
		return nil, err
	}
	return NewDriverOpener(driverName, dsn)
}

// ID identifies the upstream; credentials with equal IDs reach the same
// database as the same user.
func (credentials Credentials) ID() string {
	return string(normalizeType(credentials.Type)) + "://" + credentials.Username + "@" +
		credentials.address() + "/" + credentials.Database + credentials.Path
}

func (credentials Credentials) address() string {
	port := credentials.Port
	if port == 0 {
		port = defaultPorts[normalizeType(credentials.Type)]
	}
	host := credentials.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (credentials Credentials) mysqlDSN() string {
	config := mysql.NewConfig()
	config.User = credentials.Username
	config.Passwd = credentials.Password
	config.Net = "tcp"
	config.Addr = credentials.address()
	config.DBName = credentials.Database
	config.InterpolateParams = true
	config.ParseTime = true
	if len(credentials.Params) > 0 {
		config.Params = make(map[string]string, len(credentials.Params))
		for k, v := range credentials.Params {
			config.Params[k] = v
		}
	}
	return config.FormatDSN()
}

func (credentials Credentials) postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   credentials.address(),
		Path:   "/" + credentials.Database,
	}
	if credentials.Username != "" {
		u.User = url.UserPassword(credentials.Username, credentials.Password)
	}
	query := url.Values{}
	for k, v := range credentials.Params {
		query.Set(k, v)
	}
	if query.Get("sslmode") == "" {
		query.Set("sslmode", "disable")
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (credentials Credentials) sqliteDSN() (string, error) {
	path := credentials.Path
	if path == "" {
		path = credentials.Database
	}
	if path == "" {
		return "", configError("sqlite database needs a path")
	}

	var dsn strings.Builder
	if !strings.HasPrefix(path, "file:") {
		dsn.WriteString("file:")
	}
	dsn.WriteString(path)

	keys := make([]string, 0, len(credentials.Params))
	for k := range credentials.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i == 0 && !strings.Contains(path, "?") {
			dsn.WriteByte('?')
		} else {
			dsn.WriteByte('&')
		}
		dsn.WriteString(url.QueryEscape(k) + "=" + url.QueryEscape(credentials.Params[k]))
	}
	return dsn.String(), nil
}

func normalizeType(dbType DBType) DBType {
	return DBType(strings.ToUpper(strings.TrimSpace(string(dbType))))
}
