package config

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/xo/dburl"
)

// driverKinds maps dburl driver names to storage kinds.
var driverKinds = map[string]string{
	"sqlserver": "mssql",
	"mssql":     "mssql",
	"postgres":  "postgres",
	"pgx":       "postgres",
	"mysql":     "mysql",
	"sqlite3":   "sqlite",
	"sqlite":    "sqlite",
}

// InferKind guesses the storage kind from dsn: URL schemes understood by
// dburl, "key=value;" SQL Server strings and SQLite paths. It returns ""
// when nothing matches.
func InferKind(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}
	if u, err := dburl.Parse(dsn); err == nil {
		if k, ok := driverKinds[u.Driver]; ok {
			return k
		}
	}
	lower := strings.ToLower(dsn)
	switch {
	case lower == ":memory:", strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"):
		return "sqlite"
	case strings.Contains(lower, "server=") && strings.Contains(lower, ";"):
		return "mssql"
	case strings.Contains(lower, "@tcp("):
		return "mysql"
	}
	return ""
}

// DriverDSN converts a dburl style URL into the form the backend driver of
// kind expects. DSNs that are not URLs are returned unchanged.
func DriverDSN(kind, dsn string) string {
	u, err := dburl.Parse(dsn)
	if err != nil {
		return dsn
	}
	switch kind {
	case "mssql":
		if u.Scheme == "sqlserver" {
			return dsn
		}
		// go-mssqldb only accepts the sqlserver:// scheme
		v := u.URL
		v.Scheme = "sqlserver"
		return v.String()
	case "postgres":
		if u.Scheme == "postgres" || u.Scheme == "postgresql" {
			return dsn
		}
		return u.DSN
	case "mysql", "sqlite":
		return u.DSN
	}
	return dsn
}

var secretRe = regexp.MustCompile(`(?i)\b(password|pwd)=([^;&\s]*)`)

// RedactDSN hides the password of dsn for logging.
func RedactDSN(dsn string) string {
	if u, err := dburl.Parse(dsn); err == nil && u.User != nil {
		return u.Redacted()
	}
	if i := strings.Index(dsn, "@tcp("); i > 0 {
		// go-sql-driver/mysql form user:pass@tcp(host)/db
		if j := strings.Index(dsn[:i], ":"); j >= 0 {
			return dsn[:j+1] + "xxxxx" + dsn[i:]
		}
	}
	return secretRe.ReplaceAllString(dsn, "${1}=xxxxx")
}

// dsn builds a go-mssqldb URL from the AZURE_SQL_* variables.
func (a azureSQL) dsn() string {
	host := a.Server
	if a.Port != "" {
		host = net.JoinHostPort(a.Server, a.Port)
	}
	u := url.URL{
		Scheme: "sqlserver",
		Host:   host,
	}
	if a.DBUser != "" {
		u.User = url.UserPassword(a.DBUser, a.DBPwd)
	}
	if a.DBName != "" {
		u.RawQuery = url.Values{"database": {a.DBName}}.Encode()
	}
	return u.String()
}
