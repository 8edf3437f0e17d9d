/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbops

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MakeMSSQLDSN makes DSN for opening MSSQL database.
func MakeMSSQLDSN(cfg *MSSQLConfig) string {
	query := url.Values{}
	query.Add("database", cfg.Database)
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// MakeMySQLDSN makes DSN for opening MySQL database.
// Multi-statement support is always enabled since migration scripts are sent as a single batch.
func MakeMySQLDSN(cfg *MySQLConfig) string {
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.DBName = cfg.Database
	c.ParseTime = true
	c.MultiStatements = true
	return c.FormatDSN()
}

// MakePostgresDSN makes DSN for opening Postgres database.
func MakePostgresDSN(cfg *PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = PostgresDefaultSSLMode
	}
	connURI := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     cfg.Database,
		RawQuery: fmt.Sprintf("sslmode=%s", url.QueryEscape(string(sslMode))),
	}
	if cfg.SearchPath != "" {
		connURI.RawQuery += fmt.Sprintf("&search_path=%s", url.QueryEscape(cfg.SearchPath))
	}
	if len(cfg.AdditionalParameters) == 0 {
		return connURI.String()
	}

	ignore := map[string]struct{}{"sslmode": {}}
	if cfg.SearchPath != "" {
		ignore["search_path"] = struct{}{}
	}
	return urlWithOptionalParameters(connURI, cfg.AdditionalParameters, ignore)
}

// MakeSQLiteDSN makes DSN for opening SQLite database.
func MakeSQLiteDSN(cfg *SQLiteConfig) string {
	return cfg.Path
}

// RedactDSN masks the password of a URL-shaped DSN so it can be printed or logged.
// Non-URL DSNs (MySQL, SQLite paths) are returned with everything before '@' masked.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}
	if i := strings.LastIndex(dsn, "@"); i >= 0 {
		return "xxxxx" + dsn[i:]
	}
	return dsn
}

func urlWithOptionalParameters(u url.URL, params map[string]string, keysToIgnore map[string]struct{}) string {
	queryParts := make([]string, 0, len(params))
	for k, v := range params {
		if _, ok := keysToIgnore[k]; ok {
			continue
		}
		queryParts = append(queryParts, fmt.Sprintf("%s=%s", k, url.QueryEscape(v)))
	}
	sort.Strings(queryParts) // Sort to make DSN deterministic.
	u.RawQuery += "&" + strings.Join(queryParts, "&")
	return u.String()
}
