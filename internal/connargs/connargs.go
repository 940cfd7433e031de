// Package connargs turns a source description into the connection arguments the
// native dump and restore tools expect.
package connargs

import (
	"net"
	"net/url"
	"strconv"

	"dumphook/internal/config"
)

// ForPostgres returns a single "-d <uri>" pair. Unset fields are left out of the
// URI, so a source with only a database resolves to "postgres:///db".
func ForPostgres(src config.Source) []string {
	return []string{"-d", PostgresURI(src)}
}

func PostgresURI(src config.Source) string {
	u := url.URL{
		Scheme: "postgres",
		Path:   "/" + src.Database,
	}

	switch {
	case src.Username != "" && src.Password != "":
		u.User = url.UserPassword(src.Username, src.Password)
	case src.Username != "":
		u.User = url.User(src.Username)
	}

	switch {
	case src.Host != "" && src.Port > 0:
		u.Host = net.JoinHostPort(src.Host, strconv.Itoa(src.Port))
	case src.Host != "":
		u.Host = src.Host
	case src.Port > 0:
		u.Host = ":" + strconv.Itoa(src.Port)
	}

	return u.String()
}

// ForMySQL returns the database name followed by credential and location flags.
func ForMySQL(src config.Source) []string {
	args := []string{src.Database}
	if src.Username != "" {
		args = append(args, "--user", src.Username)
	}
	if src.Password != "" {
		args = append(args, "--password="+src.Password)
	}
	if src.Host != "" {
		args = append(args, "--host", src.Host)
	}
	if src.Port > 0 {
		args = append(args, "--port", strconv.Itoa(src.Port))
	}
	return args
}
