package db

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
)

// Descriptor is one candidate way of reaching the backing store.
type Descriptor struct {
	Label    string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// dsn is kept verbatim when the descriptor came from a connection string,
	// so driver options beyond the fields above survive.
	dsn string
}

// ParseDescriptor accepts anything pgx accepts: a postgres:// URL or a
// keyword/value string.
func ParseDescriptor(label, connString string) (Descriptor, error) {
	if connString == "" {
		return Descriptor{}, errors.New("empty connection string")
	}

	cfg, err := pgconn.ParseConfig(connString)
	if err != nil {
		return Descriptor{}, fmt.Errorf("parse candidate %q: %w", label, err)
	}

	d := Descriptor{
		Label:    label,
		Host:     cfg.Host,
		Port:     int(cfg.Port),
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		dsn:      connString,
	}
	if u, err := url.Parse(connString); err == nil && u.Scheme != "" {
		d.SSLMode = u.Query().Get("sslmode")
	}
	if d.Label == "" {
		d.Label = d.Database
	}
	return d, nil
}

// WithDatabase returns a copy of d targeting another database on the same
// host with the same credentials.
func (d Descriptor) WithDatabase(label, database string) Descriptor {
	out := d
	out.Label = label
	out.Database = database
	out.dsn = ""
	return out
}

func (d Descriptor) DSN() string {
	if d.dsn != "" {
		return d.dsn
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.port())),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", d.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// String is safe to log: it never contains the password.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s@%s/%s)", d.Label, d.User, net.JoinHostPort(d.Host, strconv.Itoa(d.port())), d.Database)
}

func (d Descriptor) port() int {
	if d.Port == 0 {
		return 5432
	}
	return d.Port
}
