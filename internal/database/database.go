// Package database runs ad-hoc queries against a project database server,
// going through a bastion tunnel when the server is private.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/lucasnoah/ymir/internal/api"
)

// DefaultPort is the MySQL server port.
const DefaultPort = 3306

// Credentials authenticate against a database server.
type Credentials struct {
	User     string
	Password string
	Database string
}

// Target is the address a client connects to.
type Target struct {
	Host string
	Port int
	// Tunnel is set when the address is a local forward through the
	// server's bastion host.
	Tunnel bool
}

// ResolveTarget returns where to connect for server. Private servers are
// reached through a tunnel on localPort.
func ResolveTarget(server api.DatabaseServer, localPort int) (Target, error) {
	if server.PubliclyAccessible {
		if server.Endpoint == "" {
			return Target{}, fmt.Errorf("database server %q has no endpoint", server.Name)
		}
		return Target{Host: server.Endpoint, Port: DefaultPort}, nil
	}
	if server.BastionHost == nil {
		return Target{}, fmt.Errorf("database server %q is private and has no bastion host", server.Name)
	}
	if localPort <= 0 {
		localPort = DefaultPort
	}
	return Target{Host: "127.0.0.1", Port: localPort, Tunnel: true}, nil
}

// DSN builds a go-sql-driver/mysql data source name. Direct connections to
// public servers ask for TLS; tunnelled ones are already encrypted by ssh.
func DSN(target Target, creds Credentials) string {
	cfg := mysql.NewConfig()
	cfg.User = creds.User
	cfg.Passwd = creds.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	cfg.DBName = creds.Database
	cfg.Timeout = 10 * time.Second
	if !target.Tunnel {
		cfg.TLSConfig = "preferred"
	}
	return cfg.FormatDSN()
}

// Result is a rendered query result.
type Result struct {
	Columns      []string
	Rows         [][]string
	RowsAffected int64
}

// Query runs statement on the database at dsn. Statements that return rows
// have every row collected; others report the affected row count.
func Query(ctx context.Context, dsn, statement string) (*Result, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if !ReturnsRows(statement) {
		res, err := db.ExecContext(ctx, statement)
		if err != nil {
			return nil, fmt.Errorf("exec: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		return &Result{RowsAffected: n}, nil
	}

	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	res := &Result{Columns: cols}
	raw := make([]sql.RawBytes, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make([]string, len(raw))
		for i, v := range raw {
			row[i] = FormatValue(v)
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return res, nil
}

// ReturnsRows reports whether statement produces a result set.
func ReturnsRows(statement string) bool {
	fields := strings.Fields(strings.TrimLeft(statement, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "WITH", "VALUES", "TABLE", "CALL":
		return true
	}
	return false
}

// FormatValue renders a raw column value for display.
func FormatValue(v sql.RawBytes) string {
	if v == nil {
		return "NULL"
	}
	return string(v)
}

// Render writes the result as an aligned table. Statements without columns
// print the affected row count.
func (r *Result) Render(w io.Writer) error {
	if len(r.Columns) == 0 {
		_, err := fmt.Fprintf(w, "%d row(s) affected\n", r.RowsAffected)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(r.Columns, "\t"))
	for _, row := range r.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d row(s))\n", len(r.Rows))
	return err
}
