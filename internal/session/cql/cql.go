// Package cql implements session.Session on top of gocql for Cassandra and
// ScyllaDB clusters.
package cql

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"
	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/loggingutil"
	"pkt.systems/stressor/internal/session"
)

const (
	// DefaultPort is appended to hosts given without one.
	DefaultPort = 9042
	// DefaultKeyspace is used when the URL path is empty.
	DefaultKeyspace = "stressor"
	// DefaultReplication is the SimpleStrategy replication factor used when
	// creating the keyspace.
	DefaultReplication = 1
	// DefaultTimeout bounds every request sent by the driver.
	DefaultTimeout = 10 * time.Second
	// DefaultConnectTimeout bounds the initial dial.
	DefaultConnectTimeout = 5 * time.Second
)

// Config describes a cluster connection.
type Config struct {
	Hosts          []string
	Keyspace       string
	Consistency    gocql.Consistency
	Replication    int
	Timeout        time.Duration
	ConnectTimeout time.Duration
	NumConns       int
	Username       string
	Password       string
	// DropKeyspace drops the keyspace before it is recreated.
	DropKeyspace bool
	Logger       pslog.Logger
}

// ParseURL parses cql://host[:port][,host[:port]...]/keyspace?opts. Supported
// options: consistency, replication, timeout, connect-timeout, conns,
// username and password.
func ParseURL(raw string) (Config, error) {
	rest, ok := strings.CutPrefix(raw, "cql://")
	if !ok {
		return Config{}, fmt.Errorf("cql: url %q must use the cql:// scheme", raw)
	}
	rest, rawQuery, _ := strings.Cut(rest, "?")
	hostPart, keyspace, _ := strings.Cut(rest, "/")
	cfg := Config{
		Keyspace:       strings.Trim(keyspace, "/"),
		Consistency:    gocql.Quorum,
		Replication:    DefaultReplication,
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		NumConns:       2,
	}
	for _, host := range strings.Split(hostPart, ",") {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if !strings.Contains(host, ":") {
			host = host + ":" + strconv.Itoa(DefaultPort)
		}
		cfg.Hosts = append(cfg.Hosts, host)
	}
	if len(cfg.Hosts) == 0 {
		return Config{}, fmt.Errorf("cql: url %q names no hosts", raw)
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = DefaultKeyspace
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Config{}, fmt.Errorf("cql: parse query: %w", err)
	}
	if v := query.Get("consistency"); v != "" {
		consistency, err := gocql.ParseConsistencyWrapper(strings.ToUpper(v))
		if err != nil {
			return Config{}, fmt.Errorf("cql: consistency %q: %w", v, err)
		}
		cfg.Consistency = consistency
	}
	if v := query.Get("replication"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("cql: replication %q must be a positive integer", v)
		}
		cfg.Replication = n
	}
	if v := query.Get("conns"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("cql: conns %q must be a positive integer", v)
		}
		cfg.NumConns = n
	}
	for name, target := range map[string]*time.Duration{
		"timeout":         &cfg.Timeout,
		"connect-timeout": &cfg.ConnectTimeout,
	} {
		v := query.Get(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("cql: %s %q must be a positive duration", name, v)
		}
		*target = d
	}
	cfg.Username = query.Get("username")
	cfg.Password = query.Get("password")
	return cfg, nil
}

// Session implements session.Session against a CQL cluster.
type Session struct {
	cfg     Config
	session *gocql.Session
	logger  pslog.Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open connects to the cluster, creates the keyspace when missing and returns
// a session bound to it.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("cql: no hosts configured")
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = DefaultKeyspace
	}
	if cfg.Replication < 1 {
		cfg.Replication = DefaultReplication
	}
	logger := loggingutil.WithSubsystem(cfg.Logger, "session.cql")
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = cfg.Consistency
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	admin, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cql: connect %s: %w", strings.Join(cfg.Hosts, ","), err)
	}
	if cfg.DropKeyspace {
		logger.Warn("session.cql.keyspace.drop", "keyspace", cfg.Keyspace)
		if err := admin.Query("DROP KEYSPACE IF EXISTS " + cfg.Keyspace).WithContext(ctx).Exec(); err != nil {
			admin.Close()
			return nil, fmt.Errorf("cql: drop keyspace %s: %w", cfg.Keyspace, err)
		}
	}
	if err := admin.Query(KeyspaceDDL(cfg.Keyspace, cfg.Replication)).WithContext(ctx).Exec(); err != nil {
		admin.Close()
		return nil, fmt.Errorf("cql: create keyspace %s: %w", cfg.Keyspace, err)
	}
	admin.Close()

	cluster.Keyspace = cfg.Keyspace
	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cql: open keyspace %s: %w", cfg.Keyspace, err)
	}
	logger.Info("session.cql.connected",
		"hosts", strings.Join(cfg.Hosts, ","),
		"keyspace", cfg.Keyspace,
		"consistency", cfg.Consistency.String(),
		"replication", cfg.Replication,
	)
	return &Session{cfg: cfg, session: sess, logger: logger}, nil
}

// KeyspaceDDL renders the CREATE KEYSPACE statement used by Open.
func KeyspaceDDL(keyspace string, replication int) string {
	return fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		keyspace, replication)
}

// Keyspace returns the keyspace the session is bound to.
func (s *Session) Keyspace() string {
	return s.cfg.Keyspace
}

// ExecuteAsync runs stmt on its own goroutine. The driver owns pooling and
// timeouts; a timed out request surfaces as an error in done.
func (s *Session) ExecuteAsync(ctx context.Context, stmt session.Statement, done session.Callback) {
	s.wg.Go(func() {
		done(s.Execute(ctx, stmt))
	})
}

// Execute implements session.Session.
func (s *Session) Execute(ctx context.Context, stmt session.Statement) (session.Result, error) {
	if s.closed.Load() {
		return session.Result{}, session.ErrClosed
	}
	if stmt.Query == "" {
		return session.Result{}, fmt.Errorf("cql: %s statement on %s has no query", stmt.Kind, stmt.Table)
	}
	query := s.session.Query(stmt.Query, stmt.Args...).WithContext(ctx)
	if stmt.Kind != session.KindRead {
		if err := query.Exec(); err != nil {
			return session.Result{}, fmt.Errorf("cql: %s %s: %w", stmt.Kind, stmt.Table, err)
		}
		return session.Result{}, nil
	}
	iter := query.Iter()
	var rows []session.Row
	for {
		values := make(map[string]any)
		if !iter.MapScan(values) {
			break
		}
		rows = append(rows, Render(values))
	}
	if err := iter.Close(); err != nil {
		return session.Result{}, fmt.Errorf("cql: read %s: %w", stmt.Table, err)
	}
	return session.Result{Rows: rows}, nil
}

// Close waits for outstanding callbacks and closes the driver session.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.wg.Wait()
	s.session.Close()
	s.logger.Debug("session.cql.closed", "keyspace", s.cfg.Keyspace)
	return nil
}

// Render converts a scanned CQL row into its textual form.
func Render(values map[string]any) session.Row {
	row := make(session.Row, len(values))
	for column, value := range values {
		switch v := value.(type) {
		case nil:
			row[column] = ""
		case string:
			row[column] = v
		case []byte:
			row[column] = string(v)
		case gocql.UUID:
			row[column] = v.String()
		case time.Time:
			row[column] = v.UTC().Format(time.RFC3339Nano)
		case float64:
			row[column] = strconv.FormatFloat(v, 'g', -1, 64)
		default:
			row[column] = fmt.Sprint(v)
		}
	}
	return row
}
