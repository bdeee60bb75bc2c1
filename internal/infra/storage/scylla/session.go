package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"ncpwheels/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures the schema exists and returns a session bound to the keyspace.
func NewSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.ScyllaKeyspace)
	}

	baseSession, err := newCluster(cfg, "").CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err := ensureKeyspace(ctx, baseSession, cfg.ScyllaKeyspace, cfg.ReplicationFactor); err != nil {
		return nil, err
	}

	session, err := newCluster(cfg, cfg.ScyllaKeyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(ctx, session, cfg.ScyllaKeyspace); err != nil {
		session.Close()
		return nil, err
	}
	if err := ensureColumns(ctx, session, cfg.ScyllaKeyspace); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return session, nil
}

func newCluster(cfg config.Config, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.ConnectTimeout = cfg.ScyllaTimeout
	cluster.Consistency = cfg.ScyllaConsistency
	cluster.SerialConsistency = gocql.Serial
	cluster.Keyspace = keyspace
	if cfg.ScyllaUsername != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.ScyllaUsername,
			Password: cfg.ScyllaPassword,
		}
	}
	return cluster
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, keyspace string, replication int) error {
	if err := session.Query(keyspaceCQL(keyspace, replication)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

func ensureTables(ctx context.Context, session *gocql.Session, keyspace string) error {
	for _, stmt := range tableCQL(keyspace) {
		if err := session.Query(stmt.cql).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create %s: %w", stmt.name, err)
		}
	}
	return nil
}

type addedColumn struct {
	table   string
	name    string
	cqlType string
}

// addedColumns postdate the first schema. Tables created before them get them by ALTER.
var addedColumns = []addedColumn{
	{table: "conversations", name: "archived", cqlType: "map<text, boolean>"},
}

func ensureColumns(ctx context.Context, session *gocql.Session, keyspace string) error {
	for _, col := range addedColumns {
		var name string
		err := session.
			Query(`SELECT column_name FROM system_schema.columns WHERE keyspace_name = ? AND table_name = ? AND column_name = ?`,
				keyspace, col.table, col.name).
			WithContext(ctx).
			Scan(&name)
		if err == nil {
			continue
		}
		if !errors.Is(err, gocql.ErrNotFound) {
			return fmt.Errorf("inspect %s.%s: %w", col.table, col.name, err)
		}
		if err := session.Query(col.alterCQL(keyspace)).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("add %s.%s: %w", col.table, col.name, err)
		}
	}
	return nil
}

func (c addedColumn) alterCQL(keyspace string) string {
	return fmt.Sprintf("ALTER TABLE %s.%s ADD %s %s", keyspace, c.table, c.name, c.cqlType)
}

func keyspaceCQL(keyspace string, replication int) string {
	if replication < 1 {
		replication = 1
	}
	return fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		keyspace, replication,
	)
}

type schemaStatement struct {
	name string
	cql  string
}

// The conversations row is the serialization point of a thread: every change to its
// sequence, summary or counters is a compare-and-set on version.
func tableCQL(keyspace string) []schemaStatement {
	return []schemaStatement{
		{name: "conversations table", cql: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.conversations (
	id text PRIMARY KEY,
	listing_id text,
	participants set<text>,
	unread_count map<text, int>,
	message_seq bigint,
	version bigint,
	last_message_content text,
	last_message_sender text,
	last_message_at timestamp,
	created_at timestamp,
	archived map<text, boolean>
);`, keyspace)},
		{name: "messages table", cql: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.messages (
	conversation_id text,
	seq bigint,
	message_id text,
	sender_id text,
	content text,
	created_at timestamp,
	read boolean,
	PRIMARY KEY (conversation_id, seq)
) WITH CLUSTERING ORDER BY (seq ASC);`, keyspace)},
	}
}
