package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

var tableNamePattern = regexp.MustCompile("^[a-zA-Z0-9_]+$")

// PostgresStore implements the Store interface
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

// NewPostgresStore initializes PostgreSQL storage.
// connStr: Connection string
// tablePrefix: Table prefix (defaults to "evm_activity_") -> Resulting table is prefix + "kv"
func NewPostgresStore(connStr string, tablePrefix string) (*PostgresStore, error) {
	if tablePrefix == "" {
		tablePrefix = "evm_activity_"
	}
	tableName := tablePrefix + "kv"
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return openPostgresStore(db, tableName)
}

// openPostgresStore takes ownership of db and closes it if the store cannot be set up.
func openPostgresStore(db *sql.DB, tableName string) (*PostgresStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	store := &PostgresStore{
		db:        db,
		tableName: tableName,
	}

	if err := store.initTable(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initTable automatically creates the key/value table
func (p *PostgresStore) initTable() error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		key VARCHAR(255) PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`, p.tableName)
	_, err := p.db.Exec(query)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", p.tableName)
	err := p.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	// Upsert using Postgres ON CONFLICT syntax
	query := fmt.Sprintf(`
	INSERT INTO %s (key, value, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (key)
	DO UPDATE SET value = EXCLUDED.value, updated_at = NOW();
	`, p.tableName)
	_, err := p.db.ExecContext(ctx, query, key, value)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE key = ANY($1)", p.tableName)
	_, err := p.db.ExecContext(ctx, query, pq.Array(keys))
	return err
}

func (p *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE $1 ESCAPE '\' ORDER BY key`, p.tableName)
	rows, err := p.db.QueryContext(ctx, query, likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// likePrefix escapes LIKE wildcards so "activity_" matches literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
