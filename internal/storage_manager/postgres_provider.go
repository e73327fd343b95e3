package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresFileProvider implements FileProvider on the storage_objects table.
type PostgresFileProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresFileProvider wraps a pool whose schema has been migrated.
func NewPostgresFileProvider(pool *pgxpool.Pool) *PostgresFileProvider {
	return &PostgresFileProvider{pool: pool}
}

// Read returns the stored bytes for path.
func (p *PostgresFileProvider) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM storage_objects WHERE path = $1`, path).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Write upserts the value for path.
func (p *PostgresFileProvider) Write(ctx context.Context, path string, data []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO storage_objects (path, data) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		path, data)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a row exists for path.
func (p *PostgresFileProvider) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM storage_objects WHERE path = $1)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", path, err)
	}
	return exists, nil
}

// Delete removes the row for path.
func (p *PostgresFileProvider) Delete(ctx context.Context, path string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM storage_objects WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// List returns paths starting with prefix.
func (p *PostgresFileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT path FROM storage_objects WHERE path LIKE $1 ESCAPE '\' ORDER BY path`,
		likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

// Ping checks database connectivity.
func (p *PostgresFileProvider) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// likePrefix escapes LIKE metacharacters in prefix and appends the wildcard.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
