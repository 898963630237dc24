package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/storage/models"
	"github.com/retail-agent/backend/pkg/logger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Client struct {
	db     *sql.DB
	driver string
}

func NewClient(driver, dsn string) (*Client, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// One writer at a time; WAL lets readers proceed alongside it.
		db.SetMaxOpenConns(1)

		_, err = db.Exec("PRAGMA journal_mode = WAL")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQL client initialized", zap.String("driver", driver))

	return &Client{db: db, driver: driver}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sale_classifications (
		customer_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		is_sale INTEGER NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (customer_id, thread_id)
	);

	CREATE TABLE IF NOT EXISTS knowledge_sources (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (tenant_id, source)
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_sources_tenant ON knowledge_sources(tenant_id);
	`

	_, err := c.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQL schema initialized")
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (c *Client) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *Client) SetSaleClassification(ctx context.Context, sc *models.SaleClassification) error {
	query := c.rebind(`
		INSERT INTO sale_classifications (customer_id, thread_id, is_sale, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (customer_id, thread_id) DO UPDATE SET
			is_sale = excluded.is_sale,
			updated_at = excluded.updated_at
	`)

	isSale := 0
	if sc.IsSale {
		isSale = 1
	}

	_, err := c.db.ExecContext(ctx, query, sc.CustomerID, sc.ThreadID, isSale, sc.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to set sale classification: %w", err)
	}

	logger.Debug("Sale classification stored",
		zap.String("customer_id", sc.CustomerID),
		zap.String("thread_id", sc.ThreadID),
		zap.Bool("is_sale", sc.IsSale),
	)
	return nil
}

// GetSaleClassification returns nil, nil when the thread was never
// classified.
func (c *Client) GetSaleClassification(ctx context.Context, customerID, threadID string) (*models.SaleClassification, error) {
	query := c.rebind(`SELECT customer_id, thread_id, is_sale, updated_at FROM sale_classifications WHERE customer_id = ? AND thread_id = ?`)

	var sc models.SaleClassification
	var isSale int
	var updatedAt int64

	err := c.db.QueryRowContext(ctx, query, customerID, threadID).Scan(&sc.CustomerID, &sc.ThreadID, &isSale, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale classification: %w", err)
	}

	sc.IsSale = isSale != 0
	sc.UpdatedAt = time.Unix(updatedAt, 0)
	return &sc, nil
}

func (c *Client) DeleteSaleClassification(ctx context.Context, customerID, threadID string) error {
	query := c.rebind(`DELETE FROM sale_classifications WHERE customer_id = ? AND thread_id = ?`)

	_, err := c.db.ExecContext(ctx, query, customerID, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete sale classification: %w", err)
	}
	return nil
}

func (c *Client) UpsertKnowledgeSource(ctx context.Context, src *models.KnowledgeSource) error {
	query := c.rebind(`
		INSERT INTO knowledge_sources (id, tenant_id, source, title, summary, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, source) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
	`)

	_, err := c.db.ExecContext(ctx, query,
		src.ID,
		src.TenantID,
		src.Source,
		src.Title,
		src.Summary,
		src.ChunkCount,
		src.CreatedAt.Unix(),
		src.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge source: %w", err)
	}

	logger.Debug("Knowledge source stored", zap.String("tenant_id", src.TenantID), zap.String("source", src.Source))
	return nil
}

func (c *Client) ListKnowledgeSources(ctx context.Context, tenantID string) ([]models.KnowledgeSource, error) {
	query := c.rebind(`
		SELECT id, tenant_id, source, title, summary, chunk_count, created_at, updated_at
		FROM knowledge_sources WHERE tenant_id = ? ORDER BY source
	`)

	rows, err := c.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge sources: %w", err)
	}
	defer rows.Close()

	sources := make([]models.KnowledgeSource, 0)
	for rows.Next() {
		var src models.KnowledgeSource
		var createdAt, updatedAt int64
		if err := rows.Scan(&src.ID, &src.TenantID, &src.Source, &src.Title, &src.Summary, &src.ChunkCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge source: %w", err)
		}
		src.CreatedAt = time.Unix(createdAt, 0)
		src.UpdatedAt = time.Unix(updatedAt, 0)
		sources = append(sources, src)
	}

	return sources, rows.Err()
}

// DeleteKnowledgeSources removes one source of a tenant, or all of them when
// source is empty, and reports how many rows went.
func (c *Client) DeleteKnowledgeSources(ctx context.Context, tenantID, source string) (int, error) {
	query := `DELETE FROM knowledge_sources WHERE tenant_id = ?`
	args := []any{tenantID}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}

	res, err := c.db.ExecContext(ctx, c.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete knowledge sources: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted knowledge sources: %w", err)
	}
	return int(n), nil
}
