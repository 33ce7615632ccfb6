// Package postgres provides a Postgres-backed tender document store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/JakeFAU/globaltender/internal/tender"
)

// TenderStoreConfig configures the Postgres store.
type TenderStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	UpsertPolicy    tender.UpsertPolicy
	// RegisterVector enables pgvector type registration on each connection.
	RegisterVector bool
}

// pgxPool is the subset of pgxpool.Pool used by TenderStore.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// TenderStore persists tender records as JSONB documents keyed by tenderId.
type TenderStore struct {
	pool   pgxPool
	table  string
	policy tender.UpsertPolicy
	logger *zap.Logger
}

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewTenderStore connects to Postgres and returns a store. The caller should
// run Migrate before first use.
func NewTenderStore(ctx context.Context, cfg TenderStoreConfig, logger *zap.Logger) (*TenderStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if cfg.Table == "" {
		cfg.Table = "tenders"
	}
	if !validTableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.RegisterVector {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvector.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewTenderStoreWithPool(pool, cfg.Table, cfg.UpsertPolicy, logger)
}

// NewTenderStoreWithPool wraps an existing pool, mainly for tests.
func NewTenderStoreWithPool(pool pgxPool, table string, policy tender.UpsertPolicy, logger *zap.Logger) (*TenderStore, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if table == "" {
		table = "tenders"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if policy == "" {
		policy = tender.LastWriteWins
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenderStore{pool: pool, table: table, policy: policy, logger: logger}, nil
}

// Upsert stores rec. A record whose tenderId already exists is replaced or
// kept according to the store's policy; an empty tenderId always inserts.
func (s *TenderStore) Upsert(ctx context.Context, rec tender.Record) (tender.UpsertResult, error) {
	rec.Normalize()
	doc, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal tender %q: %w", rec.TenderID, err)
	}
	var embedding any
	if len(rec.VectorEmbedding) > 0 {
		embedding = pgvector.NewVector(rec.VectorEmbedding)
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, s.upsertSQL(), rec.TenderID, doc, embedding).Scan(&inserted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return tender.Unchanged, nil
	case err != nil:
		return 0, fmt.Errorf("upsert tender %q: %w", rec.TenderID, err)
	case inserted:
		return tender.Inserted, nil
	default:
		return tender.Updated, nil
	}
}

func (s *TenderStore) upsertSQL() string {
	insert := fmt.Sprintf(`INSERT INTO %s (tender_id, doc, embedding) VALUES ($1, $2, $3)
ON CONFLICT (tender_id) WHERE tender_id <> ''`, s.table)
	if s.policy == tender.FirstWriteWins {
		return insert + ` DO NOTHING
RETURNING true`
	}
	return insert + ` DO UPDATE SET doc = EXCLUDED.doc, embedding = EXCLUDED.embedding, updated_at = NOW()
RETURNING (xmax = 0)`
}

// Count returns the number of records matching f.
func (s *TenderStore) Count(ctx context.Context, f tender.Filter) (int64, error) {
	where, args := buildWhere(f)
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.table, where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tenders: %w", err)
	}
	return n, nil
}

// Find returns up to limit records matching f in insertion order, skipping
// the first skip matches.
func (s *TenderStore) Find(ctx context.Context, f tender.Filter, skip, limit int) ([]tender.Record, error) {
	where, args := buildWhere(f)
	args = append(args, skip, limit)
	sql := fmt.Sprintf("SELECT doc FROM %s%s ORDER BY seq OFFSET $%d LIMIT $%d", s.table, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find tenders: %w", err)
	}
	defer rows.Close()

	out := make([]tender.Record, 0, limit)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan tender: %w", err)
		}
		var rec tender.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("decode tender: %w", err)
		}
		rec.Normalize()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenders: %w", err)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *TenderStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *TenderStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const (
	titleExpr   = "COALESCE(doc->'details'->>'title', '')"
	summaryExpr = "COALESCE(doc->'details'->>'procurementSummary', '')"
)

// buildWhere translates f into a WHERE clause with positional arguments. It
// mirrors tender.Filter.Match.
func buildWhere(f tender.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if countries := lowerTerms(f.Countries); len(countries) > 0 {
		conds = append(conds, "lower(doc->>'country') = ANY("+arg(countries)+")")
	}
	if states := lowerTerms(f.States); len(states) > 0 {
		conds = append(conds, "lower(doc->>'state') = ANY("+arg(states)+")")
	}
	if id := strings.TrimSpace(f.TenderID); id != "" {
		conds = append(conds, "tender_id = "+arg(id))
	}
	if cur := strings.TrimSpace(f.Currency); cur != "" {
		conds = append(conds, "lower(doc->'details'->>'currency') = "+arg(strings.ToLower(cur)))
	}
	if f.MinValue != nil {
		conds = append(conds, "(doc->'details'->>'tenderValue')::double precision >= "+arg(*f.MinValue))
	}
	if f.MaxValue != nil {
		conds = append(conds, "(doc->'details'->>'tenderValue')::double precision <= "+arg(*f.MaxValue))
	}
	if pattern := keywordPattern(f.IncludeKeywords); pattern != "" {
		p := arg(pattern)
		conds = append(conds, fmt.Sprintf("(%s ~* %s OR %s ~* %s)", titleExpr, p, summaryExpr, p))
	}
	if pattern := keywordPattern(f.ExcludeKeywords); pattern != "" {
		p := arg(pattern)
		conds = append(conds, fmt.Sprintf("NOT (%s ~* %s OR %s ~* %s)", titleExpr, p, summaryExpr, p))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func lowerTerms(values []string) []string {
	terms := tender.Terms(values)
	for i, t := range terms {
		terms[i] = strings.ToLower(t)
	}
	return terms
}

// keywordPattern builds a case-insensitive alternation of literal terms.
func keywordPattern(keywords []string) string {
	terms := tender.Terms(keywords)
	for i, t := range terms {
		terms[i] = regexp.QuoteMeta(t)
	}
	return strings.Join(terms, "|")
}
