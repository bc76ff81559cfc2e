// Package sqlite provides a single-file SQLite implementation of simpletoken.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-token/pkg/simpletoken"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Repository implements simpletoken.Store on top of SQLite.
// Timestamps are stored as Unix nanoseconds.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes its schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func initSchema(db *sql.DB) error {
	statements := []string{`
		CREATE TABLE IF NOT EXISTS storage_tokens (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id   TEXT    NOT NULL UNIQUE,
			owner_id      TEXT    NOT NULL,
			kind          TEXT    NOT NULL CHECK (kind IN ('upload', 'download')),
			bucket        TEXT    NOT NULL,
			object_key    TEXT    NOT NULL DEFAULT '',
			signed_value  TEXT    NOT NULL,
			purpose       TEXT    NOT NULL DEFAULT '',
			expires_at    INTEGER NOT NULL,
			status        TEXT    NOT NULL,
			reviewer_id   TEXT    NOT NULL DEFAULT '',
			decision_note TEXT    NOT NULL DEFAULT '',
			decided_at    INTEGER,
			used_at       INTEGER,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			CHECK (expires_at > created_at)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_storage_tokens_owner ON storage_tokens (owner_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_storage_tokens_status ON storage_tokens (status, expires_at);`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init storage_tokens schema: %w", err)
		}
	}
	return nil
}

const tokenColumns = `
	id, external_id, owner_id, kind, bucket, object_key, signed_value, purpose,
	expires_at, status, reviewer_id, decision_note, decided_at, used_at,
	created_at, updated_at`

func (r *Repository) handleSQLiteError(operation string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return simpletoken.ErrTokenExists
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%w: %s", simpletoken.ErrValidation, sqliteErr.Error())
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return simpletoken.ErrTokenNotFound
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) CreateToken(ctx context.Context, token *simpletoken.Token) error {
	query := `
		INSERT INTO storage_tokens (
			external_id, owner_id, kind, bucket, object_key, signed_value, purpose,
			expires_at, status, reviewer_id, decision_note, decided_at, used_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		token.ExternalID.String(), token.OwnerID, string(token.Kind), token.Bucket, token.ObjectKey,
		token.SignedValue, token.Purpose, token.ExpiresAt.UnixNano(), string(token.Status),
		token.ReviewerID, token.DecisionNote, nullableNano(token.DecidedAt), nullableNano(token.UsedAt),
		token.CreatedAt.UnixNano(), token.UpdatedAt.UnixNano()).Scan(&token.ID)
	if err != nil {
		return r.handleSQLiteError("create token", err)
	}
	return nil
}

func (r *Repository) GetToken(ctx context.Context, id int64) (*simpletoken.Token, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+tokenColumns+` FROM storage_tokens WHERE id = ?`, id)
	token, err := scanToken(row)
	if err != nil {
		return nil, r.handleSQLiteError("get token", err)
	}
	return token, nil
}

func (r *Repository) GetTokenByExternalID(ctx context.Context, externalID uuid.UUID) (*simpletoken.Token, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+tokenColumns+` FROM storage_tokens WHERE external_id = ?`, externalID.String())
	token, err := scanToken(row)
	if err != nil {
		return nil, r.handleSQLiteError("get token by external id", err)
	}
	return token, nil
}

func (r *Repository) ListTokensByOwner(ctx context.Context, ownerID string, page simpletoken.Page) ([]*simpletoken.Token, error) {
	page = page.Normalize()
	query := `SELECT` + tokenColumns + ` FROM storage_tokens
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	return r.listTokens(ctx, "list tokens by owner", query, ownerID, page.Limit, page.Skip)
}

func (r *Repository) ListTokensByStatus(ctx context.Context, status simpletoken.TokenStatus, page simpletoken.Page) ([]*simpletoken.Token, error) {
	page = page.Normalize()
	query := `SELECT` + tokenColumns + ` FROM storage_tokens
		WHERE status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	return r.listTokens(ctx, "list tokens by status", query, string(status), page.Limit, page.Skip)
}

func (r *Repository) listTokens(ctx context.Context, operation, query string, args ...any) ([]*simpletoken.Token, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.handleSQLiteError(operation, err)
	}
	defer rows.Close()

	tokens := []*simpletoken.Token{}
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, r.handleSQLiteError(operation, err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handleSQLiteError(operation, err)
	}
	return tokens, nil
}

func (r *Repository) TransitionToken(ctx context.Context, id int64, from []simpletoken.TokenStatus, t simpletoken.Transition) (*simpletoken.Token, error) {
	if len(from) == 0 {
		return nil, simpletoken.ErrConflictingState
	}

	var (
		sets = []string{"status = ?", "updated_at = ?"}
		args = []any{string(t.To), t.UpdatedAt.UnixNano()}
	)
	if t.ReviewerID != "" {
		sets = append(sets, "reviewer_id = ?", "decision_note = ?")
		args = append(args, t.ReviewerID, t.DecisionNote)
	}
	if t.DecidedAt != nil {
		sets = append(sets, "decided_at = ?")
		args = append(args, t.DecidedAt.UnixNano())
	}
	if t.UsedAt != nil {
		sets = append(sets, "used_at = ?")
		args = append(args, t.UsedAt.UnixNano())
	}

	where := "id = ? AND status IN (" + placeholders(len(from)) + ")"
	args = append(args, id)
	for _, s := range from {
		args = append(args, string(s))
	}
	if t.LiveAt != nil {
		where += " AND expires_at > ?"
		args = append(args, t.LiveAt.UnixNano())
	}

	query := "UPDATE storage_tokens SET " + strings.Join(sets, ", ") +
		" WHERE " + where + " RETURNING" + tokenColumns

	token, err := scanToken(r.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, r.handleSQLiteError("transition token", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM storage_tokens WHERE id = ?)`, id).Scan(&exists); err != nil {
		return nil, r.handleSQLiteError("transition token", err)
	}
	if !exists {
		return nil, simpletoken.ErrTokenNotFound
	}
	return nil, simpletoken.ErrConflictingState
}

func (r *Repository) ExpireTokens(ctx context.Context, now time.Time) (int64, error) {
	expirable := simpletoken.ExpirableStatuses()
	args := []any{string(simpletoken.TokenStatusExpired), now.UnixNano()}
	for _, s := range expirable {
		args = append(args, string(s))
	}
	args = append(args, now.UnixNano())

	query := `UPDATE storage_tokens SET status = ?, updated_at = ?
		WHERE status IN (` + placeholders(len(expirable)) + `) AND expires_at <= ?`

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, r.handleSQLiteError("expire tokens", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*simpletoken.Token, error) {
	var (
		token                simpletoken.Token
		externalID           string
		kind, status         string
		expiresAt            int64
		createdAt, updatedAt int64
		decidedAt, usedAt    sql.NullInt64
	)
	err := row.Scan(
		&token.ID, &externalID, &token.OwnerID, &kind, &token.Bucket, &token.ObjectKey,
		&token.SignedValue, &token.Purpose, &expiresAt, &status,
		&token.ReviewerID, &token.DecisionNote, &decidedAt, &usedAt,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	token.ExternalID, err = uuid.Parse(externalID)
	if err != nil {
		return nil, fmt.Errorf("invalid external id %q: %w", externalID, err)
	}
	token.Kind = simpletoken.TokenKind(kind)
	token.Status = simpletoken.TokenStatus(status)
	token.ExpiresAt = fromNano(expiresAt)
	token.CreatedAt = fromNano(createdAt)
	token.UpdatedAt = fromNano(updatedAt)
	if decidedAt.Valid {
		t := fromNano(decidedAt.Int64)
		token.DecidedAt = &t
	}
	if usedAt.Valid {
		t := fromNano(usedAt.Int64)
		token.UsedAt = &t
	}
	return &token, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullableNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
