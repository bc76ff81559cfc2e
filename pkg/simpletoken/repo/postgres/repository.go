package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-token/pkg/simpletoken"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpletoken.Store using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) simpletoken.Store {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) simpletoken.Store {
	return &Repository{db: pool}
}

const tokenColumns = `
	id, external_id, owner_id, kind, bucket, COALESCE(object_key, ''),
	signed_value, COALESCE(purpose, ''), expires_at, status,
	COALESCE(reviewer_id, ''), COALESCE(decision_note, ''), decided_at, used_at,
	created_at, updated_at`

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return simpletoken.ErrTokenExists
		case "23514": // check_violation
			return fmt.Errorf("%w: %s", simpletoken.ErrValidation, pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: required field %s is missing", simpletoken.ErrValidation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
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
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9,
			NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14, $15)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		token.ExternalID, token.OwnerID, string(token.Kind), token.Bucket, token.ObjectKey,
		token.SignedValue, token.Purpose, token.ExpiresAt, string(token.Status),
		token.ReviewerID, token.DecisionNote, token.DecidedAt, token.UsedAt,
		token.CreatedAt, token.UpdatedAt).Scan(&token.ID)
	if err != nil {
		return r.handlePostgresError("create token", err)
	}
	return nil
}

func (r *Repository) GetToken(ctx context.Context, id int64) (*simpletoken.Token, error) {
	query := `SELECT` + tokenColumns + ` FROM storage_tokens WHERE id = $1`
	token, err := scanToken(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get token", err)
	}
	return token, nil
}

func (r *Repository) GetTokenByExternalID(ctx context.Context, externalID uuid.UUID) (*simpletoken.Token, error) {
	query := `SELECT` + tokenColumns + ` FROM storage_tokens WHERE external_id = $1`
	token, err := scanToken(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		return nil, r.handlePostgresError("get token by external id", err)
	}
	return token, nil
}

func (r *Repository) ListTokensByOwner(ctx context.Context, ownerID string, page simpletoken.Page) ([]*simpletoken.Token, error) {
	page = page.Normalize()
	query := `SELECT` + tokenColumns + ` FROM storage_tokens
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	return r.listTokens(ctx, "list tokens by owner", query, ownerID, page.Skip, page.Limit)
}

func (r *Repository) ListTokensByStatus(ctx context.Context, status simpletoken.TokenStatus, page simpletoken.Page) ([]*simpletoken.Token, error) {
	page = page.Normalize()
	query := `SELECT` + tokenColumns + ` FROM storage_tokens
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	return r.listTokens(ctx, "list tokens by status", query, string(status), page.Skip, page.Limit)
}

func (r *Repository) listTokens(ctx context.Context, operation, query string, args ...interface{}) ([]*simpletoken.Token, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	defer rows.Close()

	tokens := []*simpletoken.Token{}
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, r.handlePostgresError(operation, err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	return tokens, nil
}

// TransitionToken performs a single conditional UPDATE. Concurrent updates of
// the same row serialize on the row lock and the loser re-evaluates the
// status guard, so at most one of them applies.
func (r *Repository) TransitionToken(ctx context.Context, id int64, from []simpletoken.TokenStatus, t simpletoken.Transition) (*simpletoken.Token, error) {
	query := `
		UPDATE storage_tokens SET
			status = $2,
			reviewer_id = COALESCE(NULLIF($3::text, ''), reviewer_id),
			decision_note = CASE WHEN $3::text <> '' THEN NULLIF($4::text, '') ELSE decision_note END,
			decided_at = COALESCE($5::timestamptz, decided_at),
			used_at = COALESCE($6::timestamptz, used_at),
			updated_at = $7
		WHERE id = $1
			AND status = ANY($8::text[])
			AND ($9::timestamptz IS NULL OR expires_at > $9::timestamptz)
		RETURNING` + tokenColumns

	token, err := scanToken(r.db.QueryRow(ctx, query,
		id, string(t.To), t.ReviewerID, t.DecisionNote, t.DecidedAt, t.UsedAt,
		t.UpdatedAt, statusStrings(from), t.LiveAt))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, r.handlePostgresError("transition token", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM storage_tokens WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, r.handlePostgresError("transition token", err)
	}
	if !exists {
		return nil, simpletoken.ErrTokenNotFound
	}
	return nil, simpletoken.ErrConflictingState
}

func (r *Repository) ExpireTokens(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE storage_tokens SET status = $1, updated_at = $2
		WHERE status = ANY($3::text[]) AND expires_at <= $2`

	tag, err := r.db.Exec(ctx, query,
		string(simpletoken.TokenStatusExpired), now, statusStrings(simpletoken.ExpirableStatuses()))
	if err != nil {
		return 0, r.handlePostgresError("expire tokens", err)
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*simpletoken.Token, error) {
	var (
		token  simpletoken.Token
		kind   string
		status string
	)
	err := row.Scan(
		&token.ID, &token.ExternalID, &token.OwnerID, &kind, &token.Bucket, &token.ObjectKey,
		&token.SignedValue, &token.Purpose, &token.ExpiresAt, &status,
		&token.ReviewerID, &token.DecisionNote, &token.DecidedAt, &token.UsedAt,
		&token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return nil, err
	}
	token.Kind = simpletoken.TokenKind(kind)
	token.Status = simpletoken.TokenStatus(status)
	return &token, nil
}

func statusStrings(statuses []simpletoken.TokenStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
