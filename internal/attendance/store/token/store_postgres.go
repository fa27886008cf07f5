package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
)

// defaultEvictBatch bounds how many rows one DeleteExpired round removes.
const defaultEvictBatch = 500

// PostgresStore persists tokens in the attendance_tokens table.
type PostgresStore struct {
	db         *sql.DB
	evictBatch int
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, evictBatch: defaultEvictBatch}
}

func (s *PostgresStore) Create(ctx context.Context, token *models.Token) error {
	query := `
		INSERT INTO attendance_tokens
			(id, issuer_id, subject, origin_lat, origin_lon, radius_m, issued_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.ExecerFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(token.ID),
		uuid.UUID(token.IssuerID),
		token.Subject,
		token.OriginLat,
		token.OriginLon,
		token.RadiusMeters,
		token.IssuedAt,
		token.ExpiresAt,
		token.Active,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	query := `
		SELECT id, issuer_id, subject, origin_lat, origin_lon, radius_m, issued_at, expires_at, active
		FROM attendance_tokens
		WHERE id = $1
	`
	var (
		rawID, rawIssuer uuid.UUID
		t                models.Token
	)
	err := tx.ExecerFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(tokenID)).Scan(
		&rawID, &rawIssuer, &t.Subject, &t.OriginLat, &t.OriginLon, &t.RadiusMeters,
		&t.IssuedAt, &t.ExpiresAt, &t.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find token by id: %w", err)
	}
	t.ID = id.TokenID(rawID)
	t.IssuerID = id.UserID(rawIssuer)
	return &t, nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, tokenID id.TokenID) error {
	res, err := tx.ExecerFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE attendance_tokens SET active = FALSE WHERE id = $1`, uuid.UUID(tokenID))
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	res, err := tx.ExecerFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE attendance_tokens SET active = FALSE WHERE active AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire stale tokens: %w", err)
	}
	return int(n), nil
}

// DeleteExpired removes tokens that expired before the cutoff in batches,
// using the expires_at index to pick candidates.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		ids, err := s.expiredIDs(ctx, before)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM attendance_tokens WHERE id = ANY($1::uuid[])`, pq.Array(ids))
		if err != nil {
			return total, fmt.Errorf("delete expired tokens: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("delete expired tokens: %w", err)
		}
		total += int(n)
		if len(ids) < s.evictBatch {
			return total, nil
		}
	}
}

func (s *PostgresStore) expiredIDs(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id::text FROM attendance_tokens WHERE expires_at < $1 ORDER BY expires_at LIMIT $2`,
		before, s.evictBatch)
	if err != nil {
		return nil, fmt.Errorf("list expired tokens: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var tokenID string
		if err := rows.Scan(&tokenID); err != nil {
			return nil, fmt.Errorf("scan expired token: %w", err)
		}
		ids = append(ids, tokenID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired tokens: %w", err)
	}
	return ids, nil
}
