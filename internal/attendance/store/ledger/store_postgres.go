package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
)

const recordColumns = `id, holder_id, issuer_id, subject, day, redeemed_at, lat, lon, method, biometric_confirmed, token_id`

// PostgresStore relies on the attendance_records (holder_id, subject, day)
// unique constraint for atomicity. Calls join the transaction in ctx if any.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) TryCommit(ctx context.Context, record *models.Record) (*models.Record, error) {
	exec := tx.ExecerFrom(ctx, s.db)

	var tokenID any
	if record.TokenID != nil {
		tokenID = uuid.UUID(*record.TokenID)
	}
	query := `
		INSERT INTO attendance_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ON CONSTRAINT attendance_records_holder_subject_day_key DO NOTHING
		RETURNING id
	`
	var inserted uuid.UUID
	err := exec.QueryRowContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.HolderID),
		uuid.UUID(record.IssuerID),
		record.Subject,
		record.Day.Time(),
		record.RedeemedAt,
		record.Latitude,
		record.Longitude,
		string(record.Method),
		record.BiometricConfirmed,
		tokenID,
	).Scan(&inserted)
	switch {
	case err == nil:
		committed := *record
		return &committed, nil
	case errors.Is(err, sql.ErrNoRows):
		// the slot is taken; report who holds it
		existing, findErr := s.findByKey(ctx, exec, record.Key())
		if findErr != nil {
			return nil, findErr
		}
		return nil, alreadyRedeemed(existing)
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("commit attendance record: %w", err)
	}
}

func (s *PostgresStore) findByKey(ctx context.Context, exec tx.Execer, key models.RecordKey) (*models.Record, error) {
	row := exec.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records WHERE holder_id = $1 AND subject = $2 AND day = $3`,
		uuid.UUID(key.HolderID), key.Subject, key.Day.Time())
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conflicting attendance record vanished: %w", sentinel.ErrInvalidState)
		}
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByHolder(ctx context.Context, holder id.UserID) ([]*models.Record, error) {
	rows, err := tx.ExecerFrom(ctx, s.db).QueryContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records WHERE holder_id = $1 ORDER BY redeemed_at DESC`,
		uuid.UUID(holder))
	if err != nil {
		return nil, fmt.Errorf("list records by holder: %w", err)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) ListBySubjectAndDay(ctx context.Context, subject string, day models.Day, issuer *id.UserID) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE subject = $1`
	args := []any{subject}
	if day != "" {
		args = append(args, day.Time())
		query += fmt.Sprintf(" AND day = $%d", len(args))
	}
	if issuer != nil {
		args = append(args, uuid.UUID(*issuer))
		query += fmt.Sprintf(" AND issuer_id = $%d", len(args))
	}
	query += " ORDER BY redeemed_at ASC, holder_id ASC"

	rows, err := tx.ExecerFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records by subject: %w", err)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) StatsForDay(ctx context.Context, day models.Day) (models.DayStats, error) {
	rows, err := tx.ExecerFrom(ctx, s.db).QueryContext(ctx,
		`SELECT subject, COUNT(*) FROM attendance_records WHERE day = $1 GROUP BY subject`, day.Time())
	if err != nil {
		return models.DayStats{}, fmt.Errorf("attendance stats: %w", err)
	}
	defer rows.Close()

	stats := models.DayStats{Day: day, BySubject: make(map[string]int)}
	for rows.Next() {
		var (
			subject string
			count   int
		)
		if err := rows.Scan(&subject, &count); err != nil {
			return models.DayStats{}, fmt.Errorf("scan attendance stats: %w", err)
		}
		stats.BySubject[subject] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return models.DayStats{}, fmt.Errorf("iterate attendance stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r                          models.Record
		rawID, rawHolder, rawIssue uuid.UUID
		day                        sql.NullTime
		method                     string
		tokenID                    uuid.NullUUID
	)
	if err := row.Scan(&rawID, &rawHolder, &rawIssue, &r.Subject, &day, &r.RedeemedAt,
		&r.Latitude, &r.Longitude, &method, &r.BiometricConfirmed, &tokenID); err != nil {
		return nil, err
	}
	r.ID = id.RecordID(rawID)
	r.HolderID = id.UserID(rawHolder)
	r.IssuerID = id.UserID(rawIssue)
	r.Day = models.DayOf(day.Time, day.Time.Location())
	r.Method = models.VerificationMethod(method)
	if tokenID.Valid {
		t := id.TokenID(tokenID.UUID)
		r.TokenID = &t
	}
	return &r, nil
}

func collectRecords(rows *sql.Rows) ([]*models.Record, error) {
	defer rows.Close()
	var out []*models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return out, nil
}
