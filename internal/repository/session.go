package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/xhclintohn/9bot-pair-server/internal/model"
)

// SessionRecordRepository mirrors pairing sessions into the durable status
// store. The in-memory session stays authoritative while a session is
// active; rows here serve status queries after registry eviction and
// operator forensics.
type SessionRecordRepository interface {
	Upsert(ctx context.Context, params model.CreateSessionRecordParams) (*model.SessionRecord, error)
	UpdateStatus(ctx context.Context, id string, status string) error
	SetCodeIssued(ctx context.Context, id string, status string, code string) error
	MarkConnected(ctx context.Context, id string, at time.Time) error
	MarkDeployed(ctx context.Context, id string, appName string, at time.Time) error
	MarkFailed(ctx context.Context, id string, status string, lastError string) error
	FindByID(ctx context.Context, id string) (*model.SessionRecord, error)
	FindByUserID(ctx context.Context, userID string) (*model.SessionRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRecordRepository
}

// sessionRecordDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sessionRecordDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRecordRepo struct {
	db sessionRecordDB
}

func NewSessionRecordRepository(db *sqlx.DB) SessionRecordRepository {
	return &sessionRecordRepo{db: db}
}

func (r *sessionRecordRepo) WithTx(tx *sqlx.Tx) SessionRecordRepository {
	return &sessionRecordRepo{db: tx}
}

func (r *sessionRecordRepo) Upsert(ctx context.Context, params model.CreateSessionRecordParams) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.db.GetContext(ctx, &rec, `
		INSERT INTO pairing_sessions (id, user_id, phone_number, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING *
	`, params.ID, params.UserID, params.PhoneNumber, params.Status)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *sessionRecordRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, status)
	return err
}

func (r *sessionRecordRepo) SetCodeIssued(ctx context.Context, id string, status string, code string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET
			status = $2,
			pairing_code = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, code)
	return err
}

func (r *sessionRecordRepo) MarkConnected(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET
			status = 'connected',
			connected_at = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, at)
	return err
}

func (r *sessionRecordRepo) MarkDeployed(ctx context.Context, id string, appName string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET
			status = 'deployed',
			app_name = $2,
			deployed_at = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, appName, at)
	return err
}

func (r *sessionRecordRepo) MarkFailed(ctx context.Context, id string, status string, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET
			status = $2,
			last_error = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, lastError)
	return err
}

func (r *sessionRecordRepo) FindByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM pairing_sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *sessionRecordRepo) FindByUserID(ctx context.Context, userID string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM pairing_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *sessionRecordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_sessions
		WHERE updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
