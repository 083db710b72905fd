package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/xhclintohn/9bot-pair-server/internal/model"
)

// noopSessionRecordRepo is wired when no DATABASE_URL is configured. Every
// write succeeds silently and every read reports no rows, so the registry is
// the only source of session status.
type noopSessionRecordRepo struct{}

func NewNoopSessionRecordRepository() SessionRecordRepository {
	return noopSessionRecordRepo{}
}

func (noopSessionRecordRepo) Upsert(ctx context.Context, params model.CreateSessionRecordParams) (*model.SessionRecord, error) {
	return nil, nil
}

func (noopSessionRecordRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	return nil
}

func (noopSessionRecordRepo) SetCodeIssued(ctx context.Context, id string, status string, code string) error {
	return nil
}

func (noopSessionRecordRepo) MarkConnected(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (noopSessionRecordRepo) MarkDeployed(ctx context.Context, id string, appName string, at time.Time) error {
	return nil
}

func (noopSessionRecordRepo) MarkFailed(ctx context.Context, id string, status string, lastError string) error {
	return nil
}

func (noopSessionRecordRepo) FindByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	return nil, nil
}

func (noopSessionRecordRepo) FindByUserID(ctx context.Context, userID string) (*model.SessionRecord, error) {
	return nil, nil
}

func (noopSessionRecordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (n noopSessionRecordRepo) WithTx(tx *sqlx.Tx) SessionRecordRepository {
	return n
}
