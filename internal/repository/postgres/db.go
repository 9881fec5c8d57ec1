package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferialabs/feriago/internal/repository"
)

// DB is the slice of pgx shared by the pool and a transaction, so a repo
// bound with With(tx) runs the same queries inside the transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// CheckinTx runs fn against the checkin repo bound to a single read-committed
// transaction, so the find and the following write commit together. A
// serialization or deadlock failure gets exactly one more attempt.
func (s *Store) CheckinTx(ctx context.Context, fn func(ctx context.Context, checkins repository.CheckinStore) error) error {
	run := func() error {
		return s.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
			return fn(ctx, s.Checkins().With(tx))
		})
	}

	err := run()
	if err != nil && IsRetryable(err) {
		err = run()
	}

	return err
}

func (s *Store) Codes() *CodeRepo             { return &CodeRepo{pool: s.pool} }
func (s *Store) Projects() *ProjectRepo       { return &ProjectRepo{pool: s.pool} }
func (s *Store) Students() *StudentRepo       { return &StudentRepo{pool: s.pool} }
func (s *Store) Enrollments() *EnrollmentRepo { return &EnrollmentRepo{pool: s.pool} }
func (s *Store) Checkins() *CheckinRepo       { return &CheckinRepo{pool: s.pool} }
func (s *Store) Audit() *AuditRepo            { return &AuditRepo{pool: s.pool} }
