package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
)

type CheckinRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *CheckinRepo) With(db DB) *CheckinRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *CheckinRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Find retrieves the attendance record for a student, scoped to a project
// when projectID is non-nil.
//
// Returns:
//   - *domain.Checkin: the record when found.
//   - error: repository.ErrNotFound if no record exists yet.
func (r *CheckinRepo) Find(ctx context.Context, studentID uuid.UUID, projectID *uuid.UUID) (*domain.Checkin, error) {
	const op = "postgres.CheckinRepo.Find"

	db := r.handle()

	var c domain.Checkin
	err := db.QueryRow(ctx,
		`SELECT checkin_id, estudiante_id, proyecto_id, estado, fecha_hora, verificado_por_usuario_id
       	 FROM checkins
      	 WHERE estudiante_id = $1
        	AND (proyecto_id = $2 OR ($2::uuid IS NULL AND proyecto_id IS NULL))`,
		studentID, projectID,
	).Scan(&c.ID, &c.StudentID, &c.ProjectID, &c.Status, &c.RecordedAt, &c.RecordedBy)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &c, nil
}

func (r *CheckinRepo) Insert(ctx context.Context, c *domain.Checkin) error {
	const op = "postgres.CheckinRepo.Insert"

	db := r.handle()

	_, err := db.Exec(ctx,
		`INSERT INTO checkins
		        (checkin_id, estudiante_id, proyecto_id, estado, fecha_hora, verificado_por_usuario_id)
       	 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.StudentID, c.ProjectID, c.Status, c.RecordedAt, c.RecordedBy,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *CheckinRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CheckinStatus, by uuid.UUID, at time.Time) error {
	const op = "postgres.CheckinRepo.UpdateStatus"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE checkins
        	SET estado = $2, fecha_hora = $3, verificado_por_usuario_id = $4
      	 WHERE checkin_id = $1`,
		id, status, at, by,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}
