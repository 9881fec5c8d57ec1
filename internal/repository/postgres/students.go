package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferialabs/feriago/internal/domain"
)

type StudentRepo struct {
	pool *pgxpool.Pool
}

// FindByMatricula retrieves a student by the natural key.
//
// Returns:
//   - *domain.Student: the student when found.
//   - error: repository.ErrNotFound if no student has that matricula.
func (r *StudentRepo) FindByMatricula(ctx context.Context, matricula string) (*domain.Student, error) {
	const op = "postgres.StudentRepo.FindByMatricula"

	db := r.pool

	var s domain.Student
	err := db.QueryRow(ctx,
		`SELECT estudiante_id, matricula, nombre, correo, carrera, qr_token, created_at
       	 FROM estudiantes WHERE matricula = $1`,
		matricula,
	).Scan(&s.ID, &s.Matricula, &s.Name, &s.Email, &s.Program, &s.QRToken, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &s, nil
}

func (r *StudentRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Student, error) {
	const op = "postgres.StudentRepo.FindByID"

	db := r.pool

	var s domain.Student
	err := db.QueryRow(ctx,
		`SELECT estudiante_id, matricula, nombre, correo, carrera, qr_token, created_at
       	 FROM estudiantes WHERE estudiante_id = $1`,
		id,
	).Scan(&s.ID, &s.Matricula, &s.Name, &s.Email, &s.Program, &s.QRToken, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &s, nil
}

// Insert registers a student ahead of redemption.
//
// Returns:
//   - error: repository.ErrConflict if the matricula is already registered.
func (r *StudentRepo) Insert(ctx context.Context, s *domain.Student) error {
	const op = "postgres.StudentRepo.Insert"

	db := r.pool

	_, err := db.Exec(ctx,
		`INSERT INTO estudiantes (estudiante_id, matricula, nombre, correo, carrera)
       	 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.Matricula, s.Name, s.Email, s.Program,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// SetQRToken stores the stable per-student attendance token. Written once;
// callers must not overwrite an existing token.
func (r *StudentRepo) SetQRToken(ctx context.Context, id uuid.UUID, token string) error {
	const op = "postgres.StudentRepo.SetQRToken"

	db := r.pool

	_, err := db.Exec(ctx,
		`UPDATE estudiantes SET qr_token = $2
      	 WHERE estudiante_id = $1 AND qr_token IS NULL`,
		id, token,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}
