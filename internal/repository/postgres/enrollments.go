package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
)

type EnrollmentRepo struct {
	pool *pgxpool.Pool
}

// Insert creates a confirmed enrollment.
//
// Returns:
//   - error: repository.ErrConflict on a unique violation (qr_token collision
//     or a concurrent claim of the same (student, project) pair).
func (r *EnrollmentRepo) Insert(ctx context.Context, e *domain.Enrollment) error {
	const op = "postgres.EnrollmentRepo.Insert"

	db := r.pool

	_, err := db.Exec(ctx,
		`INSERT INTO registros_proyecto
		        (registro_id, estudiante_id, proyecto_id, codigo_id, estado, qr_token)
       	 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.StudentID, e.ProjectID, e.CodeID, e.Status, e.QRToken,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *EnrollmentRepo) FindByStudentAndProject(ctx context.Context, studentID, projectID uuid.UUID) (*domain.Enrollment, error) {
	const op = "postgres.EnrollmentRepo.FindByStudentAndProject"

	db := r.pool

	var e domain.Enrollment
	err := db.QueryRow(ctx,
		`SELECT registro_id, estudiante_id, proyecto_id, codigo_id, estado, qr_token, fecha_hora
       	 FROM registros_proyecto
      	 WHERE estudiante_id = $1 AND proyecto_id = $2`,
		studentID, projectID,
	).Scan(&e.ID, &e.StudentID, &e.ProjectID, &e.CodeID, &e.Status, &e.QRToken, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

// FindConfirmedByStudent looks for a CONFIRMED enrollment in any project.
// This backs the one-project-per-student-per-fair rule, which spans rows and
// cannot be a plain storage constraint.
func (r *EnrollmentRepo) FindConfirmedByStudent(ctx context.Context, studentID uuid.UUID) (*domain.Enrollment, error) {
	const op = "postgres.EnrollmentRepo.FindConfirmedByStudent"

	db := r.pool

	var e domain.Enrollment
	err := db.QueryRow(ctx,
		`SELECT registro_id, estudiante_id, proyecto_id, codigo_id, estado, qr_token, fecha_hora
       	 FROM registros_proyecto
      	 WHERE estudiante_id = $1 AND estado = $2
      	 LIMIT 1`,
		studentID, domain.EnrollmentConfirmed,
	).Scan(&e.ID, &e.StudentID, &e.ProjectID, &e.CodeID, &e.Status, &e.QRToken, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

func (r *EnrollmentRepo) FindByQRToken(ctx context.Context, token string) (*domain.Enrollment, error) {
	const op = "postgres.EnrollmentRepo.FindByQRToken"

	db := r.pool

	var e domain.Enrollment
	err := db.QueryRow(ctx,
		`SELECT registro_id, estudiante_id, proyecto_id, codigo_id, estado, qr_token, fecha_hora
       	 FROM registros_proyecto
      	 WHERE qr_token = $1`,
		token,
	).Scan(&e.ID, &e.StudentID, &e.ProjectID, &e.CodeID, &e.Status, &e.QRToken, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

// Delete removes an enrollment row. Only the compensation chain calls this;
// cancelled enrollments that went through the normal flow keep their row with
// estado = CANCELADO.
func (r *EnrollmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.EnrollmentRepo.Delete"

	db := r.pool

	tag, err := db.Exec(ctx, `DELETE FROM registros_proyecto WHERE registro_id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}
