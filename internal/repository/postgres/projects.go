package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
)

type ProjectRepo struct {
	pool *pgxpool.Pool
}

// Get retrieves a project by its ID.
//
// Returns:
//   - *domain.Project: the project when found.
//   - error: repository.ErrNotFound if the project is not found.
func (r *ProjectRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	const op = "postgres.ProjectRepo.Get"

	db := r.pool

	var p domain.Project
	err := db.QueryRow(ctx,
		`SELECT proyecto_id, nombre, COALESCE(descripcion, ''), socio_usuario_id,
		        fecha_inicio, fecha_fin, cupo_total, cupo_disponible, activo, created_at
       	 FROM proyectos WHERE proyecto_id = $1`,
		id,
	).Scan(
		&p.ID, &p.Name, &p.Description, &p.OwnerID,
		&p.StartsAt, &p.EndsAt, &p.CapacityTotal, &p.CapacityAvailable, &p.Active, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &p, nil
}

// Create inserts a project with its available capacity initialized to the
// total.
func (r *ProjectRepo) Create(ctx context.Context, p *domain.Project) error {
	const op = "postgres.ProjectRepo.Create"

	db := r.pool

	_, err := db.Exec(ctx,
		`INSERT INTO proyectos
		        (proyecto_id, nombre, descripcion, socio_usuario_id,
		         fecha_inicio, fecha_fin, cupo_total, cupo_disponible)
       	 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $7)`,
		p.ID, p.Name, p.Description, p.OwnerID, p.StartsAt, p.EndsAt, p.CapacityTotal,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *ProjectRepo) List(ctx context.Context) ([]domain.Project, error) {
	const op = "postgres.ProjectRepo.List"

	db := r.pool

	rows, err := db.Query(ctx,
		`SELECT proyecto_id, nombre, COALESCE(descripcion, ''), socio_usuario_id,
		        fecha_inicio, fecha_fin, cupo_total, cupo_disponible, activo, created_at
       	 FROM proyectos
      	 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.OwnerID,
			&p.StartsAt, &p.EndsAt, &p.CapacityTotal, &p.CapacityAvailable, &p.Active, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return projects, nil
}

// DecrementQuota takes one slot, but only while at least one remains. The
// condition in the WHERE clause is what makes the last-slot race safe: two
// concurrent decrements cannot both pass it.
//
// Returns:
//   - int: remaining capacity after the decrement.
//   - error: repository.ErrNoCapacity if the counter was already at zero.
//   - error: repository.ErrNotFound if the project does not exist.
func (r *ProjectRepo) DecrementQuota(ctx context.Context, id uuid.UUID) (int, error) {
	const op = "postgres.ProjectRepo.DecrementQuota"

	db := r.pool

	var remaining int
	err := db.QueryRow(ctx,
		`UPDATE proyectos
        	SET cupo_disponible = cupo_disponible - 1
      	 WHERE proyecto_id = $1 AND cupo_disponible >= 1
      	 RETURNING cupo_disponible`,
		id,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(translateDBErr(err), repository.ErrNotFound) {
			var exists bool
			if err2 := db.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM proyectos WHERE proyecto_id = $1)`,
				id,
			).Scan(&exists); err2 != nil {
				return 0, fmt.Errorf("%s:%w", op, translateDBErr(err2))
			}
			if exists {
				return 0, fmt.Errorf("%s:%w", op, repository.ErrNoCapacity)
			}
			return 0, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return remaining, nil
}

// RestoreQuota returns one slot, capped at the total. Only the compensation
// chain calls this.
func (r *ProjectRepo) RestoreQuota(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.ProjectRepo.RestoreQuota"

	db := r.pool

	tag, err := db.Exec(ctx,
		`UPDATE proyectos
        	SET cupo_disponible = cupo_disponible + 1
      	 WHERE proyecto_id = $1 AND cupo_disponible < cupo_total`,
		id,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrQuotaAtMax)
	}

	return nil
}
