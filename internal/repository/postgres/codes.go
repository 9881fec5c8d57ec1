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

type CodeRepo struct {
	pool *pgxpool.Pool
}

// FindByHash retrieves a code by its display hash.
//
// Returns:
//   - *domain.Code: the code when found, used and expired ones included.
//   - error: repository.ErrNotFound if no code matches.
func (r *CodeRepo) FindByHash(ctx context.Context, hash string) (*domain.Code, error) {
	const op = "postgres.CodeRepo.FindByHash"

	db := r.pool

	var c domain.Code
	err := db.QueryRow(ctx,
		`SELECT codigo_id, proyecto_id, codigo_hash, creado_por_usuario_id,
		        created_at, expira_en, usado, usado_en, usado_por_estudiante_id
       	 FROM codigos_temporales WHERE codigo_hash = $1`,
		hash,
	).Scan(
		&c.ID, &c.ProjectID, &c.Hash, &c.CreatedByID,
		&c.CreatedAt, &c.ExpiresAt, &c.Used, &c.UsedAt, &c.UsedByID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &c, nil
}

// Insert stores a freshly issued code.
//
// Returns:
//   - error: repository.ErrConflict if the hash is already taken.
func (r *CodeRepo) Insert(ctx context.Context, code *domain.Code) error {
	const op = "postgres.CodeRepo.Insert"

	db := r.pool

	_, err := db.Exec(ctx,
		`INSERT INTO codigos_temporales
		        (codigo_id, proyecto_id, codigo_hash, creado_por_usuario_id, expira_en)
       	 VALUES ($1, $2, $3, $4, $5)`,
		code.ID, code.ProjectID, code.Hash, code.CreatedByID, code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *CodeRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Code, error) {
	const op = "postgres.CodeRepo.ListByProject"

	db := r.pool

	rows, err := db.Query(ctx,
		`SELECT codigo_id, proyecto_id, codigo_hash, creado_por_usuario_id,
		        created_at, expira_en, usado, usado_en, usado_por_estudiante_id
       	 FROM codigos_temporales
      	 WHERE proyecto_id = $1
      	 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var codes []domain.Code
	for rows.Next() {
		var c domain.Code
		if err := rows.Scan(
			&c.ID, &c.ProjectID, &c.Hash, &c.CreatedByID,
			&c.CreatedAt, &c.ExpiresAt, &c.Used, &c.UsedAt, &c.UsedByID,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return codes, nil
}

// MarkUsed consumes the code. The update is conditional on usado = false so a
// racing redemption loses cleanly instead of double-spending.
//
// Returns:
//   - error: repository.ErrCodeUsed if the code was already consumed.
//   - error: repository.ErrNotFound if the code does not exist.
func (r *CodeRepo) MarkUsed(ctx context.Context, codeID, studentID uuid.UUID, at time.Time) error {
	const op = "postgres.CodeRepo.MarkUsed"

	db := r.pool

	tag, err := db.Exec(ctx,
		`UPDATE codigos_temporales
        	SET usado = true, usado_en = $2, usado_por_estudiante_id = $3
      	 WHERE codigo_id = $1 AND usado = false`,
		codeID, at, studentID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM codigos_temporales WHERE codigo_id = $1)`,
			codeID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		if !exists {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return fmt.Errorf("%s:%w", op, repository.ErrCodeUsed)
	}

	return nil
}

// RevertUsed clears the used fields. Only the compensation chain calls this.
func (r *CodeRepo) RevertUsed(ctx context.Context, codeID uuid.UUID) error {
	const op = "postgres.CodeRepo.RevertUsed"

	db := r.pool

	tag, err := db.Exec(ctx,
		`UPDATE codigos_temporales
        	SET usado = false, usado_en = NULL, usado_por_estudiante_id = NULL
      	 WHERE codigo_id = $1 AND usado = true`,
		codeID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNothingDone)
	}

	return nil
}
