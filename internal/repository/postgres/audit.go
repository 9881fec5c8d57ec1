package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferialabs/feriago/internal/domain"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

// Append writes one event log row. The log is append-only; nothing in this
// service reads it back.
func (r *AuditRepo) Append(ctx context.Context, entry domain.AuditEntry) error {
	const op = "postgres.AuditRepo.Append"

	db := r.pool

	_, err := db.Exec(ctx,
		`INSERT INTO logs_evento (log_id, entidad, tipo_evento, actor_usuario_id, entidad_id, metadata)
       	 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Entity, entry.EventType, entry.ActorID, entry.EntityID, entry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}
