package codes

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
)

// Display codes avoid 0/O/1/I so they survive being read out loud at a booth.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeLength      = 8
	codeLengthRetry = 10
)

type Config struct {
	TTLDefault time.Duration
	TTLMax     time.Duration
}

// Service issues short-lived display codes for a project. Collision handling
// is regenerate-once-then-fail, at issuance time only: redemption never
// regenerates anything.
type Service struct {
	codes  repository.CodeStore
	quotas repository.QuotaLedger
	audit  repository.AuditLog
	cfg    Config
	log    *slog.Logger
}

func New(
	codes repository.CodeStore,
	quotas repository.QuotaLedger,
	audit repository.AuditLog,
	cfg Config,
	log *slog.Logger,
) *Service {
	if cfg.TTLDefault <= 0 {
		cfg.TTLDefault = 10 * time.Minute
	}

	if cfg.TTLMax <= 0 || cfg.TTLMax < cfg.TTLDefault {
		cfg.TTLMax = 24 * time.Hour
	}

	if log == nil {
		log = slog.Default()
	}

	return &Service{
		codes:  codes,
		quotas: quotas,
		audit:  audit,
		cfg:    cfg,
		log:    log,
	}
}

// Issue generates and stores a new single-use code for the project.
//
// Returns:
//   - *domain.Code: the stored code, Hash carrying the display value.
//   - error: ErrProjectNotFound, ErrProjectInactive, ErrNoCapacity or
//     ErrCodeCollision.
func (s *Service) Issue(ctx context.Context, projectID, actorID uuid.UUID, ttl time.Duration) (*domain.Code, error) {
	const op = "service.codes.Issue"

	ttl = s.clampTTL(ttl)

	p, err := s.quotas.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrProjectNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if !p.Active {
		return nil, fmt.Errorf("%s:%w", op, ErrProjectInactive)
	}

	if p.CapacityAvailable < 1 {
		return nil, fmt.Errorf("%s:%w", op, ErrNoCapacity)
	}

	code := &domain.Code{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Hash:        generateCode(codeLength),
		CreatedByID: actorID,
		ExpiresAt:   time.Now().Add(ttl),
	}

	if err := s.codes.Insert(ctx, code); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		// Collision on the display value; retry once with a longer code.
		code.Hash = generateCode(codeLengthRetry)
		if err := s.codes.Insert(ctx, code); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("%s:%w", op, ErrCodeCollision)
			}
			return nil, fmt.Errorf("%s:%w", op, err)
		}
	}

	s.appendAudit(ctx, code, actorID)

	return code, nil
}

// List returns every code issued for the project, newest first, used and
// expired ones included.
func (s *Service) List(ctx context.Context, projectID uuid.UUID) ([]domain.Code, error) {
	const op = "service.codes.List"

	if _, err := s.quotas.Get(ctx, projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrProjectNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	list, err := s.codes.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return list, nil
}

func (s *Service) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.cfg.TTLDefault
	}

	if ttl > s.cfg.TTLMax {
		return s.cfg.TTLMax
	}

	return ttl
}

func (s *Service) appendAudit(ctx context.Context, code *domain.Code, actorID uuid.UUID) {
	meta, _ := json.Marshal(map[string]string{
		"proyecto_id": code.ProjectID.String(),
		"codigo":      code.Hash,
	})

	entry := domain.AuditEntry{
		ID:        uuid.New(),
		Entity:    "codigos_temporales",
		EventType: "codigo_generado",
		ActorID:   &actorID,
		EntityID:  &code.ID,
		Metadata:  meta,
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn("audit append failed", "event", entry.EventType, "error", err)
	}
}

func generateCode(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)

	out := make([]byte, length)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}

	return string(out)
}
