package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ferialabs/feriago/internal/domain"
	redisx "github.com/ferialabs/feriago/internal/redis"
	"github.com/ferialabs/feriago/internal/repository"
	redisrepo "github.com/ferialabs/feriago/internal/repository/redis"
)

type Config struct {
	AvailabilityTTL time.Duration
	ListTTL         time.Duration
}

// Service is the admin surface for projects. Reads go through a short-lived
// cache; the redemption flow invalidates it after every successful claim.
type Service struct {
	quotas repository.QuotaLedger
	audit  repository.AuditLog
	cache  *redisrepo.Cache
	cfg    Config
	log    *slog.Logger
}

func New(
	quotas repository.QuotaLedger,
	audit repository.AuditLog,
	cache *redisrepo.Cache,
	cfg Config,
	log *slog.Logger,
) *Service {
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 60 * time.Second
	}

	if log == nil {
		log = slog.Default()
	}

	return &Service{
		quotas: quotas,
		audit:  audit,
		cache:  cache,
		cfg:    cfg,
		log:    log,
	}
}

type CreateInput struct {
	Name          string
	Description   string
	OwnerID       uuid.UUID
	StartsAt      time.Time
	EndsAt        time.Time
	CapacityTotal int
}

// Create inserts a project with its full capacity available.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID uuid.UUID) (*domain.Project, error) {
	const op = "service.projects.Create"

	if in.CapacityTotal < 1 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidCapacity)
	}

	if !in.EndsAt.After(in.StartsAt) {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidDates)
	}

	p := &domain.Project{
		ID:                uuid.New(),
		Name:              in.Name,
		Description:       in.Description,
		OwnerID:           in.OwnerID,
		StartsAt:          in.StartsAt,
		EndsAt:            in.EndsAt,
		CapacityTotal:     in.CapacityTotal,
		CapacityAvailable: in.CapacityTotal,
		Active:            true,
	}

	if err := s.quotas.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.appendAudit(ctx, p, actorID)

	if s.cache != nil {
		_ = s.cache.Del(ctx, redisx.KeyProjectList())
	}

	return p, nil
}

// List returns all projects, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Project, error) {
	const op = "service.projects.List"

	if s.cache == nil {
		list, err := s.quotas.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return list, nil
	}

	list, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeyProjectList(), s.cfg.ListTTL,
		func(ctx context.Context) ([]domain.Project, error) {
			return s.quotas.List(ctx)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return list, nil
}

type Availability struct {
	ProjectID         uuid.UUID `json:"proyecto_id"`
	Name              string    `json:"nombre"`
	CapacityTotal     int       `json:"cupo_total"`
	CapacityAvailable int       `json:"cupo_disponible"`
}

// Availability returns the quota counters for one project, served from the
// cache when warm.
func (s *Service) Availability(ctx context.Context, id uuid.UUID) (*Availability, error) {
	const op = "service.projects.Availability"

	load := func(ctx context.Context) (*Availability, error) {
		p, err := s.quotas.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Availability{
			ProjectID:         p.ID,
			Name:              p.Name,
			CapacityTotal:     p.CapacityTotal,
			CapacityAvailable: p.CapacityAvailable,
		}, nil
	}

	var av *Availability
	var err error

	if s.cache != nil {
		av, err = redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeyProjectAvailability(id.String()), s.cfg.AvailabilityTTL, load)
	} else {
		av, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrProjectNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return av, nil
}

func (s *Service) appendAudit(ctx context.Context, p *domain.Project, actorID uuid.UUID) {
	meta, _ := json.Marshal(map[string]any{
		"nombre":     p.Name,
		"cupo_total": p.CapacityTotal,
	})

	entry := domain.AuditEntry{
		ID:        uuid.New(),
		Entity:    "proyectos",
		EventType: "proyecto_creado",
		ActorID:   &actorID,
		EntityID:  &p.ID,
		Metadata:  meta,
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn("audit append failed", "event", entry.EventType, "error", err)
	}
}
