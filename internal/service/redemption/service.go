package redemption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ferialabs/feriago/internal/domain"
	redisx "github.com/ferialabs/feriago/internal/redis"
	"github.com/ferialabs/feriago/internal/repository"
	redisrepo "github.com/ferialabs/feriago/internal/repository/redis"
	"github.com/ferialabs/feriago/internal/saga"
)

// Service is the redemption orchestrator: it turns an unexpired, unused code
// plus a pre-registered matricula into a confirmed enrollment, consuming the
// code and one quota slot on the way.
type Service struct {
	codes       repository.CodeStore
	quotas      repository.QuotaLedger
	students    repository.StudentDirectory
	enrollments repository.EnrollmentLedger
	audit       repository.AuditLog
	runner      *saga.Runner
	cache       *redisrepo.Cache
	pubsub      *redisx.EnrollmentsPubSub
	limiter     *redisrepo.SlidingWindowLimiter
	log         *slog.Logger
}

func New(
	codes repository.CodeStore,
	quotas repository.QuotaLedger,
	students repository.StudentDirectory,
	enrollments repository.EnrollmentLedger,
	audit repository.AuditLog,
	cache *redisrepo.Cache,
	pubsub *redisx.EnrollmentsPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		codes:       codes,
		quotas:      quotas,
		students:    students,
		enrollments: enrollments,
		audit:       audit,
		runner:      saga.NewRunner(log),
		cache:       cache,
		pubsub:      pubsub,
		limiter:     limiter,
		log:         log,
	}
}

type Validation struct {
	ProjectID         uuid.UUID
	ProjectName       string
	CapacityAvailable int
}

type Redemption struct {
	EnrollmentID uuid.UUID
	QRToken      string
	ProjectName  string
}

// ValidateCode previews a code without consuming anything. It is safe to call
// repeatedly; the real checks run again inside Redeem because the answer here
// can go stale the moment it is returned.
//
// Returns:
//   - error: ErrCodeNotFound, ErrCodeUsed, ErrCodeExpired, ErrProjectNotFound
//     or ErrNoCapacity.
func (s *Service) ValidateCode(ctx context.Context, code string) (*Validation, error) {
	const op = "service.redemption.ValidateCode"

	c, err := s.lookupCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	p, err := s.quotas.Get(ctx, c.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrProjectNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if p.CapacityAvailable < 1 {
		return nil, fmt.Errorf("%s:%w", op, ErrNoCapacity)
	}

	return &Validation{
		ProjectID:         p.ID,
		ProjectName:       p.Name,
		CapacityAvailable: p.CapacityAvailable,
	}, nil
}

// Redeem runs the full claim transaction. Every precondition is re-validated
// here, not just at preview time, and the conditional code/quota updates are
// the commit-time authority: a race that slips past the reads loses on those.
//
// The mutating steps run as a compensation chain, so a failure part-way
// leaves no committed state behind. A compensation failure surfaces as
// *saga.InconsistencyError and is never reported as success.
//
// Returns:
//   - error: any ValidateCode error, plus ErrStudentNotFound,
//     ErrDuplicateEnrollment, ErrAlreadyEnrolledElsewhere, ErrInvalidMatricula
//     or ErrRateLimited.
func (s *Service) Redeem(ctx context.Context, code, matricula, rlKey string) (*Redemption, error) {
	const op = "service.redemption.Redeem"

	matricula = strings.TrimSpace(matricula)
	if len(matricula) < 3 || len(matricula) > 20 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidMatricula)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s:%w, retry in %s", op, ErrRateLimited, retry)
		}
	}

	// Steps 1-2: code and quota preconditions.
	c, err := s.lookupCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	p, err := s.quotas.Get(ctx, c.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrProjectNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if p.CapacityAvailable < 1 {
		return nil, fmt.Errorf("%s:%w", op, ErrNoCapacity)
	}

	// Step 3: the student must already exist in the directory.
	student, err := s.students.FindByMatricula(ctx, matricula)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrStudentNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	// Steps 4-5: duplicate prevention, per project and across the fair.
	if _, err := s.enrollments.FindByStudentAndProject(ctx, student.ID, p.ID); err == nil {
		return nil, fmt.Errorf("%s:%w", op, ErrDuplicateEnrollment)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if _, err := s.enrollments.FindConfirmedByStudent(ctx, student.ID); err == nil {
		return nil, fmt.Errorf("%s:%w", op, ErrAlreadyEnrolledElsewhere)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	// Steps 6-9 as a compensation chain. Quota goes last so an earlier abort
	// leaves nothing committed at all.
	enr := &domain.Enrollment{
		ID:        uuid.New(),
		StudentID: student.ID,
		ProjectID: p.ID,
		CodeID:    c.ID,
		Status:    domain.EnrollmentConfirmed,
		QRToken:   newQRToken(),
	}

	steps := []saga.Step{
		{
			Name: "insert-enrollment",
			Forward: func(ctx context.Context) error {
				return s.insertWithTokenRetry(ctx, enr)
			},
			Compensate: func(ctx context.Context) error {
				return s.enrollments.Delete(ctx, enr.ID)
			},
		},
		{
			Name: "mark-code-used",
			Forward: func(ctx context.Context) error {
				if err := s.codes.MarkUsed(ctx, c.ID, student.ID, time.Now()); err != nil {
					if errors.Is(err, repository.ErrCodeUsed) {
						return ErrCodeUsed
					}
					return err
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.codes.RevertUsed(ctx, c.ID)
			},
		},
		{
			Name: "decrement-quota",
			Forward: func(ctx context.Context) error {
				if _, err := s.quotas.DecrementQuota(ctx, p.ID); err != nil {
					if errors.Is(err, repository.ErrNoCapacity) {
						return ErrNoCapacity
					}
					return err
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.quotas.RestoreQuota(ctx, p.ID)
			},
		},
	}

	err = s.runner.Run(ctx, steps, func(ctx context.Context) {
		s.appendAudit(ctx, student, p, c, matricula)
		if s.cache != nil {
			_ = s.cache.InvalidateProject(ctx, p.ID.String())
		}
		if s.pubsub != nil {
			_ = s.pubsub.PublishEnrollmentChanged(ctx, p.ID.String())
		}
	})
	if err != nil {
		var ierr *saga.InconsistencyError
		if errors.As(err, &ierr) {
			s.log.Error("redemption left inconsistent state", "error", ierr)
			return nil, fmt.Errorf("%s:%w", op, ierr)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Redemption{
		EnrollmentID: enr.ID,
		QRToken:      enr.QRToken,
		ProjectName:  p.Name,
	}, nil
}

func (s *Service) lookupCode(ctx context.Context, code string) (*domain.Code, error) {
	hash := strings.ToUpper(strings.TrimSpace(code))
	if hash == "" {
		return nil, ErrCodeNotFound
	}

	c, err := s.codes.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	if c.Used {
		return nil, ErrCodeUsed
	}

	if time.Now().After(c.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	return c, nil
}

// insertWithTokenRetry inserts the enrollment, regenerating the QR token once
// on a unique violation. A second collision fails hard.
func (s *Service) insertWithTokenRetry(ctx context.Context, enr *domain.Enrollment) error {
	err := s.enrollments.Insert(ctx, enr)
	if err == nil {
		return nil
	}

	if !errors.Is(err, repository.ErrConflict) {
		return err
	}

	enr.QRToken = newQRToken()
	if err := s.enrollments.Insert(ctx, enr); err != nil {
		return fmt.Errorf("enrollment insert after token regeneration: %w", err)
	}

	return nil
}

func (s *Service) appendAudit(ctx context.Context, student *domain.Student, p *domain.Project, c *domain.Code, matricula string) {
	meta, _ := json.Marshal(map[string]string{
		"proyecto_id":   p.ID.String(),
		"estudiante_id": student.ID.String(),
		"codigo_id":     c.ID.String(),
		"matricula":     matricula,
	})

	entry := domain.AuditEntry{
		ID:        uuid.New(),
		Entity:    "registros_proyecto",
		EventType: "registro_proyecto_publico",
		Metadata:  meta,
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn("audit append failed", "event", entry.EventType, "error", err)
	}
}

// newQRToken keeps the original token format: a UUID with the dashes dropped,
// first 16 chars, upper-cased.
func newQRToken() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:16])
}
