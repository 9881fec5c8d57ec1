package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ferialabs/feriago/internal/domain"
)

// The services take these interfaces rather than the concrete pgx store so
// the redemption chain can be exercised against in-memory fakes.

// CodeStore holds issuable codes. Codes are never deleted; used and expired
// codes stay behind for audit.
type CodeStore interface {
	FindByHash(ctx context.Context, hash string) (*domain.Code, error)
	Insert(ctx context.Context, code *domain.Code) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Code, error)
	// MarkUsed flips the used flag, stamping when and by whom. The update is
	// conditional on usado = false; ErrCodeUsed when another redemption won.
	MarkUsed(ctx context.Context, codeID, studentID uuid.UUID, at time.Time) error
	// RevertUsed clears the used fields again. Compensation only.
	RevertUsed(ctx context.Context, codeID uuid.UUID) error
}

// QuotaLedger owns project rows and their capacity counters.
type QuotaLedger interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	Create(ctx context.Context, p *domain.Project) error
	List(ctx context.Context) ([]domain.Project, error)
	// DecrementQuota performs the atomic conditional decrement. It returns the
	// remaining capacity, or ErrNoCapacity when the counter was already zero.
	DecrementQuota(ctx context.Context, id uuid.UUID) (int, error)
	// RestoreQuota adds one slot back, capped at the total. Compensation only.
	RestoreQuota(ctx context.Context, id uuid.UUID) error
}

// StudentDirectory resolves registrants by matricula.
type StudentDirectory interface {
	FindByMatricula(ctx context.Context, matricula string) (*domain.Student, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Student, error)
	Insert(ctx context.Context, s *domain.Student) error
	SetQRToken(ctx context.Context, id uuid.UUID, token string) error
}

// EnrollmentLedger holds one row per committed (student, project) claim.
type EnrollmentLedger interface {
	// Insert surfaces ErrConflict on a qr_token unique violation.
	Insert(ctx context.Context, e *domain.Enrollment) error
	FindByStudentAndProject(ctx context.Context, studentID, projectID uuid.UUID) (*domain.Enrollment, error)
	FindConfirmedByStudent(ctx context.Context, studentID uuid.UUID) (*domain.Enrollment, error)
	FindByQRToken(ctx context.Context, token string) (*domain.Enrollment, error)
	// Delete removes a just-created enrollment. Compensation only.
	Delete(ctx context.Context, id uuid.UUID) error
}

// CheckinStore holds attendance records. projectID is nil in global
// attendance mode.
type CheckinStore interface {
	Find(ctx context.Context, studentID uuid.UUID, projectID *uuid.UUID) (*domain.Checkin, error)
	Insert(ctx context.Context, c *domain.Checkin) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CheckinStatus, by uuid.UUID, at time.Time) error
}

// CheckinTxRunner runs fn against a CheckinStore whose reads and writes
// commit as one unit, so two concurrent scans cannot interleave between the
// find and the write that follows it.
type CheckinTxRunner interface {
	CheckinTx(ctx context.Context, fn func(ctx context.Context, checkins CheckinStore) error) error
}

// AuditLog is append-only and fire-and-forget from the caller's view.
type AuditLog interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
}
