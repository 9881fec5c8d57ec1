package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ferialabs/feriago/internal/config"
	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
)

// Identifier names one registrant for a check-in: a QR token from a
// confirmed enrollment, or a matricula with an optional project.
type Identifier struct {
	QRToken   string
	Matricula string
	ProjectID *uuid.UUID
}

type Config struct {
	Scope config.AttendanceScope
}

// Service records fair attendance. Repeated scans of the same token with the
// same status are no-ops, which is what makes scanner retries safe.
type Service struct {
	checkins    repository.CheckinTxRunner
	enrollments repository.EnrollmentLedger
	students    repository.StudentDirectory
	audit       repository.AuditLog
	cfg         Config
	log         *slog.Logger
}

func New(
	checkins repository.CheckinTxRunner,
	enrollments repository.EnrollmentLedger,
	students repository.StudentDirectory,
	audit repository.AuditLog,
	cfg Config,
	log *slog.Logger,
) *Service {
	if cfg.Scope == "" {
		cfg.Scope = config.AttendancePerProject
	}

	if log == nil {
		log = slog.Default()
	}

	return &Service{
		checkins:    checkins,
		enrollments: enrollments,
		students:    students,
		audit:       audit,
		cfg:         cfg,
		log:         log,
	}
}

// Record creates or updates the attendance record for whoever the identifier
// resolves to.
//
// Same-status repeats succeed without touching storage or the audit log;
// actual transitions (including the PRESENT -> PENDING correction) are
// written and audited. There is no terminal state.
//
// Returns:
//   - *domain.Checkin: the record after the call.
//   - error: ErrNotFound if nothing matches the identifier, or
//     ErrInvalidOrCancelled if the backing enrollment is not confirmed.
func (s *Service) Record(ctx context.Context, ident Identifier, status domain.CheckinStatus, actorID uuid.UUID) (*domain.Checkin, error) {
	const op = "service.attendance.Record"

	studentID, projectID, err := s.resolve(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	rec, event, err := s.recordOnce(ctx, studentID, projectID, status, actorID)
	if errors.Is(err, repository.ErrConflict) {
		// A concurrent scan won the insert. Exactly one retry folds us into
		// the idempotent update path; a second conflict surfaces.
		rec, event, err = s.recordOnce(ctx, studentID, projectID, status, actorID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if event != "" {
		s.appendAudit(ctx, rec, actorID, event)
	}

	return rec, nil
}

// recordOnce runs one find-then-write pass inside a checkin transaction. The
// returned event names the audit entry to append after commit; it is empty on
// a same-status repeat, which writes and audits nothing.
func (s *Service) recordOnce(ctx context.Context, studentID uuid.UUID, projectID *uuid.UUID, status domain.CheckinStatus, actorID uuid.UUID) (*domain.Checkin, string, error) {
	var (
		rec   *domain.Checkin
		event string
	)

	err := s.checkins.CheckinTx(ctx, func(ctx context.Context, checkins repository.CheckinStore) error {
		existing, err := checkins.Find(ctx, studentID, projectID)
		switch {
		case err == nil:
			if existing.Status == status {
				rec = existing
				return nil
			}

			now := time.Now()
			if err := checkins.UpdateStatus(ctx, existing.ID, status, actorID, now); err != nil {
				return err
			}

			existing.Status = status
			existing.RecordedAt = now
			existing.RecordedBy = actorID
			rec, event = existing, "checkin_actualizado"
			return nil

		case errors.Is(err, repository.ErrNotFound):
			c := &domain.Checkin{
				ID:         uuid.New(),
				StudentID:  studentID,
				ProjectID:  projectID,
				Status:     status,
				RecordedAt: time.Now(),
				RecordedBy: actorID,
			}

			if err := checkins.Insert(ctx, c); err != nil {
				return err
			}

			rec, event = c, "checkin_registrado"
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return nil, "", err
	}

	return rec, event, nil
}

// resolve maps an identifier to (student, project). The project half is nil
// when the fair tracks attendance globally per student.
func (s *Service) resolve(ctx context.Context, ident Identifier) (uuid.UUID, *uuid.UUID, error) {
	if token := strings.TrimSpace(ident.QRToken); token != "" {
		enr, err := s.enrollments.FindByQRToken(ctx, strings.ToUpper(token))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return uuid.Nil, nil, ErrNotFound
			}
			return uuid.Nil, nil, err
		}

		if enr.Status != domain.EnrollmentConfirmed {
			return uuid.Nil, nil, ErrInvalidOrCancelled
		}

		return enr.StudentID, s.scopedProject(enr.ProjectID), nil
	}

	matricula := strings.TrimSpace(ident.Matricula)
	if matricula == "" {
		return uuid.Nil, nil, ErrNotFound
	}

	student, err := s.students.FindByMatricula(ctx, matricula)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, nil, ErrNotFound
		}
		return uuid.Nil, nil, err
	}

	if s.cfg.Scope == config.AttendanceGlobal {
		return student.ID, nil, nil
	}

	if ident.ProjectID != nil {
		return student.ID, ident.ProjectID, nil
	}

	// No project given: fall back to the student's confirmed enrollment.
	enr, err := s.enrollments.FindConfirmedByStudent(ctx, student.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, nil, ErrNotFound
		}
		return uuid.Nil, nil, err
	}

	return student.ID, s.scopedProject(enr.ProjectID), nil
}

func (s *Service) scopedProject(projectID uuid.UUID) *uuid.UUID {
	if s.cfg.Scope == config.AttendanceGlobal {
		return nil
	}
	return &projectID
}

func (s *Service) appendAudit(ctx context.Context, rec *domain.Checkin, actorID uuid.UUID, eventType string) {
	meta, _ := json.Marshal(map[string]string{
		"estudiante_id": rec.StudentID.String(),
		"estado":        string(rec.Status),
	})

	entry := domain.AuditEntry{
		ID:        uuid.New(),
		Entity:    "checkins",
		EventType: eventType,
		ActorID:   &actorID,
		EntityID:  &rec.ID,
		Metadata:  meta,
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn("audit append failed", "event", eventType, "error", err)
	}
}
