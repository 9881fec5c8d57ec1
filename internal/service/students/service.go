package students

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
)

// Service is the staff surface for the registrant directory: pre-registration
// at the fair entrance and the stable per-student QR token.
type Service struct {
	students repository.StudentDirectory
	audit    repository.AuditLog
	log      *slog.Logger
}

func New(students repository.StudentDirectory, audit repository.AuditLog, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		students: students,
		audit:    audit,
		log:      log,
	}
}

type RegisterInput struct {
	Matricula string
	Name      string
	Email     string
	Program   string
}

// Register adds a student to the directory. Redemption requires this to have
// happened first.
//
// Returns:
//   - error: ErrInvalidMatricula or ErrDuplicateMatricula.
func (s *Service) Register(ctx context.Context, in RegisterInput, actorID uuid.UUID) (*domain.Student, error) {
	const op = "service.students.Register"

	in.Matricula = strings.TrimSpace(in.Matricula)
	if len(in.Matricula) < 3 || len(in.Matricula) > 20 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidMatricula)
	}

	student := &domain.Student{
		ID:        uuid.New(),
		Matricula: in.Matricula,
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Program:   strings.TrimSpace(in.Program),
	}

	if err := s.students.Insert(ctx, student); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, ErrDuplicateMatricula)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.appendAudit(ctx, student, actorID)

	return student, nil
}

// EnsureQRToken returns the student's stable attendance token, generating it
// on first use. The write is conditional on the column still being NULL, so
// two concurrent calls converge on one token.
func (s *Service) EnsureQRToken(ctx context.Context, matricula string) (string, *domain.Student, error) {
	const op = "service.students.EnsureQRToken"

	student, err := s.students.FindByMatricula(ctx, strings.TrimSpace(matricula))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, fmt.Errorf("%s:%w", op, ErrStudentNotFound)
		}
		return "", nil, fmt.Errorf("%s:%w", op, err)
	}

	if student.QRToken != nil && *student.QRToken != "" {
		return *student.QRToken, student, nil
	}

	token := newToken()
	if err := s.students.SetQRToken(ctx, student.ID, token); err != nil {
		return "", nil, fmt.Errorf("%s:%w", op, err)
	}

	// Re-read: a concurrent call may have won the conditional write.
	student, err = s.students.FindByID(ctx, student.ID)
	if err != nil {
		return "", nil, fmt.Errorf("%s:%w", op, err)
	}

	if student.QRToken == nil || *student.QRToken == "" {
		return "", nil, fmt.Errorf("%s: token not persisted", op)
	}

	return *student.QRToken, student, nil
}

func (s *Service) appendAudit(ctx context.Context, student *domain.Student, actorID uuid.UUID) {
	meta, _ := json.Marshal(map[string]string{
		"matricula": student.Matricula,
	})

	entry := domain.AuditEntry{
		ID:        uuid.New(),
		Entity:    "estudiantes",
		EventType: "estudiante_registrado",
		ActorID:   &actorID,
		EntityID:  &student.ID,
		Metadata:  meta,
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn("audit append failed", "event", entry.EventType, "error", err)
	}
}

func newToken() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:16])
}
