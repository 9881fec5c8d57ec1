// Package memory implements the repository interfaces on plain maps. It backs
// the service and transport tests, with the same conditional-update semantics
// as the postgres store: conditional decrements, write-once tokens, unique
// violations surfacing as ErrConflict.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
)

type state struct {
	mu sync.Mutex

	codes       map[uuid.UUID]domain.Code
	codesByHash map[string]uuid.UUID

	projects map[uuid.UUID]domain.Project

	students    map[uuid.UUID]domain.Student
	byMatricula map[string]uuid.UUID

	enrollments map[uuid.UUID]domain.Enrollment
	byQRToken   map[string]uuid.UUID

	checkins map[uuid.UUID]domain.Checkin

	audit []domain.AuditEntry
}

// Stores bundles one in-memory instance of every repository interface over a
// single shared mutex, so cross-store sequences see a consistent view.
type Stores struct {
	st *state
}

func NewStores() *Stores {
	return &Stores{st: &state{
		codes:       make(map[uuid.UUID]domain.Code),
		codesByHash: make(map[string]uuid.UUID),
		projects:    make(map[uuid.UUID]domain.Project),
		students:    make(map[uuid.UUID]domain.Student),
		byMatricula: make(map[string]uuid.UUID),
		enrollments: make(map[uuid.UUID]domain.Enrollment),
		byQRToken:   make(map[string]uuid.UUID),
		checkins:    make(map[uuid.UUID]domain.Checkin),
	}}
}

func (s *Stores) Codes() *CodeStore             { return &CodeStore{st: s.st} }
func (s *Stores) Projects() *ProjectStore       { return &ProjectStore{st: s.st} }
func (s *Stores) Students() *StudentStore       { return &StudentStore{st: s.st} }
func (s *Stores) Enrollments() *EnrollmentStore { return &EnrollmentStore{st: s.st} }
func (s *Stores) Checkins() *CheckinStore       { return &CheckinStore{st: s.st} }
func (s *Stores) Audit() *AuditStore            { return &AuditStore{st: s.st} }

// CheckinTx satisfies repository.CheckinTxRunner. The fake has no
// transactions; fn runs against the plain store, whose shared mutex keeps
// each call atomic.
func (s *Stores) CheckinTx(ctx context.Context, fn func(ctx context.Context, checkins repository.CheckinStore) error) error {
	return fn(ctx, s.Checkins())
}

// AuditEntries returns a snapshot of everything appended so far.
func (s *Stores) AuditEntries() []domain.AuditEntry {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.st.audit))
	copy(out, s.st.audit)
	return out
}

type CodeStore struct {
	st *state
}

func (r *CodeStore) FindByHash(_ context.Context, hash string) (*domain.Code, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	id, ok := r.st.codesByHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := r.st.codes[id]
	return &c, nil
}

func (r *CodeStore) Insert(_ context.Context, code *domain.Code) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, ok := r.st.codesByHash[code.Hash]; ok {
		return repository.ErrConflict
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}
	r.st.codes[code.ID] = *code
	r.st.codesByHash[code.Hash] = code.ID
	return nil
}

func (r *CodeStore) ListByProject(_ context.Context, projectID uuid.UUID) ([]domain.Code, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var out []domain.Code
	for _, c := range r.st.codes {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *CodeStore) MarkUsed(_ context.Context, codeID, studentID uuid.UUID, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, ok := r.st.codes[codeID]
	if !ok {
		return repository.ErrNotFound
	}
	if c.Used {
		return repository.ErrCodeUsed
	}
	c.Used = true
	c.UsedAt = &at
	c.UsedByID = &studentID
	r.st.codes[codeID] = c
	return nil
}

func (r *CodeStore) RevertUsed(_ context.Context, codeID uuid.UUID) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, ok := r.st.codes[codeID]
	if !ok {
		return repository.ErrNotFound
	}
	c.Used = false
	c.UsedAt = nil
	c.UsedByID = nil
	r.st.codes[codeID] = c
	return nil
}

type ProjectStore struct {
	st *state
}

func (r *ProjectStore) Get(_ context.Context, id uuid.UUID) (*domain.Project, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	p, ok := r.st.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *ProjectStore) Create(_ context.Context, p *domain.Project) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, ok := r.st.projects[p.ID]; ok {
		return repository.ErrConflict
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	r.st.projects[p.ID] = *p
	return nil
}

func (r *ProjectStore) List(_ context.Context) ([]domain.Project, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	out := make([]domain.Project, 0, len(r.st.projects))
	for _, p := range r.st.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *ProjectStore) DecrementQuota(_ context.Context, id uuid.UUID) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	p, ok := r.st.projects[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if p.CapacityAvailable < 1 {
		return 0, repository.ErrNoCapacity
	}
	p.CapacityAvailable--
	r.st.projects[id] = p
	return p.CapacityAvailable, nil
}

func (r *ProjectStore) RestoreQuota(_ context.Context, id uuid.UUID) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	p, ok := r.st.projects[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.CapacityAvailable >= p.CapacityTotal {
		return repository.ErrQuotaAtMax
	}
	p.CapacityAvailable++
	r.st.projects[id] = p
	return nil
}

type StudentStore struct {
	st *state
}

func (r *StudentStore) FindByMatricula(_ context.Context, matricula string) (*domain.Student, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	id, ok := r.st.byMatricula[matricula]
	if !ok {
		return nil, repository.ErrNotFound
	}
	s := r.st.students[id]
	return &s, nil
}

func (r *StudentStore) FindByID(_ context.Context, id uuid.UUID) (*domain.Student, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	s, ok := r.st.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *StudentStore) Insert(_ context.Context, s *domain.Student) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, ok := r.st.byMatricula[s.Matricula]; ok {
		return repository.ErrConflict
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	r.st.students[s.ID] = *s
	r.st.byMatricula[s.Matricula] = s.ID
	return nil
}

// SetQRToken writes the token only when none is set yet; a lost race is a
// silent no-op, same as the conditional UPDATE in postgres.
func (r *StudentStore) SetQRToken(_ context.Context, id uuid.UUID, token string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	s, ok := r.st.students[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.QRToken != nil {
		return nil
	}
	s.QRToken = &token
	r.st.students[id] = s
	return nil
}

type EnrollmentStore struct {
	st *state
}

func (r *EnrollmentStore) Insert(_ context.Context, e *domain.Enrollment) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, ok := r.st.byQRToken[e.QRToken]; ok {
		return repository.ErrConflict
	}
	for _, other := range r.st.enrollments {
		if other.StudentID == e.StudentID && other.ProjectID == e.ProjectID {
			return repository.ErrConflict
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	r.st.enrollments[e.ID] = *e
	r.st.byQRToken[e.QRToken] = e.ID
	return nil
}

func (r *EnrollmentStore) FindByStudentAndProject(_ context.Context, studentID, projectID uuid.UUID) (*domain.Enrollment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	for _, e := range r.st.enrollments {
		if e.StudentID == studentID && e.ProjectID == projectID {
			out := e
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *EnrollmentStore) FindConfirmedByStudent(_ context.Context, studentID uuid.UUID) (*domain.Enrollment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	for _, e := range r.st.enrollments {
		if e.StudentID == studentID && e.Status == domain.EnrollmentConfirmed {
			out := e
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *EnrollmentStore) FindByQRToken(_ context.Context, token string) (*domain.Enrollment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	id, ok := r.st.byQRToken[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	e := r.st.enrollments[id]
	return &e, nil
}

func (r *EnrollmentStore) Delete(_ context.Context, id uuid.UUID) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	e, ok := r.st.enrollments[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.st.byQRToken, e.QRToken)
	delete(r.st.enrollments, id)
	return nil
}

type CheckinStore struct {
	st *state
}

func sameProject(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *CheckinStore) Find(_ context.Context, studentID uuid.UUID, projectID *uuid.UUID) (*domain.Checkin, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	for _, c := range r.st.checkins {
		if c.StudentID == studentID && sameProject(c.ProjectID, projectID) {
			out := c
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *CheckinStore) Insert(_ context.Context, c *domain.Checkin) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	for _, other := range r.st.checkins {
		if other.StudentID == c.StudentID && sameProject(other.ProjectID, c.ProjectID) {
			return repository.ErrConflict
		}
	}
	r.st.checkins[c.ID] = *c
	return nil
}

func (r *CheckinStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.CheckinStatus, by uuid.UUID, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, ok := r.st.checkins[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = status
	c.RecordedBy = by
	c.RecordedAt = at
	r.st.checkins[id] = c
	return nil
}

type AuditStore struct {
	st *state
}

func (r *AuditStore) Append(_ context.Context, entry domain.AuditEntry) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.st.audit = append(r.st.audit, entry)
	return nil
}
