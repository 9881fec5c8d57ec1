package attendance

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferialabs/feriago/internal/config"
	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
	"github.com/ferialabs/feriago/internal/repository/memory"
)

type fixture struct {
	stores    *memory.Stores
	svc       *Service
	student   *domain.Student
	projectID uuid.UUID
	actorID   uuid.UUID
}

func newFixture(t *testing.T, scope config.AttendanceScope) *fixture {
	t.Helper()
	ctx := context.Background()

	stores := memory.NewStores()

	student := &domain.Student{ID: uuid.New(), Matricula: "A01234", Name: "Ana Torres"}
	require.NoError(t, stores.Students().Insert(ctx, student))

	projectID := uuid.New()
	enr := &domain.Enrollment{
		ID:        uuid.New(),
		StudentID: student.ID,
		ProjectID: projectID,
		CodeID:    uuid.New(),
		Status:    domain.EnrollmentConfirmed,
		QRToken:   "AB12CD34EF56AB12",
	}
	require.NoError(t, stores.Enrollments().Insert(ctx, enr))

	svc := New(
		stores, stores.Enrollments(), stores.Students(), stores.Audit(),
		Config{Scope: scope}, nil,
	)

	return &fixture{
		stores:    stores,
		svc:       svc,
		student:   student,
		projectID: projectID,
		actorID:   uuid.New(),
	}
}

func TestRecordByQRToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.AttendancePerProject)

	rec, err := f.svc.Record(ctx, Identifier{QRToken: "AB12CD34EF56AB12"}, domain.CheckinPresent, f.actorID)
	require.NoError(t, err)

	assert.Equal(t, f.student.ID, rec.StudentID)
	require.NotNil(t, rec.ProjectID)
	assert.Equal(t, f.projectID, *rec.ProjectID)
	assert.Equal(t, domain.CheckinPresent, rec.Status)
	assert.Equal(t, f.actorID, rec.RecordedBy)

	entries := f.stores.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "checkin_registrado", entries[0].EventType)
}

func TestRecordTokenIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.AttendancePerProject)

	_, err := f.svc.Record(ctx, Identifier{QRToken: " ab12cd34ef56ab12 "}, domain.CheckinPresent, f.actorID)
	assert.NoError(t, err)
}

func TestRecordRepeatSameStatusIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.AttendancePerProject)
	ident := Identifier{QRToken: "AB12CD34EF56AB12"}

	first, err := f.svc.Record(ctx, ident, domain.CheckinPresent, f.actorID)
	require.NoError(t, err)

	second, err := f.svc.Record(ctx, ident, domain.CheckinPresent, uuid.New())
	require.NoError(t, err)

	// The repeat returns the existing record untouched.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.RecordedBy, second.RecordedBy)
	assert.Equal(t, first.RecordedAt, second.RecordedAt)

	// And nothing extra hit the audit log.
	assert.Len(t, f.stores.AuditEntries(), 1)
}

func TestRecordStatusTransitionIsAudited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.AttendancePerProject)
	ident := Identifier{QRToken: "AB12CD34EF56AB12"}

	rec, err := f.svc.Record(ctx, ident, domain.CheckinPresent, f.actorID)
	require.NoError(t, err)

	// Correction back to pending is a legal transition.
	corrector := uuid.New()
	rec2, err := f.svc.Record(ctx, ident, domain.CheckinPending, corrector)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, rec2.ID)
	assert.Equal(t, domain.CheckinPending, rec2.Status)
	assert.Equal(t, corrector, rec2.RecordedBy)

	entries := f.stores.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "checkin_actualizado", entries[1].EventType)
}

func TestRecordByMatricula(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit project", func(t *testing.T) {
		f := newFixture(t, config.AttendancePerProject)
		other := uuid.New()

		rec, err := f.svc.Record(ctx, Identifier{Matricula: "A01234", ProjectID: &other}, domain.CheckinPresent, f.actorID)
		require.NoError(t, err)
		require.NotNil(t, rec.ProjectID)
		assert.Equal(t, other, *rec.ProjectID)
	})

	t.Run("falls back to the confirmed enrollment", func(t *testing.T) {
		f := newFixture(t, config.AttendancePerProject)

		rec, err := f.svc.Record(ctx, Identifier{Matricula: "A01234"}, domain.CheckinPresent, f.actorID)
		require.NoError(t, err)
		require.NotNil(t, rec.ProjectID)
		assert.Equal(t, f.projectID, *rec.ProjectID)
	})

	t.Run("unknown matricula", func(t *testing.T) {
		f := newFixture(t, config.AttendancePerProject)

		_, err := f.svc.Record(ctx, Identifier{Matricula: "A09999"}, domain.CheckinPresent, f.actorID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRecordGlobalScopeDropsProject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.AttendanceGlobal)

	rec, err := f.svc.Record(ctx, Identifier{QRToken: "AB12CD34EF56AB12"}, domain.CheckinPresent, f.actorID)
	require.NoError(t, err)
	assert.Nil(t, rec.ProjectID)

	// A matricula scan resolves to the same global record.
	rec2, err := f.svc.Record(ctx, Identifier{Matricula: "A01234"}, domain.CheckinPresent, f.actorID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, rec2.ID)
}

func TestRecordRejectsBadIdentifiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.AttendancePerProject)

	t.Run("unknown token", func(t *testing.T) {
		_, err := f.svc.Record(ctx, Identifier{QRToken: "FFFFFFFFFFFFFFFF"}, domain.CheckinPresent, f.actorID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty identifier", func(t *testing.T) {
		_, err := f.svc.Record(ctx, Identifier{}, domain.CheckinPresent, f.actorID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("cancelled enrollment", func(t *testing.T) {
		cancelled := &domain.Enrollment{
			ID:        uuid.New(),
			StudentID: uuid.New(),
			ProjectID: uuid.New(),
			Status:    domain.EnrollmentCancelled,
			QRToken:   "CANCELLED1234567",
		}
		require.NoError(t, f.stores.Enrollments().Insert(ctx, cancelled))

		_, err := f.svc.Record(ctx, Identifier{QRToken: "CANCELLED1234567"}, domain.CheckinPresent, f.actorID)
		assert.ErrorIs(t, err, ErrInvalidOrCancelled)
	})
}

// contendedCheckins fails a fixed number of inserts with ErrConflict, as if
// another scanner committed the row first.
type contendedCheckins struct {
	repository.CheckinStore
	rejects int
}

func (c *contendedCheckins) Insert(ctx context.Context, rec *domain.Checkin) error {
	if c.rejects > 0 {
		c.rejects--
		return repository.ErrConflict
	}
	return c.CheckinStore.Insert(ctx, rec)
}

// plainTx runs fn directly against the wrapped store, no transaction.
type plainTx struct {
	checkins repository.CheckinStore
}

func (p plainTx) CheckinTx(ctx context.Context, fn func(ctx context.Context, checkins repository.CheckinStore) error) error {
	return fn(ctx, p.checkins)
}

func TestRecordRetriesOnceOnInsertRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.AttendancePerProject)

	contended := &contendedCheckins{CheckinStore: f.stores.Checkins(), rejects: 1}
	svc := New(
		plainTx{contended}, f.stores.Enrollments(), f.stores.Students(), f.stores.Audit(),
		Config{}, nil,
	)

	rec, err := svc.Record(ctx, Identifier{QRToken: "AB12CD34EF56AB12"}, domain.CheckinPresent, f.actorID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckinPresent, rec.Status)
	assert.Len(t, f.stores.AuditEntries(), 1)
}

func TestRecordGivesUpAfterSecondConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.AttendancePerProject)

	contended := &contendedCheckins{CheckinStore: f.stores.Checkins(), rejects: 2}
	svc := New(
		plainTx{contended}, f.stores.Enrollments(), f.stores.Students(), f.stores.Audit(),
		Config{}, nil,
	)

	_, err := svc.Record(ctx, Identifier{QRToken: "AB12CD34EF56AB12"}, domain.CheckinPresent, f.actorID)
	require.ErrorIs(t, err, repository.ErrConflict)

	// Both attempts were consumed; nothing landed and nothing was audited.
	assert.Zero(t, contended.rejects)
	assert.Empty(t, f.stores.AuditEntries())
}
