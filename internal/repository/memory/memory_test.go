package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
)

func TestDecrementQuotaStopsAtZero(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()

	p := &domain.Project{ID: uuid.New(), Name: "Robotics", CapacityTotal: 2, CapacityAvailable: 2, Active: true}
	require.NoError(t, stores.Projects().Create(ctx, p))

	left, err := stores.Projects().DecrementQuota(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	left, err = stores.Projects().DecrementQuota(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	_, err = stores.Projects().DecrementQuota(ctx, p.ID)
	assert.ErrorIs(t, err, repository.ErrNoCapacity)
}

func TestDecrementQuotaConcurrent(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()

	const capacity = 5
	p := &domain.Project{ID: uuid.New(), Name: "Robotics", CapacityTotal: capacity, CapacityAvailable: capacity, Active: true}
	require.NoError(t, stores.Projects().Create(ctx, p))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < capacity*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := stores.Projects().DecrementQuota(ctx, p.ID); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, granted)

	got, err := stores.Projects().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CapacityAvailable)
}

func TestRestoreQuotaCappedAtTotal(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()

	p := &domain.Project{ID: uuid.New(), CapacityTotal: 3, CapacityAvailable: 3}
	require.NoError(t, stores.Projects().Create(ctx, p))

	err := stores.Projects().RestoreQuota(ctx, p.ID)
	assert.ErrorIs(t, err, repository.ErrQuotaAtMax)

	_, err = stores.Projects().DecrementQuota(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, stores.Projects().RestoreQuota(ctx, p.ID))

	got, err := stores.Projects().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CapacityAvailable)
}

func TestMarkUsedIsSingleShot(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()

	code := &domain.Code{ID: uuid.New(), ProjectID: uuid.New(), Hash: "ABCD2345", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, stores.Codes().Insert(ctx, code))

	student := uuid.New()
	require.NoError(t, stores.Codes().MarkUsed(ctx, code.ID, student, time.Now()))

	err := stores.Codes().MarkUsed(ctx, code.ID, uuid.New(), time.Now())
	assert.ErrorIs(t, err, repository.ErrCodeUsed)

	got, err := stores.Codes().FindByHash(ctx, "ABCD2345")
	require.NoError(t, err)
	assert.True(t, got.Used)
	require.NotNil(t, got.UsedByID)
	assert.Equal(t, student, *got.UsedByID)

	require.NoError(t, stores.Codes().RevertUsed(ctx, code.ID))
	got, err = stores.Codes().FindByHash(ctx, "ABCD2345")
	require.NoError(t, err)
	assert.False(t, got.Used)
	assert.Nil(t, got.UsedAt)
}

func TestSetQRTokenWritesOnce(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()

	s := &domain.Student{ID: uuid.New(), Matricula: "A0123"}
	require.NoError(t, stores.Students().Insert(ctx, s))

	require.NoError(t, stores.Students().SetQRToken(ctx, s.ID, "TOKEN1"))
	require.NoError(t, stores.Students().SetQRToken(ctx, s.ID, "TOKEN2"))

	got, err := stores.Students().FindByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.QRToken)
	assert.Equal(t, "TOKEN1", *got.QRToken)
}

func TestEnrollmentUniqueness(t *testing.T) {
	ctx := context.Background()
	stores := NewStores()

	studentID, projectID := uuid.New(), uuid.New()
	first := &domain.Enrollment{
		ID: uuid.New(), StudentID: studentID, ProjectID: projectID,
		Status: domain.EnrollmentConfirmed, QRToken: "TOK1",
	}
	require.NoError(t, stores.Enrollments().Insert(ctx, first))

	dupToken := &domain.Enrollment{
		ID: uuid.New(), StudentID: uuid.New(), ProjectID: uuid.New(),
		Status: domain.EnrollmentConfirmed, QRToken: "TOK1",
	}
	assert.ErrorIs(t, stores.Enrollments().Insert(ctx, dupToken), repository.ErrConflict)

	dupPair := &domain.Enrollment{
		ID: uuid.New(), StudentID: studentID, ProjectID: projectID,
		Status: domain.EnrollmentConfirmed, QRToken: "TOK2",
	}
	assert.ErrorIs(t, stores.Enrollments().Insert(ctx, dupPair), repository.ErrConflict)

	require.NoError(t, stores.Enrollments().Delete(ctx, first.ID))
	_, err := stores.Enrollments().FindByQRToken(ctx, "TOK1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
