package codes

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/repository"
	"github.com/ferialabs/feriago/internal/repository/memory"
)

func newFixture(t *testing.T, capacity int, active bool) (*memory.Stores, *Service, *domain.Project) {
	t.Helper()

	stores := memory.NewStores()
	p := &domain.Project{
		ID:                uuid.New(),
		Name:              "Huerto Urbano",
		CapacityTotal:     capacity,
		CapacityAvailable: capacity,
		Active:            active,
	}
	require.NoError(t, stores.Projects().Create(context.Background(), p))

	svc := New(stores.Codes(), stores.Projects(), stores.Audit(), Config{
		TTLDefault: 10 * time.Minute,
		TTLMax:     24 * time.Hour,
	}, nil)

	return stores, svc, p
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	t.Run("happy path", func(t *testing.T) {
		stores, svc, p := newFixture(t, 5, true)

		code, err := svc.Issue(ctx, p.ID, actor, 0)
		require.NoError(t, err)

		assert.Len(t, code.Hash, 8)
		for _, ch := range code.Hash {
			assert.Contains(t, codeAlphabet, string(ch))
		}
		assert.Equal(t, actor, code.CreatedByID)
		assert.WithinDuration(t, time.Now().Add(10*time.Minute), code.ExpiresAt, 5*time.Second)

		// Issuance touches no quota.
		got, err := stores.Projects().Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.CapacityAvailable)

		entries := stores.AuditEntries()
		require.Len(t, entries, 1)
		assert.Equal(t, "codigo_generado", entries[0].EventType)
	})

	t.Run("ttl is clamped to the maximum", func(t *testing.T) {
		_, svc, p := newFixture(t, 5, true)

		code, err := svc.Issue(ctx, p.ID, actor, 48*time.Hour)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), code.ExpiresAt, 5*time.Second)
	})

	t.Run("unknown project", func(t *testing.T) {
		_, svc, _ := newFixture(t, 5, true)

		_, err := svc.Issue(ctx, uuid.New(), actor, 0)
		assert.ErrorIs(t, err, ErrProjectNotFound)
	})

	t.Run("inactive project", func(t *testing.T) {
		_, svc, p := newFixture(t, 5, false)

		_, err := svc.Issue(ctx, p.ID, actor, 0)
		assert.ErrorIs(t, err, ErrProjectInactive)
	})

	t.Run("full project", func(t *testing.T) {
		stores, svc, p := newFixture(t, 1, true)

		_, err := stores.Projects().DecrementQuota(ctx, p.ID)
		require.NoError(t, err)

		_, err = svc.Issue(ctx, p.ID, actor, 0)
		assert.ErrorIs(t, err, ErrNoCapacity)
	})
}

// collidingCodes forces unique violations on the first n inserts.
type collidingCodes struct {
	repository.CodeStore
	rejects int
}

func (c *collidingCodes) Insert(ctx context.Context, code *domain.Code) error {
	if c.rejects > 0 {
		c.rejects--
		return repository.ErrConflict
	}
	return c.CodeStore.Insert(ctx, code)
}

func TestIssueCollisionHandling(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	t.Run("one collision retries with a longer code", func(t *testing.T) {
		stores, _, p := newFixture(t, 5, true)

		svc := New(
			&collidingCodes{CodeStore: stores.Codes(), rejects: 1},
			stores.Projects(), stores.Audit(),
			Config{TTLDefault: 10 * time.Minute, TTLMax: 24 * time.Hour}, nil,
		)

		code, err := svc.Issue(ctx, p.ID, actor, 0)
		require.NoError(t, err)
		assert.Len(t, code.Hash, 10)
	})

	t.Run("two collisions fail hard", func(t *testing.T) {
		stores, _, p := newFixture(t, 5, true)

		svc := New(
			&collidingCodes{CodeStore: stores.Codes(), rejects: 2},
			stores.Projects(), stores.Audit(),
			Config{TTLDefault: 10 * time.Minute, TTLMax: 24 * time.Hour}, nil,
		)

		_, err := svc.Issue(ctx, p.ID, actor, 0)
		assert.ErrorIs(t, err, ErrCodeCollision)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()
	_, svc, p := newFixture(t, 5, true)

	first, err := svc.Issue(ctx, p.ID, actor, 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := svc.Issue(ctx, p.ID, actor, 0)
	require.NoError(t, err)

	list, err := svc.List(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Newest first.
	assert.Equal(t, second.Hash, list[0].Hash)
	assert.Equal(t, first.Hash, list[1].Hash)

	_, err = svc.List(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
