package students

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferialabs/feriago/internal/repository/memory"
)

func TestRegister(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	stores := memory.NewStores()
	svc := New(stores.Students(), stores.Audit(), nil)

	st, err := svc.Register(ctx, RegisterInput{
		Matricula: " A01234 ",
		Name:      "Ana Torres",
		Email:     "ana@uni.mx",
		Program:   "ISC",
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, "A01234", st.Matricula)

	entries := stores.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "estudiante_registrado", entries[0].EventType)

	t.Run("duplicate matricula", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterInput{
			Matricula: "A01234",
			Name:      "Otra Persona",
			Email:     "otra@uni.mx",
			Program:   "IMT",
		}, actor)
		assert.ErrorIs(t, err, ErrDuplicateMatricula)
	})

	t.Run("matricula out of bounds", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterInput{Matricula: "ab", Name: "X", Email: "x@uni.mx", Program: "ISC"}, actor)
		assert.ErrorIs(t, err, ErrInvalidMatricula)
	})
}

func TestEnsureQRToken(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	stores := memory.NewStores()
	svc := New(stores.Students(), stores.Audit(), nil)

	_, err := svc.Register(ctx, RegisterInput{
		Matricula: "A01234", Name: "Ana Torres", Email: "ana@uni.mx", Program: "ISC",
	}, actor)
	require.NoError(t, err)

	token, st, err := svc.EnsureQRToken(ctx, "A01234")
	require.NoError(t, err)
	assert.Len(t, token, 16)
	assert.Equal(t, "A01234", st.Matricula)

	// Stable across calls.
	again, _, err := svc.EnsureQRToken(ctx, "A01234")
	require.NoError(t, err)
	assert.Equal(t, token, again)

	t.Run("unknown matricula", func(t *testing.T) {
		_, _, err := svc.EnsureQRToken(ctx, "A09999")
		assert.ErrorIs(t, err, ErrStudentNotFound)
	})
}
