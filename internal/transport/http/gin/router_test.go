package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/metrics"
	"github.com/ferialabs/feriago/internal/repository/memory"
	"github.com/ferialabs/feriago/internal/service"
	"github.com/ferialabs/feriago/internal/service/attendance"
	"github.com/ferialabs/feriago/internal/service/codes"
	"github.com/ferialabs/feriago/internal/service/projects"
	"github.com/ferialabs/feriago/internal/service/redemption"
	"github.com/ferialabs/feriago/internal/service/students"
)

const testSecret = "test-secret"

type env struct {
	router *gin.Engine
	stores *memory.Stores
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	stores := memory.NewStores()

	svcs := &service.Services{
		Redemption: redemption.New(
			stores.Codes(), stores.Projects(), stores.Students(),
			stores.Enrollments(), stores.Audit(),
			nil, nil, nil, nil,
		),
		Attendance: attendance.New(
			stores, stores.Enrollments(), stores.Students(), stores.Audit(),
			attendance.Config{}, nil,
		),
		Codes:    codes.New(stores.Codes(), stores.Projects(), stores.Audit(), codes.Config{}, nil),
		Projects: projects.New(stores.Projects(), stores.Audit(), nil, projects.Config{}, nil),
		Students: students.New(stores.Students(), stores.Audit(), nil),
	}

	router := NewRouter(svcs, nil, metrics.New(), testSecret, nil)

	return &env{router: router, stores: stores}
}

func (e *env) seedProject(t *testing.T, capacity int) *domain.Project {
	t.Helper()
	p := &domain.Project{
		ID:                uuid.New(),
		Name:              "Huerto Urbano",
		OwnerID:           uuid.New(),
		StartsAt:          time.Now(),
		EndsAt:            time.Now().Add(8 * time.Hour),
		CapacityTotal:     capacity,
		CapacityAvailable: capacity,
		Active:            true,
	}
	require.NoError(t, e.stores.Projects().Create(context.Background(), p))
	return p
}

func (e *env) seedCode(t *testing.T, projectID uuid.UUID, hash string) *domain.Code {
	t.Helper()
	c := &domain.Code{
		ID:        uuid.New(),
		ProjectID: projectID,
		Hash:      hash,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, e.stores.Codes().Insert(context.Background(), c))
	return c
}

func (e *env) seedStudent(t *testing.T, matricula string) *domain.Student {
	t.Helper()
	s := &domain.Student{ID: uuid.New(), Matricula: matricula, Name: "Ana Torres", Email: matricula + "@uni.mx", Program: "ISC"}
	require.NoError(t, e.stores.Students().Insert(context.Background(), s))
	return s
}

func staffToken(t *testing.T, role domain.Role) string {
	t.Helper()
	claims := StaffClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(e *env, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestValidateCodeEndpoint(t *testing.T) {
	e := newEnv(t)
	p := e.seedProject(t, 5)
	e.seedCode(t, p.ID, "GOODCODE")

	t.Run("ok", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/codes/validate", "", gin.H{"codigo": "goodcode"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp ValidateCodeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, p.ID.String(), resp.ProjectID)
		assert.Equal(t, 5, resp.CapacityAvailable)
	})

	t.Run("unknown code is 404", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/codes/validate", "", gin.H{"codigo": "NOPE2345"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing body is 400", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/codes/validate", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRegistrationEndpoint(t *testing.T) {
	e := newEnv(t)
	p := e.seedProject(t, 1)
	e.seedCode(t, p.ID, "GOODCODE")
	e.seedCode(t, p.ID, "SPARECOD")
	e.seedStudent(t, "A01234")
	e.seedStudent(t, "A05678")

	t.Run("created", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/registrations", "", gin.H{"codigo": "GOODCODE", "matricula": "A01234"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp RedeemResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.QRToken, 16)
		assert.Equal(t, "Huerto Urbano", resp.ProjectName)
	})

	t.Run("same code again is 409", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/registrations", "", gin.H{"codigo": "GOODCODE", "matricula": "A05678"})
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "CodeUsed", resp.Kind)
	})

	t.Run("full project is 409", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/registrations", "", gin.H{"codigo": "SPARECOD", "matricula": "A05678"})
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "NoCapacity", resp.Kind)
	})

	t.Run("expired code is 410", func(t *testing.T) {
		expired := &domain.Code{
			ID: uuid.New(), ProjectID: p.ID, Hash: "OLDCODE2",
			ExpiresAt: time.Now().Add(-time.Minute),
		}
		require.NoError(t, e.stores.Codes().Insert(context.Background(), expired))

		w := doJSON(e, http.MethodPost, "/registrations", "", gin.H{"codigo": "OLDCODE2", "matricula": "A05678"})
		assert.Equal(t, http.StatusGone, w.Code)
	})

	t.Run("short matricula fails binding", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/registrations", "", gin.H{"codigo": "SPARECOD", "matricula": "ab"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAvailabilityEndpoint(t *testing.T) {
	e := newEnv(t)
	p := e.seedProject(t, 5)

	w := doJSON(e, http.MethodGet, fmt.Sprintf("/projects/%s/availability", p.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("ETag"))

	var resp projects.Availability
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.CapacityAvailable)

	w = doJSON(e, http.MethodGet, "/projects/not-a-uuid/availability", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(e, http.MethodGet, fmt.Sprintf("/projects/%s/availability", uuid.New()), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaffAuth(t *testing.T) {
	e := newEnv(t)

	t.Run("no token is 401", func(t *testing.T) {
		w := doJSON(e, http.MethodGet, "/staff/projects", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token is 401", func(t *testing.T) {
		w := doJSON(e, http.MethodGet, "/staff/projects", "not-a-jwt", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong role is 403", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/staff/projects", staffToken(t, domain.RoleBecario), gin.H{})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("allowed role passes", func(t *testing.T) {
		w := doJSON(e, http.MethodGet, "/staff/projects", staffToken(t, domain.RoleBecario), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestStaffProjectAndCodeFlow(t *testing.T) {
	e := newEnv(t)
	admin := staffToken(t, domain.RoleAdmin)

	w := doJSON(e, http.MethodPost, "/staff/projects", admin, gin.H{
		"nombre":           "Brazo Robotico",
		"socio_usuario_id": uuid.NewString(),
		"fecha_inicio":     time.Now().Format(time.RFC3339),
		"fecha_fin":        time.Now().Add(8 * time.Hour).Format(time.RFC3339),
		"cupo_total":       20,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created ProjectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, 20, created.CapacityAvailable)

	w = doJSON(e, http.MethodPost, fmt.Sprintf("/staff/projects/%s/codes", created.ProjectID), admin, gin.H{"expira_minutos": 30})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var issued IssueCodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	assert.Len(t, issued.Code, 8)

	w = doJSON(e, http.MethodGet, fmt.Sprintf("/staff/projects/%s/codes", created.ProjectID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var codesList []CodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &codesList))
	require.Len(t, codesList, 1)
	assert.Equal(t, issued.Code, codesList[0].Code)

	// The issued code actually redeems.
	e.seedStudent(t, "A01234")
	w = doJSON(e, http.MethodPost, "/registrations", "", gin.H{"codigo": issued.Code, "matricula": "A01234"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestStaffCheckinEndpoint(t *testing.T) {
	e := newEnv(t)
	becario := staffToken(t, domain.RoleBecario)

	p := e.seedProject(t, 5)
	e.seedCode(t, p.ID, "GOODCODE")
	e.seedStudent(t, "A01234")

	w := doJSON(e, http.MethodPost, "/registrations", "", gin.H{"codigo": "GOODCODE", "matricula": "A01234"})
	require.Equal(t, http.StatusCreated, w.Code)

	var redeemed RedeemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &redeemed))

	t.Run("present by qr token", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/staff/checkins", becario, gin.H{"qr_token": redeemed.QRToken, "estado": "PRESENTE"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp RecordCheckinResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "PRESENTE", resp.Status)
	})

	t.Run("unknown token is 404", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/staff/checkins", becario, gin.H{"qr_token": "FFFFFFFFFFFFFFFF", "estado": "PRESENTE"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad status fails binding", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/staff/checkins", becario, gin.H{"qr_token": redeemed.QRToken, "estado": "TARDE"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no identifier is 400", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/staff/checkins", becario, gin.H{"estado": "PRESENTE"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("socio may not record checkins", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/staff/checkins", staffToken(t, domain.RoleSocio), gin.H{"qr_token": redeemed.QRToken, "estado": "PRESENTE"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestStaffStudentEndpoints(t *testing.T) {
	e := newEnv(t)
	becario := staffToken(t, domain.RoleBecario)

	w := doJSON(e, http.MethodPost, "/staff/students", becario, gin.H{
		"matricula": "A01234",
		"nombre":    "Ana Torres",
		"correo":    "ana@uni.mx",
		"carrera":   "ISC",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	t.Run("duplicate is 409", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/staff/students", becario, gin.H{
			"matricula": "A01234",
			"nombre":    "Otra Persona",
			"correo":    "otra@uni.mx",
			"carrera":   "IMT",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("qr token is minted once", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/staff/students/qr", becario, gin.H{"matricula": "A01234"})
		require.Equal(t, http.StatusOK, w.Code)

		var first StudentQRResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
		assert.Len(t, first.QRToken, 16)

		w = doJSON(e, http.MethodPost, "/staff/students/qr", becario, gin.H{"matricula": "A01234"})
		require.Equal(t, http.StatusOK, w.Code)

		var second StudentQRResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
		assert.Equal(t, first.QRToken, second.QRToken)
	})

	t.Run("unknown matricula is 404", func(t *testing.T) {
		w := doJSON(e, http.MethodPost, "/staff/students/qr", becario, gin.H{"matricula": "A09999"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := doJSON(e, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
