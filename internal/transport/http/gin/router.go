package httpgin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ferialabs/feriago/internal/domain"
	"github.com/ferialabs/feriago/internal/metrics"
	redisrepo "github.com/ferialabs/feriago/internal/repository/redis"
	"github.com/ferialabs/feriago/internal/saga"
	"github.com/ferialabs/feriago/internal/service"
	"github.com/ferialabs/feriago/internal/service/attendance"
	"github.com/ferialabs/feriago/internal/service/codes"
	"github.com/ferialabs/feriago/internal/service/projects"
	"github.com/ferialabs/feriago/internal/service/redemption"
	"github.com/ferialabs/feriago/internal/service/students"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	m *metrics.Metrics,
	jwtSecret string,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	if m != nil {
		r.Use(MetricsMiddleware(m))
	}
	for _, mw := range middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// Public API
	r.POST("/codes/validate", handleValidateCode(svcs))
	r.POST("/registrations", handleRedeem(svcs, idem, m))
	r.GET("/projects/:id/availability", handleProjectAvailability(svcs))

	// Staff API (JWT)
	staff := r.Group("/staff")
	{
		staff.POST("/checkins",
			RequireRoles(jwtSecret, domain.RoleAdmin, domain.RoleBecario),
			handleRecordCheckin(svcs, m))

		staff.GET("/projects",
			RequireRoles(jwtSecret, domain.RoleAdmin, domain.RoleSocio, domain.RoleBecario),
			handleListProjects(svcs))
		staff.POST("/projects",
			RequireRoles(jwtSecret, domain.RoleAdmin),
			handleCreateProject(svcs))

		staff.POST("/projects/:id/codes",
			RequireRoles(jwtSecret, domain.RoleAdmin, domain.RoleSocio),
			handleIssueCode(svcs))
		staff.GET("/projects/:id/codes",
			RequireRoles(jwtSecret, domain.RoleAdmin, domain.RoleSocio),
			handleListCodes(svcs))

		staff.POST("/students",
			RequireRoles(jwtSecret, domain.RoleAdmin, domain.RoleBecario),
			handleRegisterStudent(svcs))
		staff.POST("/students/qr",
			RequireRoles(jwtSecret, domain.RoleAdmin, domain.RoleBecario),
			handleStudentQR(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Validate a code without consuming it
// @Param    req body  ValidateCodeRequest true "payload"
// @Success  200 {object} ValidateCodeResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "already used / no capacity"
// @Failure  410 {object} ErrorResponse "expired"
// @Router   /codes/validate [post]
func handleValidateCode(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ValidateCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		v, err := svcs.Redemption.ValidateCode(c.Request.Context(), req.Code)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, ValidateCodeResponse{
			ProjectID:         v.ProjectID.String(),
			ProjectName:       v.ProjectName,
			CapacityAvailable: v.CapacityAvailable,
		})
	}
}

// @Summary  Redeem a code (idempotent)
// @Param    req body  RedeemRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} RedeemResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "code or matricula unknown"
// @Failure  409 {object} ErrorResponse "used / duplicate / no capacity / idem in progress"
// @Failure  410 {object} ErrorResponse "expired"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /registrations [post]
func handleRedeem(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	m *metrics.Metrics,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RedeemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		normCode := strings.ToUpper(strings.TrimSpace(req.Code))

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemRedeem(normCode, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		rlKey := "ip:" + c.ClientIP()

		res, err := svcs.Redemption.Redeem(c.Request.Context(), normCode, req.Matricula, rlKey)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if m != nil {
				m.RedemptionObserved(redeemOutcome(err))
			}
			if errors.Is(err, redemption.ErrRateLimited) {
				c.Header("Retry-After", "60")
				c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited", Kind: "RateLimited"})
				return
			}
			respondErr(c, err)
			return
		}

		if m != nil {
			m.RedemptionObserved("success")
		}

		resp := RedeemResponse{
			QRToken:     res.QRToken,
			ProjectName: res.ProjectName,
			Message:     "registro confirmado",
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Project availability counters
// @Param    id  path  string  true  "Project ID (uuid)"
// @Success  200 {object} projects.Availability
// @Failure  404 {object} ErrorResponse
// @Router   /projects/{id}/availability [get]
func handleProjectAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		av, err := svcs.Projects.Availability(c.Request.Context(), projectID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 15s
		writeJSONWithCache(c, http.StatusOK, av, "public, max-age=15", true)
	}
}

// @Summary  Record a check-in
// @Param    req body  RecordCheckinRequest true "payload"
// @Success  200 {object} RecordCheckinResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "enrollment not confirmed"
// @Router   /staff/checkins [post]
func handleRecordCheckin(svcs *service.Services, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecordCheckinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.QRToken == "" && req.Matricula == "" {
			badRequest(c, "qr_token or matricula is required")
			return
		}

		ident := attendance.Identifier{
			QRToken:   req.QRToken,
			Matricula: req.Matricula,
		}
		if req.ProjectID != "" {
			pid, err := uuid.Parse(req.ProjectID)
			if err != nil {
				badRequest(c, "invalid proyecto_id")
				return
			}
			ident.ProjectID = &pid
		}

		rec, err := svcs.Attendance.Record(
			c.Request.Context(),
			ident,
			domain.CheckinStatus(req.Status),
			actorID(c),
		)
		if err != nil {
			if m != nil {
				m.CheckinObserved(checkinOutcome(err))
			}
			respondErr(c, err)
			return
		}

		if m != nil {
			m.CheckinObserved("success")
		}

		c.JSON(http.StatusOK, RecordCheckinResponse{
			CheckinID: rec.ID.String(),
			Status:    string(rec.Status),
		})
	}
}

// @Summary  List projects
// @Success  200 {array} ProjectResponse
// @Router   /staff/projects [get]
func handleListProjects(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svcs.Projects.List(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		out := make([]ProjectResponse, 0, len(list))
		for i := range list {
			out = append(out, toProjectResponse(&list[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Create project
// @Param    req body  CreateProjectRequest true "payload"
// @Success  201 {object} ProjectResponse
// @Failure  400 {object} ErrorResponse
// @Router   /staff/projects [post]
func handleCreateProject(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			badRequest(c, "invalid socio_usuario_id")
			return
		}
		starts, err := parseRFC3339(req.StartsAt)
		if err != nil {
			badRequest(c, "invalid fecha_inicio (RFC3339)")
			return
		}
		ends, err := parseRFC3339(req.EndsAt)
		if err != nil {
			badRequest(c, "invalid fecha_fin (RFC3339)")
			return
		}

		p, err := svcs.Projects.Create(c.Request.Context(), projects.CreateInput{
			Name:          req.Name,
			Description:   req.Description,
			OwnerID:       ownerID,
			StartsAt:      starts,
			EndsAt:        ends,
			CapacityTotal: req.CapacityTotal,
		}, actorID(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, toProjectResponse(p))
	}
}

// @Summary  Issue a single-use code for a project
// @Param    id  path  string  true  "Project ID (uuid)"
// @Param    req body  IssueCodeRequest false "payload"
// @Success  201 {object} IssueCodeResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "inactive / no capacity"
// @Router   /staff/projects/{id}/codes [post]
func handleIssueCode(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		// Body is optional; an absent body means default TTL.
		var req IssueCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err.Error())
			return
		}

		ttl := time.Duration(req.TTLMinutes) * time.Minute

		code, err := svcs.Codes.Issue(c.Request.Context(), projectID, actorID(c), ttl)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, IssueCodeResponse{
			Code:      code.Hash,
			ExpiresAt: code.ExpiresAt,
		})
	}
}

// @Summary  List codes for a project
// @Param    id  path  string  true  "Project ID (uuid)"
// @Success  200 {array} CodeResponse
// @Failure  404 {object} ErrorResponse
// @Router   /staff/projects/{id}/codes [get]
func handleListCodes(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		list, err := svcs.Codes.List(c.Request.Context(), projectID)
		if err != nil {
			respondErr(c, err)
			return
		}
		out := make([]CodeResponse, 0, len(list))
		for _, code := range list {
			out = append(out, CodeResponse{
				Code:      code.Hash,
				CreatedAt: code.CreatedAt,
				ExpiresAt: code.ExpiresAt,
				Used:      code.Used,
				UsedAt:    code.UsedAt,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Register a student
// @Param    req body  RegisterStudentRequest true "payload"
// @Success  201 {object} StudentResponse
// @Failure  409 {object} ErrorResponse "matricula taken"
// @Router   /staff/students [post]
func handleRegisterStudent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterStudentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		st, err := svcs.Students.Register(c.Request.Context(), students.RegisterInput{
			Matricula: req.Matricula,
			Name:      req.Name,
			Email:     req.Email,
			Program:   req.Program,
		}, actorID(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, StudentResponse{
			StudentID: st.ID.String(),
			Matricula: st.Matricula,
			Name:      st.Name,
		})
	}
}

// @Summary  Get or mint the student's personal QR token
// @Param    req body  StudentQRRequest true "payload"
// @Success  200 {object} StudentQRResponse
// @Failure  404 {object} ErrorResponse
// @Router   /staff/students/qr [post]
func handleStudentQR(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StudentQRRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		token, st, err := svcs.Students.EnsureQRToken(c.Request.Context(), req.Matricula)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, StudentQRResponse{
			Matricula: st.Matricula,
			Name:      st.Name,
			QRToken:   token,
		})
	}
}

// --- Helpers ---

func toProjectResponse(p *domain.Project) ProjectResponse {
	return ProjectResponse{
		ProjectID:         p.ID.String(),
		Name:              p.Name,
		Description:       p.Description,
		CapacityTotal:     p.CapacityTotal,
		CapacityAvailable: p.CapacityAvailable,
		Active:            p.Active,
		StartsAt:          p.StartsAt,
		EndsAt:            p.EndsAt,
	}
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func redeemOutcome(err error) string {
	switch {
	case errors.Is(err, redemption.ErrCodeNotFound):
		return "code_not_found"
	case errors.Is(err, redemption.ErrCodeUsed):
		return "code_used"
	case errors.Is(err, redemption.ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, redemption.ErrNoCapacity):
		return "no_capacity"
	case errors.Is(err, redemption.ErrDuplicateEnrollment),
		errors.Is(err, redemption.ErrAlreadyEnrolledElsewhere):
		return "duplicate"
	case errors.Is(err, redemption.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

func checkinOutcome(err error) string {
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		return "not_found"
	case errors.Is(err, attendance.ErrInvalidOrCancelled):
		return "invalid"
	default:
		return "error"
	}
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var inc *saga.InconsistencyError
	if errors.As(err, &inc) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "registration failed and could not be fully rolled back",
			Kind:  "Inconsistency",
		})
		return
	}

	switch {
	// redemption service
	case errors.Is(err, redemption.ErrCodeNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "code not found", Kind: "CodeNotFound"})
		return
	case errors.Is(err, redemption.ErrCodeUsed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "code already used", Kind: "CodeUsed"})
		return
	case errors.Is(err, redemption.ErrCodeExpired):
		c.JSON(http.StatusGone, ErrorResponse{Error: "code expired", Kind: "CodeExpired"})
		return
	case errors.Is(err, redemption.ErrNoCapacity):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no capacity available", Kind: "NoCapacity"})
		return
	case errors.Is(err, redemption.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "matricula not registered", Kind: "StudentNotFound"})
		return
	case errors.Is(err, redemption.ErrDuplicateEnrollment):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "already enrolled in this project", Kind: "DuplicateEnrollment"})
		return
	case errors.Is(err, redemption.ErrAlreadyEnrolledElsewhere):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "already enrolled in another project", Kind: "EnrolledElsewhere"})
		return
	case errors.Is(err, redemption.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found", Kind: "ProjectNotFound"})
		return
	case errors.Is(err, redemption.ErrInvalidMatricula):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid matricula", Kind: "InvalidMatricula"})
		return
	// attendance service
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "registrant not found", Kind: "NotFound"})
		return
	case errors.Is(err, attendance.ErrInvalidOrCancelled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "enrollment is not confirmed", Kind: "InvalidOrCancelled"})
		return
	// codes service
	case errors.Is(err, codes.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found", Kind: "ProjectNotFound"})
		return
	case errors.Is(err, codes.ErrProjectInactive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "project is not active", Kind: "ProjectInactive"})
		return
	case errors.Is(err, codes.ErrNoCapacity):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "project has no capacity left", Kind: "NoCapacity"})
		return
	case errors.Is(err, codes.ErrCodeCollision):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "could not generate a unique code", Kind: "CodeCollision"})
		return
	// projects service
	case errors.Is(err, projects.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found", Kind: "ProjectNotFound"})
		return
	case errors.Is(err, projects.ErrInvalidCapacity), errors.Is(err, projects.ErrInvalidDates):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	// students service
	case errors.Is(err, students.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "student not found", Kind: "StudentNotFound"})
		return
	case errors.Is(err, students.ErrDuplicateMatricula):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "matricula already registered", Kind: "DuplicateMatricula"})
		return
	case errors.Is(err, students.ErrInvalidMatricula):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid matricula", Kind: "InvalidMatricula"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
