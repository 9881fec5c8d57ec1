package service

import (
	"log/slog"

	redisx "github.com/ferialabs/feriago/internal/redis"
	postgres "github.com/ferialabs/feriago/internal/repository/postgres"
	redisrepo "github.com/ferialabs/feriago/internal/repository/redis"
	"github.com/ferialabs/feriago/internal/service/attendance"
	"github.com/ferialabs/feriago/internal/service/codes"
	"github.com/ferialabs/feriago/internal/service/projects"
	"github.com/ferialabs/feriago/internal/service/redemption"
	"github.com/ferialabs/feriago/internal/service/students"
)

type Services struct {
	Redemption *redemption.Service
	Attendance *attendance.Service
	Codes      *codes.Service
	Projects   *projects.Service
	Students   *students.Service
}

type Config struct {
	Attendance attendance.Config
	Codes      codes.Config
	Projects   projects.Config
}

func NewServices(
	store *postgres.Store,
	cache *redisrepo.Cache,
	pubsub *redisx.EnrollmentsPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	cfg Config,
	log *slog.Logger,
) *Services {
	codeRepo := store.Codes()
	projectRepo := store.Projects()
	studentRepo := store.Students()
	enrollmentRepo := store.Enrollments()
	auditRepo := store.Audit()

	return &Services{
		Redemption: redemption.New(
			codeRepo, projectRepo, studentRepo, enrollmentRepo, auditRepo,
			cache, pubsub, limiter, log,
		),
		Attendance: attendance.New(
			store, enrollmentRepo, studentRepo, auditRepo,
			cfg.Attendance, log,
		),
		Codes:    codes.New(codeRepo, projectRepo, auditRepo, cfg.Codes, log),
		Projects: projects.New(projectRepo, auditRepo, cache, cfg.Projects, log),
		Students: students.New(studentRepo, auditRepo, log),
	}
}
