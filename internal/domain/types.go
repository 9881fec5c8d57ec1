package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus is the state of a project enrollment.
type EnrollmentStatus string

const (
	EnrollmentConfirmed EnrollmentStatus = "CONFIRMADO"
	EnrollmentCancelled EnrollmentStatus = "CANCELADO"
)

// CheckinStatus is the state of an attendance record.
type CheckinStatus string

const (
	CheckinPending CheckinStatus = "PENDIENTE"
	CheckinPresent CheckinStatus = "PRESENTE"
)

// Role is the opaque caller role carried in staff tokens. Role management
// itself lives in an external identity service.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleSocio   Role = "SOCIO"
	RoleBecario Role = "BECARIO"
)

// Code is a single-use, time-limited enrollment credential tied to one
// project. Only the Used* fields ever change, and exactly once.
type Code struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Hash        string
	CreatedByID uuid.UUID
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
	UsedAt      *time.Time
	UsedByID    *uuid.UUID
}

// Project carries the quota counters. CapacityAvailable is only ever mutated
// through the conditional decrement/restore queries.
type Project struct {
	ID                uuid.UUID
	Name              string
	Description       string
	OwnerID           uuid.UUID
	StartsAt          time.Time
	EndsAt            time.Time
	CapacityTotal     int
	CapacityAvailable int
	Active            bool
	CreatedAt         time.Time
}

// Student is a registrant pre-known to the fair, keyed by matricula.
type Student struct {
	ID        uuid.UUID
	Matricula string
	Name      string
	Email     string
	Program   string
	QRToken   *string
	CreatedAt time.Time
}

// Enrollment is the committed claim of one project slot by one student,
// referencing the exact code that was consumed for it.
type Enrollment struct {
	ID        uuid.UUID
	StudentID uuid.UUID
	ProjectID uuid.UUID
	CodeID    uuid.UUID
	Status    EnrollmentStatus
	QRToken   string
	CreatedAt time.Time
}

// Checkin is an attendance record. At most one exists per (student, project)
// pair, or per student when the fair runs in global attendance mode.
type Checkin struct {
	ID         uuid.UUID
	StudentID  uuid.UUID
	ProjectID  *uuid.UUID
	Status     CheckinStatus
	RecordedAt time.Time
	RecordedBy uuid.UUID
}

// AuditEntry is an append-only event log row. The core never reads it back.
type AuditEntry struct {
	ID        uuid.UUID
	Entity    string
	EventType string
	ActorID   *uuid.UUID
	EntityID  *uuid.UUID
	Metadata  json.RawMessage
	CreatedAt time.Time
}
