package httpgin

import (
	"time"
)

type ValidateCodeRequest struct {
	Code string `json:"codigo" binding:"required"`
}

type ValidateCodeResponse struct {
	ProjectID         string `json:"proyecto_id"`
	ProjectName       string `json:"proyecto_nombre"`
	CapacityAvailable int    `json:"cupo_disponible"`
}

type RedeemRequest struct {
	Code      string `json:"codigo" binding:"required"`
	Matricula string `json:"matricula" binding:"required,min=3,max=20"`
}

type RedeemResponse struct {
	QRToken     string `json:"qr_token"`
	ProjectName string `json:"proyecto_nombre"`
	Message     string `json:"message"`
}

type RecordCheckinRequest struct {
	QRToken   string `json:"qr_token"`
	Matricula string `json:"matricula"`
	ProjectID string `json:"proyecto_id"`
	Status    string `json:"estado" binding:"required,oneof=PENDIENTE PRESENTE"`
}

type RecordCheckinResponse struct {
	CheckinID string `json:"checkin_id"`
	Status    string `json:"estado"`
}

type CreateProjectRequest struct {
	Name          string `json:"nombre" binding:"required"`
	Description   string `json:"descripcion"`
	OwnerID       string `json:"socio_usuario_id" binding:"required,uuid"`
	StartsAt      string `json:"fecha_inicio" binding:"required"`
	EndsAt        string `json:"fecha_fin" binding:"required"`
	CapacityTotal int    `json:"cupo_total" binding:"required,gt=0"`
}

type ProjectResponse struct {
	ProjectID         string    `json:"proyecto_id"`
	Name              string    `json:"nombre"`
	Description       string    `json:"descripcion,omitempty"`
	CapacityTotal     int       `json:"cupo_total"`
	CapacityAvailable int       `json:"cupo_disponible"`
	Active            bool      `json:"activo"`
	StartsAt          time.Time `json:"fecha_inicio"`
	EndsAt            time.Time `json:"fecha_fin"`
}

type IssueCodeRequest struct {
	TTLMinutes int `json:"expira_minutos"`
}

type IssueCodeResponse struct {
	Code      string    `json:"codigo"`
	ExpiresAt time.Time `json:"expira_en"`
}

type CodeResponse struct {
	Code      string     `json:"codigo"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expira_en"`
	Used      bool       `json:"usado"`
	UsedAt    *time.Time `json:"usado_en,omitempty"`
}

type RegisterStudentRequest struct {
	Matricula string `json:"matricula" binding:"required,min=3,max=20"`
	Name      string `json:"nombre" binding:"required"`
	Email     string `json:"correo" binding:"required,email"`
	Program   string `json:"carrera" binding:"required"`
}

type StudentResponse struct {
	StudentID string `json:"estudiante_id"`
	Matricula string `json:"matricula"`
	Name      string `json:"nombre"`
}

type StudentQRRequest struct {
	Matricula string `json:"matricula" binding:"required"`
}

type StudentQRResponse struct {
	Matricula string `json:"matricula"`
	Name      string `json:"nombre"`
	QRToken   string `json:"qr_token"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
