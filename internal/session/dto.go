package session

import "time"

const (
	// セッション開始時のフォールバック値（configで上書きされる想定）
	DefaultRotationWindowSec = 90
	DefaultLateThresholdMin  = 10
	DefaultGeofenceRadiusM   = 30.0
)

type CreateClassRequest struct {
	Name            string   `json:"name" binding:"required"`
	Section         string   `json:"section"`
	Semester        string   `json:"semester"`
	Room            string   `json:"room"`
	MeetingDays     []string `json:"meeting_days,omitempty"`
	GeofenceRadiusM float64  `json:"geofence_radius_m"`
	RiskScore       float64  `json:"risk_score"`
	Latitude        float64  `json:"latitude"`
	Longitude       float64  `json:"longitude"`
}

// 部分更新（nil のフィールドは触らない）
type UpdateClassRequest struct {
	Name            *string   `json:"name,omitempty"`
	Section         *string   `json:"section,omitempty"`
	Semester        *string   `json:"semester,omitempty"`
	Room            *string   `json:"room,omitempty"`
	MeetingDays     *[]string `json:"meeting_days,omitempty"`
	GeofenceRadiusM *float64  `json:"geofence_radius_m,omitempty"`
	RiskScore       *float64  `json:"risk_score,omitempty"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
}

type ClassResponse struct {
	ClassID         string    `json:"class_id"`
	OwnerID         string    `json:"owner_id,omitempty"`
	Name            string    `json:"name"`
	Section         string    `json:"section,omitempty"`
	Semester        string    `json:"semester,omitempty"`
	Room            string    `json:"room,omitempty"`
	MeetingDays     []string  `json:"meeting_days,omitempty"`
	GeofenceRadiusM float64   `json:"geofence_radius_m"`
	RiskScore       float64   `json:"risk_score"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	CreatedAt       time.Time `json:"created_at"`
}

type StartSessionRequest struct {
	RotationWindowSeconds *int `json:"rotation_window_seconds,omitempty"`
	LateThresholdMinutes  *int `json:"late_threshold_minutes,omitempty"`
}

type SessionResponse struct {
	SessionID             string     `json:"session_id"`
	ClassID               string     `json:"class_id"`
	StartedAt             time.Time  `json:"started_at"`
	EndedAt               *time.Time `json:"ended_at,omitempty"`
	RotationWindowSeconds int        `json:"rotation_window_seconds"`
	LateThresholdMinutes  int        `json:"late_threshold_minutes"`
	Locked                bool       `json:"locked"`
}

type TokenResponse struct {
	Token                 string `json:"token"`
	RotationWindowSeconds int    `json:"rotation_window_seconds"`
}

func (c ClassSection) toDTO() ClassResponse {
	return ClassResponse{
		ClassID:         c.ID,
		OwnerID:         c.OwnerID,
		Name:            c.Name,
		Section:         c.Section,
		Semester:        c.Semester,
		Room:            c.Room,
		MeetingDays:     c.MeetingDays,
		GeofenceRadiusM: c.GeofenceRadiusM,
		RiskScore:       c.RiskScore,
		Latitude:        c.Latitude,
		Longitude:       c.Longitude,
		CreatedAt:       c.CreatedAt,
	}
}

func (s Session) toDTO() SessionResponse {
	return SessionResponse{
		SessionID:             s.ID,
		ClassID:               s.ClassID,
		StartedAt:             s.StartedAt,
		EndedAt:               s.EndedAt,
		RotationWindowSeconds: s.RotationWindowSec,
		LateThresholdMinutes:  s.LateThresholdMin,
		Locked:                s.Locked,
	}
}
