package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ===== Error model (session と同型) =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		default:
			return 500
		}
	}
	return 500
}

// ===== DTO =====

type RecordResponse struct {
	RecordID         string    `json:"record_id"`
	SessionID        string    `json:"session_id"`
	StudentID        string    `json:"student_id"`
	Status           Status    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	LocationVerified bool      `json:"location_verified"`
}

type SummaryResponse struct {
	StudentID  string  `json:"student_id"`
	OnTime     int     `json:"on_time"`
	Late       int     `json:"late"`
	Absent     int     `json:"absent"`
	Percentage float64 `json:"percentage"`
}

func (r AttendanceRecord) toDTO() RecordResponse {
	return RecordResponse{
		RecordID:         r.ID,
		SessionID:        r.SessionID,
		StudentID:        r.StudentID,
		Status:           r.Status,
		Timestamp:        r.Timestamp,
		LocationVerified: r.LocationVerified,
	}
}

// ===== Service本体 =====

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

func (s *Service) Store() *Store { return s.store }

// GET /students/:student_id/attendances
func (s *Service) RecordsFor(ctx context.Context, studentID string) ([]RecordResponse, error) {
	if studentID == "" {
		return nil, ErrInvalid("student_id is required")
	}
	records := s.store.RecordsFor(studentID)
	out := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, r.toDTO())
	}
	return out, nil
}

// GET /students/:student_id/summary
func (s *Service) SummaryFor(ctx context.Context, studentID string) (SummaryResponse, error) {
	if studentID == "" {
		return SummaryResponse{}, ErrInvalid("student_id is required")
	}
	sum := s.store.SummaryFor(studentID)
	return SummaryResponse{
		StudentID:  studentID,
		OnTime:     sum.OnTime,
		Late:       sum.Late,
		Absent:     sum.Absent,
		Percentage: sum.Percentage(),
	}, nil
}

// GET /sessions/:session_id/count
func (s *Service) CountFor(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, ErrInvalid("session_id is required")
	}
	return s.store.CountFor(sessionID), nil
}
