package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ===== Error model (attendance/lends_new と同型) =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeAlreadyLive     Code = "ALREADY_LIVE"
	CodeForbidden       Code = "FORBIDDEN"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string       { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError   { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError  { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError  { return &APIError{Code: CodeConflict, Message: msg} }
func ErrLive(msg string) *APIError      { return &APIError{Code: CodeAlreadyLive, Message: msg} }
func ErrForbidden(msg string) *APIError { return &APIError{Code: CodeForbidden, Message: msg} }
func ErrInternal(msg string) *APIError  { return &APIError{Code: CodeInternal, Message: msg} }

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeForbidden:
			return 403
		case CodeNotFound:
			return 404
		case CodeConflict, CodeAlreadyLive:
			return 409
		default:
			return 500
		}
	}
	return 500
}

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// トークン発行側（token.Codec が実体）
type TokenIssuer interface {
	Encode(sess Session, cls ClassSection) (string, error)
}

// ===== Service本体 =====

type Service struct {
	store  *Store
	issuer TokenIssuer
	clock  Clock
	id     IDGen

	defaultRotationSec int
	defaultLateMin     int
}

func NewService(store *Store, issuer TokenIssuer, defaultRotationSec, defaultLateMin int) *Service {
	if defaultRotationSec <= 0 {
		defaultRotationSec = DefaultRotationWindowSec
	}
	if defaultLateMin <= 0 {
		defaultLateMin = DefaultLateThresholdMin
	}
	return &Service{
		store:              store,
		issuer:             issuer,
		clock:              realClock{},
		id:                 ulidGen{},
		defaultRotationSec: defaultRotationSec,
		defaultLateMin:     defaultLateMin,
	}
}

func (s *Service) Store() *Store { return s.store }

// クラス作成。入力チェックは境界の最低限のみ（名前必須・半径は正）。
func (s *Service) CreateClass(ctx context.Context, ownerID string, req CreateClassRequest) (ClassResponse, error) {
	if req.Name == "" {
		return ClassResponse{}, ErrInvalid("name is required")
	}
	if req.GeofenceRadiusM < 0 {
		return ClassResponse{}, ErrInvalid("geofence_radius_m must be positive")
	}
	if req.GeofenceRadiusM == 0 {
		req.GeofenceRadiusM = DefaultGeofenceRadiusM
	}
	if req.RiskScore < 0 || req.RiskScore > 1 {
		return ClassResponse{}, ErrInvalid("risk_score must be in [0, 1]")
	}

	id, err := s.id.New()
	if err != nil {
		return ClassResponse{}, err
	}
	cls := ClassSection{
		ID:              id,
		OwnerID:         ownerID,
		Name:            req.Name,
		Section:         req.Section,
		Semester:        req.Semester,
		Room:            req.Room,
		MeetingDays:     req.MeetingDays,
		GeofenceRadiusM: req.GeofenceRadiusM,
		RiskScore:       req.RiskScore,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		CreatedAt:       s.clock.Now().UTC(),
	}
	s.store.PutClass(ctx, cls)
	return cls.toDTO(), nil
}

// クラス更新。IDは不変、それ以外は所有者のみ変更可。
func (s *Service) UpdateClass(ctx context.Context, professorID, classID string, req UpdateClassRequest) (ClassResponse, error) {
	cls, ok := s.store.ClassByID(classID)
	if !ok {
		return ClassResponse{}, ErrNotFound("class not found")
	}
	if cls.OwnerID != professorID {
		return ClassResponse{}, ErrForbidden("not the owner of this class")
	}

	if req.Name != nil {
		if *req.Name == "" {
			return ClassResponse{}, ErrInvalid("name must not be empty")
		}
		cls.Name = *req.Name
	}
	if req.Section != nil {
		cls.Section = *req.Section
	}
	if req.Semester != nil {
		cls.Semester = *req.Semester
	}
	if req.Room != nil {
		cls.Room = *req.Room
	}
	if req.MeetingDays != nil {
		cls.MeetingDays = *req.MeetingDays
	}
	if req.GeofenceRadiusM != nil {
		if *req.GeofenceRadiusM <= 0 {
			return ClassResponse{}, ErrInvalid("geofence_radius_m must be positive")
		}
		cls.GeofenceRadiusM = *req.GeofenceRadiusM
	}
	if req.RiskScore != nil {
		if *req.RiskScore < 0 || *req.RiskScore > 1 {
			return ClassResponse{}, ErrInvalid("risk_score must be in [0, 1]")
		}
		cls.RiskScore = *req.RiskScore
	}
	if req.Latitude != nil {
		cls.Latitude = *req.Latitude
	}
	if req.Longitude != nil {
		cls.Longitude = *req.Longitude
	}

	s.store.PutClass(ctx, cls)
	return cls.toDTO(), nil
}

func (s *Service) ListClasses(ctx context.Context) []ClassResponse {
	classes := s.store.Classes()
	out := make([]ClassResponse, 0, len(classes))
	for _, c := range classes {
		out = append(out, c.toDTO())
	}
	return out
}

func (s *Service) GetClass(ctx context.Context, classID string) (ClassResponse, error) {
	cls, ok := s.store.ClassByID(classID)
	if !ok {
		return ClassResponse{}, ErrNotFound("class not found")
	}
	return cls.toDTO(), nil
}

// セッション開始。ライブセッションが既にあれば ALREADY_LIVE。
func (s *Service) StartSession(ctx context.Context, professorID, classID string, req StartSessionRequest) (SessionResponse, error) {
	cls, ok := s.store.ClassByID(classID)
	if !ok {
		return SessionResponse{}, ErrNotFound("class not found")
	}
	if cls.OwnerID != professorID {
		return SessionResponse{}, ErrForbidden("not the owner of this class")
	}

	rot := s.defaultRotationSec
	if req.RotationWindowSeconds != nil {
		if *req.RotationWindowSeconds <= 0 {
			return SessionResponse{}, ErrInvalid("rotation_window_seconds must be positive")
		}
		rot = *req.RotationWindowSeconds
	}
	late := s.defaultLateMin
	if req.LateThresholdMinutes != nil {
		if *req.LateThresholdMinutes < 0 {
			return SessionResponse{}, ErrInvalid("late_threshold_minutes must not be negative")
		}
		late = *req.LateThresholdMinutes
	}

	id, err := s.id.New()
	if err != nil {
		return SessionResponse{}, err
	}
	sess := Session{
		ID:                id,
		ClassID:           classID,
		StartedAt:         s.clock.Now().UTC(),
		Seed:              newSeed(),
		LateThresholdMin:  late,
		RotationWindowSec: rot,
	}
	if err := s.store.StartSession(ctx, sess); err != nil {
		if errors.Is(err, ErrAlreadyLive) {
			return SessionResponse{}, ErrLive("class already has a live session")
		}
		if errors.Is(err, ErrClassNotFound) {
			return SessionResponse{}, ErrNotFound("class not found")
		}
		return SessionResponse{}, err
	}
	return sess.toDTO(), nil
}

// セッション終了。ライブが無ければ no-op（204相当だが一律200で返す）。
func (s *Service) EndSession(ctx context.Context, professorID, classID string) (*SessionResponse, error) {
	cls, ok := s.store.ClassByID(classID)
	if !ok {
		return nil, ErrNotFound("class not found")
	}
	if cls.OwnerID != professorID {
		return nil, ErrForbidden("not the owner of this class")
	}
	ended := s.store.EndSession(ctx, classID, s.clock.Now())
	if ended == nil {
		return nil, nil
	}
	dto := ended.toDTO()
	return &dto, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (SessionResponse, error) {
	sess, ok := s.store.SessionByID(sessionID)
	if !ok {
		return SessionResponse{}, ErrNotFound("session not found")
	}
	return sess.toDTO(), nil
}

// CurrentToken: 掲示用QRの中身。ローテーション窓が変わるまで同じ文字列が返る。
func (s *Service) CurrentToken(ctx context.Context, professorID, sessionID string) (TokenResponse, error) {
	sess, ok := s.store.SessionByID(sessionID)
	if !ok {
		return TokenResponse{}, ErrNotFound("session not found")
	}
	cls, ok := s.store.ClassByID(sess.ClassID)
	if !ok {
		return TokenResponse{}, ErrInternal("session references unknown class")
	}
	if cls.OwnerID != professorID {
		return TokenResponse{}, ErrForbidden("not the owner of this class")
	}
	if !sess.Live() {
		return TokenResponse{}, ErrConflict("session already ended")
	}
	raw, err := s.issuer.Encode(sess, cls)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{Token: raw, RotationWindowSeconds: sess.RotationWindowSec}, nil
}

// newSeed: セッションの一意性ソルト（秘匿強度は要らない）
func newSeed() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
