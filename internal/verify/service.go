package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"AVES-backend/internal/ledger"
	"AVES-backend/internal/session"
	"AVES-backend/internal/token"
)

// ===== Error model (session と同型) =====
// スキャンの結果は Outcome で返す。APIError はリクエスト自体が不正な場合のみ。
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
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
func ErrForbidden(msg string) *APIError { return &APIError{Code: CodeForbidden, Message: msg} }

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

type Decoder interface {
	Decode(raw string) (token.Payload, error)
}

// ===== Service本体 =====

// 検証エンジン。トークン＋位置情報を出席可否の判定に変換し、
// 成功時だけ台帳と受講登録を更新する。
type Service struct {
	codec  Decoder
	store  *session.Store
	ledger *ledger.Store
	clock  Clock
	id     IDGen
}

func NewService(codec Decoder, store *session.Store, ldg *ledger.Store) *Service {
	return &Service{
		codec:  codec,
		store:  store,
		ledger: ldg,
		clock:  realClock{},
		id:     ulidGen{},
	}
}

// VerifyScan: 判定は以下の順で行い、最初に該当した結果を返す。
//  1. デコード失敗            → invalid
//  2. バケット差が1超         → expired
//  3. 位置情報なし            → outside_geofence（権限拒否と遠すぎの区別は端末側でもつかない）
//  4. ジオフェンス外          → outside_geofence
//  5. クラス・セッションのマージと受講登録（ここまでは一切ミューテーションしない）
//  6. ロック済み              → locked
//  7. 終了済み                → expired
//  8. 既に記録あり            → already_checked_in
//  9. 記録を追加              → success（経過が閾値超なら late、以内なら on_time）
func (s *Service) VerifyScan(ctx context.Context, req ScanRequest) (ScanResponse, error) {
	if req.StudentID == "" {
		return ScanResponse{}, ErrInvalid("student_id is required")
	}

	// 1. デコード
	p, err := s.codec.Decode(req.Token)
	if err != nil {
		return ScanResponse{Outcome: OutcomeInvalid}, nil
	}

	res := ScanResponse{
		SessionID: p.SessionID,
		ClassID:   p.ClassID,
		ClassName: p.ClassName,
	}
	now := s.clock.Now()

	// 2. 鮮度（±1バケットはローテーション境界またぎの時計ずれ・処理遅延の吸収分）
	nowBucket := token.Bucket(now, p.RotationWindowSec)
	if diff := nowBucket - p.Bucket; diff > 1 || diff < -1 {
		res.Outcome = OutcomeExpired
		return res, nil
	}

	// 3. 位置情報なし
	if req.Latitude == nil || req.Longitude == nil {
		res.Outcome = OutcomeOutsideGeofence
		return res, nil
	}

	// 4. ジオフェンス（半径ちょうどは圏内）
	dist := haversineMeters(*req.Latitude, *req.Longitude, p.Latitude, p.Longitude)
	if dist > p.GeofenceRadiusM {
		res.Outcome = OutcomeOutsideGeofence
		return res, nil
	}

	// 5. ここから先だけが状態を触る。拒否されたスキャンはストアも台帳も汚さない。
	s.store.UpsertFromPayload(ctx, p.ToClass(), p.ToSession())
	s.store.Enroll(ctx, p.ClassID, req.StudentID)

	sess, ok := s.store.SessionByID(p.SessionID)
	if !ok {
		// upsert直後に消えることはない
		return ScanResponse{}, fmt.Errorf("session %s vanished after upsert", p.SessionID)
	}

	// 6. ロック
	if sess.Locked {
		res.Outcome = OutcomeLocked
		return res, nil
	}
	// 7. 終了済み
	if sess.EndedAt != nil {
		res.Outcome = OutcomeExpired
		return res, nil
	}
	// 8. 再スキャンは冪等（記録は増やさず区別した結果だけ返す）
	if s.ledger.HasRecord(p.SessionID, req.StudentID) {
		res.Outcome = OutcomeAlreadyCheckedIn
		return res, nil
	}

	// 9. 遅刻判定は「閾値ちょうどまでは on_time、1秒でも超えたら late」
	status := ledger.StatusOnTime
	elapsed := now.Unix() - sess.StartedAt.Unix()
	if elapsed > int64(sess.LateThresholdMin)*60 {
		status = ledger.StatusLate
	}

	recID, err := s.id.New()
	if err != nil {
		return ScanResponse{}, err
	}
	rec := ledger.AttendanceRecord{
		ID:               recID,
		SessionID:        p.SessionID,
		StudentID:        req.StudentID,
		Status:           status,
		Timestamp:        now.UTC(),
		LocationVerified: true,
	}
	if err := s.ledger.Append(ctx, rec); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			res.Outcome = OutcomeAlreadyCheckedIn
			return res, nil
		}
		return ScanResponse{}, err
	}

	res.Outcome = OutcomeSuccess
	res.Status = status
	res.Record = &ledger.RecordResponse{
		RecordID:         rec.ID,
		SessionID:        rec.SessionID,
		StudentID:        rec.StudentID,
		Status:           rec.Status,
		Timestamp:        rec.Timestamp,
		LocationVerified: rec.LocationVerified,
	}
	return res, nil
}

// MarkAbsentees: セッション終了後、受講登録済みで記録が無い学生を absent で確定する。
// 冪等（2回目以降は追加ゼロ）。
func (s *Service) MarkAbsentees(ctx context.Context, professorID, sessionID string) (int, error) {
	sess, ok := s.store.SessionByID(sessionID)
	if !ok {
		return 0, ErrNotFound("session not found")
	}
	cls, ok := s.store.ClassByID(sess.ClassID)
	if !ok {
		return 0, ErrNotFound("class not found")
	}
	if cls.OwnerID != professorID {
		return 0, ErrForbidden("not the owner of this class")
	}
	if sess.EndedAt == nil {
		return 0, ErrInvalid("session is still live")
	}

	marked := 0
	for _, studentID := range s.store.StudentsOf(sess.ClassID) {
		if s.ledger.HasRecord(sessionID, studentID) {
			continue
		}
		recID, err := s.id.New()
		if err != nil {
			return marked, err
		}
		rec := ledger.AttendanceRecord{
			ID:               recID,
			SessionID:        sessionID,
			StudentID:        studentID,
			Status:           ledger.StatusAbsent,
			Timestamp:        s.clock.Now().UTC(),
			LocationVerified: false,
		}
		if err := s.ledger.Append(ctx, rec); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				continue
			}
			return marked, err
		}
		marked++
	}
	return marked, nil
}
