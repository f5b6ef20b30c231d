package verify

import "AVES-backend/internal/ledger"

// スキャン結果の閉じた列挙。敵対的・期限切れスキャンも通常の入力なので、
// これらは常に「結果」であってエラーではない。
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeAlreadyCheckedIn Outcome = "already_checked_in"
	OutcomeExpired          Outcome = "expired"
	OutcomeLocked           Outcome = "locked"
	OutcomeOutsideGeofence  Outcome = "outside_geofence"
	OutcomeInvalid          Outcome = "invalid"
)

type ScanRequest struct {
	// QRデコーダ（または手入力）から来る不透明文字列をそのまま渡す
	Token     string   `json:"token" binding:"required"`
	StudentID string   `json:"student_id" binding:"required"`
	// 位置情報。取得失敗・権限拒否なら両方 null で送る
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type ScanResponse struct {
	Outcome   Outcome                `json:"outcome"`
	SessionID string                 `json:"session_id,omitempty"`
	ClassID   string                 `json:"class_id,omitempty"`
	ClassName string                 `json:"class_name,omitempty"`
	Status    ledger.Status          `json:"status,omitempty"`
	Record    *ledger.RecordResponse `json:"record,omitempty"`
}
