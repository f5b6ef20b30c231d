package session

import "time"

// クラス（開講区分）。作成した教授が所有し、ID以外は所有者のみ変更可。
// プロセス生存中は削除されない。
type ClassSection struct {
	ID              string
	OwnerID         string
	Name            string
	Section         string
	Semester        string
	Room            string
	MeetingDays     []string
	GeofenceRadiusM float64
	RiskScore       float64
	Latitude        float64
	Longitude       float64
	CreatedAt       time.Time
}

// 出席セッション。EndedAt == nil の間だけ「ライブ」。
// 1クラスにつきライブは常に高々1件（Store が保証する）。
type Session struct {
	ID                string
	ClassID           string
	StartedAt         time.Time
	EndedAt           *time.Time
	Seed              string
	LateThresholdMin  int
	RotationWindowSec int
	Locked            bool
}

func (s Session) Live() bool { return s.EndedAt == nil }
