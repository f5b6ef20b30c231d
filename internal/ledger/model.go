package ledger

import "time"

type Status string

const (
	StatusOnTime Status = "on_time"
	StatusLate   Status = "late"
	StatusAbsent Status = "absent"
)

// 出席記録。検証エンジンだけが作成し、以後変更も削除もされない。
// (SessionID, StudentID) の組につき高々1件（Store が保証する）。
type AttendanceRecord struct {
	ID               string
	SessionID        string
	StudentID        string
	Status           Status
	Timestamp        time.Time
	LocationVerified bool
}

// 学生ごとの累計カウンタ。新規記録1件につきちょうど1回だけ加算される。
type Summary struct {
	StudentID string `json:"student_id"`
	OnTime    int    `json:"on_time"`
	Late      int    `json:"late"`
	Absent    int    `json:"absent"`
}

// Percentage: on-time / 合計。記録が無いうちは100。
func (s Summary) Percentage() float64 {
	total := s.OnTime + s.Late + s.Absent
	if total == 0 {
		return 100
	}
	return float64(s.OnTime) / float64(total) * 100
}
