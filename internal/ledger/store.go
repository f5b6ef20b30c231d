package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
)

// 追記専用の台帳。削除・更新のAPIは持たない（訂正は別種の記録で行う設計で、ここでは対象外）。

var ErrDuplicate = errors.New("record already exists for (session, student)")

// 永続化コラボレータ（platform/snapshot が実体）。nil なら永続化なし。
type Persister interface {
	Save(ctx context.Context, key string, v any) error
	LoadPrefix(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
}

type Store struct {
	mu        sync.Mutex
	records   []AttendanceRecord
	byPair    map[string]struct{} // sessionID+"/"+studentID
	summaries map[string]Summary  // studentID -> Summary
	snaps     Persister
}

func NewStore(snaps Persister) *Store {
	return &Store{
		byPair:    make(map[string]struct{}),
		summaries: make(map[string]Summary),
		snaps:     snaps,
	}
}

func pairKey(sessionID, studentID string) string { return sessionID + "/" + studentID }

func (s *Store) persist(ctx context.Context, key string, v any) {
	if s.snaps == nil {
		return
	}
	if err := s.snaps.Save(ctx, key, v); err != nil {
		log.Printf("[WARN] snapshot save failed (%s): %v", key, err)
	}
}

// Append: 記録を追加し、該当学生のカウンタを1つだけ加算する。
// 同じ (session, student) の2件目は ErrDuplicate（冪等判定は呼び出し側が HasRecord で先に行う）。
func (s *Store) Append(ctx context.Context, rec AttendanceRecord) error {
	s.mu.Lock()
	key := pairKey(rec.SessionID, rec.StudentID)
	if _, dup := s.byPair[key]; dup {
		s.mu.Unlock()
		return ErrDuplicate
	}
	s.byPair[key] = struct{}{}
	s.records = append(s.records, rec)

	sum := s.summaries[rec.StudentID]
	sum.StudentID = rec.StudentID
	switch rec.Status {
	case StatusLate:
		sum.Late++
	case StatusAbsent:
		sum.Absent++
	default:
		sum.OnTime++
	}
	s.summaries[rec.StudentID] = sum
	s.mu.Unlock()

	s.persist(ctx, "record/"+rec.ID, rec)
	s.persist(ctx, "summary/"+rec.StudentID, sum)
	return nil
}

func (s *Store) HasRecord(sessionID, studentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byPair[pairKey(sessionID, studentID)]
	return ok
}

// RecordsFor: 履歴表示用に新しい順
func (s *Store) RecordsFor(studentID string) []AttendanceRecord {
	s.mu.Lock()
	var out []AttendanceRecord
	for _, r := range s.records {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// CountFor: ライブの出席人数表示用
func (s *Store) CountFor(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (s *Store) SummaryFor(studentID string) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[studentID]
	if !ok {
		return Summary{StudentID: studentID}
	}
	return sum
}

// Records: エクスポート用に古い順の全件コピー
func (s *Store) Records() []AttendanceRecord {
	s.mu.Lock()
	out := make([]AttendanceRecord, len(s.records))
	copy(out, s.records)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Restore: 再起動時にスナップショットから読み戻す
func (s *Store) Restore(ctx context.Context) error {
	if s.snaps == nil {
		return nil
	}
	records, err := s.snaps.LoadPrefix(ctx, "record/")
	if err != nil {
		return err
	}
	summaries, err := s.snaps.LoadPrefix(ctx, "summary/")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, body := range records {
		var r AttendanceRecord
		if err := json.Unmarshal(body, &r); err != nil {
			log.Printf("[WARN] skipping broken snapshot %s: %v", k, err)
			continue
		}
		key := pairKey(r.SessionID, r.StudentID)
		if _, dup := s.byPair[key]; dup {
			continue
		}
		s.byPair[key] = struct{}{}
		s.records = append(s.records, r)
	}
	for k, body := range summaries {
		var sum Summary
		if err := json.Unmarshal(body, &sum); err != nil {
			log.Printf("[WARN] skipping broken snapshot %s: %v", k, err)
			continue
		}
		s.summaries[sum.StudentID] = sum
	}
	return nil
}
