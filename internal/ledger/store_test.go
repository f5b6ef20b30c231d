package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
}

func newMemPersister() *memPersister {
	return &memPersister{data: make(map[string]json.RawMessage)}
}

func (m *memPersister) Save(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = body
	m.mu.Unlock()
	return nil
}

func (m *memPersister) LoadPrefix(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out := make(map[string]json.RawMessage)
	m.mu.Lock()
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	m.mu.Unlock()
	return out, nil
}

func rec(id, sessionID, studentID string, status Status, at time.Time) AttendanceRecord {
	return AttendanceRecord{
		ID:               id,
		SessionID:        sessionID,
		StudentID:        studentID,
		Status:           status,
		Timestamp:        at,
		LocationVerified: status != StatusAbsent,
	}
}

func TestAppendUpdatesExactlyOneCounter(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	base := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, rec("r1", "s1", "stu-1", StatusOnTime, base)))
	require.NoError(t, s.Append(ctx, rec("r2", "s2", "stu-1", StatusLate, base.Add(time.Hour))))
	require.NoError(t, s.Append(ctx, rec("r3", "s3", "stu-1", StatusAbsent, base.Add(2*time.Hour))))

	sum := s.SummaryFor("stu-1")
	assert.Equal(t, 1, sum.OnTime)
	assert.Equal(t, 1, sum.Late)
	assert.Equal(t, 1, sum.Absent)
}

func TestAppendRejectsDuplicatePair(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	base := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, rec("r1", "s1", "stu-1", StatusOnTime, base)))
	err := s.Append(ctx, rec("r2", "s1", "stu-1", StatusLate, base.Add(time.Minute)))
	assert.ErrorIs(t, err, ErrDuplicate)

	// 重複はカウンタも増やさない
	sum := s.SummaryFor("stu-1")
	assert.Equal(t, 1, sum.OnTime)
	assert.Equal(t, 0, sum.Late)
	assert.True(t, s.HasRecord("s1", "stu-1"))
	assert.False(t, s.HasRecord("s1", "stu-2"))
}

func TestRecordsForNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	base := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, rec("r1", "s1", "stu-1", StatusOnTime, base)))
	require.NoError(t, s.Append(ctx, rec("r2", "s2", "stu-1", StatusLate, base.Add(2*time.Hour))))
	require.NoError(t, s.Append(ctx, rec("r3", "s3", "stu-1", StatusOnTime, base.Add(time.Hour))))
	require.NoError(t, s.Append(ctx, rec("r4", "s1", "stu-2", StatusOnTime, base)))

	got := s.RecordsFor("stu-1")
	require.Len(t, got, 3)
	assert.Equal(t, "r2", got[0].ID)
	assert.Equal(t, "r3", got[1].ID)
	assert.Equal(t, "r1", got[2].ID)
}

func TestCountFor(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	base := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, s.CountFor("s1"))
	require.NoError(t, s.Append(ctx, rec("r1", "s1", "stu-1", StatusOnTime, base)))
	require.NoError(t, s.Append(ctx, rec("r2", "s1", "stu-2", StatusLate, base)))
	require.NoError(t, s.Append(ctx, rec("r3", "s2", "stu-1", StatusOnTime, base)))
	assert.Equal(t, 2, s.CountFor("s1"))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 100.0, Summary{}.Percentage()) // 記録ゼロは100
	assert.InDelta(t, 50.0, Summary{OnTime: 1, Late: 1}.Percentage(), 1e-9)
	assert.InDelta(t, 25.0, Summary{OnTime: 1, Late: 2, Absent: 1}.Percentage(), 1e-9)
	assert.Equal(t, 0.0, Summary{Absent: 3}.Percentage())
}

func TestRestoreFromSnapshots(t *testing.T) {
	ctx := context.Background()
	mem := newMemPersister()
	base := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	s1 := NewStore(mem)
	require.NoError(t, s1.Append(ctx, rec("r1", "s1", "stu-1", StatusOnTime, base)))
	require.NoError(t, s1.Append(ctx, rec("r2", "s1", "stu-2", StatusLate, base.Add(time.Minute))))

	s2 := NewStore(mem)
	require.NoError(t, s2.Restore(ctx))

	assert.True(t, s2.HasRecord("s1", "stu-1"))
	assert.Equal(t, 2, s2.CountFor("s1"))
	sum := s2.SummaryFor("stu-2")
	assert.Equal(t, 1, sum.Late)

	// 復元後も重複は弾く
	err := s2.Append(ctx, rec("r9", "s1", "stu-1", StatusOnTime, base))
	assert.ErrorIs(t, err, ErrDuplicate)
}
