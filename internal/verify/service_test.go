package verify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AVES-backend/internal/ledger"
	"AVES-backend/internal/session"
	"AVES-backend/internal/token"
)

var testSecret = []byte("unit-test-secret")

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqID struct{ n int }

func (g *seqID) New() (string, error) {
	g.n++
	return fmt.Sprintf("rec-%03d", g.n), nil
}

// シナリオ共通: クラスは (0,0)・半径30m、セッションは t0 開始・窓90秒・遅刻閾値10分
var t0 = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

func basePayload(at time.Time) token.Payload {
	return token.Payload{
		SessionID:         "sess-1",
		ClassID:           "class-1",
		Bucket:            token.Bucket(at, 90),
		RotationWindowSec: 90,
		LateThresholdMin:  10,
		SessionStartUnix:  t0.Unix(),
		Seed:              "cafe000011112222",
		ClassName:         "分散システム",
		Section:           "B",
		Semester:          "2026前期",
		Room:              "S1-201",
		GeofenceRadiusM:   30,
		Latitude:          0,
		Longitude:         0,
	}
}

// テストは検証エンジンに食わせるトークンを直接署名して作る（バケットを自由に選ぶため）
func signPayload(t *testing.T, p token.Payload) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, p).SignedString(testSecret)
	require.NoError(t, err)
	return raw
}

func newTestEngine(now time.Time) (*Service, *session.Store, *ledger.Store) {
	store := session.NewStore(nil)
	ldg := ledger.NewStore(nil)
	svc := NewService(token.NewCodec(testSecret), store, ldg)
	svc.clock = fixedClock{t: now}
	svc.id = &seqID{}
	return svc, store, ldg
}

func ptr(v float64) *float64 { return &v }

func scanAt(t *testing.T, svc *Service, at time.Time, studentID string, lat, lng *float64) ScanResponse {
	t.Helper()
	raw := signPayload(t, basePayload(at))
	res, err := svc.VerifyScan(context.Background(), ScanRequest{
		Token:     raw,
		StudentID: studentID,
		Latitude:  lat,
		Longitude: lng,
	})
	require.NoError(t, err)
	return res
}

func TestScanSuccessOnTime(t *testing.T) {
	now := t0.Add(10 * time.Second)
	svc, store, ldg := newTestEngine(now)

	res := scanAt(t, svc, now, "stu-1", ptr(0), ptr(0))
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, ledger.StatusOnTime, res.Status)
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.LocationVerified)

	// トークン由来のクラス・セッションがマージされ、学生が登録されている
	cls, ok := store.ClassByID("class-1")
	require.True(t, ok)
	assert.Equal(t, "分散システム", cls.Name)
	sess, ok := store.SessionByID("sess-1")
	require.True(t, ok)
	assert.True(t, sess.Live())
	assert.Equal(t, []string{"stu-1"}, store.StudentsOf("class-1"))

	assert.Equal(t, 1, ldg.CountFor("sess-1"))
	assert.Equal(t, 1, ldg.SummaryFor("stu-1").OnTime)
}

func TestScanInvalidToken(t *testing.T) {
	svc, store, _ := newTestEngine(t0)
	res, err := svc.VerifyScan(context.Background(), ScanRequest{
		Token: "garbage.token.here", StudentID: "stu-1", Latitude: ptr(0), Longitude: ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
	_, ok := store.ClassByID("class-1")
	assert.False(t, ok, "invalid は状態を汚さない")
}

func TestScanMissingStudentID(t *testing.T) {
	svc, _, _ := newTestEngine(t0)
	_, err := svc.VerifyScan(context.Background(), ScanRequest{Token: "x"})
	assert.Error(t, err)
}

func TestScanExpiredBucket(t *testing.T) {
	// トークンは t0 のバケット、時計は t0+400s（バケット差 > 1）
	now := t0.Add(400 * time.Second)
	svc, store, ldg := newTestEngine(now)

	raw := signPayload(t, basePayload(t0))
	res, err := svc.VerifyScan(context.Background(), ScanRequest{
		Token: raw, StudentID: "stu-1", Latitude: ptr(0), Longitude: ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, res.Outcome)

	// 位置情報があっても関係なく expired、かつ無変化
	_, ok := store.SessionByID("sess-1")
	assert.False(t, ok)
	assert.Equal(t, 0, ldg.CountFor("sess-1"))
}

// ±1バケットはローテーション境界の時計ずれ許容分
func TestScanBucketTolerance(t *testing.T) {
	now := t0.Add(100 * time.Second)
	svc, _, _ := newTestEngine(now)

	// 1つ前のバケットのトークン
	p := basePayload(now)
	p.Bucket--
	res, err := svc.VerifyScan(context.Background(), ScanRequest{
		Token: signPayload(t, p), StudentID: "stu-1", Latitude: ptr(0), Longitude: ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	// 1つ先（発行側の時計が進んでいる）も許容
	p2 := basePayload(now)
	p2.Bucket++
	res2, err := svc.VerifyScan(context.Background(), ScanRequest{
		Token: signPayload(t, p2), StudentID: "stu-2", Latitude: ptr(0), Longitude: ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res2.Outcome)

	// 差が2になれば圏外
	p3 := basePayload(now)
	p3.Bucket -= 2
	res3, err := svc.VerifyScan(context.Background(), ScanRequest{
		Token: signPayload(t, p3), StudentID: "stu-3", Latitude: ptr(0), Longitude: ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, res3.Outcome)
}

func TestScanNoLocation(t *testing.T) {
	now := t0.Add(10 * time.Second)
	svc, store, _ := newTestEngine(now)

	// 位置情報なし＝権限拒否・タイムアウトも同じ扱いで outside_geofence
	res := scanAt(t, svc, now, "stu-1", nil, nil)
	assert.Equal(t, OutcomeOutsideGeofence, res.Outcome)

	res = scanAt(t, svc, now, "stu-1", ptr(0), nil)
	assert.Equal(t, OutcomeOutsideGeofence, res.Outcome)

	_, ok := store.SessionByID("sess-1")
	assert.False(t, ok, "geofence拒否は状態を汚さない")
}

func TestScanOutsideGeofence(t *testing.T) {
	now := t0.Add(10 * time.Second)
	svc, _, ldg := newTestEngine(now)

	// 約50m北 → 半径30mの外
	res := scanAt(t, svc, now, "stu-1", ptr(0.00045), ptr(0))
	assert.Equal(t, OutcomeOutsideGeofence, res.Outcome)
	assert.Equal(t, 0, ldg.CountFor("sess-1"))

	// 約29m北 → 圏内
	res = scanAt(t, svc, now, "stu-1", ptr(0.00026), ptr(0))
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

// 再スキャンは記録を複製せず、カウンタも動かさない
func TestScanRepeatIsIdempotent(t *testing.T) {
	now := t0.Add(10 * time.Second)
	svc, _, ldg := newTestEngine(now)

	first := scanAt(t, svc, now, "stu-1", ptr(0), ptr(0))
	require.Equal(t, OutcomeSuccess, first.Outcome)

	second := scanAt(t, svc, now, "stu-1", ptr(0), ptr(0))
	assert.Equal(t, OutcomeAlreadyCheckedIn, second.Outcome)
	assert.Nil(t, second.Record)

	assert.Equal(t, 1, ldg.CountFor("sess-1"))
	sum := ldg.SummaryFor("stu-1")
	assert.Equal(t, 1, sum.OnTime)
	assert.Equal(t, 0, sum.Late)
}

// 閾値ちょうどは on_time、1秒超過で late
func TestLateBoundary(t *testing.T) {
	exact := t0.Add(600 * time.Second) // 10分ちょうど
	svc, _, _ := newTestEngine(exact)
	res := scanAt(t, svc, exact, "stu-1", ptr(0), ptr(0))
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, ledger.StatusOnTime, res.Status)

	over := t0.Add(601 * time.Second)
	svc2, _, _ := newTestEngine(over)
	res2 := scanAt(t, svc2, over, "stu-2", ptr(0), ptr(0))
	assert.Equal(t, OutcomeSuccess, res2.Outcome)
	assert.Equal(t, ledger.StatusLate, res2.Status)
}

// 終了＝ロック後は時間・場所が有効でも locked しか返らない
func TestScanLockedAfterEnd(t *testing.T) {
	now := t0.Add(30 * time.Second)
	svc, store, _ := newTestEngine(now)

	// 所有側の状態を作ってから終了する
	p := basePayload(now)
	store.UpsertFromPayload(context.Background(), p.ToClass(), p.ToSession())
	store.EndSession(context.Background(), "class-1", t0.Add(20*time.Second))

	res := scanAt(t, svc, now, "stu-1", ptr(0), ptr(0))
	assert.Equal(t, OutcomeLocked, res.Outcome)

	// 何度やっても success には戻らない
	res = scanAt(t, svc, now, "stu-2", ptr(0), ptr(0))
	assert.Equal(t, OutcomeLocked, res.Outcome)
}

// 終了済みだが未ロック（他端末から来た過去セッション）は expired
func TestScanEndedButUnlocked(t *testing.T) {
	now := t0.Add(30 * time.Second)
	svc, store, _ := newTestEngine(now)

	p := basePayload(now)
	sess := p.ToSession()
	endedAt := t0.Add(20 * time.Second)
	sess.EndedAt = &endedAt
	store.UpsertFromPayload(context.Background(), p.ToClass(), sess)

	res := scanAt(t, svc, now, "stu-1", ptr(0), ptr(0))
	assert.Equal(t, OutcomeExpired, res.Outcome)
}

func TestMarkAbsentees(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(10 * time.Second)
	svc, store, ldg := newTestEngine(now)

	// クラスに所有者を立てる（UpsertFromPayload由来だと所有者が空になるため）
	p := basePayload(now)
	cls := p.ToClass()
	cls.OwnerID = "prof-1"
	store.PutClass(ctx, cls)
	store.UpsertFromPayload(ctx, cls, p.ToSession())

	// stu-1 はスキャン済み、stu-2 は登録のみ
	res := scanAt(t, svc, now, "stu-1", ptr(0), ptr(0))
	require.Equal(t, OutcomeSuccess, res.Outcome)
	store.Enroll(ctx, "class-1", "stu-2")

	// ライブ中は確定できない
	_, err := svc.MarkAbsentees(ctx, "prof-1", "sess-1")
	assert.Error(t, err)

	store.EndSession(ctx, "class-1", now.Add(time.Hour))

	// 所有者以外は拒否
	_, err = svc.MarkAbsentees(ctx, "prof-2", "sess-1")
	assert.Error(t, err)

	n, err := svc.MarkAbsentees(ctx, "prof-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, ldg.SummaryFor("stu-2").Absent)
	assert.Equal(t, 2, ldg.CountFor("sess-1"))

	// 冪等
	n, err = svc.MarkAbsentees(ctx, "prof-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// 仕様書き起こしのシナリオ一式
func TestFullScenario(t *testing.T) {
	now := t0.Add(10 * time.Second)
	svc, _, ldg := newTestEngine(now)

	// t=10s, 現地 (0,0) → success / on_time
	res := scanAt(t, svc, now, "stu-1", ptr(0), ptr(0))
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, ledger.StatusOnTime, res.Status)

	// t=400s のトークン差 → expired
	svcLate, _, _ := newTestEngine(t0.Add(400 * time.Second))
	raw := signPayload(t, basePayload(t0))
	resExp, err := svcLate.VerifyScan(context.Background(), ScanRequest{
		Token: raw, StudentID: "stu-9", Latitude: ptr(0), Longitude: ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, resExp.Outcome)

	// 50m離れた場所 → outside_geofence
	resGeo := scanAt(t, svc, now, "stu-2", ptr(0.00045), ptr(0))
	assert.Equal(t, OutcomeOutsideGeofence, resGeo.Outcome)

	// 最初の成功スキャンをもう一度 → already_checked_in でカウンタ不変
	before := ldg.SummaryFor("stu-1")
	resRep := scanAt(t, svc, now, "stu-1", ptr(0), ptr(0))
	assert.Equal(t, OutcomeAlreadyCheckedIn, resRep.Outcome)
	assert.Equal(t, before, ldg.SummaryFor("stu-1"))
}
