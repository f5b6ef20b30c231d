package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"AVES-backend/internal/session"
)

// スキャントークンのコーデック。
// (セッション, クラス) のスナップショットを丸ごと claims に積んだ HS256 JWT を発行する。
// iat/exp は入れない: トークンは (セッション, クラス, バケット) の純関数で、
// ローテーション窓ごとにちょうど1回だけ変わる。
// 鮮度判定は exp ではなくバケット（floor(unix秒 / 窓秒)）±1 で行う。

// パース・署名検証の失敗はすべてこれに包んで返す（panicしない）
var ErrMalformed = errors.New("malformed token")

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// トークンに埋めるスナップショット。
// 受信側はこれだけでクラス・セッションを知らなくても参加・検証できる。
type Payload struct {
	SessionID         string   `json:"sid"`
	ClassID           string   `json:"cid"`
	Bucket            int64    `json:"bkt"`
	RotationWindowSec int      `json:"rot"`
	LateThresholdMin  int      `json:"late"`
	SessionStartUnix  int64    `json:"sst"`
	Seed              string   `json:"seed"`
	ClassName         string   `json:"cname"`
	Section           string   `json:"csec"`
	Semester          string   `json:"csem"`
	Room              string   `json:"croom"`
	MeetingDays       []string `json:"cdays,omitempty"`
	GeofenceRadiusM   float64  `json:"crad"`
	RiskScore         float64  `json:"crisk"`
	Latitude          float64  `json:"clat"`
	Longitude         float64  `json:"clng"`
	jwt.RegisteredClaims
}

// ToClass: 受信側 upsert 用にクラスを復元する
func (p Payload) ToClass() session.ClassSection {
	return session.ClassSection{
		ID:              p.ClassID,
		Name:            p.ClassName,
		Section:         p.Section,
		Semester:        p.Semester,
		Room:            p.Room,
		MeetingDays:     p.MeetingDays,
		GeofenceRadiusM: p.GeofenceRadiusM,
		RiskScore:       p.RiskScore,
		Latitude:        p.Latitude,
		Longitude:       p.Longitude,
	}
}

// ToSession: 受信側 upsert 用にセッションを復元する（未ロック・ライブ状態として）
func (p Payload) ToSession() session.Session {
	return session.Session{
		ID:                p.SessionID,
		ClassID:           p.ClassID,
		StartedAt:         time.Unix(p.SessionStartUnix, 0).UTC(),
		Seed:              p.Seed,
		LateThresholdMin:  p.LateThresholdMin,
		RotationWindowSec: p.RotationWindowSec,
	}
}

// Bucket: floor(unix秒 / 窓秒)
func Bucket(t time.Time, rotationWindowSec int) int64 {
	return t.Unix() / int64(rotationWindowSec)
}

type Codec struct {
	secret []byte
	clock  Clock
}

func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret, clock: realClock{}}
}

// Encode: 現在のバケットに束縛したトークンを発行する。副作用なし。
func (c *Codec) Encode(sess session.Session, cls session.ClassSection) (string, error) {
	if sess.RotationWindowSec <= 0 {
		return "", fmt.Errorf("rotation window must be positive, got %d", sess.RotationWindowSec)
	}
	p := Payload{
		SessionID:         sess.ID,
		ClassID:           cls.ID,
		Bucket:            Bucket(c.clock.Now(), sess.RotationWindowSec),
		RotationWindowSec: sess.RotationWindowSec,
		LateThresholdMin:  sess.LateThresholdMin,
		SessionStartUnix:  sess.StartedAt.Unix(),
		Seed:              sess.Seed,
		ClassName:         cls.Name,
		Section:           cls.Section,
		Semester:          cls.Semester,
		Room:              cls.Room,
		MeetingDays:       cls.MeetingDays,
		GeofenceRadiusM:   cls.GeofenceRadiusM,
		RiskScore:         cls.RiskScore,
		Latitude:          cls.Latitude,
		Longitude:         cls.Longitude,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, p).SignedString(c.secret)
}

// Decode: 攻撃者制御・途中切断入力でも panic せず、失敗は全部 ErrMalformed 系で返す
func (c *Codec) Decode(raw string) (Payload, error) {
	var p Payload
	tok, err := jwt.ParseWithClaims(raw, &p, func(t *jwt.Token) (any, error) {
		// alg 固定（none攻撃とか回避）
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || tok == nil || !tok.Valid {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.SessionID == "" || p.ClassID == "" {
		return Payload{}, fmt.Errorf("%w: missing session/class id", ErrMalformed)
	}
	if p.RotationWindowSec <= 0 {
		return Payload{}, fmt.Errorf("%w: non-positive rotation window", ErrMalformed)
	}
	return p, nil
}
