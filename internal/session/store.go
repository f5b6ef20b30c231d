package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"
)

// 端末内の正本（オーソリティ）となる状態。
// クラス・セッション・受講登録は全部ここを経由して更新する。
// UI契機の呼び出しを直列化するため1本のMutexで守る（マルチライター前提ではない）。

var (
	ErrClassNotFound   = errors.New("class not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyLive     = errors.New("class already has a live session")
)

// 永続化コラボレータ（platform/snapshot が実体）。nil なら永続化なしで動く。
type Persister interface {
	Save(ctx context.Context, key string, v any) error
	LoadPrefix(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
}

// 変更通知。ビュー層が購読する想定で、コアのロジックからは参照しない。
type Event struct {
	Kind      string // "class" | "session" | "enroll"
	ClassID   string
	SessionID string
}

type Store struct {
	mu       sync.Mutex
	classes  map[string]ClassSection
	sessions map[string]Session
	enrolled map[string]map[string]struct{} // classID -> studentID の集合
	subs     []func(Event)
	snaps    Persister
}

func NewStore(snaps Persister) *Store {
	return &Store{
		classes:  make(map[string]ClassSection),
		sessions: make(map[string]Session),
		enrolled: make(map[string]map[string]struct{}),
		snaps:    snaps,
	}
}

// Subscribe: 変更イベントの購読。コールバックはロック外で呼ばれる。
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Store) notify(ev Event) {
	s.mu.Lock()
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// persist: スナップショット保存。失敗してもスキャン結果には波及させない（ログのみ）
func (s *Store) persist(ctx context.Context, key string, v any) {
	if s.snaps == nil {
		return
	}
	if err := s.snaps.Save(ctx, key, v); err != nil {
		log.Printf("[WARN] snapshot save failed (%s): %v", key, err)
	}
}

// ===== クラス =====

func (s *Store) PutClass(ctx context.Context, cls ClassSection) {
	s.mu.Lock()
	s.classes[cls.ID] = cls
	s.mu.Unlock()
	s.persist(ctx, "class/"+cls.ID, cls)
	s.notify(Event{Kind: "class", ClassID: cls.ID})
}

func (s *Store) ClassByID(id string) (ClassSection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[id]
	return c, ok
}

// Classes: ID昇順（ULIDなので実質作成順）
func (s *Store) Classes() []ClassSection {
	s.mu.Lock()
	out := make([]ClassSection, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ===== セッション =====

// StartSession: ライブセッションが既にあれば ErrAlreadyLive。
// 判定と挿入は同一ロック内で行う（「ライブは1クラス1件」の構造的保証）。
func (s *Store) StartSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	if _, ok := s.classes[sess.ClassID]; !ok {
		s.mu.Unlock()
		return ErrClassNotFound
	}
	for _, v := range s.sessions {
		if v.ClassID == sess.ClassID && v.Live() {
			s.mu.Unlock()
			return ErrAlreadyLive
		}
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.persist(ctx, "session/"+sess.ID, sess)
	s.notify(Event{Kind: "session", ClassID: sess.ClassID, SessionID: sess.ID})
	return nil
}

// EndSession: ライブセッションが無ければ no-op（nilを返す）。
// あれば EndedAt をセットし locked=true。以後そのセッションは不変。
func (s *Store) EndSession(ctx context.Context, classID string, now time.Time) *Session {
	s.mu.Lock()
	var ended *Session
	for id, v := range s.sessions {
		if v.ClassID == classID && v.Live() {
			t := now.UTC()
			v.EndedAt = &t
			v.Locked = true
			s.sessions[id] = v
			ended = &v
			break
		}
	}
	s.mu.Unlock()
	if ended == nil {
		return nil
	}
	s.persist(ctx, "session/"+ended.ID, *ended)
	s.notify(Event{Kind: "session", ClassID: classID, SessionID: ended.ID})
	return ended
}

func (s *Store) SessionByID(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sessions[id]
	return v, ok
}

// ActiveSessionFor: クラスのライブセッション（無ければ false）
func (s *Store) ActiveSessionFor(classID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.sessions {
		if v.ClassID == classID && v.Live() {
			return v, true
		}
	}
	return Session{}, false
}

// ===== トークン由来のマージ =====

// UpsertFromPayload: スキャンした側がクラス・セッション未知のとき呼ぶ。
// クラスはIDで上書き、セッションは無い時だけ挿入（終了・ロックは所有端末だけが
// 行う操作なので、既存セッションは決して上書きしない）。同一入力に対して冪等。
// トークンに所有者情報は載らないため、既存クラスの所有者と作成時刻は失わない。
func (s *Store) UpsertFromPayload(ctx context.Context, cls ClassSection, sess Session) {
	s.mu.Lock()
	if prev, ok := s.classes[cls.ID]; ok {
		if cls.OwnerID == "" {
			cls.OwnerID = prev.OwnerID
		}
		if cls.CreatedAt.IsZero() {
			cls.CreatedAt = prev.CreatedAt
		}
	}
	s.classes[cls.ID] = cls
	_, sessionExists := s.sessions[sess.ID]
	if !sessionExists {
		s.sessions[sess.ID] = sess
	}
	s.mu.Unlock()
	s.persist(ctx, "class/"+cls.ID, cls)
	if !sessionExists {
		s.persist(ctx, "session/"+sess.ID, sess)
	}
	s.notify(Event{Kind: "session", ClassID: cls.ID, SessionID: sess.ID})
}

// ===== 受講登録 =====

// Enroll: 冪等な集合挿入。新規追加だったら true。
func (s *Store) Enroll(ctx context.Context, classID, studentID string) bool {
	s.mu.Lock()
	set, ok := s.enrolled[classID]
	if !ok {
		set = make(map[string]struct{})
		s.enrolled[classID] = set
	}
	_, exists := set[studentID]
	if !exists {
		set[studentID] = struct{}{}
	}
	students := make([]string, 0, len(set))
	for id := range set {
		students = append(students, id)
	}
	s.mu.Unlock()
	if !exists {
		sort.Strings(students)
		s.persist(ctx, "enroll/"+classID, students)
		s.notify(Event{Kind: "enroll", ClassID: classID})
	}
	return !exists
}

func (s *Store) StudentsOf(classID string) []string {
	s.mu.Lock()
	set := s.enrolled[classID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// ===== 復元 =====

// Restore: 再起動時にスナップショットから状態を読み戻す
func (s *Store) Restore(ctx context.Context) error {
	if s.snaps == nil {
		return nil
	}
	classes, err := s.snaps.LoadPrefix(ctx, "class/")
	if err != nil {
		return err
	}
	sessions, err := s.snaps.LoadPrefix(ctx, "session/")
	if err != nil {
		return err
	}
	enrolls, err := s.snaps.LoadPrefix(ctx, "enroll/")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, body := range classes {
		var c ClassSection
		if err := json.Unmarshal(body, &c); err != nil {
			log.Printf("[WARN] skipping broken snapshot %s: %v", k, err)
			continue
		}
		s.classes[c.ID] = c
	}
	for k, body := range sessions {
		var v Session
		if err := json.Unmarshal(body, &v); err != nil {
			log.Printf("[WARN] skipping broken snapshot %s: %v", k, err)
			continue
		}
		s.sessions[v.ID] = v
	}
	for k, body := range enrolls {
		var students []string
		if err := json.Unmarshal(body, &students); err != nil {
			log.Printf("[WARN] skipping broken snapshot %s: %v", k, err)
			continue
		}
		classID := k[len("enroll/"):]
		set := make(map[string]struct{}, len(students))
		for _, id := range students {
			set[id] = struct{}{}
		}
		s.enrolled[classID] = set
	}
	return nil
}
