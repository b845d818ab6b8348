package goIdentity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery-staple"

/*
====================================
USER STORE
====================================
*/

type memTwoFactor struct {
	secret string
	hashes [][32]byte
}

// memUserStore is an in-memory UserStore that enforces the same uniqueness
// and single-use guarantees as the SQL store.
type memUserStore struct {
	mu        sync.Mutex
	users     map[string]User
	settings  map[string]UserSettings
	twoFactor map[string]memTwoFactor
	failWith  error

	// writeFailures makes the next n UpdateUser/DeleteUser calls fail.
	writeFailures int
	writeErr      error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users:     make(map[string]User),
		settings:  make(map[string]UserSettings),
		twoFactor: make(map[string]memTwoFactor),
	}
}

func (s *memUserStore) GetUserByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *memUserStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memUserStore) EmailExists(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, s.failWith
	}
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *memUserStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username != "" && u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *memUserStore) UserIDExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *memUserStore) CreateUser(_ context.Context, user *User, settings UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.users[user.ID]; ok {
		return ErrUserIDTaken
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrEmailTaken
		}
		if user.Username != "" && u.Username == user.Username {
			return ErrUsernameTaken
		}
	}
	s.users[user.ID] = *user
	s.settings[user.ID] = settings
	return nil
}

func (s *memUserStore) UpdateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeWriteFailure(); err != nil {
		return err
	}
	if _, ok := s.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	for id, u := range s.users {
		if id != user.ID && u.Email == user.Email {
			return ErrEmailTaken
		}
	}
	s.users[user.ID] = *user
	return nil
}

func (s *memUserStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeWriteFailure(); err != nil {
		return err
	}
	if _, ok := s.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, id)
	delete(s.settings, id)
	delete(s.twoFactor, id)
	return nil
}

func (s *memUserStore) GetTwoFactor(_ context.Context, userID string) (TwoFactorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.twoFactor[userID]
	if !ok {
		return TwoFactorNone{}, nil
	}
	return TwoFactorEnabled{
		Secret:             tf.secret,
		RecoveryCodeHashes: append([][32]byte(nil), tf.hashes...),
	}, nil
}

func (s *memUserStore) CreateTwoFactor(_ context.Context, userID, secret string, codeHashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.twoFactor[userID]; ok {
		return ErrTwoFactorAlreadyEnabled
	}
	s.twoFactor[userID] = memTwoFactor{secret: secret, hashes: append([][32]byte(nil), codeHashes...)}
	return nil
}

func (s *memUserStore) DeleteTwoFactor(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.twoFactor[userID]
	delete(s.twoFactor, userID)
	return ok, nil
}

func (s *memUserStore) ReplaceRecoveryCodes(_ context.Context, userID string, codeHashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.twoFactor[userID]
	if !ok {
		return ErrTwoFactorNotEnabled
	}
	tf.hashes = append([][32]byte(nil), codeHashes...)
	s.twoFactor[userID] = tf
	return nil
}

func (s *memUserStore) ConsumeRecoveryCode(_ context.Context, userID string, codeHash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.twoFactor[userID]
	if !ok {
		return false, nil
	}
	for i, h := range tf.hashes {
		if h == codeHash {
			tf.hashes = append(tf.hashes[:i:i], tf.hashes[i+1:]...)
			s.twoFactor[userID] = tf
			return true, nil
		}
	}
	return false, nil
}

func (s *memUserStore) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *memUserStore) failNextWrites(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeFailures = n
	s.writeErr = err
}

// takeWriteFailure must be called with s.mu held.
func (s *memUserStore) takeWriteFailure() error {
	if s.writeFailures == 0 {
		return nil
	}
	s.writeFailures--
	return s.writeErr
}

func (s *memUserStore) recoveryCodeCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.twoFactor[userID].hashes)
}

/*
====================================
OTHER COLLABORATORS
====================================
*/

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	fail error
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) setFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var mailCodePattern = regexp.MustCompile(`<strong>([A-Za-z0-9_-]+)</strong>`)

func (m *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("expected a mail to be sent")
	}
	match := mailCodePattern.FindStringSubmatch(m.sent[len(m.sent)-1].HTMLBody)
	if match == nil {
		t.Fatal("expected the mail body to carry a code")
	}
	return match[1]
}

// fakeScorer rates any password containing "weak" as 1 and everything else as 4.
type fakeScorer struct{}

func (fakeScorer) Score(password string, _ []string) StrengthResult {
	if strings.Contains(password, "weak") {
		return StrengthResult{Score: 1, Feedback: []string{"Add another word or two."}}
	}
	return StrengthResult{Score: 4}
}

type sequenceIDs struct {
	mu  sync.Mutex
	ids []string
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return "", errors.New("id sequence exhausted")
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, nil
}

/*
====================================
ENGINE
====================================
*/

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	users  *memUserStore
	mailer *fakeMailer
	clock  *fakeClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.MaxPerUser = 3
	cfg.Session.MinLifetime = time.Hour
	cfg.Session.MaxLifetime = 24 * time.Hour
	cfg.TempCode.TTL = 10 * time.Minute
	cfg.Metrics.Enabled = true
	cfg.Mail.BaseURL = "https://app.example.com/confirm"
	return cfg
}

type envOption func(*Config, *Builder)

func withConfig(fn func(*Config)) envOption {
	return func(cfg *Config, _ *Builder) { fn(cfg) }
}

func withAudit(sink AuditSink) envOption {
	return func(cfg *Config, b *Builder) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 64
		cfg.Audit.DropIfFull = false
		b.WithAuditSink(sink)
	}
}

func withIDs(ids IDGenerator) envOption {
	return func(_ *Config, b *Builder) { b.WithIDGenerator(ids) }
}

func newTestEnv(t testing.TB, opts ...envOption) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		mr:     mr,
		users:  newMemUserStore(),
		mailer: &fakeMailer{},
		clock:  newFakeClock(),
	}

	cfg := testConfig()
	b := New()
	for _, opt := range opts {
		opt(&cfg, b)
	}

	engine, err := b.
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithMailer(env.mailer).
		WithStrengthScorer(fakeScorer{}).
		WithClock(env.clock).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) signUp(t testing.TB, email string) *User {
	t.Helper()
	user, err := env.engine.SignUp(context.Background(), SignUpRequest{Email: email, Password: testPassword})
	if err != nil {
		t.Fatalf("SignUp(%s) failed: %v", email, err)
	}
	return user
}

func (env *testEnv) signIn(t testing.TB, email string) *Session {
	t.Helper()
	sess, err := env.engine.SignIn(context.Background(), SignInRequest{
		Email:     email,
		Password:  testPassword,
		ExpiresAt: env.clock.Now().Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("SignIn(%s) failed: %v", email, err)
	}
	return sess
}

func assertKind(t *testing.T, err error, kind Kind, sentinel error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected kind %v, got %v (%v)", kind, KindOf(err), err)
	}
	if sentinel != nil && !errors.Is(err, sentinel) {
		t.Fatalf("expected %v, got %v", sentinel, err)
	}
}
