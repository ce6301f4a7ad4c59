package authkit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/expressthat/authkit/password"
)

// mockCredentialStore is a map-backed CredentialStore for tests.
type mockCredentialStore struct {
	mu      sync.Mutex
	byID    map[string]*Principal
	byEmail map[string]string
	factors map[string]*SecondFactorRecord
	backup  map[string]map[[32]byte]struct{}
}

func newMockStore() *mockCredentialStore {
	return &mockCredentialStore{
		byID:    make(map[string]*Principal),
		byEmail: make(map[string]string),
		factors: make(map[string]*SecondFactorRecord),
		backup:  make(map[string]map[[32]byte]struct{}),
	}
}

func (s *mockCredentialStore) GetPrincipalByEmail(_ context.Context, email string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, nil
	}
	p := *s.byID[id]
	return &p, nil
}

func (s *mockCredentialStore) GetPrincipalByID(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (s *mockCredentialStore) CreatePrincipal(_ context.Context, in CreatePrincipalInput) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[in.Email]; exists {
		return nil, ErrAccountExists
	}
	p := &Principal{
		ID:            uuid.NewString(),
		Email:         in.Email,
		PasswordHash:  in.PasswordHash,
		EmailVerified: in.EmailVerified,
	}
	s.byID[p.ID] = p
	s.byEmail[p.Email] = p.ID
	out := *p
	return &out, nil
}

func (s *mockCredentialStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	p.PasswordHash = hash
	return nil
}

func (s *mockCredentialStore) MarkEmailVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	p.EmailVerified = true
	return nil
}

func (s *mockCredentialStore) DeletePrincipal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	delete(s.byEmail, p.Email)
	delete(s.byID, id)
	delete(s.factors, id)
	delete(s.backup, id)
	return nil
}

func (s *mockCredentialStore) GetSecondFactor(_ context.Context, id string) (*SecondFactorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.factors[id]
	if !ok {
		return nil, nil
	}
	out := *rec
	out.Secret = append([]byte(nil), rec.Secret...)
	return &out, nil
}

func (s *mockCredentialStore) StoreSecondFactor(_ context.Context, id string, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factors[id] = &SecondFactorRecord{Secret: append([]byte(nil), secret...)}
	return nil
}

func (s *mockCredentialStore) ConfirmSecondFactor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.factors[id]
	if !ok {
		return ErrSecondFactorNotEnabled
	}
	rec.Confirmed = true
	s.byID[id].TwoFactorEnabled = true
	return nil
}

func (s *mockCredentialStore) ClearSecondFactor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.factors, id)
	delete(s.backup, id)
	if p, ok := s.byID[id]; ok {
		p.TwoFactorEnabled = false
	}
	return nil
}

func (s *mockCredentialStore) UpdateSecondFactorCounter(_ context.Context, id string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.factors[id]
	if !ok {
		return ErrSecondFactorNotEnabled
	}
	rec.LastUsedCounter = counter
	return nil
}

func (s *mockCredentialStore) ReplaceBackupCodes(_ context.Context, id string, codes []BackupCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[[32]byte]struct{}, len(codes))
	for _, c := range codes {
		set[c.Hash] = struct{}{}
	}
	s.backup[id] = set
	return nil
}

func (s *mockCredentialStore) ConsumeBackupCode(_ context.Context, id string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.backup[id]
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

func (s *mockCredentialStore) CountBackupCodes(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backup[id]), nil
}

// recordingMailer captures outbound mail for assertion.
type recordingMailer struct {
	mu    sync.Mutex
	sent  []Mail
	fail  bool
	failN int
}

func (m *recordingMailer) Send(_ context.Context, mail Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail || m.failN > 0 {
		if m.failN > 0 {
			m.failN--
		}
		return context.DeadlineExceeded
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *recordingMailer) last(t *testing.T) Mail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail was sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// extractToken pulls the token out of an emailed link or code body.
func extractToken(t *testing.T, body string) string {
	t.Helper()
	idx := strings.Index(body, "token=")
	if idx < 0 {
		t.Fatalf("no token in mail body: %q", body)
	}
	token := body[idx+len("token="):]
	if end := strings.IndexAny(token, "& \n"); end >= 0 {
		token = token[:end]
	}
	return token
}

// extractOTP pulls the numeric code out of an OTP mail body.
func extractOTP(t *testing.T, body string) string {
	t.Helper()
	const marker = "code is "
	idx := strings.Index(body, marker)
	if idx < 0 {
		t.Fatalf("no code in mail body: %q", body)
	}
	rest := body[idx+len(marker):]
	end := strings.IndexByte(rest, '.')
	if end < 0 {
		t.Fatalf("unterminated code in mail body: %q", body)
	}
	return rest[:end]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AppName = "authkit-test"
	cfg.BaseURL = "http://test.local"
	cfg.JWT.HMACSecret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Argon2 = password.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}
	cfg.SignIn.EnumerationDelayMin = 0
	cfg.SignIn.EnumerationDelayMax = time.Millisecond
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *mockCredentialStore
	mailer *recordingMailer
	redis  *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := newMockStore()
	mailer := &recordingMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mailer).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	return &testEnv{engine: engine, store: store, mailer: mailer, redis: mr}
}

const (
	testEmail    = "a@x.com"
	testPassword = "Ab1!abcd"
)

// signUpTestAccount creates the canonical test account and returns its
// principal ID.
func signUpTestAccount(t *testing.T, env *testEnv) string {
	t.Helper()
	out, err := env.engine.SignUp(context.Background(), SignUpRequest{
		Email:           testEmail,
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	return out.PrincipalID
}

func verifyTestEmail(t *testing.T, env *testEnv, principalID string) {
	t.Helper()
	if err := env.store.MarkEmailVerified(context.Background(), principalID); err != nil {
		t.Fatalf("MarkEmailVerified: %v", err)
	}
}

// totpCodeAt computes the authenticator code for an offset from now, in
// whole periods.
func totpCodeAt(cfg SecondFactorConfig, secret []byte, offset int) string {
	counter := time.Now().Unix()/int64(cfg.Period.Seconds()) + int64(offset)
	return hotpCode(secret, uint64(counter), cfg.Digits, cfg.Algorithm)
}

// enableTwoFactor runs the full enrollment for the account and returns
// the raw secret and the one-time backup codes.
func enableTwoFactor(t *testing.T, env *testEnv, principalID string) ([]byte, []string) {
	t.Helper()
	ctx := context.Background()

	verifyTestEmail(t, env, principalID)
	enrollment, err := env.engine.BeginTOTPEnrollment(ctx, principalID, testPassword)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}
	secret, err := totpEncoding.DecodeString(enrollment.Secret)
	if err != nil {
		t.Fatalf("decode enrollment secret: %v", err)
	}

	code := totpCodeAt(env.engine.cfg.SecondFactor, secret, 0)
	if err := env.engine.ConfirmTOTPEnrollment(ctx, principalID, code); err != nil {
		t.Fatalf("ConfirmTOTPEnrollment: %v", err)
	}
	return secret, enrollment.BackupCodes
}
