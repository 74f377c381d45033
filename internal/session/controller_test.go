package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"wagate/internal/bridge"
)

type fakeStore struct {
	mu       sync.Mutex
	pending  []string
	upserts  []Session
	deletes  []string
	rows     map[string]Session
	upsertEr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]Session)}
}

func (s *fakeStore) MarkPending(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, sessionID)
	return nil
}

func (s *fakeStore) Upsert(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertEr != nil {
		return s.upsertEr
	}
	s.upserts = append(s.upserts, sess)
	s.rows[sess.SessionID] = sess
	return nil
}

func (s *fakeStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.rows[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *fakeStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, sessionID)
	delete(s.rows, sessionID)
	return nil
}

type fakeClient struct {
	startErr error
	stops    int
	starts   int
}

func (c *fakeClient) Start(context.Context) error {
	c.starts++
	return c.startErr
}

func (c *fakeClient) Stop(context.Context) error {
	c.stops++
	return nil
}

func (c *fakeClient) SendText(context.Context, string, string) (string, error) {
	return "msg-id", nil
}

type fixture struct {
	controller *Controller
	store      *fakeStore
	reg        *Registry
	client     *fakeClient
	dataDir    string

	mu       sync.Mutex
	emit     func(bridge.Event)
	made     int
	lastConf bridge.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:   newFakeStore(),
		reg:     NewRegistry(),
		client:  &fakeClient{},
		dataDir: t.TempDir(),
	}

	factory := func(cfg bridge.Config, emit func(bridge.Event)) (bridge.Client, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.made++
		f.emit = emit
		f.lastConf = cfg
		return f.client, nil
	}

	controller, err := NewController(zerolog.Nop(), f.store, f.reg, factory, ControllerConfig{
		DataDir:     f.dataDir,
		BrowserPath: "/usr/bin/chromium",
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	f.controller = controller
	return f
}

func (f *fixture) factoryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made
}

func (f *fixture) credDir(id string) string {
	return filepath.Join(f.dataDir, "auth", "session-"+id)
}

func (f *fixture) marker(id string) string {
	return f.credDir(id) + ".delete"
}

func TestMaterializeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h1, err := f.controller.Materialize(ctx, "main")
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	h2, err := f.controller.Materialize(ctx, "main")
	if err != nil {
		t.Fatalf("second Materialize() error = %v", err)
	}

	if h1 != h2 {
		t.Fatal("Materialize() returned different handles for the same session")
	}
	if got := f.factoryCalls(); got != 1 {
		t.Fatalf("factory called %d times, want 1", got)
	}
	if f.client.starts != 1 {
		t.Fatalf("Start called %d times, want 1", f.client.starts)
	}
	if _, err := os.Stat(f.credDir("main")); err != nil {
		t.Fatalf("credential dir not created: %v", err)
	}
	if f.lastConf.CredentialDir != f.credDir("main") {
		t.Fatalf("factory config credential dir = %q, want %q", f.lastConf.CredentialDir, f.credDir("main"))
	}
	if f.lastConf.BrowserPath != "/usr/bin/chromium" {
		t.Fatalf("factory config browser path = %q", f.lastConf.BrowserPath)
	}
}

func TestMaterializeConcurrent(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.controller.Materialize(context.Background(), "main"); err != nil {
				t.Errorf("Materialize() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.factoryCalls(); got != 1 {
		t.Fatalf("factory called %d times under contention, want 1", got)
	}
}

func TestMaterializeStartFailureClearsRegistry(t *testing.T) {
	f := newFixture(t)
	f.client.startErr = errors.New("socket refused")

	if _, err := f.controller.Materialize(context.Background(), "main"); err == nil {
		t.Fatal("Materialize() expected error when start fails")
	}
	if got := f.reg.Readiness("main"); got != ReadinessAbsent {
		t.Fatalf("Readiness() after failed start = %q, want %q", got, ReadinessAbsent)
	}
}

func TestQREventPublishesCodeAndMarksPending(t *testing.T) {
	f := newFixture(t)
	if _, err := f.controller.Materialize(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}

	f.emit(bridge.Event{Kind: bridge.EventQR, Code: "2@raw-pairing-payload"})

	qr := f.reg.QR("main")
	if qr == "" {
		t.Fatal("registry QR empty after qr event")
	}
	if got := f.reg.Readiness("main"); got != ReadinessPending {
		t.Fatalf("Readiness() = %q, want %q", got, ReadinessPending)
	}
	if len(f.store.pending) != 1 || f.store.pending[0] != "main" {
		t.Fatalf("MarkPending calls = %v, want [main]", f.store.pending)
	}
}

func TestReadyEventPersistsSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.controller.Materialize(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}

	f.emit(bridge.Event{Kind: bridge.EventReady, PhoneNumber: "15551234567"})

	if got := f.reg.Readiness("main"); got != ReadinessReady {
		t.Fatalf("Readiness() = %q, want %q", got, ReadinessReady)
	}
	if len(f.store.upserts) != 1 {
		t.Fatalf("Upsert calls = %d, want 1", len(f.store.upserts))
	}
	sess := f.store.upserts[0]
	if sess.Status != StatusReady || !sess.IsAuthenticated {
		t.Fatalf("persisted session = %+v, want READY and authenticated", sess)
	}
	if sess.PhoneNumber != "15551234567" {
		t.Fatalf("persisted phone = %q", sess.PhoneNumber)
	}
	if sess.AuthPath != f.credDir("main") {
		t.Fatalf("persisted auth path = %q, want %q", sess.AuthPath, f.credDir("main"))
	}
}

func TestTransportDisconnectKeepsCredentials(t *testing.T) {
	f := newFixture(t)
	if _, err := f.controller.Materialize(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}

	f.emit(bridge.Event{Kind: bridge.EventDisconnected, Reason: "transport closed"})

	if got := f.reg.Readiness("main"); got != ReadinessAbsent {
		t.Fatalf("Readiness() = %q, want %q", got, ReadinessAbsent)
	}
	if _, err := os.Stat(f.marker("main")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("transport disconnect must not write a delete marker")
	}
	if _, err := os.Stat(f.credDir("main")); err != nil {
		t.Fatalf("credential dir should survive a transport disconnect: %v", err)
	}
	if len(f.store.deletes) != 0 {
		t.Fatalf("store deletes = %v, want none", f.store.deletes)
	}
}

func TestRemoteLogoutMarksCredentialsForDeletion(t *testing.T) {
	f := newFixture(t)
	if _, err := f.controller.Materialize(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}

	// Reason comparison is case-insensitive.
	f.emit(bridge.Event{Kind: bridge.EventDisconnected, Reason: "logout"})

	if _, err := os.Stat(f.marker("main")); err != nil {
		t.Fatalf("delete marker missing after remote logout: %v", err)
	}
	if _, err := os.Stat(f.credDir("main")); err != nil {
		t.Fatal("credential dir must not be removed while the transport may hold it open")
	}
	if len(f.store.deletes) != 1 || f.store.deletes[0] != "main" {
		t.Fatalf("store deletes = %v, want [main]", f.store.deletes)
	}
	if got := f.reg.Readiness("main"); got != ReadinessAbsent {
		t.Fatalf("Readiness() = %q, want %q", got, ReadinessAbsent)
	}
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)

	if err := f.controller.Destroy(context.Background(), "main"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Destroy() on absent session = %v, want ErrSessionNotFound", err)
	}

	if _, err := f.controller.Materialize(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}
	if err := f.controller.Destroy(context.Background(), "main"); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	if f.client.stops != 1 {
		t.Fatalf("Stop called %d times, want 1", f.client.stops)
	}
	if _, err := os.Stat(f.marker("main")); err != nil {
		t.Fatalf("delete marker missing after destroy: %v", err)
	}
	if got := f.reg.Readiness("main"); got != ReadinessAbsent {
		t.Fatalf("Readiness() = %q, want %q", got, ReadinessAbsent)
	}
	if len(f.store.upserts) != 1 || f.store.upserts[0].Status != StatusDisconnected {
		t.Fatalf("store upserts = %+v, want one DISCONNECTED row", f.store.upserts)
	}
}

func TestMaterializeClearsStaleDeleteMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const id = "main"

	if _, err := f.controller.Materialize(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := f.controller.Destroy(ctx, id); err != nil {
		t.Fatal(err)
	}

	// Operator logs back in before the process restarts.
	if _, err := f.controller.Materialize(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.marker(id)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("materialize must clear the delete marker left by the earlier logout")
	}
	if err := os.WriteFile(filepath.Join(f.credDir(id), "session.db"), []byte("creds"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Restart over the same data dir: the re-paired credentials must
	// survive and trigger a reconnect, not a purge.
	var reconnects int
	factory := func(cfg bridge.Config, emit func(bridge.Event)) (bridge.Client, error) {
		reconnects++
		return &fakeClient{}, nil
	}
	restarted, err := NewController(zerolog.Nop(), newFakeStore(), NewRegistry(), factory, ControllerConfig{
		DataDir: f.dataDir,
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := restarted.RestoreOnStartup(ctx, id); err != nil {
		t.Fatalf("RestoreOnStartup() error = %v", err)
	}

	if reconnects != 1 {
		t.Fatalf("restart reconnect attempts = %d, want 1", reconnects)
	}
	if _, err := os.Stat(filepath.Join(f.credDir(id), "session.db")); err != nil {
		t.Fatalf("re-paired credentials missing after restart: %v", err)
	}
}

func TestRestoreOnStartupPurgesMarkedCredentials(t *testing.T) {
	f := newFixture(t)
	const id = "main"

	if err := os.MkdirAll(f.credDir(id), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.credDir(id), "session.db"), []byte("creds"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.marker(id), []byte("delete\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := f.controller.RestoreOnStartup(context.Background(), id); err != nil {
		t.Fatalf("RestoreOnStartup() error = %v", err)
	}

	if _, err := os.Stat(f.credDir(id)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("credential dir should be purged when marked")
	}
	if _, err := os.Stat(f.marker(id)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("marker should be removed after the purge")
	}
	if got := f.factoryCalls(); got != 0 {
		t.Fatalf("factory called %d times, want 0 after purge", got)
	}
}

func TestRestoreOnStartupReconnectsSurvivingCredentials(t *testing.T) {
	f := newFixture(t)
	const id = "main"

	if err := os.MkdirAll(f.credDir(id), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := f.controller.RestoreOnStartup(context.Background(), id); err != nil {
		t.Fatalf("RestoreOnStartup() error = %v", err)
	}

	if got := f.factoryCalls(); got != 1 {
		t.Fatalf("factory called %d times, want 1 for surviving credentials", got)
	}
	if got := f.reg.Readiness(id); got != ReadinessPending {
		t.Fatalf("Readiness() = %q, want %q", got, ReadinessPending)
	}
}

func TestRestoreOnStartupNoCredentials(t *testing.T) {
	f := newFixture(t)

	if err := f.controller.RestoreOnStartup(context.Background(), "main"); err != nil {
		t.Fatalf("RestoreOnStartup() error = %v", err)
	}
	if got := f.factoryCalls(); got != 0 {
		t.Fatalf("factory called %d times, want 0 with no credentials", got)
	}
}
