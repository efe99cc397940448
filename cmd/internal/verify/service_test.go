package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"evacom/cmd/internal/audit"
	"evacom/cmd/security/challenge"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCaps struct {
	mu       sync.Mutex
	has      map[string]bool
	hasErr   error
	grantErr error
	grants   int
}

func (f *fakeCaps) HasCapability(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.has[userID], nil
}

func (f *fakeCaps) GrantCapability(_ context.Context, userID string) (Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return Grant{}, f.grantErr
	}
	if f.has == nil {
		f.has = make(map[string]bool)
	}
	f.has[userID] = true
	f.grants++
	return Grant{Detail: "granted:" + userID}, nil
}

func (f *fakeCaps) setGrantErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantErr = err
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeAudit) Record(_ context.Context, ev audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, ev.Action)
}

func (f *fakeAudit) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.actions) == 0 {
		return ""
	}
	return f.actions[len(f.actions)-1]
}

type harness struct {
	svc   *Service
	store *MemoryStore
	caps  *fakeCaps
	audit *fakeAudit
	m     *Metrics
}

func newHarness(t *testing.T, rand io.Reader) harness {
	t.Helper()

	cfg := testConfig()
	st := NewMemoryStore(cfg, rand)
	caps := &fakeCaps{}
	aud := &fakeAudit{}
	m := NewMetrics(prometheus.NewRegistry(), st)

	svc, err := NewService(cfg, Deps{
		Store:        st,
		Capabilities: caps,
		Log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      m,
		Audit:        aud,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return harness{svc: svc, store: st, caps: caps, audit: aud, m: m}
}

func (h harness) responseFor(t *testing.T, userID string) string {
	t.Helper()
	sess, ok := h.store.Get(userID)
	if !ok {
		t.Fatalf("no session for %s", userID)
	}
	return challenge.ResponseCode([]byte("k"), sess.Nonce)
}

func wrongCode(code string) string {
	n, _ := strconv.Atoi(code)
	return fmt.Sprintf("%06d", (n+1)%1_000_000)
}

func TestLink_NewSessionGoldenKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t, bytes.NewReader([]byte{0x00, 0x00, 0x7B}))

	out, err := h.svc.Link(context.Background(), "u1", t0)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if out.AccessKey != "00012309" || out.Formatted != "0001 2309" {
		t.Fatalf("unexpected key: %+v", out)
	}
	if out.Resumed || out.ExpiresIn != 300*time.Second {
		t.Fatalf("unexpected issue metadata: %+v", out)
	}
	if got := h.responseFor(t, "u1"); got != "310909" {
		t.Fatalf("response code=%s want 310909", got)
	}
	if h.audit.last() != audit.ActionLinkIssued {
		t.Fatalf("audit action=%q", h.audit.last())
	}
	if v := testutil.ToFloat64(h.m.links.WithLabelValues("issued")); v != 1 {
		t.Fatalf("issued counter=%v want 1", v)
	}
}

func TestLink_ResumeReturnsSameKeyAndKeepsTTL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.Link(ctx, "u1", t0)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	second, err := h.svc.Link(ctx, "u1", t0.Add(31*time.Second))
	if err != nil {
		t.Fatalf("Link again: %v", err)
	}

	if second.AccessKey != first.AccessKey {
		t.Fatalf("resume changed key: %s vs %s", first.AccessKey, second.AccessKey)
	}
	if !second.Resumed || second.ExpiresIn != 269*time.Second {
		t.Fatalf("unexpected resume metadata: %+v", second)
	}
	sess, _ := h.store.Get("u1")
	if !sess.CreatedAt.Equal(t0) {
		t.Fatalf("created_at reset to %v", sess.CreatedAt)
	}
}

func TestLink_ThrottledDuringCooldown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.Link(ctx, "u1", t0); err != nil {
		t.Fatalf("Link: %v", err)
	}
	before, _ := h.store.Get("u1")

	_, err := h.svc.Link(ctx, "u1", t0.Add(10500*time.Millisecond))
	var te ThrottleError
	if !errors.As(err, &te) {
		t.Fatalf("expected ThrottleError, got %v", err)
	}
	if te.Seconds() != 20 {
		t.Fatalf("wait=%ds want 20s", te.Seconds())
	}

	after, _ := h.store.Get("u1")
	if before != after {
		t.Fatalf("throttled link mutated session: %+v -> %+v", before, after)
	}
	if h.audit.last() != audit.ActionLinkThrottled {
		t.Fatalf("audit action=%q", h.audit.last())
	}
}

func TestLink_AlreadyAuthorized(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.caps.has = map[string]bool{"u1": true}

	if _, err := h.svc.Link(context.Background(), "u1", t0); !errors.Is(err, ErrAlreadyAuthorized) {
		t.Fatalf("expected ErrAlreadyAuthorized, got %v", err)
	}
	if h.store.Len() != 0 {
		t.Fatalf("no session expected")
	}
}

func TestLink_CapabilityLookupErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	h.caps.hasErr = fmt.Errorf("resolve chat: %w", ErrMisconfigured)
	if _, err := h.svc.Link(context.Background(), "u1", t0); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}

	h.caps.hasErr = errors.New("network down")
	_, err := h.svc.Link(context.Background(), "u1", t0)
	if err == nil || errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected wrapped platform error, got %v", err)
	}
	if h.store.Len() != 0 {
		t.Fatalf("no session expected after lookup failure")
	}
}

func TestVerify_SucceedsExactlyOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.Link(ctx, "u1", t0); err != nil {
		t.Fatalf("Link: %v", err)
	}
	code := h.responseFor(t, "u1")

	grant, err := h.svc.Verify(ctx, "u1", "  B-"+code+" ", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if grant.Detail != "granted:u1" || h.caps.grants != 1 {
		t.Fatalf("unexpected grant: %+v (grants=%d)", grant, h.caps.grants)
	}

	if _, err := h.svc.Verify(ctx, "u1", code, t0.Add(2*time.Minute)); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession on second verify, got %v", err)
	}
	if h.caps.grants != 1 {
		t.Fatalf("capability granted twice")
	}
	if _, err := h.svc.Link(ctx, "u1", t0.Add(3*time.Minute)); !errors.Is(err, ErrAlreadyAuthorized) {
		t.Fatalf("expected ErrAlreadyAuthorized after grant, got %v", err)
	}
}

func TestVerify_WrongCodesExhaustBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	_, _ = h.svc.Link(ctx, "u1", t0)
	code := h.responseFor(t, "u1")

	for want := 2; want >= 0; want-- {
		_, err := h.svc.Verify(ctx, "u1", wrongCode(code), t0.Add(time.Second))
		var ae AttemptError
		if !errors.As(err, &ae) || !errors.Is(err, ErrWrongCode) {
			t.Fatalf("expected wrong-code AttemptError, got %v", err)
		}
		if ae.Remaining != want {
			t.Fatalf("remaining=%d want %d", ae.Remaining, want)
		}
	}

	_, err := h.svc.Verify(ctx, "u1", code, t0.Add(2*time.Second))
	if !errors.Is(err, ErrNoSession) && !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected session to be gone, got %v", err)
	}
	if h.caps.grants != 0 {
		t.Fatalf("capability must not be granted")
	}
	if v := testutil.ToFloat64(h.m.verifies.WithLabelValues("wrong_code")); v != 3 {
		t.Fatalf("wrong_code counter=%v want 3", v)
	}
}

func TestVerify_InvalidFormatCountsAsAttempt(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	_, _ = h.svc.Link(ctx, "u1", t0)

	_, err := h.svc.Verify(ctx, "u1", "12-34", t0.Add(time.Second))
	var ae AttemptError
	if !errors.As(err, &ae) || !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected invalid-format AttemptError, got %v", err)
	}
	if ae.Remaining != 2 {
		t.Fatalf("remaining=%d want 2", ae.Remaining)
	}
	sess, _ := h.store.Get("u1")
	if sess.Attempts != 1 {
		t.Fatalf("attempts=%d want 1", sess.Attempts)
	}
	if h.audit.last() != audit.ActionVerifyInvalidFormat {
		t.Fatalf("audit action=%q", h.audit.last())
	}
}

func TestVerify_ExpiredSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	_, _ = h.svc.Link(ctx, "u1", t0)
	code := h.responseFor(t, "u1")

	if _, err := h.svc.Verify(ctx, "u1", code, t0.Add(301*time.Second)); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, err := h.svc.Verify(ctx, "u1", code, t0.Add(302*time.Second)); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after expiry, got %v", err)
	}
}

func TestVerify_GrantFailurePreservesSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	_, _ = h.svc.Link(ctx, "u1", t0)
	code := h.responseFor(t, "u1")

	h.caps.setGrantErr(errors.New("telegram: 502 bad gateway"))
	_, err := h.svc.Verify(ctx, "u1", code, t0.Add(time.Second))
	if !errors.Is(err, ErrGrantFailed) {
		t.Fatalf("expected ErrGrantFailed, got %v", err)
	}
	sess, ok := h.store.Get("u1")
	if !ok || sess.Attempts != 0 || sess.Granting {
		t.Fatalf("grant failure must keep session without burning an attempt: ok=%v %+v", ok, sess)
	}

	h.caps.setGrantErr(fmt.Errorf("chat missing: %w", ErrMisconfigured))
	if _, err := h.svc.Verify(ctx, "u1", code, t0.Add(2*time.Second)); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}

	h.caps.setGrantErr(nil)
	if _, err := h.svc.Verify(ctx, "u1", code, t0.Add(3*time.Second)); err != nil {
		t.Fatalf("retry after grant failure: %v", err)
	}
	if h.store.Len() != 0 {
		t.Fatalf("session should be removed after success")
	}
}

func TestService_ConcurrentUsersDoNotInterfere(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	users := []string{"alice", "bob"}
	for _, u := range users {
		if _, err := h.svc.Link(ctx, u, t0); err != nil {
			t.Fatalf("Link(%s): %v", u, err)
		}
	}
	codes := map[string]string{}
	for _, u := range users {
		codes[u] = h.responseFor(t, u)
	}

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, _ = h.svc.Verify(ctx, u, wrongCode(codes[u]), t0.Add(time.Second))
			_, _ = h.svc.Link(ctx, u, t0.Add(5*time.Second))
		}(u)
	}
	wg.Wait()

	for _, u := range users {
		sess, ok := h.store.Get(u)
		if !ok {
			t.Fatalf("%s: session missing", u)
		}
		if sess.Attempts != 1 {
			t.Fatalf("%s: attempts=%d want 1", u, sess.Attempts)
		}
		if !sess.CooldownUntil.Equal(t0.Add(30 * time.Second)) {
			t.Fatalf("%s: cooldown changed by throttled link: %v", u, sess.CooldownUntil)
		}
	}
}

func TestNewService_RequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := NewService(testConfig(), Deps{}); err == nil {
		t.Fatalf("expected error without store/capabilities")
	}
	if _, err := NewService(DefaultConfig(), Deps{Store: NewMemoryStore(testConfig(), nil), Capabilities: &fakeCaps{}}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without secret, got %v", err)
	}
}

// gatedCaps holds every GrantCapability call until gate is closed.
type gatedCaps struct {
	*fakeCaps
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedCaps) GrantCapability(ctx context.Context, userID string) (Grant, error) {
	g.entered <- struct{}{}
	<-g.gate
	return g.fakeCaps.GrantCapability(ctx, userID)
}

func TestVerify_ConcurrentCorrectCodesGrantOnce(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	st := NewMemoryStore(cfg, nil)
	caps := &gatedCaps{fakeCaps: &fakeCaps{}, entered: make(chan struct{}, 2), gate: make(chan struct{})}
	svc, err := NewService(cfg, Deps{Store: st, Capabilities: caps, Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.Link(ctx, "u1", t0); err != nil {
		t.Fatalf("Link: %v", err)
	}
	sess, _ := st.Get("u1")
	code := challenge.ResponseCode([]byte("k"), sess.Nonce)
	now := t0.Add(time.Second)

	first := make(chan error, 1)
	go func() {
		_, err := svc.Verify(ctx, "u1", code, now)
		first <- err
	}()
	<-caps.entered

	// The first grant is in flight: the second caller must not reach the platform.
	if _, err := svc.Verify(ctx, "u1", code, now); !errors.Is(err, ErrGrantInProgress) {
		t.Fatalf("second verify: expected ErrGrantInProgress, got %v", err)
	}
	if _, err := svc.Verify(ctx, "u1", wrongCode(code), now); !errors.Is(err, ErrGrantInProgress) {
		t.Fatalf("wrong code during grant: expected ErrGrantInProgress, got %v", err)
	}

	close(caps.gate)
	if err := <-first; err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if caps.grants != 1 {
		t.Fatalf("grants=%d want 1", caps.grants)
	}
	if st.Len() != 0 {
		t.Fatalf("session should be removed after the grant")
	}
}

func TestVerify_RacingCorrectCodesGrantOnce(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	st := NewMemoryStore(cfg, nil)
	caps := &gatedCaps{fakeCaps: &fakeCaps{}, entered: make(chan struct{}, 8), gate: make(chan struct{})}
	svc, err := NewService(cfg, Deps{Store: st, Capabilities: caps, Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.Link(ctx, "u1", t0); err != nil {
		t.Fatalf("Link: %v", err)
	}
	sess, _ := st.Get("u1")
	code := challenge.ResponseCode([]byte("k"), sess.Nonce)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Verify(ctx, "u1", code, t0.Add(time.Second))
			switch {
			case err == nil:
				mu.Lock()
				successes++
				mu.Unlock()
			case errors.Is(err, ErrGrantInProgress), errors.Is(err, ErrNoSession):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	<-caps.entered
	close(caps.gate)
	wg.Wait()

	if successes != 1 || caps.grants != 1 {
		t.Fatalf("successes=%d grants=%d want 1/1", successes, caps.grants)
	}
}

// vanishingStore loses the session between Inspect and RecordFailure, as
// when the reaper or a grant removes it concurrently.
type vanishingStore struct {
	*MemoryStore
}

func (s vanishingStore) RecordFailure(userID, nonce string) (int, error) {
	s.MemoryStore.Remove(userID)
	return s.MemoryStore.RecordFailure(userID, nonce)
}

func TestVerify_FailureOnVanishedSessionReportsNoSession(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	st := vanishingStore{NewMemoryStore(cfg, nil)}
	svc, err := NewService(cfg, Deps{Store: st, Capabilities: &fakeCaps{}, Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.Link(ctx, "u1", t0); err != nil {
		t.Fatalf("Link: %v", err)
	}
	sess, _ := st.Get("u1")
	code := challenge.ResponseCode([]byte("k"), sess.Nonce)

	_, err = svc.Verify(ctx, "u1", wrongCode(code), t0.Add(time.Second))
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	var ae AttemptError
	if errors.As(err, &ae) {
		t.Fatalf("vanished session must not report an attempt: %v", err)
	}
}

func TestLink_SecretUsedVerbatim(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SecretKey = "k "
	// 0x0E1DC1 draws nonce 925121.
	st := NewMemoryStore(cfg, bytes.NewReader([]byte{0x0E, 0x1D, 0xC1}))
	svc, err := NewService(cfg, Deps{Store: st, Capabilities: &fakeCaps{}, Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	out, err := svc.Link(context.Background(), "u1", t0)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if out.AccessKey != "92512150" {
		t.Fatalf("AccessKey=%s want 92512150 (derived from %q)", out.AccessKey, cfg.SecretKey)
	}
	if trimmed := challenge.AccessKey([]byte("k"), "925121"); out.AccessKey == trimmed {
		t.Fatalf("access key matches the trimmed secret")
	}
}
