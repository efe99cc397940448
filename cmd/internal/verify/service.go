package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"evacom/cmd/internal/audit"
	"evacom/cmd/security/challenge"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Capabilities is the chat platform as seen by the link flow.
//
// Implementations return an error wrapping ErrMisconfigured when the
// referenced chat or role cannot be resolved.
type Capabilities interface {
	HasCapability(ctx context.Context, userID string) (bool, error)
	GrantCapability(ctx context.Context, userID string) (Grant, error)
}

// Grant is what the platform reports after granting the capability.
// Detail is platform specific (e.g. an invite link) and may be empty.
type Grant struct {
	Detail string
}

// Issued is the result of a successful Link.
type Issued struct {
	AccessKey string
	// Formatted is AccessKey as "NNNN NNNN".
	Formatted string
	ExpiresIn time.Duration
	Resumed   bool
}

// Deps are the collaborators of a Service. Store and Capabilities are required.
type Deps struct {
	Store        Store
	Capabilities Capabilities
	Log          *slog.Logger
	Metrics      *Metrics
	Audit        audit.Auditor
}

// Service orchestrates Link and Verify. It is the only entry point the
// platform adapter calls into.
type Service struct {
	cfg    Config
	secret []byte
	store  Store
	caps   Capabilities

	log     *slog.Logger
	metrics *Metrics
	audit   audit.Auditor
	tracer  trace.Tracer
}

// NewService constructs a Service. cfg must already be validated.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	secret, err := challenge.SecretKey(cfg.SecretKey, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if deps.Store == nil || deps.Capabilities == nil {
		return nil, errors.New("verify: store and capabilities are required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}

	return &Service{
		cfg:     cfg,
		secret:  secret,
		store:   deps.Store,
		caps:    deps.Capabilities,
		log:     deps.Log,
		metrics: deps.Metrics,
		audit:   deps.Audit,
		tracer:  otel.Tracer("evacom/verify"),
	}, nil
}

// Config returns the service policy.
func (s *Service) Config() Config { return s.cfg }

// Link begins a session for userID or resumes the live one.
//
// Errors: ErrAlreadyAuthorized, ThrottleError, ErrMisconfigured, or a
// platform/nonce failure.
func (s *Service) Link(ctx context.Context, userID string, now time.Time) (Issued, error) {
	ctx, span := s.tracer.Start(ctx, "verify.Link", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	has, err := s.caps.HasCapability(ctx, userID)
	if err != nil {
		s.metrics.link("error")
		span.SetStatus(codes.Error, "capability lookup failed")
		s.log.Warn("verify.link.capability.fail", "user_id", userID, "err", err)
		return Issued{}, platformErr("capability lookup", err)
	}
	if has {
		s.metrics.link("already_authorized")
		s.record(ctx, audit.ActionLinkAlreadyAuthorized, userID, now, nil)
		return Issued{}, ErrAlreadyAuthorized
	}

	sess, isNew, err := s.store.BeginOrResume(userID, now)
	if err != nil {
		var te ThrottleError
		if errors.As(err, &te) {
			s.metrics.link("throttled")
			s.record(ctx, audit.ActionLinkThrottled, userID, now, map[string]any{"retry_after_s": te.Seconds()})
			return Issued{}, te
		}
		s.metrics.link("error")
		span.SetStatus(codes.Error, "begin session failed")
		s.log.Error("verify.link.begin.fail", "user_id", userID, "err", err)
		return Issued{}, err
	}

	key := challenge.AccessKey(s.secret, sess.Nonce)
	out := Issued{
		AccessKey: key,
		Formatted: challenge.FormatAccessKey(key),
		ExpiresIn: s.cfg.TTL(),
		Resumed:   !isNew,
	}

	action, outcome := audit.ActionLinkIssued, "issued"
	if !isNew {
		out.ExpiresIn = sess.Remaining(now, s.cfg.TTL())
		action, outcome = audit.ActionLinkResumed, "resumed"
	}

	span.SetAttributes(attribute.Bool("resumed", out.Resumed))
	s.metrics.link(outcome)
	s.record(ctx, action, userID, now, map[string]any{"expires_in_s": int(out.ExpiresIn.Seconds())})
	s.log.Info("verify.link."+outcome, "user_id", userID, "expires_in", out.ExpiresIn.String())
	return out, nil
}

// Verify checks raw (free text; only its digits count) against the
// response code of the user's session and grants the capability on match.
//
// Errors: ErrNoSession, ErrSessionExpired, ErrAttemptsExhausted,
// ErrGrantInProgress, AttemptError (ErrInvalidFormat / ErrWrongCode),
// ErrMisconfigured, GrantError.
func (s *Service) Verify(ctx context.Context, userID, raw string, now time.Time) (Grant, error) {
	ctx, span := s.tracer.Start(ctx, "verify.Verify", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	sess, err := s.store.Inspect(userID, now)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionExpired):
			s.metrics.verify("expired")
			s.record(ctx, audit.ActionVerifyExpired, userID, now, nil)
		case errors.Is(err, ErrAttemptsExhausted):
			s.metrics.verify("exhausted")
			s.record(ctx, audit.ActionVerifyExhausted, userID, now, nil)
		case errors.Is(err, ErrGrantInProgress):
			s.metrics.verify("in_progress")
		default:
			s.metrics.verify("no_session")
		}
		return Grant{}, err
	}

	digits := challenge.ExtractResponseDigits(raw)
	if digits == "" {
		return Grant{}, s.fail(ctx, sess, ErrInvalidFormat, now)
	}
	if !challenge.MatchResponse(digits, challenge.ResponseCode(s.secret, sess.Nonce)) {
		return Grant{}, s.fail(ctx, sess, ErrWrongCode, now)
	}

	// The claim makes this the only grant for the session. The platform call
	// itself runs without any store lock held.
	if _, err := s.store.Claim(userID, sess.Nonce, now); err != nil {
		if errors.Is(err, ErrGrantInProgress) {
			s.metrics.verify("in_progress")
		} else {
			s.metrics.verify("no_session")
		}
		return Grant{}, err
	}

	grant, err := s.caps.GrantCapability(ctx, userID)
	if err != nil {
		s.store.Release(userID, sess.Nonce)
		s.metrics.verify("grant_failed")
		span.SetStatus(codes.Error, "grant failed")
		s.record(ctx, audit.ActionVerifyGrantFailed, userID, now, nil)
		s.log.Error("verify.grant.fail", "user_id", userID, "err", err)
		if errors.Is(err, ErrMisconfigured) {
			return Grant{}, err
		}
		return Grant{}, GrantError{Err: err}
	}

	s.store.RemoveIf(userID, sess.Nonce)
	s.metrics.verify("granted")
	s.record(ctx, audit.ActionVerifyGranted, userID, now, nil)
	s.log.Info("verify.granted", "user_id", userID)
	return grant, nil
}

func (s *Service) fail(ctx context.Context, sess Session, cause error, now time.Time) error {
	attempts, err := s.store.RecordFailure(sess.UserID, sess.Nonce)
	if err != nil {
		// Removed or replaced since Inspect: nothing was counted.
		s.metrics.verify("no_session")
		return err
	}
	remaining := s.cfg.MaxAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}

	action, outcome := audit.ActionVerifyWrongCode, "wrong_code"
	if errors.Is(cause, ErrInvalidFormat) {
		action, outcome = audit.ActionVerifyInvalidFormat, "invalid_format"
	}
	s.metrics.verify(outcome)
	s.record(ctx, action, sess.UserID, now, map[string]any{"remaining": remaining})
	s.log.Info("verify."+outcome, "user_id", sess.UserID, "remaining", remaining)

	return AttemptError{Err: cause, Remaining: remaining}
}

func (s *Service) record(ctx context.Context, action, userID string, now time.Time, meta map[string]any) {
	s.audit.Record(ctx, audit.Event{Action: action, UserID: userID, At: now, Meta: meta})
}

func platformErr(op string, err error) error {
	if errors.Is(err, ErrMisconfigured) {
		return err
	}
	return fmt.Errorf("verify: %s: %w", op, err)
}
