package audit

import (
	"context"
	"strings"
	"time"
)

// Action names recorded by the verification service.
const (
	ActionLinkIssued            = "link.issued"
	ActionLinkResumed           = "link.resumed"
	ActionLinkThrottled         = "link.throttled"
	ActionLinkAlreadyAuthorized = "link.already_authorized"
	ActionVerifyGranted         = "verify.granted"
	ActionVerifyWrongCode       = "verify.wrong_code"
	ActionVerifyInvalidFormat   = "verify.invalid_format"
	ActionVerifyExpired         = "verify.expired"
	ActionVerifyExhausted       = "verify.exhausted"
	ActionVerifyGrantFailed     = "verify.grant_failed"
)

// Event is one audit log row.
type Event struct {
	ID     string
	Action string
	UserID string
	At     time.Time
	Meta   map[string]any
}

// Store persists events.
type Store interface {
	Insert(ctx context.Context, ev Event) error
	Close() error
}

// Auditor is what producers depend on.
type Auditor interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards events. It is used when no audit backend is configured.
type Nop struct{}

// Record implements Auditor.
func (Nop) Record(context.Context, Event) {}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
