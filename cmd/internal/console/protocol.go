package console

import (
	"encoding/json"
	"errors"
	"strings"
)

// Subprotocol is the websocket subprotocol the game must request.
const Subprotocol = "evacom.console.v1"

// Envelope types.
const (
	TypeRedeem   = "redeem"
	TypeRedeemOK = "redeem.ok"
	TypeError    = "error"
)

// Envelope is the websocket frame. Replies echo the request ID.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the envelope shape, not its payload.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	if len(e.ID) > maxEnvelopeIDChars {
		return errors.New("id too long")
	}
	return nil
}

// RedeemRequest is the payload of "redeem" and the POST body.
type RedeemRequest struct {
	AccessKey string `json:"access_key"`
}

// RedeemResponse is the payload of "redeem.ok" and the POST response.
type RedeemResponse struct {
	EvacomID string `json:"evacom_id"`
}

// ErrorPayload is the payload of "error".
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeBadRequest       = "bad_request"
	CodeBadJSON          = "bad_json"
	CodeBadEnvelope      = "bad_envelope"
	CodeUnsupported      = "unsupported"
	CodeRateLimited      = "rate_limited"
	CodeAccessKeyFormat  = "access_key_malformed"
	CodeAccessKeyInvalid = "access_key_invalid"
)
