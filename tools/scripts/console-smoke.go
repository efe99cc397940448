// Package main is a CI-friendly smoke test for the evacom service console.
//
// It derives an ACCESS KEY from -secret and -nonce, then checks:
//   - POST /console/redeem returns the matching Evacom ID
//   - websocket handshake with subprotocol selection
//   - redeem -> redeem.ok with the request ID echoed
//   - a key with bad check digits -> error access_key_invalid
//   - a short key -> error access_key_malformed
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"evacom/cmd/security/challenge"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "evacom.console.v1"
	maxReadBytes = 4 << 10
)

type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type redeemPayload struct {
	AccessKey string `json:"access_key"`
}

type redeemOK struct {
	EvacomID string `json:"evacom_id"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "HTTP base URL of evacom")
		secret  = flag.String("secret", os.Getenv("SECRET_KEY"), "Shared secret (default: $SECRET_KEY)")
		nonce   = flag.String("nonce", "000123", "6-digit nonce to derive the ACCESS KEY from")
		timeout = flag.Duration("timeout", 5*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if !challenge.ValidNonce(*nonce) {
		fatalf("invalid -nonce: %v", challenge.ErrNonceMalformed)
	}
	key, err := challenge.SecretKey(*secret, 0)
	if err != nil {
		fatalf("invalid -secret: %v", err)
	}

	codes := challenge.Derive(key, *nonce)
	accessKey := challenge.FormatAccessKey(codes.AccessKey)
	wantID := challenge.FormatEvacomID(codes.ResponseCode)
	if *verbose {
		fmt.Printf("derived: access_key=%q evacom_id=%q\n", accessKey, wantID)
	}

	root := context.Background()

	mustRedeemHTTP(root, base, accessKey, wantID, *timeout)

	conn := mustConnect(root, wsURL(base), *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ok := mustRoundTrip(root, conn, "smoke-ok", accessKey, *timeout)
	if ok.Type != "redeem.ok" {
		fatalf("redeem: got type %q want redeem.ok (%s)", ok.Type, ok.Payload)
	}
	var got redeemOK
	if err := json.Unmarshal(ok.Payload, &got); err != nil {
		fatalf("unmarshal redeem.ok: %v", err)
	}
	if got.EvacomID != wantID {
		fatalf("redeem: evacom_id=%q want=%q", got.EvacomID, wantID)
	}

	mustError(root, conn, "smoke-bad-check", flipCheckDigit(codes.AccessKey), "access_key_invalid", *timeout)
	mustError(root, conn, "smoke-short", "1234", "access_key_malformed", *timeout)

	fmt.Printf("OK: access_key=%q evacom_id=%q\n", accessKey, wantID)
}

func validateBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	return u.String(), nil
}

func wsURL(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://") + "/console/ws"
	}
	return "ws://" + strings.TrimPrefix(base, "http://") + "/console/ws"
}

func flipCheckDigit(key string) string {
	last := key[len(key)-1]
	if last == '9' {
		last = '0'
	} else {
		last++
	}
	return key[:len(key)-1] + string(last)
}

func mustRedeemHTTP(parent context.Context, base, accessKey, wantID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(redeemPayload{AccessKey: accessKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/console/redeem", bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST /console/redeem: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("POST /console/redeem: status=%d", resp.StatusCode)
	}
	var got redeemOK
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		fatalf("decode redeem response: %v", err)
	}
	if got.EvacomID != wantID {
		fatalf("POST /console/redeem: evacom_id=%q want=%q", got.EvacomID, wantID)
	}
}

func mustConnect(parent context.Context, u string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			fatalf("dial failed: %v (status=%d)", err, resp.StatusCode)
		}
		fatalf("dial failed: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		_ = conn.Close(websocket.StatusPolicyViolation, "bad subprotocol")
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustRoundTrip(parent context.Context, conn *websocket.Conn, id, accessKey string, stepTimeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	payload, _ := json.Marshal(redeemPayload{AccessKey: accessKey})
	b, err := json.Marshal(envelope{Type: "redeem", ID: id, Payload: payload})
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read failed (%s): %v", id, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fatalf("unmarshal reply (%s): %v", id, err)
	}
	if env.ID != id {
		fatalf("reply id mismatch: got=%q want=%q", env.ID, id)
	}
	return env
}

func mustError(parent context.Context, conn *websocket.Conn, id, accessKey, wantCode string, stepTimeout time.Duration) {
	env := mustRoundTrip(parent, conn, id, accessKey, stepTimeout)
	if env.Type != "error" {
		fatalf("%s: got type %q want error", id, env.Type)
	}
	var ep errorPayload
	if err := json.Unmarshal(env.Payload, &ep); err != nil {
		fatalf("%s: unmarshal error payload: %v", id, err)
	}
	if ep.Code != wantCode {
		fatalf("%s: code=%q want=%q (msg=%q)", id, ep.Code, wantCode, ep.Message)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
