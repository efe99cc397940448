package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"evacom/cmd/security/challenge"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
)

// Gateway serves the Service Console over HTTP and websocket.
type Gateway struct {
	log      *slog.Logger
	secret   []byte
	cfg      Config
	ipLimit  *KeyedLimiter
	metrics  *Metrics
	patterns []string
	now      func() time.Time
}

// NewGateway constructs a Gateway redeeming access keys derived from secret.
// metrics may be nil.
func NewGateway(secret []byte, cfg Config, log *slog.Logger, metrics *Metrics) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		log:      log,
		secret:   secret,
		cfg:      cfg,
		ipLimit:  NewKeyedLimiter(cfg.IPRateEvents, cfg.IPRateWindow),
		metrics:  metrics,
		patterns: originPatterns(cfg.AllowedOrigins),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts the console routes on mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /console/redeem", g.handleRedeem)
	mux.HandleFunc("GET /console/ws", g.HandleWS)
}

func (g *Gateway) redeem(transport, raw string) (RedeemResponse, *ErrorPayload) {
	code, err := challenge.Redeem(g.secret, raw)
	switch {
	case err == nil:
		g.metrics.redeem(transport, "ok")
		return RedeemResponse{EvacomID: challenge.FormatEvacomID(code)}, nil
	case errors.Is(err, challenge.ErrAccessKeyMalformed):
		g.metrics.redeem(transport, "malformed")
		return RedeemResponse{}, &ErrorPayload{Code: CodeAccessKeyFormat, Message: "ACCESS KEY must be 8 digits"}
	default:
		g.metrics.redeem(transport, "invalid")
		return RedeemResponse{}, &ErrorPayload{Code: CodeAccessKeyInvalid, Message: "ACCESS KEY not recognised"}
	}
}

func (g *Gateway) handleRedeem(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, g.cfg.TrustProxy)
	if !g.ipLimit.Allow(ip, g.now()) {
		g.metrics.redeem("http", "rate_limited")
		g.log.Info("console.redeem.rate_limited", "remote", ip)
		writeRateLimited(w, g.cfg.IPRateWindow)
		return
	}

	var req RedeemRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}

	resp, perr := g.redeem("http", req.AccessKey)
	if perr != nil {
		writeError(w, http.StatusUnprocessableEntity, perr.Code, perr.Message)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleWS upgrades the request and serves redeem envelopes until the peer
// leaves, goes idle, or exceeds the per-connection rate.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, g.cfg.TrustProxy)
	if err := enforceOrigin(r, g.cfg.OriginRequired, g.cfg.AllowedOrigins); err != nil {
		g.log.Info("console.ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", ip)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !g.ipLimit.Allow(ip, g.now()) {
		g.log.Info("console.ws.reject.rate_limited", "remote", ip)
		writeRateLimited(w, g.cfg.IPRateWindow)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		OriginPatterns:     g.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("console.ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		g.log.Info("console.ws.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	connID := ulid.Make().String()
	g.metrics.connOpened()
	defer g.metrics.connClosed()
	g.log.Info("console.ws.open", "conn_id", connID, "remote", ip)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, connID, shutdown)
	}()

	rl := NewRateLimiter(g.cfg.ConnRateEvents, g.cfg.ConnRateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		var out Envelope
		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				out = errorEnvelope("", CodeBadJSON, "invalid JSON")
			case readErrClose, readErrCtxDone, readErrConnClosed:
				shutdown(websocket.StatusNormalClosure, "bye")
				break readLoop
			default:
				g.log.Info("console.ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		// Malformed frames count against the limit too.
		if !rl.Allow(g.now()) {
			g.metrics.redeem("ws", "rate_limited")
			_ = g.reply(ctx, conn, errorEnvelope(env.ID, CodeRateLimited, "too many events"))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}
		if err == nil {
			out = g.dispatch(env)
		}

		if err := g.reply(ctx, conn, out); err != nil {
			g.log.Info("console.ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
			shutdown(websocket.StatusAbnormalClosure, "write failed")
			break readLoop
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	g.log.Info("console.ws.close", "conn_id", connID)
}

func (g *Gateway) dispatch(env Envelope) Envelope {
	if err := env.Validate(); err != nil {
		return errorEnvelope(env.ID, CodeBadEnvelope, err.Error())
	}

	switch env.Type {
	case TypeRedeem:
		var p RedeemRequest
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return errorEnvelope(env.ID, CodeBadRequest, "invalid payload")
		}
		resp, perr := g.redeem("ws", p.AccessKey)
		if perr != nil {
			return errorEnvelope(env.ID, perr.Code, perr.Message)
		}
		b, _ := json.Marshal(resp)
		return Envelope{Type: TypeRedeemOK, ID: env.ID, Payload: b}
	default:
		return errorEnvelope(env.ID, CodeUnsupported, "unsupported type: "+env.Type)
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, connID string, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("console.ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) reply(parent context.Context, conn *websocket.Conn, env Envelope) error {
	ctx, cancel := context.WithTimeout(parent, g.cfg.WriteTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func errorEnvelope(id, code, msg string) Envelope {
	b, _ := json.Marshal(ErrorPayload{Code: code, Message: msg})
	return Envelope{Type: TypeError, ID: id, Payload: b}
}

// ---- envelope IO ----

var errBadJSON = errors.New("invalid JSON")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Join(errBadJSON, err)
	}
	return env, nil
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	}
	return readErrUnknown
}
