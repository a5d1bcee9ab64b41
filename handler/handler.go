package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"finbot/internal/domain"
	"finbot/internal/usecase"
)

const (
	defaultConcurrency = 4
	bodyAck            = "EVENT_RECEIVED"
	bodyWrongToken     = "Wrong Verify Token"
	signaturePrefix    = "sha256="
	headerSignature    = "X-Hub-Signature-256"
	headerCorrelation  = "X-Correlation-Id"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.InboundEvent) (usecase.DispatchOutput, error)
}

// webhookBody is the part of a Messenger webhook delivery the bot reads.
type webhookBody struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID        string `json:"mid"`
		Text       string `json:"text"`
		IsEcho     bool   `json:"is_echo"`
		QuickReply *struct {
			Payload string `json:"payload"`
		} `json:"quick_reply"`
	} `json:"message"`
	Postback *struct {
		MID     string `json:"mid"`
		Payload string `json:"payload"`
	} `json:"postback"`
}

type Handler struct {
	dispatcher  Dispatcher
	verifyToken string
	appSecret   string
	concurrency int
	log         *slog.Logger
}

type Option func(*Handler)

// WithAppSecret enables X-Hub-Signature-256 verification.
func WithAppSecret(secret string) Option {
	return func(h *Handler) { h.appSecret = secret }
}

// WithConcurrency limits how many senders of one delivery run in parallel.
func WithConcurrency(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandler(d Dispatcher, verifyToken string, opts ...Option) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if strings.TrimSpace(verifyToken) == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	h := &Handler{
		dispatcher:  d,
		verifyToken: verifyToken,
		concurrency: defaultConcurrency,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves the Messenger webhook behind API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, headerCorrelation)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlationId", correlationID)

	switch req.HTTPMethod {
	case http.MethodGet:
		return h.verify(req, correlationID, log), nil
	case http.MethodPost:
		return h.receive(ctx, req, correlationID, log), nil
	}
	return respond(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), correlationID), nil
}

// verify answers the subscription handshake.
func (h *Handler) verify(req events.APIGatewayProxyRequest, correlationID string, log *slog.Logger) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	if !hmac.Equal([]byte(q["hub.verify_token"]), []byte(h.verifyToken)) {
		log.Warn("webhook verification rejected")
		return respond(http.StatusForbidden, bodyWrongToken, correlationID)
	}
	log.Info("webhook verified")
	return respond(http.StatusOK, q["hub.challenge"], correlationID)
}

func (h *Handler) receive(ctx context.Context, req events.APIGatewayProxyRequest, correlationID string, log *slog.Logger) events.APIGatewayProxyResponse {
	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			log.Warn("undecodable body", "err", err)
			return respond(http.StatusBadRequest, string(usecase.ErrorInvalidInput), correlationID)
		}
		raw = decoded
	}

	if h.appSecret != "" && !validSignature(raw, header(req.Headers, headerSignature), h.appSecret) {
		log.Warn("signature mismatch")
		return respond(http.StatusForbidden, "invalid signature", correlationID)
	}

	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		log.Warn("invalid webhook body", "err", err)
		return respond(http.StatusBadRequest, string(usecase.ErrorInvalidInput), correlationID)
	}
	if body.Object != "page" {
		log.Info("ignoring non-page delivery", "object", body.Object)
		return respond(http.StatusOK, bodyAck, correlationID)
	}

	senders, bySender := groupBySender(body)

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for _, sender := range senders {
		evs := bySender[sender]
		g.Go(func() error {
			for _, ev := range evs {
				h.dispatch(ctx, ev, log)
			}
			return nil
		})
	}
	_ = g.Wait()

	return respond(http.StatusOK, bodyAck, correlationID)
}

// dispatch runs one event and logs the outcome. Failures are acknowledged;
// the platform's redelivery is the retry.
func (h *Handler) dispatch(ctx context.Context, ev domain.InboundEvent, log *slog.Logger) {
	start := time.Now()
	log = log.With("sender", ev.SenderID, "mid", ev.MessageID)

	out, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		var ue *usecase.Error
		if errors.As(err, &ue) {
			log.ErrorContext(ctx, "event failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
			return
		}
		log.ErrorContext(ctx, "event failed", "code", usecase.ErrorInternal, "err", err)
		return
	}
	if out.Duplicate {
		log.InfoContext(ctx, "duplicate event skipped")
		return
	}
	log.InfoContext(ctx, "event handled",
		"status", out.Status,
		"actions", out.Actions,
		"durationMs", time.Since(start).Milliseconds(),
	)
}

// groupBySender converts the delivery into events, keeping delivery order per
// sender and first-seen order across senders. Echoes and receipts are dropped.
func groupBySender(body webhookBody) ([]string, map[string][]domain.InboundEvent) {
	var order []string
	groups := map[string][]domain.InboundEvent{}
	for _, entry := range body.Entry {
		for _, m := range entry.Messaging {
			ev, ok := toEvent(m)
			if !ok {
				continue
			}
			if _, seen := groups[ev.SenderID]; !seen {
				order = append(order, ev.SenderID)
			}
			groups[ev.SenderID] = append(groups[ev.SenderID], ev)
		}
	}
	return order, groups
}

func toEvent(m messagingEvent) (domain.InboundEvent, bool) {
	ev := domain.InboundEvent{SenderID: strings.TrimSpace(m.Sender.ID), Timestamp: m.Timestamp}
	if ev.SenderID == "" {
		return ev, false
	}
	switch {
	case m.Message != nil:
		if m.Message.IsEcho {
			return ev, false
		}
		ev.MessageID = m.Message.MID
		ev.Text = m.Message.Text
		if m.Message.QuickReply != nil {
			ev.QuickReplyPayload = m.Message.QuickReply.Payload
		}
	case m.Postback != nil:
		ev.MessageID = m.Postback.MID
		ev.PostbackPayload = m.Postback.Payload
	default:
		return ev, false
	}
	if ev.MessageID == "" && ev.Timestamp > 0 {
		ev.MessageID = fmt.Sprintf("ts-%d", ev.Timestamp)
	}
	return ev, true
}

func validSignature(body []byte, got, secret string) bool {
	if !strings.HasPrefix(got, signaturePrefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := signaturePrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(want))
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respond(status int, body, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "text/plain; charset=utf-8",
			headerCorrelation: correlationID,
		},
		Body: body,
	}
}
