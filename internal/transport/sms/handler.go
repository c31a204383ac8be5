package sms

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"haven/internal/flow"
	"haven/internal/platform/metrics"
	dErrors "haven/pkg/domain-errors"
	"haven/pkg/platform/httputil"
	"haven/pkg/platform/sentinel"
)

// inboundMessage is the gateway's webhook payload.
type inboundMessage struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	MessageID string `json:"message_id"`
}

type Handler struct {
	machine   *flow.Machine
	sessions  flow.SessionStore
	devices   DeviceStore
	transport Transport
	metrics   *metrics.Metrics
	logger    *slog.Logger

	org      string
	project  string
	helpText string
}

type HandlerConfig struct {
	Machine   *flow.Machine
	Sessions  flow.SessionStore
	Devices   DeviceStore
	Transport Transport
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Org       string
	Project   string
	HelpText  string
}

func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Machine == nil || cfg.Sessions == nil || cfg.Devices == nil || cfg.Transport == nil {
		return nil, errors.New("machine, session store, device store and transport are required")
	}
	if cfg.Metrics == nil || cfg.Logger == nil {
		return nil, errors.New("metrics and logger are required")
	}
	if cfg.Org == "" || cfg.Project == "" {
		return nil, errors.New("sms adapter needs an org and project binding")
	}
	return &Handler{
		machine:   cfg.Machine,
		sessions:  cfg.Sessions,
		devices:   cfg.Devices,
		transport: cfg.Transport,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		org:       cfg.Org,
		project:   cfg.Project,
		helpText:  cfg.HelpText,
	}, nil
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/sms", h.inbound)
}

// inbound processes one webhook delivery. Replies go back through the
// gateway transport; the HTTP response only acknowledges receipt, since
// gateways retry non-2xx deliveries.
func (h *Handler) inbound(w http.ResponseWriter, r *http.Request) {
	var msg inboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeBadRequest, "malformed webhook payload", err))
		return
	}
	if msg.From == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing sender"))
		return
	}
	h.metrics.SMSInbound.Inc()

	reply, err := h.reply(r, msg)
	if err != nil {
		h.logger.Error("sms handling failed", "error", err)
		httputil.WriteError(w, httputil.Classify(err))
		return
	}

	if err := h.transport.Send(r.Context(), msg.From, reply); err != nil {
		h.logger.Error("sms reply failed", "to", msg.From, "error", err)
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "gateway send failed", err))
		return
	}
	h.metrics.SMSReplies.Inc()

	// Delete only once the reply is on its way; an undeleted message gets
	// redelivered by the gateway and handled again. Outlives the request,
	// since the retry window is longer than the webhook.
	if msg.MessageID != "" {
		go deleteWithRetry(context.WithoutCancel(r.Context()), h.transport, msg.MessageID, h.logger)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "handled"})
}

// reply computes the outbound message for one inbound message.
func (h *Handler) reply(r *http.Request, msg inboundMessage) (string, error) {
	ctx := r.Context()
	body := strings.TrimSpace(msg.Body)

	if strings.EqualFold(body, "help") {
		return h.helpText, nil
	}

	token, bound := h.devices.Lookup(ctx, msg.From)
	if bound && !strings.EqualFold(body, "start") {
		sess, err := h.sessions.Get(ctx, token)
		if err == nil {
			return h.answer(r, sess, msg)
		}
		if !errors.Is(err, sentinel.ErrNotFound) && !errors.Is(err, sentinel.ErrExpired) {
			return "", err
		}
		// Stale binding; fall through to a fresh conversation.
		if err := h.devices.Unbind(ctx, msg.From); err != nil {
			return "", err
		}
	}

	sess, reply, err := h.machine.StartConversation(ctx, h.org, h.project)
	if err != nil {
		return "", err
	}
	if err := h.devices.Bind(ctx, msg.From, sess.Token); err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (h *Handler) answer(r *http.Request, sess *flow.Session, msg inboundMessage) (string, error) {
	reply, err := h.machine.SubmitQuestion(r.Context(), sess, msg.Body)
	if err != nil {
		return "", err
	}
	if reply.Done {
		if err := h.devices.Unbind(r.Context(), msg.From); err != nil {
			return "", err
		}
	}
	return reply.Text, nil
}
