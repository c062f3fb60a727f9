package handlers

import (
	"context"
	"errors"

	"github.com/chatrelay/whatsapp-gateway/internal/webhook"
	xhttp "github.com/chatrelay/whatsapp-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type WebhookProcessor interface {
	Verify(ctx context.Context, mode, verifyToken, challenge string) (string, error)
	Deliver(ctx context.Context, body []byte) error
}

type WebhookHandler struct {
	processor WebhookProcessor
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.GET("/webhook", h.VerifyWebhook)
	e.POST("/webhook", h.ReceiveWebhook)
}

func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
	}
}

// VerifyWebhook answers the provider's challenge-response handshake with the
// raw challenge body.
func (h *WebhookHandler) VerifyWebhook(ctx *xhttp.RequestCtx) {
	mode := query(ctx, "hub_mode")
	token := query(ctx, "hub_verify_token")
	challenge := query(ctx, "hub_challenge")

	echoed, err := h.processor.Verify(ctx, mode, token, challenge)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrVerifyMalformed):
			writeError(ctx, xhttp.StatusBadRequest, "missing verification fields")
		case errors.Is(err, webhook.ErrVerifyDenied):
			writeError(ctx, xhttp.StatusForbidden, "verification denied")
		default:
			writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		}
		return
	}

	ctx.Response.SetStatusCode(xhttp.StatusOK)
	ctx.Response.SetBodyString(echoed)
}

// ReceiveWebhook accepts a batch delivery. Anything structurally parseable
// is answered with success: per-item failures must not trigger a provider
// redelivery of the whole batch.
func (h *WebhookHandler) ReceiveWebhook(ctx *xhttp.RequestCtx) {
	if err := h.processor.Deliver(ctx, ctx.PostBody()); err != nil {
		writeJSON(ctx, xhttp.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"success": true})
}
