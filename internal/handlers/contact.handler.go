package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/internal/services"
	xhttp "github.com/chatrelay/whatsapp-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type ContactService interface {
	ListContacts(ctx context.Context, user *model.User) ([]*model.ContactSummary, error)
	MarkConversationRead(ctx context.Context, user *model.User, contactID int64) (int, error)
}

type ContactHandler struct {
	svc   ContactService
	users TenantProvider
}

func RegisterContactRoutes(e *router.Group, h *ContactHandler) {
	e.GET("/contacts", h.ListContacts)
	e.PATCH("/contacts/{id}/read", h.MarkRead)
}

func NewContactHandler(svc ContactService, users TenantProvider) *ContactHandler {
	return &ContactHandler{
		svc:   svc,
		users: users,
	}
}

type contactListResponse struct {
	Items []*model.ContactSummary `json:"items"`
}

func (h *ContactHandler) ListContacts(ctx *xhttp.RequestCtx) {
	user, ok := tenant(ctx, h.users)
	if !ok {
		return
	}

	items, err := h.svc.ListContacts(ctx, user)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, contactListResponse{Items: items})
}

func (h *ContactHandler) MarkRead(ctx *xhttp.RequestCtx) {
	user, ok := tenant(ctx, h.users)
	if !ok {
		return
	}

	raw, _ := ctx.UserValue("id").(string)
	contactID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || contactID <= 0 {
		writeError(ctx, xhttp.StatusBadRequest, "invalid contact id")
		return
	}

	updated, err := h.svc.MarkConversationRead(ctx, user, contactID)
	if err != nil {
		if errors.Is(err, services.ErrForbidden) {
			writeError(ctx, xhttp.StatusForbidden, err.Error())
			return
		}
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"success": true, "updated": updated})
}
