package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/internal/services"
	xhttp "github.com/chatrelay/whatsapp-gateway/pkg/http"
	"github.com/fasthttp/router"
)

type MessageService interface {
	SendText(ctx context.Context, user *model.User, req model.MessageSendRequest) (*model.Message, error)
	SendMedia(ctx context.Context, user *model.User, req model.MediaSendRequest) (*model.Message, error)
	History(ctx context.Context, user *model.User, f model.MessageFilter) ([]*model.Message, int64, error)
	InitialMessages(ctx context.Context, user *model.User, perContact int) (map[int64][]*model.Message, error)
}

// TenantProvider resolves the tenant named by the X-User-ID header.
type TenantProvider interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

type MessageHandler struct {
	svc   MessageService
	users TenantProvider
}

func RegisterMessageRoutes(e *router.Group, h *MessageHandler) {
	e.POST("/messages", h.SendMessage)
	e.POST("/messages/media", h.SendMediaMessage)
	e.GET("/messages", h.ListMessages)
}

func NewMessageHandler(svc MessageService, users TenantProvider) *MessageHandler {
	return &MessageHandler{
		svc:   svc,
		users: users,
	}
}

type sendResponse struct {
	Success bool           `json:"success"`
	Message *model.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type listResponse struct {
	Items []*model.Message `json:"items"`
	Total int64            `json:"total"`
}

type groupedResponse struct {
	Conversations map[int64][]*model.Message `json:"conversations"`
}

func (h *MessageHandler) SendMessage(ctx *xhttp.RequestCtx) {
	user, ok := tenant(ctx, h.users)
	if !ok {
		return
	}

	var req model.MessageSendRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	msg, err := h.svc.SendText(ctx, user, req)
	h.writeSendResult(ctx, msg, err)
}

func (h *MessageHandler) SendMediaMessage(ctx *xhttp.RequestCtx) {
	user, ok := tenant(ctx, h.users)
	if !ok {
		return
	}

	var req model.MediaSendRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	msg, err := h.svc.SendMedia(ctx, user, req)
	h.writeSendResult(ctx, msg, err)
}

// writeSendResult maps the send outcome: a provider rejection still carries
// the persisted failed record back to the caller.
func (h *MessageHandler) writeSendResult(ctx *xhttp.RequestCtx, msg *model.Message, err error) {
	switch {
	case err == nil:
		writeJSON(ctx, 201, sendResponse{Success: true, Message: msg})
	case errors.Is(err, services.ErrSendFailed):
		writeJSON(ctx, 502, sendResponse{Success: false, Message: msg, Error: err.Error()})
	case errors.Is(err, services.ErrForbidden):
		writeError(ctx, xhttp.StatusForbidden, err.Error())
	default:
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	}
}

func (h *MessageHandler) ListMessages(ctx *xhttp.RequestCtx) {
	user, ok := tenant(ctx, h.users)
	if !ok {
		return
	}

	var f model.MessageFilter
	if v := query(ctx, "contact_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.ContactID = id
		}
	}
	// without a contact the call means "give me the tail of every
	// conversation", grouped by contact id
	if f.ContactID == 0 {
		perContact := 0
		if v := query(ctx, "limit"); v != "" {
			if n, e := strconv.Atoi(v); e == nil {
				perContact = n
			}
		}
		grouped, err := h.svc.InitialMessages(ctx, user, perContact)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, err.Error())
			return
		}
		writeJSON(ctx, xhttp.StatusOK, groupedResponse{Conversations: grouped})
		return
	}
	if v := query(ctx, "type"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Types = append(f.Types, model.MessageType(parts[i]))
			}
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}

	items, total, err := h.svc.History(ctx, user, f)
	if err != nil {
		if errors.Is(err, services.ErrForbidden) {
			writeError(ctx, xhttp.StatusForbidden, err.Error())
			return
		}
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse{Items: items, Total: total})
}

func tenant(ctx *xhttp.RequestCtx, users TenantProvider) (*model.User, bool) {
	raw := string(ctx.Request.Header.Peek("X-User-ID"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(ctx, 401, "missing or invalid X-User-ID header")
		return nil, false
	}
	user, err := users.GetByID(ctx, id)
	if err != nil {
		writeError(ctx, 401, "unknown tenant")
		return nil, false
	}
	return user, true
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}
