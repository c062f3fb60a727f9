package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockContactService struct {
	mock.Mock
}

func (m *MockContactService) ListContacts(ctx context.Context, user *model.User) ([]*model.ContactSummary, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ContactSummary), args.Error(1)
}

func (m *MockContactService) MarkConversationRead(ctx context.Context, user *model.User, contactID int64) (int, error) {
	args := m.Called(ctx, user, contactID)
	return args.Int(0), args.Error(1)
}

func TestContactHandler_ListContacts(t *testing.T) {
	svc := new(MockContactService)
	handler := NewContactHandler(svc, &stubTenants{user: testUser})

	svc.On("ListContacts", mock.Anything, testUser).
		Return([]*model.ContactSummary{
			{Contact: model.Contact{ID: 10, Name: "Alice"}, UnreadCount: 3},
		}, nil)

	ctx := authedContext("GET", "/api/v1/contacts", nil)
	handler.ListContacts(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	var resp contactListResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, int64(3), resp.Items[0].UnreadCount)
	svc.AssertExpectations(t)
}

func TestContactHandler_MarkRead(t *testing.T) {
	t.Run("marks and reports count", func(t *testing.T) {
		svc := new(MockContactService)
		handler := NewContactHandler(svc, &stubTenants{user: testUser})

		svc.On("MarkConversationRead", mock.Anything, testUser, int64(10)).Return(2, nil)

		ctx := authedContext("PATCH", "/api/v1/contacts/10/read", nil)
		ctx.SetUserValue("id", "10")
		handler.MarkRead(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var resp map[string]any
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, float64(2), resp["updated"])
	})

	t.Run("invalid id", func(t *testing.T) {
		svc := new(MockContactService)
		handler := NewContactHandler(svc, &stubTenants{user: testUser})

		ctx := authedContext("PATCH", "/api/v1/contacts/zero/read", nil)
		ctx.SetUserValue("id", "zero")
		handler.MarkRead(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("foreign contact forbidden", func(t *testing.T) {
		svc := new(MockContactService)
		handler := NewContactHandler(svc, &stubTenants{user: testUser})

		svc.On("MarkConversationRead", mock.Anything, testUser, int64(10)).
			Return(0, services.ErrForbidden)

		ctx := authedContext("PATCH", "/api/v1/contacts/10/read", nil)
		ctx.SetUserValue("id", "10")
		handler.MarkRead(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
	})
}
