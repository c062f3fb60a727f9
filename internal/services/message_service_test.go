package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	gateway "github.com/chatrelay/whatsapp-gateway/internal/gateways"
	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/internal/repository"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memMessageRepo is an in-memory MessageRepository good enough to exercise
// the upsert state machine.
type memMessageRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.Message
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{nextID: 1, rows: make(map[int64]*model.Message)}
}

func (r *memMessageRepo) Create(_ context.Context, msg *model.Message) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *msg
	c.ID = r.nextID
	r.nextID++
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	r.rows[c.ID] = &c
	out := c
	return &out, nil
}

func (r *memMessageRepo) Update(_ context.Context, msg *model.Message) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[msg.ID]; !ok {
		return nil, repository.ErrNotFound
	}
	c := *msg
	c.UpdatedAt = time.Now().UTC()
	r.rows[c.ID] = &c
	out := c
	return &out, nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id int64) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[id]; ok {
		out := *m
		return &out, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memMessageRepo) GetByMetaMessageID(_ context.Context, metaID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.MetaMessageID == metaID {
			out := *m
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memMessageRepo) List(_ context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Message
	for _, m := range r.rows {
		if f.ContactID != 0 && m.ContactID != f.ContactID {
			continue
		}
		if len(f.Types) > 0 {
			ok := false
			for _, t := range f.Types {
				if m.Type == t {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}
		c := *m
		out = append(out, &c)
	}
	return out, int64(len(out)), nil
}

func (r *memMessageRepo) ListLatestPerContact(_ context.Context, userID int64, types []model.MessageType, perContact int) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if perContact <= 0 {
		perContact = 25
	}
	allowed := make(map[model.MessageType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	perSeen := make(map[int64]int)
	var out []*model.Message
	for _, m := range r.rows {
		if m.UserID != userID {
			continue
		}
		if len(types) > 0 && !allowed[m.Type] {
			continue
		}
		if perSeen[m.ContactID] >= perContact {
			continue
		}
		perSeen[m.ContactID]++
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (r *memMessageRepo) MarkConversationRead(_ context.Context, contactID int64) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Message
	for _, m := range r.rows {
		if m.ContactID == contactID && m.Direction == model.DirectionIn && m.Status != model.MessageStatusRead {
			m.Status = model.MessageStatusRead
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memMessageRepo) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memMessageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type memStatusRepo struct {
	mu      sync.Mutex
	records []*model.MessageStatusRecord
}

func (r *memStatusRepo) Create(_ context.Context, metaID string, status model.MessageStatus) (*model.MessageStatusRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &model.MessageStatusRecord{
		ID:            int64(len(r.records) + 1),
		MetaMessageID: metaID,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
	r.records = append(r.records, rec)
	return rec, nil
}

func (r *memStatusRepo) forMeta(metaID string) []model.MessageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.MessageStatus
	for _, rec := range r.records {
		if rec.MetaMessageID == metaID {
			out = append(out, rec.Status)
		}
	}
	return out
}

type memUserRepo struct {
	users map[int64]*model.User
}

func (r *memUserRepo) GetByID(_ context.Context, id int64) (*model.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (r *memUserRepo) GetByPhoneNumberID(_ context.Context, phoneNumberID string) (*model.User, error) {
	for _, u := range r.users {
		if u.PhoneNumberID == phoneNumberID {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memUserRepo) VerifyTokenExists(_ context.Context, token string) (bool, error) {
	for _, u := range r.users {
		if u.VerifyToken == token {
			return true, nil
		}
	}
	return false, nil
}

type memContactRepo struct {
	contacts map[int64]*model.Contact
}

func (r *memContactRepo) GetByID(_ context.Context, id int64) (*model.Contact, error) {
	if c, ok := r.contacts[id]; ok {
		return c, nil
	}
	return nil, repository.ErrContactNotFound
}

func (r *memContactRepo) GetByUserAndPhone(_ context.Context, userID int64, phone string) (*model.Contact, error) {
	for _, c := range r.contacts {
		if c.UserID == userID && c.PhoneNumber == phone {
			return c, nil
		}
	}
	return nil, repository.ErrContactNotFound
}

func (r *memContactRepo) ListSummaries(_ context.Context, userID int64) ([]*model.ContactSummary, error) {
	var out []*model.ContactSummary
	for _, c := range r.contacts {
		if c.UserID == userID {
			out = append(out, &model.ContactSummary{Contact: *c})
		}
	}
	return out, nil
}

// fakeRedis records publishes and backs the per-message lock.
type fakeRedis struct {
	mu        sync.Mutex
	keys      map[string][]byte
	published map[string][][]byte
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string][]byte), published: make(map[string][][]byte)}
}

func (f *fakeRedis) Set(key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = value
	return nil
}

func (f *fakeRedis) SetNX(key string, value []byte, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = value
	return true, nil
}

func (f *fakeRedis) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.keys[key]; ok {
		return v, nil
	}
	return nil, goredis.Nil
}

func (f *fakeRedis) Del(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeRedis) Exist(key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return 1, nil
	}
	return 0, nil
}

func (f *fakeRedis) Publish(channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeRedis) Client() goredis.UniversalClient { return nil }

func (f *fakeRedis) events(channel string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.published[channel]...)
}

type MockProviderGateway struct {
	mock.Mock
}

func (m *MockProviderGateway) SendText(ctx context.Context, creds gateway.Credentials, to, body string) (*gateway.SendResponse, error) {
	args := m.Called(ctx, creds, to, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SendResponse), args.Error(1)
}

func (m *MockProviderGateway) SendMedia(ctx context.Context, creds gateway.Credentials, to string, mediaType model.MessageType, link, caption string) (*gateway.SendResponse, error) {
	args := m.Called(ctx, creds, to, mediaType, link, caption)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SendResponse), args.Error(1)
}

type serviceFixture struct {
	svc      *MessageService
	msgRepo  *memMessageRepo
	statuses *memStatusRepo
	redis    *fakeRedis
	provider *MockProviderGateway
	user     *model.User
	contact  *model.Contact
}

func newServiceFixture(t *testing.T, perms []string) *serviceFixture {
	t.Helper()

	user := &model.User{
		ID:            1,
		Name:          "tenant",
		PhoneNumberID: "100200300",
		AccessToken:   "tok",
		VerifyToken:   "verify",
		Permissions:   perms,
	}
	contact := &model.Contact{ID: 10, UserID: 1, PhoneNumber: "5215550001", Name: "Alice"}

	msgRepo := newMemMessageRepo()
	statuses := &memStatusRepo{}
	fr := newFakeRedis()
	provider := new(MockProviderGateway)

	svc := NewMessageService(
		msgRepo,
		statuses,
		&memUserRepo{users: map[int64]*model.User{1: user}},
		&memContactRepo{contacts: map[int64]*model.Contact{10: contact}},
		fr,
		NewNotifier(fr, "/media"),
		provider,
	)

	return &serviceFixture{
		svc:      svc,
		msgRepo:  msgRepo,
		statuses: statuses,
		redis:    fr,
		provider: provider,
		user:     user,
		contact:  contact,
	}
}

func inboundText(metaID, body string) *model.Message {
	return &model.Message{
		UserID:        1,
		ContactID:     10,
		MetaMessageID: metaID,
		Direction:     model.DirectionIn,
		Type:          model.TypeText,
		Content:       body,
		Status:        model.MessageStatusReceived,
		SentAt:        time.Now().UTC(),
	}
}

func TestMessageService_Upsert_Idempotent(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	first, err := fx.svc.Upsert(ctx, inboundText("wamid.idem-1", "hello"))
	require.NoError(t, err)

	second, err := fx.svc.Upsert(ctx, inboundText("wamid.idem-1", "hello"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, fx.msgRepo.count())

	events := fx.redis.events(ChannelFor(10))
	require.Len(t, events, 2)

	var e1 NewMessageEvent
	require.NoError(t, json.Unmarshal(events[0], &e1))
	assert.Equal(t, EventNewMessage, e1.Event)
	assert.Equal(t, "other", e1.Sender)

	var e2 StatusUpdateEvent
	require.NoError(t, json.Unmarshal(events[1], &e2))
	assert.Equal(t, EventStatusUpdate, e2.Event)
}

func TestMessageService_Upsert_EmptyContentPlaceholder(t *testing.T) {
	fx := newServiceFixture(t, nil)

	msg, err := fx.svc.Upsert(context.Background(), inboundText("wamid.empty-1", "   "))
	require.NoError(t, err)
	assert.Equal(t, model.PlaceholderContent, msg.Content)
}

func TestMessageService_StatusMonotonicity(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	created, err := fx.svc.Upsert(ctx, &model.Message{
		UserID:        1,
		ContactID:     10,
		MetaMessageID: "wamid.mono-1",
		Direction:     model.DirectionOut,
		Type:          model.TypeText,
		Content:       "ping",
		Status:        model.MessageStatusSent,
		SentAt:        time.Now().UTC(),
	})
	require.NoError(t, err)

	for _, providerStatus := range []string{"delivered", "read", "delivered"} {
		err := fx.svc.ApplyProviderStatus(ctx, fx.user, "wamid.mono-1", providerStatus, "5215550001", time.Now().UTC(), false)
		require.NoError(t, err)
	}

	final, err := fx.msgRepo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusRead, final.Status)

	// the regressing delivered is still visible in the audit trail
	audit := fx.statuses.forMeta("wamid.mono-1")
	assert.Equal(t, []model.MessageStatus{
		model.MessageStatusSent,
		model.MessageStatusDelivered,
		model.MessageStatusRead,
		model.MessageStatusDelivered,
	}, audit)
}

func TestMessageService_PermissionFiltering(t *testing.T) {
	fx := newServiceFixture(t, []string{"text"})
	ctx := context.Background()

	image := inboundText("wamid.perm-1", "")
	image.Type = model.TypeImage
	image.MediaPath = "images/2024/03/05/pic.jpg"

	msg, err := fx.svc.Upsert(ctx, image)
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	// persisted but silent
	assert.Equal(t, 1, fx.msgRepo.count())
	assert.Empty(t, fx.redis.events(ChannelFor(10)))

	_, err = fx.svc.Upsert(ctx, inboundText("wamid.perm-2", "hi"))
	require.NoError(t, err)
	assert.Len(t, fx.redis.events(ChannelFor(10)), 1)
}

func TestMessageService_TemplateSynthesis(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	err := fx.svc.ApplyProviderStatus(ctx, fx.user, "wamid.tmpl-1", "delivered", "5215550001", time.Now().UTC(), true)
	require.NoError(t, err)

	msg, err := fx.msgRepo.GetByMetaMessageID(ctx, "wamid.tmpl-1")
	require.NoError(t, err)
	assert.Equal(t, model.TypeTemplate, msg.Type)
	assert.Equal(t, model.MessageStatusDelivered, msg.Status)
	assert.Equal(t, model.PlaceholderContent, msg.Content)
	assert.Equal(t, model.DirectionOut, msg.Direction)

	// repeated delivery of the same receipt must not create a second row
	err = fx.svc.ApplyProviderStatus(ctx, fx.user, "wamid.tmpl-1", "delivered", "5215550001", time.Now().UTC(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.msgRepo.count())
}

func TestMessageService_StatusForUnknownMessageDropped(t *testing.T) {
	fx := newServiceFixture(t, nil)

	err := fx.svc.ApplyProviderStatus(context.Background(), fx.user, "wamid.ghost-1", "delivered", "5215550001", time.Now().UTC(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, fx.msgRepo.count())
}

func TestMessageService_SendText(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		fx := newServiceFixture(t, nil)
		ctx := context.Background()

		fx.provider.On("SendText", ctx, mock.Anything, "5215550001", "hello").
			Return(&gateway.SendResponse{MetaMessageID: "wamid.out-1"}, nil)

		msg, err := fx.svc.SendText(ctx, fx.user, model.MessageSendRequest{ContactID: 10, Content: "hello"})
		require.NoError(t, err)
		assert.Equal(t, model.MessageStatusSent, msg.Status)
		assert.Equal(t, "wamid.out-1", msg.MetaMessageID)
		assert.Equal(t, model.DirectionOut, msg.Direction)

		events := fx.redis.events(ChannelFor(10))
		require.Len(t, events, 1)
		var e NewMessageEvent
		require.NoError(t, json.Unmarshal(events[0], &e))
		assert.Equal(t, "user", e.Sender)

		fx.provider.AssertExpectations(t)
	})

	t.Run("provider rejection persists failed row", func(t *testing.T) {
		fx := newServiceFixture(t, nil)
		ctx := context.Background()

		fx.provider.On("SendText", ctx, mock.Anything, "5215550001", "hello").
			Return(nil, gateway.ErrSendRejected)

		msg, err := fx.svc.SendText(ctx, fx.user, model.MessageSendRequest{ContactID: 10, Content: "hello"})
		assert.ErrorIs(t, err, ErrSendFailed)
		require.NotNil(t, msg)
		assert.Equal(t, model.MessageStatusFailed, msg.Status)
		assert.NotEmpty(t, msg.ErrorMessage)
		assert.Equal(t, 1, fx.msgRepo.count())
	})

	t.Run("foreign contact forbidden", func(t *testing.T) {
		fx := newServiceFixture(t, nil)
		other := &model.User{ID: 2, PhoneNumberID: "999"}

		_, err := fx.svc.SendText(context.Background(), other, model.MessageSendRequest{ContactID: 10, Content: "x"})
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestMessageService_SendMedia(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	fx.provider.On("SendMedia", ctx, mock.Anything, "5215550001", model.TypeImage, "https://cdn.example.com/p.jpg", "pic").
		Return(&gateway.SendResponse{MetaMessageID: "wamid.media-1"}, nil)

	msg, err := fx.svc.SendMedia(ctx, fx.user, model.MediaSendRequest{
		ContactID: 10,
		Type:      model.TypeImage,
		Link:      "https://cdn.example.com/p.jpg",
		Caption:   "pic",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TypeImage, msg.Type)
	assert.Equal(t, "https://cdn.example.com/p.jpg", msg.MediaURL)
	assert.Equal(t, "pic", msg.Content)
}

func TestMessageService_History(t *testing.T) {
	fx := newServiceFixture(t, []string{"text", "image"})
	ctx := context.Background()

	_, err := fx.svc.Upsert(ctx, inboundText("wamid.h-1", "a"))
	require.NoError(t, err)
	voice := inboundText("wamid.h-2", "")
	voice.Type = model.TypeVoice
	_, err = fx.svc.Upsert(ctx, voice)
	require.NoError(t, err)

	t.Run("restricted types filtered out", func(t *testing.T) {
		msgs, _, err := fx.svc.History(ctx, fx.user, model.MessageFilter{ContactID: 10})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, model.TypeText, msgs[0].Type)
	})

	t.Run("requested type outside permissions yields nothing", func(t *testing.T) {
		msgs, total, err := fx.svc.History(ctx, fx.user, model.MessageFilter{
			ContactID: 10,
			Types:     []model.MessageType{model.TypeVoice},
		})
		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.Zero(t, total)
	})
}

func TestMessageService_InitialMessages(t *testing.T) {
	fx := newServiceFixture(t, []string{"text"})
	ctx := context.Background()

	_, err := fx.svc.Upsert(ctx, inboundText("wamid.init-1", "first"))
	require.NoError(t, err)
	_, err = fx.svc.Upsert(ctx, inboundText("wamid.init-2", "second"))
	require.NoError(t, err)
	other := inboundText("wamid.init-3", "elsewhere")
	other.ContactID = 11
	_, err = fx.svc.Upsert(ctx, other)
	require.NoError(t, err)
	image := inboundText("wamid.init-4", "")
	image.Type = model.TypeImage
	_, err = fx.svc.Upsert(ctx, image)
	require.NoError(t, err)

	grouped, err := fx.svc.InitialMessages(ctx, fx.user, 10)
	require.NoError(t, err)

	require.Len(t, grouped, 2)
	assert.Len(t, grouped[10], 2)
	assert.Len(t, grouped[11], 1)
	for _, msgs := range grouped {
		for _, m := range msgs {
			assert.Equal(t, model.TypeText, m.Type)
		}
	}
}

func TestMessageService_MarkConversationRead(t *testing.T) {
	fx := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := fx.svc.Upsert(ctx, inboundText("wamid.r-1", "a"))
	require.NoError(t, err)
	_, err = fx.svc.Upsert(ctx, inboundText("wamid.r-2", "b"))
	require.NoError(t, err)

	n, err := fx.svc.MarkConversationRead(ctx, fx.user, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events := fx.redis.events(ChannelFor(10))
	last := events[len(events)-1]
	var e StatusUpdateEvent
	require.NoError(t, json.Unmarshal(last, &e))
	assert.Equal(t, EventStatusUpdate, e.Event)
	assert.Equal(t, int64(10), e.ContactID)
	assert.Len(t, e.Messages, 2)

	n, err = fx.svc.MarkConversationRead(ctx, fx.user, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
