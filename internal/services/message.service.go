package services

import (
	"context"
	"errors"
	"strings"
	"time"

	gateway "github.com/chatrelay/whatsapp-gateway/internal/gateways"
	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/internal/repository"
	"github.com/chatrelay/whatsapp-gateway/pkg/logger"
)

var (
	// ErrSendFailed wraps a provider rejection of an outbound message. The
	// failed attempt is still persisted with status=failed.
	ErrSendFailed = errors.New("send failed")
	// ErrForbidden means the contact does not belong to the calling tenant.
	ErrForbidden = errors.New("contact does not belong to tenant")
	// ErrLockContended means the per-message lock could not be taken in time.
	ErrLockContended = errors.New("message lock contended")
)

const (
	lockTTL        = 10 * time.Second
	lockAttempts   = 40
	lockRetryDelay = 50 * time.Millisecond
)

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	Update(ctx context.Context, msg *model.Message) (*model.Message, error)
	GetByID(ctx context.Context, id int64) (*model.Message, error)
	GetByMetaMessageID(ctx context.Context, metaID string) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
	ListLatestPerContact(ctx context.Context, userID int64, types []model.MessageType, perContact int) ([]*model.Message, error)
	MarkConversationRead(ctx context.Context, contactID int64) ([]*model.Message, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type MessageStatusRepository interface {
	Create(ctx context.Context, metaID string, status model.MessageStatus) (*model.MessageStatusRecord, error)
}

// Locker serializes upserts for one meta_message_id across processes.
type Locker interface {
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	Del(key string) error
}

// ProviderGateway is the outbound surface of the Graph API client.
type ProviderGateway interface {
	SendText(ctx context.Context, creds gateway.Credentials, to, body string) (*gateway.SendResponse, error)
	SendMedia(ctx context.Context, creds gateway.Credentials, to string, mediaType model.MessageType, link, caption string) (*gateway.SendResponse, error)
}

// MessageService is the single persistence + notification path for messages,
// regardless of whether they arrive over the webhook or from a user action.
type MessageService struct {
	messageRepo MessageRepository
	statusRepo  MessageStatusRepository
	userRepo    UserRepository
	contactRepo ContactRepository
	locker      Locker
	notifier    *Notifier
	provider    ProviderGateway
}

func NewMessageService(
	messageRepo MessageRepository,
	statusRepo MessageStatusRepository,
	userRepo UserRepository,
	contactRepo ContactRepository,
	locker Locker,
	notifier *Notifier,
	provider ProviderGateway,
) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		statusRepo:  statusRepo,
		userRepo:    userRepo,
		contactRepo: contactRepo,
		locker:      locker,
		notifier:    notifier,
		provider:    provider,
	}
}

// Upsert applies record transactionally: update when a row with the same
// meta_message_id exists, create otherwise. Serialized per meta_message_id
// so concurrent webhook retries cannot double-create, with the unique index
// on the column as a second line of defense. Notification happens only after
// the write is durable.
func (s *MessageService) Upsert(ctx context.Context, record *model.Message) (*model.Message, error) {
	if record.MetaMessageID != "" {
		unlock, err := s.lockMeta(record.MetaMessageID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var (
		existing *model.Message
		err      error
	)
	if record.MetaMessageID != "" {
		existing, err = s.messageRepo.GetByMetaMessageID(ctx, record.MetaMessageID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	created := existing == nil
	var persisted *model.Message
	err = s.messageRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		if created {
			if strings.TrimSpace(record.Content) == "" {
				record.Content = model.PlaceholderContent
			}
			if record.SentAt.IsZero() {
				record.SentAt = time.Now().UTC()
			}
			persisted, err = s.messageRepo.Create(ctx, record)
			if err != nil {
				return err
			}
			if record.MetaMessageID != "" {
				if _, err := s.statusRepo.Create(ctx, record.MetaMessageID, persisted.Status); err != nil {
					return err
				}
			}
			return nil
		}

		merged, statusChanged := mergeMessage(existing, record)
		persisted, err = s.messageRepo.Update(ctx, merged)
		if err != nil {
			return err
		}
		if statusChanged && merged.MetaMessageID != "" {
			// the audit trail records the incoming transition even when the
			// monotonic guard kept the row's status
			if _, err := s.statusRepo.Create(ctx, merged.MetaMessageID, record.Status); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// re-read outside the tx so stale in-memory state cannot leak out
	persisted, err = s.messageRepo.GetByID(ctx, persisted.ID)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, persisted, created)

	return persisted, nil
}

// mergeMessage overlays the non-empty fields of incoming onto existing. The
// row's status never moves backwards: a late delivered after read keeps
// read.
func mergeMessage(existing, incoming *model.Message) (*model.Message, bool) {
	merged := *existing
	statusChanged := false

	if incoming.Status != "" && incoming.Status != existing.Status {
		statusChanged = true
		if incoming.Status.Rank() > existing.Status.Rank() {
			merged.Status = incoming.Status
		}
	}
	if incoming.Content != "" {
		merged.Content = incoming.Content
	}
	if incoming.Caption != "" {
		merged.Caption = incoming.Caption
	}
	if incoming.Type != "" {
		merged.Type = incoming.Type
	}
	if incoming.MediaURL != "" {
		merged.MediaURL = incoming.MediaURL
	}
	if incoming.MediaPath != "" {
		merged.MediaPath = incoming.MediaPath
	}
	if len(incoming.MediaMetadata) > 0 {
		merged.MediaMetadata = incoming.MediaMetadata
	}
	if incoming.ErrorMessage != "" {
		merged.ErrorMessage = incoming.ErrorMessage
	}
	if !incoming.SentAt.IsZero() {
		merged.SentAt = incoming.SentAt
	}

	return &merged, statusChanged
}

// notify pushes the event for a durable write. Failures here are logged and
// swallowed: the write already happened and the provider must not see an
// error that would trigger a redelivery.
func (s *MessageService) notify(ctx context.Context, msg *model.Message, created bool) {
	user, err := s.userRepo.GetByID(ctx, msg.UserID)
	if err != nil {
		logger.Warn("skipping notification, tenant lookup failed", "user_id", msg.UserID, "error", err)
		return
	}
	if !user.CanNotify(msg.Type) {
		logger.Debug("notification suppressed by tenant permissions",
			"user_id", msg.UserID, "message_type", string(msg.Type))
		return
	}

	if created {
		err = s.notifier.PublishNewMessage(msg)
	} else {
		err = s.notifier.PublishStatusUpdate(msg.ContactID, msg.ID, msg.Status)
	}
	if err != nil {
		logger.Error("failed to publish event", "message_id", msg.ID, "error", err)
	}
}

// ApplyProviderStatus handles one status item from a webhook batch. Unknown
// meta ids are dropped unless the status event is flagged as coming from a
// utility (template) conversation, in which case a placeholder template
// message is synthesized so the delivery receipt is not lost.
func (s *MessageService) ApplyProviderStatus(ctx context.Context, user *model.User, metaID, providerStatus, recipientPhone string, sentAt time.Time, utilityOrigin bool) error {
	status := MapProviderStatus(providerStatus)

	existing, err := s.messageRepo.GetByMetaMessageID(ctx, metaID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	if existing != nil {
		_, err = s.Upsert(ctx, &model.Message{
			MetaMessageID: metaID,
			Status:        status,
		})
		return err
	}

	if !utilityOrigin {
		logger.Warn("status event for unknown message dropped", "meta_message_id", metaID, "status", providerStatus)
		return nil
	}

	contact, err := s.contactRepo.GetByUserAndPhone(ctx, user.ID, recipientPhone)
	if err != nil {
		if errors.Is(err, repository.ErrContactNotFound) {
			logger.Warn("template receipt for unknown contact dropped",
				"meta_message_id", metaID, "recipient", recipientPhone)
			return nil
		}
		return err
	}

	_, err = s.Upsert(ctx, &model.Message{
		UserID:        user.ID,
		ContactID:     contact.ID,
		MetaMessageID: metaID,
		Direction:     model.DirectionOut,
		Type:          model.TypeTemplate,
		Content:       model.PlaceholderContent,
		Status:        status,
		SentAt:        sentAt,
	})
	return err
}

// SendText sends a plain text message on behalf of the tenant. A provider
// rejection still persists the attempt with status=failed so the failure
// stays visible in the conversation.
func (s *MessageService) SendText(ctx context.Context, user *model.User, req model.MessageSendRequest) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	contact, err := s.ownedContact(ctx, user, req.ContactID)
	if err != nil {
		return nil, err
	}

	record := &model.Message{
		UserID:    user.ID,
		ContactID: contact.ID,
		Direction: model.DirectionOut,
		Type:      model.TypeText,
		Content:   req.Content,
		Status:    model.MessageStatusSending,
		SentAt:    time.Now().UTC(),
	}

	creds := gateway.Credentials{PhoneNumberID: user.PhoneNumberID, AccessToken: user.AccessToken}
	resp, sendErr := s.provider.SendText(ctx, creds, contact.PhoneNumber, req.Content)
	return s.finishSend(ctx, record, resp, sendErr)
}

// SendMedia sends a link-referenced media message on behalf of the tenant.
func (s *MessageService) SendMedia(ctx context.Context, user *model.User, req model.MediaSendRequest) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	contact, err := s.ownedContact(ctx, user, req.ContactID)
	if err != nil {
		return nil, err
	}

	content := req.Caption
	if content == "" {
		content = req.Type.MediaCaption()
	}
	record := &model.Message{
		UserID:    user.ID,
		ContactID: contact.ID,
		Direction: model.DirectionOut,
		Type:      req.Type,
		Content:   content,
		Caption:   req.Caption,
		MediaURL:  req.Link,
		Status:    model.MessageStatusSending,
		SentAt:    time.Now().UTC(),
	}

	creds := gateway.Credentials{PhoneNumberID: user.PhoneNumberID, AccessToken: user.AccessToken}
	resp, sendErr := s.provider.SendMedia(ctx, creds, contact.PhoneNumber, req.Type, req.Link, req.Caption)
	return s.finishSend(ctx, record, resp, sendErr)
}

func (s *MessageService) finishSend(ctx context.Context, record *model.Message, resp *gateway.SendResponse, sendErr error) (*model.Message, error) {
	if sendErr != nil {
		record.Status = model.MessageStatusFailed
		record.ErrorMessage = sendErr.Error()
		persisted, err := s.Upsert(ctx, record)
		if err != nil {
			logger.Error("failed to persist failed send", "contact_id", record.ContactID, "error", err)
			return nil, err
		}
		return persisted, errors.Join(ErrSendFailed, sendErr)
	}

	record.MetaMessageID = resp.MetaMessageID
	record.Status = model.MessageStatusSent
	return s.Upsert(ctx, record)
}

// History lists a conversation's messages. When the tenant's permission list
// is non-empty only the permitted message types are visible.
func (s *MessageService) History(ctx context.Context, user *model.User, f model.MessageFilter) ([]*model.Message, int64, error) {
	if _, err := s.ownedContact(ctx, user, f.ContactID); err != nil {
		return nil, 0, err
	}

	if len(user.Permissions) > 0 {
		f.Types = visibleTypes(user.Permissions, f.Types)
		if len(f.Types) == 0 {
			return nil, 0, nil
		}
	}

	return s.messageRepo.List(ctx, f)
}

// InitialMessages returns the tail of every conversation the tenant owns,
// keyed by contact id. Feeds the first render of a client's inbox.
func (s *MessageService) InitialMessages(ctx context.Context, user *model.User, perContact int) (map[int64][]*model.Message, error) {
	var types []model.MessageType
	if len(user.Permissions) > 0 {
		types = visibleTypes(user.Permissions, nil)
	}

	items, err := s.messageRepo.ListLatestPerContact(ctx, user.ID, types, perContact)
	if err != nil {
		return nil, err
	}

	grouped := make(map[int64][]*model.Message, len(items))
	for _, m := range items {
		grouped[m.ContactID] = append(grouped[m.ContactID], m)
	}
	return grouped, nil
}

// MarkConversationRead flips every unread inbound message of the contact to
// read and publishes one bulk status-update for the conversation.
func (s *MessageService) MarkConversationRead(ctx context.Context, user *model.User, contactID int64) (int, error) {
	if _, err := s.ownedContact(ctx, user, contactID); err != nil {
		return 0, err
	}

	var updated []*model.Message
	err := s.messageRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.messageRepo.MarkConversationRead(ctx, contactID)
		if err != nil {
			return err
		}
		for _, m := range updated {
			if m.MetaMessageID == "" {
				continue
			}
			if _, err := s.statusRepo.Create(ctx, m.MetaMessageID, model.MessageStatusRead); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(updated) == 0 {
		return 0, nil
	}

	items := make([]StatusUpdateItem, len(updated))
	for i, m := range updated {
		items[i] = StatusUpdateItem{ID: m.ID, Status: string(m.Status)}
	}
	if err := s.notifier.PublishStatusUpdateBulk(contactID, items); err != nil {
		logger.Error("failed to publish bulk status update", "contact_id", contactID, "error", err)
	}

	return len(updated), nil
}

// ListContacts returns the tenant's conversations, busiest first.
func (s *MessageService) ListContacts(ctx context.Context, user *model.User) ([]*model.ContactSummary, error) {
	return s.contactRepo.ListSummaries(ctx, user.ID)
}

func (s *MessageService) ownedContact(ctx context.Context, user *model.User, contactID int64) (*model.Contact, error) {
	contact, err := s.contactRepo.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact.UserID != user.ID {
		return nil, ErrForbidden
	}
	return contact, nil
}

func (s *MessageService) lockMeta(metaID string) (func(), error) {
	key := "lock:meta:" + metaID
	for i := 0; i < lockAttempts; i++ {
		ok, err := s.locker.SetNX(key, []byte("1"), lockTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := s.locker.Del(key); err != nil {
					logger.Warn("failed to release message lock", "key", key, "error", err)
				}
			}, nil
		}
		time.Sleep(lockRetryDelay)
	}
	return nil, ErrLockContended
}

func visibleTypes(permissions []string, requested []model.MessageType) []model.MessageType {
	allowed := make(map[model.MessageType]bool, len(permissions))
	for _, p := range permissions {
		allowed[model.MessageType(p)] = true
	}
	if len(requested) == 0 {
		types := make([]model.MessageType, 0, len(permissions))
		for _, p := range permissions {
			types = append(types, model.MessageType(p))
		}
		return types
	}
	var types []model.MessageType
	for _, t := range requested {
		if allowed[t] {
			types = append(types, t)
		}
	}
	return types
}
