package webhook

import (
	"context"
	"encoding/json"
	"errors"

	gateway "github.com/chatrelay/whatsapp-gateway/internal/gateways"
	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/internal/services"
	"github.com/chatrelay/whatsapp-gateway/pkg/logger"
	"github.com/chatrelay/whatsapp-gateway/pkg/prom"
)

var (
	// ErrMalformedPayload means the body did not have the expected top-level
	// shape. The only condition under which the webhook answers non-2xx.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrVerifyMalformed means the handshake request misses required fields.
	ErrVerifyMalformed = errors.New("malformed verification request")
	// ErrVerifyDenied means the mode or token did not check out.
	ErrVerifyDenied = errors.New("verification denied")
)

// Processor drives provider webhook deliveries through resolution, media
// download and the message upsert engine. Per-item failures are logged and
// swallowed: the provider treats anything but success as a cue to redeliver
// the whole batch.
type Processor struct {
	users    services.UserRepository
	resolver *services.ContactResolver
	media    *services.MediaService
	messages *services.MessageService
}

func NewProcessor(users services.UserRepository, resolver *services.ContactResolver, media *services.MediaService, messages *services.MessageService) *Processor {
	return &Processor{
		users:    users,
		resolver: resolver,
		media:    media,
		messages: messages,
	}
}

// Verify handles the GET challenge-response handshake. The challenge is
// echoed verbatim when the mode is "subscribe" and the token is registered
// against any tenant.
func (p *Processor) Verify(ctx context.Context, mode, verifyToken, challenge string) (string, error) {
	if mode == "" || verifyToken == "" || challenge == "" {
		return "", ErrVerifyMalformed
	}
	if mode != "subscribe" {
		return "", ErrVerifyDenied
	}
	ok, err := p.users.VerifyTokenExists(ctx, verifyToken)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrVerifyDenied
	}
	return challenge, nil
}

// Deliver processes one webhook batch. It returns ErrMalformedPayload only
// when the body cannot be parsed at all; everything past that point is
// best-effort per item.
func (p *Processor) Deliver(ctx context.Context, body []byte) error {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ErrMalformedPayload
	}
	if payload.Entry == nil {
		return ErrMalformedPayload
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			p.deliverValue(ctx, &change.Value)
		}
	}
	return nil
}

func (p *Processor) deliverValue(ctx context.Context, value *Value) {
	phoneNumberID := value.Metadata.PhoneNumberID
	if phoneNumberID == "" {
		logger.Error("webhook change without phone_number_id, batch dropped")
		prom.IncCounterVec(prom.SystemWebhook, prom.MetricWebhookEventsTotal, "batch", "malformed")
		return
	}

	for i := range value.Messages {
		p.handleMessage(ctx, phoneNumberID, &value.Messages[i])
	}
	for i := range value.Statuses {
		p.handleStatus(ctx, phoneNumberID, &value.Statuses[i])
	}
}

func (p *Processor) handleMessage(ctx context.Context, phoneNumberID string, item *InboundMessage) {
	if item.ID == "" || item.From == "" {
		logger.Warn("inbound message missing id or from, skipped", "phone_number_id", phoneNumberID)
		p.count("message", "malformed")
		return
	}

	user, contact, err := p.resolver.Resolve(ctx, phoneNumberID, item.From)
	if err != nil {
		logger.Warn("inbound message dropped, resolution miss",
			"meta_message_id", item.ID, "from", item.From, "error", err)
		p.count("message", "unresolved")
		return
	}

	record := &model.Message{
		UserID:        user.ID,
		ContactID:     contact.ID,
		MetaMessageID: item.ID,
		Direction:     model.DirectionIn,
		Status:        model.MessageStatusReceived,
		SentAt:        item.SentAt(),
	}

	switch {
	case item.Type == "text":
		record.Type = model.TypeText
		if item.Text != nil {
			record.Content = item.Text.Body
		}

	default:
		msgType, ref := item.Media()
		if ref == nil {
			logger.Warn("inbound message of unhandled type dropped",
				"meta_message_id", item.ID, "type", item.Type)
			p.count("message", "unhandled_type")
			return
		}

		creds := gateway.Credentials{PhoneNumberID: user.PhoneNumberID, AccessToken: user.AccessToken}
		stored, err := p.media.FetchAndStore(ctx, creds, ref.ID, msgType, ref.Filename)
		if err != nil {
			logger.Error("media resolution failed, item dropped",
				"meta_message_id", item.ID, "media_id", ref.ID, "error", err)
			p.count("message", "media_failed")
			return
		}

		record.Type = msgType
		record.Content = ref.Caption
		record.Caption = ref.Caption
		record.MediaPath = stored.Locator
		record.MediaMetadata = map[string]string{
			"mime_type": stored.MimeType,
			"sha256":    stored.SHA256,
		}
	}

	if _, err := p.messages.Upsert(ctx, record); err != nil {
		logger.Error("failed to persist inbound message",
			"meta_message_id", item.ID, "error", err)
		p.count("message", "persist_failed")
		return
	}
	p.count("message", "ok")
}

func (p *Processor) handleStatus(ctx context.Context, phoneNumberID string, item *InboundStatus) {
	if item.ID == "" {
		logger.Warn("status event missing id, skipped", "phone_number_id", phoneNumberID)
		p.count("status", "malformed")
		return
	}

	user, err := p.resolver.ResolveTenant(ctx, phoneNumberID)
	if err != nil {
		logger.Warn("status event dropped, unknown tenant",
			"meta_message_id", item.ID, "phone_number_id", phoneNumberID)
		p.count("status", "unresolved")
		return
	}

	err = p.messages.ApplyProviderStatus(ctx, user, item.ID, item.Status, item.RecipientID, item.SentAt(), item.UtilityOrigin())
	if err != nil {
		logger.Error("failed to apply status event",
			"meta_message_id", item.ID, "status", item.Status, "error", err)
		p.count("status", "persist_failed")
		return
	}
	p.count("status", "ok")
}

func (p *Processor) count(kind, result string) {
	prom.IncCounterVec(prom.SystemWebhook, prom.MetricWebhookEventsTotal, kind, result)
}
