package services

import "github.com/chatrelay/whatsapp-gateway/internal/model"

var providerStatusTable = map[string]model.MessageStatus{
	"sent":      model.MessageStatusSent,
	"delivered": model.MessageStatusDelivered,
	"read":      model.MessageStatusRead,
	"failed":    model.MessageStatusFailed,
}

// MapProviderStatus translates the provider's status vocabulary into the
// internal one. Unrecognized values map to received instead of erroring:
// provider vocabularies are not guaranteed stable.
func MapProviderStatus(providerStatus string) model.MessageStatus {
	if st, ok := providerStatusTable[providerStatus]; ok {
		return st
	}
	return model.MessageStatusReceived
}
