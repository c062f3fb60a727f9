package services

import (
	"context"
	"time"

	gateway "github.com/chatrelay/whatsapp-gateway/internal/gateways"
	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/internal/storage"
	"github.com/chatrelay/whatsapp-gateway/pkg/logger"
	"github.com/chatrelay/whatsapp-gateway/pkg/prom"
	"github.com/pkg/errors"
)

// MediaGateway is the provider surface the media service needs.
type MediaGateway interface {
	GetMediaInfo(ctx context.Context, creds gateway.Credentials, mediaID string) (*gateway.MediaInfo, error)
	Download(ctx context.Context, creds gateway.Credentials, url string) ([]byte, error)
}

// StoredMedia describes a persisted media binary.
type StoredMedia struct {
	Locator  string
	MimeType string
	SHA256   string
	FileSize int64
}

// MediaService resolves a provider media id into a stored binary: metadata
// fetch, download, then a write into the blob store under a deterministic
// date-partitioned path.
type MediaService struct {
	gateway MediaGateway
	store   storage.BlobStore
	now     func() time.Time
}

func NewMediaService(gw MediaGateway, store storage.BlobStore) *MediaService {
	return &MediaService{
		gateway: gw,
		store:   store,
		now:     time.Now,
	}
}

// FetchAndStore runs the full resolution for one inbound media reference.
// Any failure aborts only this item; the caller logs and moves on to the
// next one in the batch.
func (s *MediaService) FetchAndStore(ctx context.Context, creds gateway.Credentials, mediaID string, msgType model.MessageType, filename string) (*StoredMedia, error) {
	start := s.now()

	info, err := s.gateway.GetMediaInfo(ctx, creds, mediaID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch media info")
	}

	data, err := s.gateway.Download(ctx, creds, info.URL)
	if err != nil {
		return nil, errors.Wrap(err, "download media")
	}

	locator := storage.BuildMediaPath(msgType.MediaFolder(), filename, msgType.MediaExt(), s.now().UTC())
	if err := s.store.Put(ctx, locator, data); err != nil {
		return nil, errors.Wrap(err, "store media")
	}

	prom.ObserveHistogramVec(prom.SystemMedia, prom.MetricMediaDownloadDuration,
		s.now().Sub(start).Seconds(), string(msgType))

	logger.Info("media stored",
		"media_id", mediaID,
		"locator", locator,
		"mime_type", info.MimeType,
		"bytes", len(data))

	return &StoredMedia{
		Locator:  locator,
		MimeType: info.MimeType,
		SHA256:   info.SHA256,
		FileSize: int64(len(data)),
	}, nil
}
