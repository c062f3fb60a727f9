package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/internal/services"
	"github.com/chatrelay/whatsapp-gateway/pkg/logger"
	"github.com/chatrelay/whatsapp-gateway/pkg/redis"
)

// MessageSource is the slice of the message store the monitor scans.
type MessageSource interface {
	ListUpdatedAfter(ctx context.Context, watermark time.Time, limit int) ([]*model.Message, error)
}

// Publisher receives the changed messages the monitor picks up.
type Publisher interface {
	PublishStatusUpdate(contactID int64, msgID int64, status model.MessageStatus) error
}

// Pool is the worker pool fanout surface.
type Pool interface {
	Enqueue(val interface{})
}

type Config struct {
	Interval     time.Duration
	WatermarkKey string
	BatchLimit   int
}

// Monitor is a fallback fanout path: it scans the message table for rows
// changed since a persisted watermark and replays them as status-update
// events. The watermark lives in redis so a restart neither reprocesses the
// full table nor leaves a gap.
type Monitor struct {
	source    MessageSource
	publisher Publisher
	pool      Pool
	redis     redis.RedisAdapter
	config    Config
}

func New(source MessageSource, publisher Publisher, pool Pool, adapter redis.RedisAdapter, config Config) *Monitor {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = 500
	}
	if config.WatermarkKey == "" {
		config.WatermarkKey = "monitor:watermark"
	}
	return &Monitor{
		source:    source,
		publisher: publisher,
		pool:      pool,
		redis:     adapter,
		config:    config,
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	logger.Info("change monitor started",
		"interval", m.config.Interval,
		"watermark_key", m.config.WatermarkKey)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				logger.Error("monitor sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one scan: load the watermark, fetch everything changed after
// it, enqueue each row for fanout, then advance the watermark to the newest
// row seen.
func (m *Monitor) Sweep(ctx context.Context) error {
	watermark, err := m.loadWatermark()
	if err != nil {
		return err
	}

	changed, err := m.source.ListUpdatedAfter(ctx, watermark, m.config.BatchLimit)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	newest := watermark
	for _, msg := range changed {
		m.pool.Enqueue(msg)
		if msg.UpdatedAt.After(newest) {
			newest = msg.UpdatedAt
		}
	}

	if err := m.storeWatermark(newest); err != nil {
		return err
	}

	logger.Debug("monitor sweep done", "changed", len(changed), "watermark", newest)
	return nil
}

// Fanout is the worker handler: it publishes one changed message as a
// status-update event.
func (m *Monitor) Fanout(workerIndex int, job interface{}) {
	msg, ok := job.(*model.Message)
	if !ok {
		logger.Warn("monitor worker received unexpected job", "worker", workerIndex)
		return
	}
	if err := m.publisher.PublishStatusUpdate(msg.ContactID, msg.ID, msg.Status); err != nil {
		logger.Error("monitor fanout publish failed", "message_id", msg.ID, "error", err)
	}
}

func (m *Monitor) loadWatermark() (time.Time, error) {
	raw, err := m.redis.Get(m.config.WatermarkKey)
	if errors.Is(err, redis.NilError) {
		// first run: start from now, not from the beginning of the table
		now := time.Now().UTC()
		return now, m.storeWatermark(now)
	}
	if err != nil {
		return time.Time{}, err
	}
	watermark, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, err
	}
	return watermark, nil
}

func (m *Monitor) storeWatermark(t time.Time) error {
	return m.redis.Set(m.config.WatermarkKey, []byte(t.UTC().Format(time.RFC3339Nano)), 0)
}

var _ Publisher = (*services.Notifier)(nil)
