package job

import (
	"context"
	"time"

	"corracoins/internal/config"
	"corracoins/internal/infrastructure/mq"
	"corracoins/internal/model"
	"corracoins/internal/monitoring"
	"corracoins/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxSender relays committed ledger events to Kafka.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	metrics    monitoring.Recorder
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config, metrics monitoring.Recorder) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		metrics:    metrics,
		stopCh:     make(chan struct{}),
		interval:   cfg.Jobs.OutboxInterval,
		batchSize:  cfg.Jobs.OutboxBatchSize,
		maxRetry:   cfg.Jobs.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log := logrus.WithField("job", "outbox_sender")
	log.Info("started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("context done, exiting")
			return
		case <-s.stopCh:
			log.Info("stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce relays one batch and returns how many messages were sent.
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logrus.WithError(err).Error("outbox: load pending messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	log := logrus.WithFields(logrus.Fields{
		"outbox_id":  msg.ID,
		"topic":      msg.Topic,
		"key":        msg.MessageKey,
		"event_type": msg.EventType,
	})

	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	s.metrics.RecordOutboxPublish(err == nil)
	if err == nil {
		if err := s.outboxRepo.MarkSent(ctx, msg.ID); err != nil {
			log.WithError(err).Error("outbox: mark sent")
		}
		return true
	}

	log.WithError(err).Warn("outbox: publish failed")
	exhausted, updateErr := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetry)
	if updateErr != nil {
		log.WithError(updateErr).Error("outbox: record failure")
		return false
	}
	if exhausted {
		log.WithField("retries", msg.RetryCount+1).Error("outbox: retries exhausted, message parked as FAILED")
	}
	return false
}
