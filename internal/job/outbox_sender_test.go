package job

import (
	"context"
	"testing"
	"time"

	"corracoins/internal/config"
	"corracoins/internal/infrastructure/mq"
	"corracoins/internal/model"
	"corracoins/internal/monitoring"
	"corracoins/internal/repository"
	"corracoins/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSender(t *testing.T, db *gorm.DB, sp *mocks.SyncProducer, maxRetry int) *OutboxSender {
	t.Helper()
	cfg := config.Default()
	cfg.Jobs.MaxRetryCount = maxRetry
	cfg.Jobs.OutboxInterval = 5 * time.Millisecond
	return NewOutboxSender(db, mq.NewProducer(sp), cfg, monitoring.NewLedgerMetrics(prometheus.NewRegistry()))
}

func enqueue(t *testing.T, db *gorm.DB, keys ...string) {
	t.Helper()
	repo := repository.NewOutboxRepository(db)
	for _, key := range keys {
		require.NoError(t, repo.Enqueue(context.Background(), nil, "corra.ledger.events", key, model.EventRewardRequested, map[string]string{"transaction_no": key}))
	}
}

func statusOf(t *testing.T, db *gorm.DB, key string) *model.OutboxMessage {
	t.Helper()
	msgs, err := repository.NewOutboxRepository(db).ListByKey(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func TestOutboxSender_RunOnce(t *testing.T) {
	db := testutil.NewDB(t)
	enqueue(t, db, "CRW1", "CRW2", "CRW3")

	sp := mocks.NewSyncProducer(t, mq.NewSaramaConfig())
	sp.ExpectSendMessageAndSucceed()
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageAndSucceed()
	sender := newSender(t, db, sp, 3)

	assert.Equal(t, 2, sender.RunOnce(context.Background()))
	assert.Equal(t, model.OutboxStatusSent, statusOf(t, db, "CRW1").Status)
	assert.Equal(t, model.OutboxStatusSent, statusOf(t, db, "CRW3").Status)

	failed := statusOf(t, db, "CRW2")
	assert.Equal(t, model.OutboxStatusPending, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)

	// the retry picks up only the failed message
	sp.ExpectSendMessageAndSucceed()
	assert.Equal(t, 1, sender.RunOnce(context.Background()))
	assert.Equal(t, model.OutboxStatusSent, statusOf(t, db, "CRW2").Status)
	require.NoError(t, sp.Close())
}

func TestOutboxSender_ParksExhaustedMessages(t *testing.T) {
	db := testutil.NewDB(t)
	enqueue(t, db, "CRW1")

	sp := mocks.NewSyncProducer(t, mq.NewSaramaConfig())
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sender := newSender(t, db, sp, 2)

	assert.Zero(t, sender.RunOnce(context.Background()))
	assert.Zero(t, sender.RunOnce(context.Background()))

	msg := statusOf(t, db, "CRW1")
	assert.Equal(t, model.OutboxStatusFailed, msg.Status)
	assert.Equal(t, 2, msg.RetryCount)

	// parked messages are not retried
	assert.Zero(t, sender.RunOnce(context.Background()))
	require.NoError(t, sp.Close())
}

func TestOutboxSender_StartStop(t *testing.T) {
	db := testutil.NewDB(t)
	enqueue(t, db, "CRW1")

	sp := mocks.NewSyncProducer(t, mq.NewSaramaConfig())
	sp.ExpectSendMessageAndSucceed()
	sender := newSender(t, db, sp, 3)

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		var msg model.OutboxMessage
		if err := db.Where("message_key = ?", "CRW1").First(&msg).Error; err != nil {
			return false
		}
		return msg.Status == model.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)

	sender.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}
	require.NoError(t, sp.Close())
}
