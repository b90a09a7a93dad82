package job

import (
	"context"
	"fmt"
	"time"

	"corracoins/internal/config"
	"corracoins/internal/model"
	"corracoins/internal/repository"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AbandonedRejecter closes an unclaimed pending request.
type AbandonedRejecter interface {
	RejectAbandoned(ctx context.Context, transactionID int64, reason string) (*model.CoinTransaction, error)
}

// StaleRequestCleaner rejects reward requests submitted by sessions that
// never signed in.
type StaleRequestCleaner struct {
	transRepo *repository.TransactionRepository
	rejecter  AbandonedRejecter
	cron      *cron.Cron
	schedule  string
	maxAge    time.Duration
	batchSize int
	now       func() time.Time
}

func NewStaleRequestCleaner(db *gorm.DB, rejecter AbandonedRejecter, cfg *config.Config) *StaleRequestCleaner {
	return &StaleRequestCleaner{
		transRepo: repository.NewTransactionRepository(db),
		rejecter:  rejecter,
		cron:      cron.New(),
		schedule:  cfg.Jobs.CleanupSchedule,
		maxAge:    cfg.Ledger.StaleUnownedAfter,
		batchSize: cfg.Jobs.CleanupBatch,
		now:       time.Now,
	}
}

// Start schedules RunOnce; the cron runs in its own goroutine until Stop.
func (j *StaleRequestCleaner) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		j.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule stale request cleanup %q: %w", j.schedule, err)
	}
	j.cron.Start()
	logrus.WithFields(logrus.Fields{
		"job":      "stale_request_cleaner",
		"schedule": j.schedule,
	}).Info("started")
	return nil
}

// Stop waits for a running cleanup to finish.
func (j *StaleRequestCleaner) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce rejects one batch of stale unowned requests and returns how many
// were closed.
func (j *StaleRequestCleaner) RunOnce(ctx context.Context) int {
	before := j.now().Add(-j.maxAge)
	stale, err := j.transRepo.ListStaleUnowned(ctx, before, j.batchSize)
	if err != nil {
		logrus.WithError(err).Error("stale cleanup: list requests")
		return 0
	}

	reason := fmt.Sprintf("not claimed by a signed-in user within %s", j.maxAge)
	closed := 0
	for _, trans := range stale {
		if _, err := j.rejecter.RejectAbandoned(ctx, trans.ID, reason); err != nil {
			logrus.WithError(err).WithField("transaction_no", trans.TransactionNo).Warn("stale cleanup: reject")
			continue
		}
		closed++
	}
	if closed > 0 {
		logrus.WithField("closed", closed).Info("stale cleanup: abandoned requests rejected")
	}
	return closed
}
