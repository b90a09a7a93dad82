package service

import (
	"context"
	"errors"
	"fmt"

	"corracoins/internal/infrastructure/lock"

	"github.com/sirupsen/logrus"
)

// acquireLedger takes the per-owner ledger lock and returns its release func.
func acquireLedger(ctx context.Context, locker lock.Locker, owner Owner) (func(), error) {
	key := owner.lockKey()
	held, err := locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, conflict(CodeLedgerBusy, "the coin ledger is busy for this account, please retry")
		}
		return nil, fmt.Errorf("acquire ledger lock %s: %w", key, err)
	}
	return func() {
		if err := held.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).WithField("lock_key", key).Warn("release ledger lock")
		}
	}, nil
}
