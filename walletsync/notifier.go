package walletsync

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/stampnote/loyalty_backend/config"
)

const moduleName = "walletsync"

// Dispatch pushes the snapshot to every wallet pass the customer holds for
// the offer and returns one result per held pass. A customer with no passes
// gets no pushes. It is best-effort on every axis: a provider failure is
// logged and audited but never returned as an error, and no pass's failure
// stops the others.
//
// Callers run this after their transaction has committed.
func Dispatch(ctx context.Context, snapshot ProgressSnapshot, held []HeldPass) []PushResult {
	if len(held) == 0 {
		return nil
	}
	configured := make(map[string]provider)
	for _, target := range configuredProviders() {
		configured[target.Name] = target
	}

	// One push per card at a time; concurrent scans for the same card would
	// otherwise race their snapshots to the provider out of order. If the
	// lock service is down we push anyway; ordering is not worth losing the
	// notification over.
	if locker := config.GetRedisLock(); locker != nil {
		lockKey := fmt.Sprintf("WalletSyncLock:%s:%d:%d", snapshot.BusinessId, snapshot.CustomerId, snapshot.OfferId)
		lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 10),
		})
		if err != nil {
			config.LogError(config.GetLogger(), moduleName, "Dispatch", "obtain lock", snapshot, err)
		} else {
			defer lock.Release(context.Background())
		}
	}

	results := make([]PushResult, 0, len(held))
	for _, pass := range held {
		target, ok := configured[pass.Provider]
		if !ok {
			result := PushResult{
				Provider:     pass.Provider,
				SerialNumber: pass.SerialNumber,
				Error:        "provider not configured",
			}
			config.LogError(config.GetLogger(), moduleName, "Dispatch", pass.Provider, snapshot, fmt.Errorf("%s", result.Error))
			recordAttempt(ctx, snapshot, result)
			results = append(results, result)
			continue
		}
		result := push(ctx, target, pass, snapshot)
		if !result.Success {
			config.LogError(config.GetLogger(), moduleName, "Dispatch", target.Name, snapshot, fmt.Errorf("%s", result.Error))
		}
		recordAttempt(ctx, snapshot, result)
		results = append(results, result)
	}
	return results
}

func recordAttempt(ctx context.Context, snapshot ProgressSnapshot, result PushResult) {
	success := result.Success
	attempt := SyncAttempt{
		BusinessId:   snapshot.BusinessId,
		CustomerId:   snapshot.CustomerId,
		OfferId:      snapshot.OfferId,
		Provider:     result.Provider,
		SerialNumber: result.SerialNumber,
		Success:      &success,
		StatusCode:   result.StatusCode,
		ErrorMessage: result.Error,
	}
	db := config.GetDB()
	if db == nil {
		return
	}
	if err := db.WithContext(ctx).Create(&attempt).Error; err != nil {
		config.LogError(config.GetLogger(), moduleName, "recordAttempt", result.Provider, snapshot, err)
	}
}
