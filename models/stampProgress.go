package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"github.com/stampnote/loyalty_backend/walletsync"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StampProgress is one customer's card for one offer. CurrentStamps fills
// toward MaxStamps; a full card flips IsCompleted and stays full until the
// reward is claimed, which resets CurrentStamps to zero for the next cycle.
//
// MaxStamps is copied from the offer when the card is created. Editing an
// offer never rewrites in-flight cards.
type StampProgress struct {
	ID             int        `gorm:"primary_key" json:"id"`
	BusinessId     string     `gorm:"size:36;index;not null" json:"business_id"`
	CustomerId     int        `gorm:"not null;uniqueIndex:idx_stamp_card" json:"customer_id"`
	OfferId        int        `gorm:"not null;uniqueIndex:idx_stamp_card" json:"offer_id"`
	CurrentStamps  int        `gorm:"not null;default:0" json:"current_stamps"`
	MaxStamps      int        `gorm:"not null" json:"max_stamps"`
	IsCompleted    *bool      `gorm:"not null;default:false" json:"is_completed"`
	RewardsClaimed int        `gorm:"not null;default:0" json:"rewards_claimed"`
	TotalScans     int        `gorm:"not null;default:0" json:"total_scans"`
	LastScannedAt  *time.Time `json:"last_scanned_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (progress *StampProgress) completed() bool {
	return utils.DereferencePtr(progress.IsCompleted)
}

// addStamp records one physical scan. Stamps cap at MaxStamps; the scan
// counters move on every call, so a scan against a full card is still an
// audit event even though the stamp count cannot grow.
//
// Not idempotent on purpose. One call is one scan; de-duplicating double
// taps is the caller's job.
func (progress *StampProgress) addStamp(now time.Time) {
	progress.TotalScans++
	progress.LastScannedAt = &now

	if progress.CurrentStamps < progress.MaxStamps {
		progress.CurrentStamps++
	}
	if progress.CurrentStamps >= progress.MaxStamps && !progress.completed() {
		progress.IsCompleted = utils.NewTrue()
		progress.CompletedAt = &now
	}
}

// claimReward consumes a full card and starts the next cycle. The only
// transition that ever lowers CurrentStamps.
func (progress *StampProgress) claimReward() error {
	if !progress.completed() {
		return utils.StateConflictError("stamp card is not completed")
	}
	progress.RewardsClaimed++
	progress.CurrentStamps = 0
	progress.IsCompleted = utils.NewFalse()
	progress.CompletedAt = nil
	return nil
}

// claimWithRollback runs claimReward and then persist; if persist fails the
// in-memory card is restored so it matches the rolled-back row and the card
// stays claimable.
func (progress *StampProgress) claimWithRollback(persist func() error) error {
	snapshot := *progress
	if err := progress.claimReward(); err != nil {
		return err
	}
	if err := persist(); err != nil {
		*progress = snapshot
		return err
	}
	return nil
}

// lockStampProgress reads the card under FOR UPDATE, creating it on first
// scan with the offer's current MaxStamps. Two cashiers stamping the same
// card serialize on the row lock.
func lockStampProgress(ctx context.Context, tx Tx, businessId string, customerId int, offer *Offer) (*StampProgress, error) {
	var progress StampProgress
	for attempt := 0; ; attempt++ {
		err := tx.DB().WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND customer_id = ? AND offer_id = ?", businessId, customerId, offer.ID).
			First(&progress).Error
		if err == nil {
			return &progress, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		progress = StampProgress{
			BusinessId:  businessId,
			CustomerId:  customerId,
			OfferId:     offer.ID,
			MaxStamps:   offer.MaxStamps,
			IsCompleted: utils.NewFalse(),
		}
		if createErr := tx.DB().WithContext(ctx).Create(&progress).Error; createErr != nil {
			if attempt > 0 {
				return nil, createErr
			}
			// concurrent first scan; loop back to the locked read
			continue
		}
		return &progress, nil
	}
}

func (progress *StampProgress) save(ctx context.Context, tx Tx) error {
	return tx.DB().WithContext(ctx).Model(progress).
		Updates(map[string]interface{}{
			"current_stamps":  progress.CurrentStamps,
			"is_completed":    progress.IsCompleted,
			"rewards_claimed": progress.RewardsClaimed,
			"total_scans":     progress.TotalScans,
			"last_scanned_at": progress.LastScannedAt,
			"completed_at":    progress.CompletedAt,
		}).Error
}

type ScanStampInput struct {
	CustomerToken string `json:"customer_token" binding:"required"`
	// OfferHash is optional; legacy passes carry only the customer token and
	// resolve to the business's most recent active offer.
	OfferHash string `json:"offer_hash"`
}

type ScanStampResult struct {
	Progress      *StampProgress          `json:"progress"`
	IsCompleted   bool                    `json:"is_completed"`
	MaxStamps     int                     `json:"max_stamps"`
	WalletResults []walletsync.PushResult `json:"wallet_results"`
}

const scanRateLimit = 10

// ScanStamp is the cashier-facing stamp operation: resolve the scanned token,
// add one stamp under the row lock, and push the new card state to the
// wallets the customer holds after commit. The per-pass push results ride
// back in the response.
func ScanStamp(ctx context.Context, input *ScanStampInput) (*ScanStampResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	// Per-token rate limit so a scripted scanner cannot farm stamps.
	count, err := config.IncrRedisCounterWithTTL(ctx, "ScanRate:"+businessId+":"+input.CustomerToken, time.Minute)
	if err != nil {
		return nil, err
	}
	if count > scanRateLimit {
		return nil, utils.StateConflictError("too many scans for this card, try again later")
	}

	customer, err := GetCustomerByScanToken(ctx, input.CustomerToken)
	if err != nil {
		return nil, err
	}

	var offer *Offer
	if input.OfferHash != "" {
		offer, err = getOfferByHash(ctx, businessId, input.OfferHash)
	} else {
		offer, err = getLatestActiveOffer(ctx, businessId)
	}
	if err != nil {
		return nil, err
	}

	var progress *StampProgress
	err = WithTransaction(ctx, func(tx Tx) error {
		progress, err = lockStampProgress(ctx, tx, businessId, customer.ID, offer)
		if err != nil {
			return err
		}
		progress.addStamp(time.Now())
		return progress.save(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	walletResults := syncWalletProviders(ctx, customer, offer, progress)

	return &ScanStampResult{
		Progress:      progress,
		IsCompleted:   progress.completed(),
		MaxStamps:     progress.MaxStamps,
		WalletResults: walletResults,
	}, nil
}

type ConfirmPrizeInput struct {
	CustomerId int `json:"customer_id" binding:"required"`
	OfferId    int `json:"offer_id" binding:"required"`
}

type ConfirmPrizeResult struct {
	Progress      *StampProgress          `json:"progress"`
	TierUpgraded  bool                    `json:"tier_upgraded"`
	Tier          CustomerTier            `json:"tier"`
	WalletResults []walletsync.PushResult `json:"wallet_results"`
}

// ConfirmPrize redeems a completed card: resets the stamps, bumps the
// lifetime claim counters on the card and the customer, and recomputes the
// customer tier.
func ConfirmPrize(ctx context.Context, input *ConfirmPrizeInput) (*ConfirmPrizeResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	customer, err := utils.FetchModel[Customer](ctx, businessId, input.CustomerId)
	if err != nil {
		return nil, err
	}
	offer, err := getActiveOffer(ctx, businessId, input.OfferId)
	if err != nil {
		return nil, err
	}

	previousTier := customer.Tier
	var progress *StampProgress
	var newTier CustomerTier
	err = WithTransaction(ctx, func(tx Tx) error {
		progress, err = lockStampProgress(ctx, tx, businessId, customer.ID, offer)
		if err != nil {
			return err
		}
		if err := progress.claimReward(); err != nil {
			return err
		}
		if err := progress.save(ctx, tx); err != nil {
			return err
		}
		newTier, err = recordClaimAndTier(ctx, tx, customer.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	customer.Tier = newTier
	walletResults := syncWalletProviders(ctx, customer, offer, progress)

	return &ConfirmPrizeResult{
		Progress:      progress,
		TierUpgraded:  newTier != previousTier,
		Tier:          newTier,
		WalletResults: walletResults,
	}, nil
}

func GetStampProgress(ctx context.Context, customerId int, offerId int) (*StampProgress, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var progress StampProgress
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND customer_id = ? AND offer_id = ?", businessId, customerId, offerId).
		First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFoundError(fmt.Sprintf("no card for customer %d on offer %d", customerId, offerId))
		}
		return nil, err
	}
	return &progress, nil
}
