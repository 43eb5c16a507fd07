package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"github.com/stampnote/loyalty_backend/walletsync"
	"gorm.io/gorm"
)

// WalletPass is one customer's registration of one offer's card with one
// wallet provider. Pushes go only to providers the customer holds a pass
// with; ProviderObjectId is filled in from the provider's acknowledgement.
type WalletPass struct {
	ID               int       `gorm:"primary_key" json:"id"`
	BusinessId       string    `gorm:"size:36;index;not null" json:"business_id"`
	CustomerId       int       `gorm:"not null;uniqueIndex:idx_wallet_pass" json:"customer_id"`
	OfferId          int       `gorm:"not null;uniqueIndex:idx_wallet_pass" json:"offer_id"`
	Provider         string    `gorm:"size:30;not null;uniqueIndex:idx_wallet_pass" json:"provider"`
	SerialNumber     string    `gorm:"size:36;uniqueIndex;not null" json:"serial_number"`
	ProviderObjectId string    `gorm:"size:100" json:"provider_object_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type RegisterWalletPassInput struct {
	CustomerId int    `json:"customer_id" binding:"required"`
	OfferId    int    `json:"offer_id" binding:"required"`
	Provider   string `json:"provider" binding:"required"`
}

// RegisterWalletPass records that a customer added the offer's card to a
// wallet provider. Idempotent per (customer, offer, provider); re-registering
// returns the existing pass with its serial number.
func RegisterWalletPass(ctx context.Context, input *RegisterWalletPassInput) (*WalletPass, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if input.Provider != walletsync.ProviderApple && input.Provider != walletsync.ProviderGoogle {
		return nil, utils.ValidationError("unknown wallet provider")
	}
	if err := utils.ValidateResourceId[Customer](ctx, businessId, input.CustomerId); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Offer](ctx, businessId, input.OfferId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var pass WalletPass
	err := db.WithContext(ctx).
		Where("business_id = ? AND customer_id = ? AND offer_id = ? AND provider = ?",
			businessId, input.CustomerId, input.OfferId, input.Provider).
		First(&pass).Error
	if err == nil {
		return &pass, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	pass = WalletPass{
		BusinessId:   businessId,
		CustomerId:   input.CustomerId,
		OfferId:      input.OfferId,
		Provider:     input.Provider,
		SerialNumber: uuid.New().String(),
	}
	if createErr := db.WithContext(ctx).Create(&pass).Error; createErr != nil {
		// concurrent registration; re-read the winner
		err = db.WithContext(ctx).
			Where("business_id = ? AND customer_id = ? AND offer_id = ? AND provider = ?",
				businessId, input.CustomerId, input.OfferId, input.Provider).
			First(&pass).Error
		if err != nil {
			return nil, createErr
		}
	}
	return &pass, nil
}

func listWalletPasses(ctx context.Context, businessId string, customerId int, offerId int) ([]WalletPass, error) {
	var passes []WalletPass
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND customer_id = ? AND offer_id = ?", businessId, customerId, offerId).
		Find(&passes).Error
	if err != nil {
		return nil, err
	}
	return passes, nil
}

// syncWalletProviders pushes the card state to every wallet the customer
// holds for the offer and returns the per-pass results. A customer with no
// registered passes gets no pushes. Must be called after the triggering
// transaction has committed.
func syncWalletProviders(ctx context.Context, customer *Customer, offer *Offer, progress *StampProgress) []walletsync.PushResult {
	passes, err := listWalletPasses(ctx, customer.BusinessId, customer.ID, offer.ID)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "syncWalletProviders", "list passes", customer.ID, err)
		return nil
	}
	if len(passes) == 0 {
		return nil
	}

	businessName := ""
	if business, err := GetBusinessById(ctx, customer.BusinessId); err == nil {
		businessName = business.Name
	}
	snapshot := walletsync.ProgressSnapshot{
		BusinessId:   customer.BusinessId,
		BusinessName: businessName,
		CustomerId:   customer.ID,
		CustomerName: customer.Name,
		CustomerTier: string(customer.Tier),
		OfferId:      offer.ID,
		OfferName:    offer.Name,
		Stamps:       progress.CurrentStamps,
		MaxStamps:    progress.MaxStamps,
		RewardReady:  progress.completed(),
	}

	held := make([]walletsync.HeldPass, 0, len(passes))
	bySerial := make(map[string]WalletPass, len(passes))
	for _, pass := range passes {
		held = append(held, walletsync.HeldPass{Provider: pass.Provider, SerialNumber: pass.SerialNumber})
		bySerial[pass.SerialNumber] = pass
	}

	results := walletsync.Dispatch(ctx, snapshot, held)
	for _, result := range results {
		pass, ok := bySerial[result.SerialNumber]
		if !ok || result.ProviderObjectId == "" || pass.ProviderObjectId == result.ProviderObjectId {
			continue
		}
		err := config.GetDB().WithContext(ctx).Model(&WalletPass{}).
			Where("id = ?", pass.ID).
			Update("provider_object_id", result.ProviderObjectId).Error
		if err != nil {
			config.LogError(config.GetLogger(), "models", "syncWalletProviders", result.Provider, pass.ID, err)
		}
	}
	return results
}
