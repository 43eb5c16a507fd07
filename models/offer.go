package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"gorm.io/gorm"
)

// Offer is a stamp-card definition. MaxStamps is fixed after creation;
// changing it would invalidate every in-flight card, so edits are limited to
// description and active flag.
type Offer struct {
	ID          int    `gorm:"primary_key" json:"id"`
	BusinessId  string `gorm:"size:36;index;not null" json:"business_id"`
	Name        string `gorm:"size:100;not null" json:"name" binding:"required"`
	Description string `gorm:"type:text" json:"description"`
	MaxStamps   int    `gorm:"not null" json:"max_stamps" binding:"required"`
	// RewardValue is the discount a claimed reward is worth at checkout.
	RewardValue decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"reward_value"`
	// OfferHash keys the signup QR. Regenerated when the offer is edited so
	// stale printed QRs stop working.
	OfferHash string    `gorm:"size:64;uniqueIndex;not null" json:"offer_hash"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOffer struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	MaxStamps   int             `json:"max_stamps" binding:"required"`
	RewardValue decimal.Decimal `json:"reward_value"`
}

func offerHash(businessId string, name string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", businessId, name, createdAt.UnixNano())))
	return hex.EncodeToString(sum[:])
}

func (input *NewOffer) validate(ctx context.Context, businessId string, id string) error {
	if input.MaxStamps < 1 {
		return utils.ValidationError("max stamps must be at least 1")
	}
	if input.RewardValue.IsNegative() {
		return utils.ValidationError("reward value cannot be negative")
	}
	return utils.ValidateUnique[Offer](ctx, businessId, "name", input.Name, id)
}

func CreateOffer(ctx context.Context, input *NewOffer) (*Offer, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId, ""); err != nil {
		return nil, err
	}

	now := time.Now()
	offer := Offer{
		BusinessId:  businessId,
		Name:        input.Name,
		Description: input.Description,
		MaxStamps:   input.MaxStamps,
		RewardValue: input.RewardValue,
		OfferHash:   offerHash(businessId, input.Name, now),
		IsActive:    utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&offer).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

type UpdateOfferInput struct {
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

func UpdateOffer(ctx context.Context, offerId int, input *UpdateOfferInput) (*Offer, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	offer, err := utils.FetchModel[Offer](ctx, businessId, offerId)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}
	if len(updates) > 0 {
		updates["offer_hash"] = offerHash(businessId, offer.Name, time.Now())
		db := config.GetDB()
		if err := db.WithContext(ctx).Model(offer).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return offer, nil
}

func GetOfferById(ctx context.Context, offerId int) (*Offer, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Offer](ctx, businessId, offerId)
}

func GetOffers(ctx context.Context) ([]*Offer, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Offer](ctx, businessId)
}

// getOfferByHash resolves the business-scoped hash carried in signup and
// scan QR payloads.
func getOfferByHash(ctx context.Context, businessId string, hash string) (*Offer, error) {
	var offer Offer
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND offer_hash = ?", businessId, hash).
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFoundError("offer not found")
		}
		return nil, err
	}
	if offer.IsActive != nil && !*offer.IsActive {
		return nil, utils.StateConflictError("offer is inactive")
	}
	return &offer, nil
}

// getLatestActiveOffer backs legacy passes that carry no offer hash.
func getLatestActiveOffer(ctx context.Context, businessId string) (*Offer, error) {
	var offer Offer
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessId, true).
		Order("created_at desc").
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFoundError("no active offer")
		}
		return nil, err
	}
	return &offer, nil
}

func getActiveOffer(ctx context.Context, businessId string, offerId int) (*Offer, error) {
	var offer Offer
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, offerId).
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFoundError("offer not found")
		}
		return nil, err
	}
	if offer.IsActive != nil && !*offer.IsActive {
		return nil, utils.StateConflictError("offer is inactive")
	}
	return &offer, nil
}
