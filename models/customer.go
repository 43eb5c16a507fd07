package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"gorm.io/gorm"
)

type Customer struct {
	ID         int          `gorm:"primary_key" json:"id"`
	BusinessId string       `gorm:"size:36;index;not null" json:"business_id"`
	Name       string       `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      string       `gorm:"size:255" json:"email"`
	Phone      string       `gorm:"size:20" json:"phone"`
	// ScanToken is the opaque id embedded in the customer's wallet pass QR.
	// Cashiers scan it; it never exposes the numeric id.
	ScanToken   uuid.UUID    `gorm:"uniqueIndex;not null" json:"scan_token"`
	Tier        CustomerTier `gorm:"size:20;not null;default:'Bronze'" json:"tier"`
	TotalClaims int          `gorm:"not null;default:0" json:"total_claims"`
	IsActive    *bool        `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (input *NewCustomer) validate(ctx context.Context, businessId string, id string) error {
	if input.Email != "" {
		if !utils.IsValidEmail(input.Email) {
			return utils.ValidationError("invalid email")
		}
		if err := utils.ValidateUnique[Customer](ctx, businessId, "email", input.Email, id); err != nil {
			return err
		}
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.ValidationError("invalid phone number")
		}
		if err := utils.ValidateUnique[Customer](ctx, businessId, "phone", input.Phone, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId, ""); err != nil {
		return nil, err
	}

	customer := Customer{
		BusinessId: businessId,
		Name:       input.Name,
		Email:      input.Email,
		Phone:      input.Phone,
		ScanToken:  uuid.New(),
		Tier:       CustomerTierBronze,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

type LoyaltySignupInput struct {
	Token string `json:"token" binding:"required"`
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type LoyaltySignupResult struct {
	Customer *Customer `json:"customer"`
	Offer    *Offer    `json:"offer"`
}

// LoyaltySignup redeems the signup token printed in the receipt QR. The
// token carries the business and offer, so no session is needed; the
// customer record lands in the business that printed the receipt.
func LoyaltySignup(ctx context.Context, input *LoyaltySignupInput) (*LoyaltySignupResult, error) {
	claim, err := utils.LoyaltySignupTokenValidate(input.Token)
	if err != nil {
		return nil, utils.ValidationError("invalid or expired signup token")
	}

	offer, err := getActiveOffer(ctx, claim.BusinessId, claim.OfferId)
	if err != nil {
		return nil, err
	}

	newCustomer := &NewCustomer{Name: input.Name, Email: input.Email, Phone: input.Phone}
	if err := newCustomer.validate(ctx, claim.BusinessId, ""); err != nil {
		return nil, err
	}

	customer := Customer{
		BusinessId: claim.BusinessId,
		Name:       input.Name,
		Email:      input.Email,
		Phone:      input.Phone,
		ScanToken:  uuid.New(),
		Tier:       CustomerTierBronze,
		IsActive:   utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &LoyaltySignupResult{Customer: &customer, Offer: offer}, nil
}

func GetCustomerById(ctx context.Context, customerId int) (*Customer, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Customer](ctx, businessId, customerId)
}

// GetCustomerByScanToken resolves a scanned QR token to the customer. The
// business scope comes from the cashier's session, so a token scanned at the
// wrong business resolves to nothing.
func GetCustomerByScanToken(ctx context.Context, scanToken string) (*Customer, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	token, err := uuid.Parse(scanToken)
	if err != nil {
		return nil, utils.ValidationError("invalid scan token")
	}

	var customer Customer
	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("business_id = ? AND scan_token = ?", businessId, token).
		First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFoundError("customer not found")
		}
		return nil, err
	}
	if customer.IsActive != nil && !*customer.IsActive {
		return nil, utils.StateConflictError("customer is inactive")
	}
	return &customer, nil
}

// recordClaimAndTier bumps the customer's lifetime claim count, recomputes
// the tier from it inside the caller's transaction, and returns the tier the
// customer ends up on.
func recordClaimAndTier(ctx context.Context, tx Tx, customerId int) (CustomerTier, error) {
	if err := tx.DB().WithContext(ctx).Model(&Customer{}).
		Where("id = ?", customerId).
		Update("total_claims", gorm.Expr("total_claims + 1")).Error; err != nil {
		return "", err
	}

	var customer Customer
	if err := tx.DB().WithContext(ctx).Where("id = ?", customerId).First(&customer).Error; err != nil {
		return "", err
	}
	tier := tierForClaims(customer.TotalClaims)
	if tier == customer.Tier {
		return tier, nil
	}
	if err := tx.DB().WithContext(ctx).Model(&customer).Update("tier", tier).Error; err != nil {
		return "", err
	}
	return tier, nil
}
