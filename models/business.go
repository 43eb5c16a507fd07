package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"gorm.io/gorm"
)

type Business struct {
	ID            uuid.UUID `gorm:"primary_key" json:"id"`
	LogoUrl       string    `json:"logo_url"`
	Name          string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName   string    `gorm:"size:100" json:"contact_name"`
	Email         string    `gorm:"size:255" json:"email"`
	Phone         string    `gorm:"size:20" json:"phone"`
	Website       string    `gorm:"size:255" json:"website"`
	Address       string    `gorm:"type:text" json:"address"`
	Country       string    `gorm:"size:100" json:"country"`
	City          string    `gorm:"size:100" json:"city"`
	Timezone      string    `gorm:"size:50" json:"timezone"`
	TaxId         string    `gorm:"size:100" json:"tax_id"`
	ReceiptFooter string    `gorm:"type:text" json:"receipt_footer"`

	PrimaryBranchId int       `gorm:"not null" json:"primary_branch_id"`
	IsActive        *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	LogoUrl       string `json:"logo_url"`
	Name          string `json:"name" binding:"required"`
	ContactName   string `json:"contact_name"`
	Email         string `json:"email" binding:"required"`
	Phone         string `json:"phone"`
	Website       string `json:"website"`
	Address       string `json:"address"`
	Country       string `json:"country"`
	City          string `json:"city"`
	Timezone      string `json:"timezone"`
	TaxId         string `json:"tax_id"`
	ReceiptFooter string `json:"receipt_footer"`
}

func (business *Business) StoreRedis() error {
	return config.SetRedisObject("Business:"+fmt.Sprint(business.ID), business, 0)
}

func (business *Business) RemoveRedis() error {
	return config.RemoveRedisKey("Business:" + fmt.Sprint(business.ID))
}

func (input *NewBusiness) validate(ctx context.Context, id string) error {
	// name
	if err := utils.ValidateUnique[Business](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	// email
	if err := utils.ValidateUnique[Business](ctx, "", "email", input.Email, id); err != nil {
		return err
	}
	if !utils.IsValidEmail(input.Email) {
		return utils.ValidationError("invalid email")
	}
	// phone
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.ValidationError("invalid phone number")
		}
		if err := utils.ValidateUnique[Business](ctx, "", "phone", input.Phone, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateBusiness creates the business plus its primary branch. The branch is
// what sale/receipt sequences and receipt prefixes hang off.
func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}

	BID := uuid.New()
	timezone := "Asia/Yangon"
	if input.Timezone != "" {
		timezone = input.Timezone
	}

	business := Business{
		ID:            BID,
		LogoUrl:       input.LogoUrl,
		Name:          input.Name,
		ContactName:   input.ContactName,
		Email:         input.Email,
		Phone:         input.Phone,
		Website:       input.Website,
		Address:       input.Address,
		Country:       input.Country,
		City:          input.City,
		Timezone:      timezone,
		TaxId:         input.TaxId,
		ReceiptFooter: input.ReceiptFooter,
		IsActive:      utils.NewTrue(),
	}

	err := WithTransaction(ctx, func(tx Tx) error {
		if err := tx.DB().Create(&business).Error; err != nil {
			return err
		}
		branch := Branch{
			BusinessId:    BID.String(),
			Name:          "Primary Branch",
			ReceiptPrefix: "INV",
			IsActive:      utils.NewTrue(),
		}
		if err := tx.DB().Create(&branch).Error; err != nil {
			return err
		}
		return tx.DB().Model(&business).Update("primary_branch_id", branch.ID).Error
	})
	if err != nil {
		return nil, err
	}

	return &business, nil
}

// GetBusinessById reads redis first, then the db, caching the result.
func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	if businessId == "" {
		return nil, errors.New("business id is required")
	}

	var business Business
	exists, err := config.GetRedisObject("Business:"+businessId, &business)
	if err != nil {
		return nil, err
	}
	if exists {
		return &business, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := business.StoreRedis(); err != nil {
		return nil, err
	}
	return &business, nil
}

// businessYear is the calendar year at the business's location. Sequence
// scopes roll over at the business's local midnight, not the server's.
func businessYear(business *Business, now time.Time) int {
	if business.Timezone == "" {
		return now.Year()
	}
	loc, err := time.LoadLocation(business.Timezone)
	if err != nil {
		return now.Year()
	}
	return now.In(loc).Year()
}
