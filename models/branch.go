package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"gorm.io/gorm"
)

type Branch struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"size:36;index;not null" json:"business_id"`
	Name          string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Phone         string    `gorm:"size:20" json:"phone"`
	Address       string    `gorm:"type:text" json:"address"`
	City          string    `gorm:"size:100" json:"city"`
	ReceiptPrefix string    `gorm:"size:10;not null;default:'INV'" json:"receipt_prefix"`
	IsActive      *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBranch struct {
	Name          string `json:"name" binding:"required"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	City          string `json:"city"`
	ReceiptPrefix string `json:"receipt_prefix"`
}

func (branch *Branch) StoreRedis() error {
	return config.SetRedisObject(fmt.Sprintf("Branch:%s:%d", branch.BusinessId, branch.ID), branch, 0)
}

func (branch *Branch) RemoveRedis() error {
	return config.RemoveRedisKey(fmt.Sprintf("Branch:%s:%d", branch.BusinessId, branch.ID))
}

func (input *NewBranch) validate(ctx context.Context, businessId string, id string) error {
	if err := utils.ValidateUnique[Branch](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.ValidationError("invalid phone number")
		}
	}
	if input.ReceiptPrefix != "" && len(input.ReceiptPrefix) > 10 {
		return utils.ValidationError("receipt prefix cannot exceed 10 characters")
	}
	return nil
}

func CreateBranch(ctx context.Context, input *NewBranch) (*Branch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId, ""); err != nil {
		return nil, err
	}

	prefix := strings.ToUpper(input.ReceiptPrefix)
	if prefix == "" {
		prefix = "INV"
	}

	branch := Branch{
		BusinessId:    businessId,
		Name:          input.Name,
		Phone:         input.Phone,
		Address:       input.Address,
		City:          input.City,
		ReceiptPrefix: prefix,
		IsActive:      utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&branch).Error; err != nil {
		return nil, err
	}
	return &branch, nil
}

type UpdateBranchInput struct {
	Name          *string `json:"name"`
	Phone         *string `json:"phone"`
	Address       *string `json:"address"`
	City          *string `json:"city"`
	ReceiptPrefix *string `json:"receipt_prefix"`
	IsActive      *bool   `json:"is_active"`
}

func UpdateBranch(ctx context.Context, branchId int, input *UpdateBranchInput) (*Branch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	branch, err := utils.FetchModel[Branch](ctx, businessId, branchId)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		if err := utils.ValidateUnique[Branch](ctx, businessId, "name", *input.Name, fmt.Sprint(branchId)); err != nil {
			return nil, err
		}
		updates["name"] = *input.Name
	}
	if input.Phone != nil {
		if *input.Phone != "" {
			if err := utils.ValidatePhoneNumber(*input.Phone, utils.CountryCode); err != nil {
				return nil, utils.ValidationError("invalid phone number")
			}
		}
		updates["phone"] = *input.Phone
	}
	if input.Address != nil {
		updates["address"] = *input.Address
	}
	if input.City != nil {
		updates["city"] = *input.City
	}
	if input.ReceiptPrefix != nil {
		prefix := strings.ToUpper(*input.ReceiptPrefix)
		if len(prefix) > 10 {
			return nil, utils.ValidationError("receipt prefix cannot exceed 10 characters")
		}
		updates["receipt_prefix"] = prefix
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}

	if len(updates) > 0 {
		db := config.GetDB()
		if err := db.WithContext(ctx).Model(branch).Updates(updates).Error; err != nil {
			return nil, err
		}
		if err := branch.RemoveRedis(); err != nil {
			return nil, err
		}
	}
	return branch, nil
}

// getReceiptPrefix reads the branch's receipt prefix through redis so checkout
// does not hit the branches table on every sale.
func getReceiptPrefix(ctx context.Context, businessId string, branchId int) (string, error) {
	if businessId == "" {
		return "", errors.New("business id is required")
	}

	var branch Branch
	exists, err := config.GetRedisObject(fmt.Sprintf("Branch:%s:%d", businessId, branchId), &branch)
	if err != nil {
		return "", err
	}
	if !exists {
		db := config.GetDB()
		if err := db.WithContext(ctx).
			Where("business_id = ? AND id = ?", businessId, branchId).
			First(&branch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", utils.NotFoundError("branch not found")
			}
			return "", err
		}
		if err := branch.StoreRedis(); err != nil {
			return "", err
		}
	}

	if branch.IsActive != nil && !*branch.IsActive {
		return "", utils.StateConflictError("branch is inactive")
	}
	return branch.ReceiptPrefix, nil
}
