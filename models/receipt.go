package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"gorm.io/gorm"
)

const loyaltySignupTokenTTL = 72 * time.Hour

// Receipt is the one-to-one persisted snapshot of a sale's printable content.
// Content may be regenerated; the sale linkage and receipt number never change.
type Receipt struct {
	ID            int    `gorm:"primary_key" json:"id"`
	BusinessId    string `gorm:"size:36;index;not null" json:"business_id"`
	SaleId        int    `gorm:"uniqueIndex;not null" json:"sale_id"`
	ReceiptNumber string `gorm:"size:30;index;not null" json:"receipt_number"`
	Content       string `gorm:"type:json;not null" json:"content"`

	PrintCount    int        `gorm:"not null;default:0" json:"print_count"`
	LastPrintedAt *time.Time `json:"last_printed_at"`
	EmailCount    int        `gorm:"not null;default:0" json:"email_count"`
	LastEmailedAt *time.Time `json:"last_emailed_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReceiptContent is the flat, renderer-agnostic receipt structure. PDF and
// thermal renderers consume this; nothing here knows about layout.
type ReceiptContent struct {
	BusinessName    string `json:"business_name"`
	BusinessAddress string `json:"business_address"`
	BusinessPhone   string `json:"business_phone"`
	TaxId           string `json:"tax_id,omitempty"`
	BranchName      string `json:"branch_name"`
	BranchAddress   string `json:"branch_address,omitempty"`

	SaleNumber    string `json:"sale_number"`
	SaleDate      string `json:"sale_date"`
	PaymentMethod string `json:"payment_method"`
	CustomerName  string `json:"customer_name,omitempty"`
	SoldBy        string `json:"sold_by,omitempty"`

	Items []ReceiptItem `json:"items"`

	Subtotal              decimal.Decimal `json:"subtotal"`
	TaxAmount             decimal.Decimal `json:"tax_amount"`
	DiscountAmount        decimal.Decimal `json:"discount_amount"`
	LoyaltyDiscountAmount decimal.Decimal `json:"loyalty_discount_amount"`
	TotalAmount           decimal.Decimal `json:"total_amount"`

	LoyaltySignup *LoyaltySignupBlock `json:"loyalty_signup,omitempty"`
	Footer        string              `json:"footer,omitempty"`
}

type ReceiptItem struct {
	Name      string          `json:"name"`
	Sku       string          `json:"sku,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
}

// LoyaltySignupBlock is the scannable join-our-offer payload printed at the
// bottom of the receipt.
type LoyaltySignupBlock struct {
	OfferName string `json:"offer_name"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// BuildReceiptContent assembles the receipt for a sale. All reads go through
// the caller's transaction so a sale persisted moments ago in the same unit
// of work is visible here before commit.
func BuildReceiptContent(ctx context.Context, tx Tx, saleId int, includeLoyaltyQR bool) (*ReceiptContent, error) {
	var sale Sale
	err := tx.DB().WithContext(ctx).
		Preload("Items").
		Where("id = ?", saleId).
		First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFoundError("sale not found")
		}
		return nil, err
	}

	var business Business
	if err := tx.DB().WithContext(ctx).Where("id = ?", sale.BusinessId).First(&business).Error; err != nil {
		return nil, err
	}
	var branch Branch
	if err := tx.DB().WithContext(ctx).
		Where("business_id = ? AND id = ?", sale.BusinessId, sale.BranchId).
		First(&branch).Error; err != nil {
		return nil, err
	}

	content := ReceiptContent{
		BusinessName:          business.Name,
		BusinessAddress:       business.Address,
		BusinessPhone:         business.Phone,
		TaxId:                 business.TaxId,
		BranchName:            branch.Name,
		BranchAddress:         branch.Address,
		SaleNumber:            sale.SaleNumber,
		SaleDate:              sale.CreatedAt.Format(time.RFC3339),
		PaymentMethod:         string(sale.PaymentMethod),
		Subtotal:              sale.Subtotal,
		TaxAmount:             sale.TaxAmount,
		DiscountAmount:        sale.DiscountAmount,
		LoyaltyDiscountAmount: sale.LoyaltyDiscountAmount,
		TotalAmount:           sale.TotalAmount,
		Footer:                business.ReceiptFooter,
	}

	if sale.CustomerId != nil {
		var customer Customer
		if err := tx.DB().WithContext(ctx).Where("id = ?", *sale.CustomerId).First(&customer).Error; err == nil {
			content.CustomerName = customer.Name
		}
	}
	if sale.SoldBy > 0 {
		var seller User
		if err := tx.DB().WithContext(ctx).Where("id = ?", sale.SoldBy).First(&seller).Error; err == nil {
			content.SoldBy = seller.Name
		}
	}

	content.Items = make([]ReceiptItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		content.Items = append(content.Items, ReceiptItem{
			Name:      item.Name,
			Sku:       item.Sku,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			TaxRate:   item.TaxRate,
			Subtotal:  item.Subtotal,
			TaxAmount: item.TaxAmount,
			Total:     item.Total,
		})
	}

	if includeLoyaltyQR {
		block, err := buildLoyaltySignupBlock(ctx, tx, sale.BusinessId)
		if err != nil {
			config.LogError(config.GetLogger(), "receipt", "BuildReceiptContent", "loyalty signup block", sale.ID, err)
		} else {
			content.LoyaltySignup = block
		}
	}

	return &content, nil
}

// buildLoyaltySignupBlock embeds a time-boxed signup token for the business's
// most recent active offer. A business without offers simply gets no block.
func buildLoyaltySignupBlock(ctx context.Context, tx Tx, businessId string) (*LoyaltySignupBlock, error) {
	var offer Offer
	err := tx.DB().WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessId, true).
		Order("created_at desc").
		First(&offer).Error
	if err != nil {
		return nil, nil
	}

	token, err := utils.LoyaltySignupTokenGenerate(businessId, offer.ID, loyaltySignupTokenTTL)
	if err != nil {
		return nil, err
	}
	return &LoyaltySignupBlock{
		OfferName: offer.Name,
		Token:     token,
		ExpiresAt: time.Now().Add(loyaltySignupTokenTTL).Format(time.RFC3339),
	}, nil
}

// persistReceipt mints the receipt number (business-wide scope, branch 0) and
// writes the receipt inside the same transaction as its sale. The year is the
// business-local one the caller already resolved for the sale number, so both
// numbers always roll over together.
func persistReceipt(ctx context.Context, tx Tx, sale *Sale, content *ReceiptContent, year int) (*Receipt, error) {
	sequenceNo, err := NextValue(ctx, tx, SequenceKindReceipt, year, sale.BusinessId, 0)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	receipt := Receipt{
		BusinessId:    sale.BusinessId,
		SaleId:        sale.ID,
		ReceiptNumber: fmt.Sprintf("RCP-%d-%06d", year, sequenceNo),
		Content:       string(encoded),
	}
	if err := tx.DB().WithContext(ctx).Create(&receipt).Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}

func GetReceiptBySaleId(ctx context.Context, saleId int) (*Receipt, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var receipt Receipt
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND sale_id = ?", businessId, saleId).
		First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFoundError("receipt not found")
		}
		return nil, err
	}
	return &receipt, nil
}

// RegenerateReceipt rebuilds the content snapshot in place. Identity, number,
// and sale linkage stay as minted at checkout.
func RegenerateReceipt(ctx context.Context, saleId int) (*Receipt, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var receipt Receipt
	err := WithTransaction(ctx, func(tx Tx) error {
		err := tx.DB().WithContext(ctx).
			Where("business_id = ? AND sale_id = ?", businessId, saleId).
			First(&receipt).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NotFoundError("receipt not found")
			}
			return err
		}

		content, err := BuildReceiptContent(ctx, tx, saleId, true)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(content)
		if err != nil {
			return err
		}
		receipt.Content = string(encoded)
		return tx.DB().WithContext(ctx).Model(&receipt).Update("content", receipt.Content).Error
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// MarkReceiptPrinted bumps the print audit fields.
func MarkReceiptPrinted(ctx context.Context, saleId int) (*Receipt, error) {
	return bumpReceiptAudit(ctx, saleId, "print_count", "last_printed_at")
}

// MarkReceiptEmailed bumps the email audit fields.
func MarkReceiptEmailed(ctx context.Context, saleId int) (*Receipt, error) {
	return bumpReceiptAudit(ctx, saleId, "email_count", "last_emailed_at")
}

func bumpReceiptAudit(ctx context.Context, saleId int, countColumn string, timeColumn string) (*Receipt, error) {
	receipt, err := GetReceiptBySaleId(ctx, saleId)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	db := config.GetDB()
	err = db.WithContext(ctx).Model(receipt).
		Updates(map[string]interface{}{
			countColumn: gorm.Expr(countColumn + " + 1"),
			timeColumn:  now,
		}).Error
	if err != nil {
		return nil, err
	}
	return GetReceiptBySaleId(ctx, saleId)
}
