package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"github.com/stampnote/loyalty_backend/walletsync"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const saleModuleName = "sale"

type Sale struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:36;index;not null" json:"business_id"`
	BranchId   int    `gorm:"not null" json:"branch_id"`
	CustomerId *int   `json:"customer_id"`

	// SaleNumber is the human-facing sequential number, e.g. INV-2026-000042.
	SaleNumber string `gorm:"size:30;index;not null" json:"sale_number"`
	SequenceNo int64  `gorm:"not null" json:"sequence_no"`

	Subtotal              decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	TaxAmount             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tax_amount"`
	DiscountAmount        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"discount_amount"`
	LoyaltyDiscountAmount decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"loyalty_discount_amount"`
	TotalAmount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`

	PaymentMethod   PaymentMethod `gorm:"size:20;not null" json:"payment_method"`
	Status          SaleStatus    `gorm:"size:20;not null;default:'Completed'" json:"status"`
	StatusReason    string        `gorm:"type:text" json:"status_reason"`
	StatusChangedAt *time.Time    `json:"status_changed_at"`
	LoyaltyRedeemed *bool         `gorm:"not null;default:false" json:"loyalty_redeemed"`

	SoldBy    int       `gorm:"not null;default:0" json:"sold_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Items []SaleItem `gorm:"foreignKey:SaleId" json:"items"`
}

// SaleItem snapshots the product at sale time. Receipts stay historically
// accurate even if the product is renamed or repriced later.
type SaleItem struct {
	ID        int    `gorm:"primary_key" json:"id"`
	SaleId    int    `gorm:"index;not null" json:"sale_id"`
	ProductId int    `gorm:"not null" json:"product_id"`
	Name      string `gorm:"size:100;not null" json:"name"`
	Sku       string `gorm:"size:50" json:"sku"`

	Quantity  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TaxRate   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tax_rate"`
	Subtotal  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	TaxAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tax_amount"`
	Total     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewSaleItem struct {
	ProductId int             `json:"product_id" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity" binding:"required"`
}

type LoyaltyRedemption struct {
	CustomerId int `json:"customer_id" binding:"required"`
	OfferId    int `json:"offer_id" binding:"required"`
}

type NewSale struct {
	Items             []NewSaleItem      `json:"items" binding:"required"`
	PaymentMethod     string             `json:"payment_method" binding:"required"`
	Discount          decimal.Decimal    `json:"discount"`
	CustomerId        *int               `json:"customer_id"`
	LoyaltyRedemption *LoyaltyRedemption `json:"loyalty_redemption"`
}

// LoyaltyClaimOutcome reports what happened to the redeemed reward. A failed
// claim never rolls back the sale; it is surfaced here for reconciliation.
type LoyaltyClaimOutcome struct {
	Requested bool   `json:"requested"`
	Claimed   bool   `json:"claimed"`
	Error     string `json:"error,omitempty"`
}

type CreateSaleResult struct {
	Sale          *Sale                   `json:"sale"`
	Receipt       *Receipt                `json:"receipt"`
	LoyaltyClaim  LoyaltyClaimOutcome     `json:"loyalty_claim"`
	WalletResults []walletsync.PushResult `json:"wallet_results"`
}

func (input *NewSale) validate() (PaymentMethod, error) {
	if len(input.Items) == 0 {
		return "", utils.ValidationError("sale must contain at least one item")
	}
	for _, item := range input.Items {
		if item.Quantity.IsZero() || item.Quantity.IsNegative() {
			return "", utils.ValidationError(fmt.Sprintf("invalid quantity for product %d", item.ProductId))
		}
	}
	if input.Discount.IsNegative() {
		return "", utils.ValidationError("discount cannot be negative")
	}
	var method PaymentMethod
	if err := method.Parse(input.PaymentMethod); err != nil {
		return "", utils.ValidationError("invalid payment method")
	}
	if input.LoyaltyRedemption != nil && input.CustomerId != nil &&
		*input.CustomerId != input.LoyaltyRedemption.CustomerId {
		return "", utils.ValidationError("loyalty redemption customer does not match sale customer")
	}
	return method, nil
}

// CreateSale is the checkout path. Everything money-affecting happens inside
// one transaction: product validation, totals, sequence numbers, the sale and
// its line items, product counters, and the receipt. The loyalty claim also
// runs inside it but is allowed to fail without rolling the sale back, and
// the wallet push runs strictly after commit.
func CreateSale(ctx context.Context, input *NewSale) (*CreateSaleResult, error) {
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	branchId, ok := utils.GetBranchIdFromContext(ctx)
	if !ok || branchId <= 0 {
		return nil, errors.New("branch id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	method, err := input.validate()
	if err != nil {
		return nil, err
	}
	if input.CustomerId != nil {
		if err := utils.ValidateResourceId[Customer](ctx, businessId, *input.CustomerId); err != nil {
			return nil, err
		}
	}

	business, err := GetBusinessById(ctx, businessId)
	if err != nil {
		return nil, err
	}
	prefix, err := getReceiptPrefix(ctx, businessId, branchId)
	if err != nil {
		return nil, err
	}

	var redeemCustomer *Customer
	var redeemOffer *Offer
	if input.LoyaltyRedemption != nil {
		redeemCustomer, err = utils.FetchModel[Customer](ctx, businessId, input.LoyaltyRedemption.CustomerId)
		if err != nil {
			return nil, err
		}
		redeemOffer, err = getActiveOffer(ctx, businessId, input.LoyaltyRedemption.OfferId)
		if err != nil {
			return nil, err
		}
	}

	year := businessYear(business, time.Now())
	result := &CreateSaleResult{
		LoyaltyClaim: LoyaltyClaimOutcome{Requested: input.LoyaltyRedemption != nil},
	}
	var redeemProgress *StampProgress

	err = WithTransaction(ctx, func(tx Tx) error {
		// 1. products must all exist, be active, and be sellable at the branch
		productIds := make([]int, 0, len(input.Items))
		for _, item := range input.Items {
			productIds = append(productIds, item.ProductId)
		}
		products, err := loadSaleProducts(ctx, tx, businessId, branchId, productIds)
		if err != nil {
			return err
		}

		// 2. a redemption needs a completed card before any math happens
		if input.LoyaltyRedemption != nil {
			redeemProgress, err = lockStampProgress(ctx, tx, businessId, redeemCustomer.ID, redeemOffer)
			if err != nil {
				return err
			}
			if !redeemProgress.completed() {
				return utils.StateConflictError("reward not available: stamp card is not completed")
			}
		}

		// 3. snapshot prices, recovering the exclusive base for tax-inclusive
		// products before any line math
		totalItems := make([]utils.SaleTotalItem, 0, len(input.Items))
		saleItems := make([]SaleItem, 0, len(input.Items))
		for _, item := range input.Items {
			product := products[item.ProductId]
			basePrice := product.UnitPrice
			if utils.DereferencePtr(product.PriceIncludesTax) {
				basePrice, err = utils.PriceWithoutTax(product.UnitPrice, product.TaxRate)
				if err != nil {
					return err
				}
			}
			itemSubtotal := utils.RoundMoney(item.Quantity.Mul(basePrice))
			itemTax, err := utils.TaxAmount(itemSubtotal, product.TaxRate)
			if err != nil {
				return err
			}
			totalItems = append(totalItems, utils.SaleTotalItem{
				Quantity:  item.Quantity,
				UnitPrice: basePrice,
				TaxRate:   product.TaxRate,
			})
			saleItems = append(saleItems, SaleItem{
				ProductId: product.ID,
				Name:      product.Name,
				Sku:       product.Sku,
				Quantity:  item.Quantity,
				UnitPrice: basePrice,
				TaxRate:   product.TaxRate,
				Subtotal:  itemSubtotal,
				TaxAmount: itemTax,
				Total:     utils.RoundMoney(itemSubtotal.Add(itemTax)),
			})
		}

		// 4. totals twice: discount-free pass establishes the clamp ceiling
		ceilingTotals, err := utils.CalculateSaleTotals(totalItems, decimal.Zero)
		if err != nil {
			return err
		}
		ceiling := utils.RoundMoney(ceilingTotals.Subtotal.Add(ceilingTotals.TaxAmount))

		loyaltyDiscount := decimal.Zero
		if input.LoyaltyRedemption != nil {
			loyaltyDiscount = utils.ClampLoyaltyDiscount(redeemOffer.RewardValue, ceiling)
		}

		totals, err := utils.CalculateSaleTotals(totalItems, utils.RoundMoney(input.Discount.Add(loyaltyDiscount)))
		if err != nil {
			return err
		}
		if totals.Total.IsNegative() {
			return utils.ValidationError("discount exceeds sale total")
		}

		// 5. sequence number, sale, line items, product counters
		sequenceNo, err := NextValue(ctx, tx, SequenceKindSale, year, businessId, branchId)
		if err != nil {
			return err
		}

		sale := Sale{
			BusinessId:            businessId,
			BranchId:              branchId,
			CustomerId:            input.CustomerId,
			SaleNumber:            fmt.Sprintf("%s-%d-%06d", prefix, year, sequenceNo),
			SequenceNo:            sequenceNo,
			Subtotal:              totals.Subtotal,
			TaxAmount:             totals.TaxAmount,
			DiscountAmount:        input.Discount,
			LoyaltyDiscountAmount: loyaltyDiscount,
			TotalAmount:           totals.Total,
			PaymentMethod:         method,
			Status:                SaleStatusCompleted,
			LoyaltyRedeemed:       utils.NewFalse(),
			SoldBy:                userId,
		}
		if input.LoyaltyRedemption != nil {
			customerId := redeemCustomer.ID
			sale.CustomerId = &customerId
		}
		if err := tx.DB().WithContext(ctx).Create(&sale).Error; err != nil {
			return err
		}

		for i := range saleItems {
			saleItems[i].SaleId = sale.ID
		}
		if err := tx.DB().WithContext(ctx).Create(&saleItems).Error; err != nil {
			return err
		}
		sale.Items = saleItems

		for _, item := range saleItems {
			if err := applyProductCounters(ctx, tx, item.ProductId, item.Quantity, item.Total); err != nil {
				return err
			}
		}

		// 6, 7. receipt content from the uncommitted sale, then persist
		content, err := BuildReceiptContent(ctx, tx, sale.ID, true)
		if err != nil {
			return err
		}
		receipt, err := persistReceipt(ctx, tx, &sale, content, year)
		if err != nil {
			return err
		}

		// 8. claim the redeemed reward; a failure here is logged and reported,
		// never rolled into the sale's fate
		if input.LoyaltyRedemption != nil {
			if claimErr := claimRedemption(ctx, tx, redeemProgress, redeemCustomer.ID); claimErr != nil {
				config.LogError(logger, saleModuleName, "CreateSale", "claim reward", sale.ID, claimErr)
				result.LoyaltyClaim.Error = claimErr.Error()
			} else {
				result.LoyaltyClaim.Claimed = true
				sale.LoyaltyRedeemed = utils.NewTrue()
				if err := tx.DB().WithContext(ctx).Model(&sale).
					Update("loyalty_redeemed", true).Error; err != nil {
					return err
				}
			}
		}

		result.Sale = &sale
		result.Receipt = receipt
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 10. post-commit wallet push, reported per provider, never fatal
	if redeemCustomer != nil && redeemProgress != nil {
		result.WalletResults = syncWalletProviders(ctx, redeemCustomer, redeemOffer, redeemProgress)
	}

	return result, nil
}

// claimRedemption runs inside the sale transaction but under its own
// savepoint: a failed claim must leave zero claim mutations behind while the
// surrounding sale still commits. Anything less would consume the stamps
// without crediting the customer and leave nothing to reconcile against.
func claimRedemption(ctx context.Context, tx Tx, progress *StampProgress, customerId int) error {
	return progress.claimWithRollback(func() error {
		return tx.DB().WithContext(ctx).Transaction(func(inner *gorm.DB) error {
			innerTx := Tx{db: inner}
			if err := progress.save(ctx, innerTx); err != nil {
				return err
			}
			_, err := recordClaimAndTier(ctx, innerTx, customerId)
			return err
		})
	})
}

func GetSaleById(ctx context.Context, saleId int) (*Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Sale](ctx, businessId, saleId, "Items")
}

type SaleStatusInput struct {
	Reason string `json:"reason" binding:"required"`
}

// RefundSale reverses a completed sale: flips the status, records the reason,
// and backs the product counters out with the negated deltas.
func RefundSale(ctx context.Context, saleId int, input *SaleStatusInput) (*Sale, error) {
	return transitionSale(ctx, saleId, SaleStatusRefunded, input.Reason)
}

// CancelSale is the same reversal under a different terminal status.
func CancelSale(ctx context.Context, saleId int, input *SaleStatusInput) (*Sale, error) {
	return transitionSale(ctx, saleId, SaleStatusCancelled, input.Reason)
}

func transitionSale(ctx context.Context, saleId int, target SaleStatus, reason string) (*Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if reason == "" {
		return nil, utils.ValidationError("a reason is required")
	}

	var sale Sale
	err := WithTransaction(ctx, func(tx Tx) error {
		err := tx.DB().WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND id = ?", businessId, saleId).
			First(&sale).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NotFoundError("sale not found")
			}
			return err
		}
		if sale.Status != SaleStatusCompleted {
			return utils.StateConflictError(fmt.Sprintf("sale is already %s", sale.Status))
		}

		var items []SaleItem
		if err := tx.DB().WithContext(ctx).Where("sale_id = ?", sale.ID).Find(&items).Error; err != nil {
			return err
		}
		for _, item := range items {
			if err := applyProductCounters(ctx, tx, item.ProductId, item.Quantity.Neg(), item.Total.Neg()); err != nil {
				return err
			}
		}
		sale.Items = items

		now := time.Now()
		sale.Status = target
		sale.StatusReason = reason
		sale.StatusChangedAt = &now
		return tx.DB().WithContext(ctx).Model(&sale).
			Updates(map[string]interface{}{
				"status":            target,
				"status_reason":     reason,
				"status_changed_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}
