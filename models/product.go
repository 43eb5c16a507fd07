package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"gorm.io/gorm"
)

type Product struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:36;index;not null" json:"business_id"`
	// BranchId 0 means the product is sold at every branch.
	BranchId  int             `gorm:"not null;default:0" json:"branch_id"`
	Name      string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Sku       string          `gorm:"size:50" json:"sku"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price" binding:"required"`
	TaxRate   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"tax_rate"`
	// PriceIncludesTax marks UnitPrice as tax-inclusive; checkout strips the
	// tax out before line-item math.
	PriceIncludesTax *bool `gorm:"not null;default:false" json:"price_includes_tax"`

	// Lifetime counters, moved additively so refunds can reverse them.
	TotalSold    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_sold"`
	TotalRevenue decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_revenue"`

	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	BranchId         int             `json:"branch_id"`
	Name             string          `json:"name" binding:"required"`
	Sku              string          `json:"sku"`
	UnitPrice        decimal.Decimal `json:"unit_price" binding:"required"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	PriceIncludesTax *bool           `json:"price_includes_tax"`
}

func (input *NewProduct) validate(ctx context.Context, businessId string, id string) error {
	if input.UnitPrice.IsNegative() {
		return utils.ValidationError("unit price cannot be negative")
	}
	if input.TaxRate.IsNegative() || input.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return utils.ValidationError("tax rate must be between 0 and 100")
	}
	if input.Sku != "" {
		if err := utils.ValidateUnique[Product](ctx, businessId, "sku", input.Sku, id); err != nil {
			return err
		}
	}
	return utils.ValidateUnique[Product](ctx, businessId, "name", input.Name, id)
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId, ""); err != nil {
		return nil, err
	}

	includesTax := utils.NewFalse()
	if input.PriceIncludesTax != nil {
		includesTax = input.PriceIncludesTax
	}

	product := Product{
		BusinessId:       businessId,
		BranchId:         input.BranchId,
		Name:             input.Name,
		Sku:              input.Sku,
		UnitPrice:        input.UnitPrice,
		TaxRate:          input.TaxRate,
		PriceIncludesTax: includesTax,
		TotalSold:        decimal.Zero,
		TotalRevenue:     decimal.Zero,
		IsActive:         utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

type UpdateProductInput struct {
	Name             *string          `json:"name"`
	Sku              *string          `json:"sku"`
	UnitPrice        *decimal.Decimal `json:"unit_price"`
	TaxRate          *decimal.Decimal `json:"tax_rate"`
	PriceIncludesTax *bool            `json:"price_includes_tax"`
	IsActive         *bool            `json:"is_active"`
}

func UpdateProduct(ctx context.Context, productId int, input *UpdateProductInput) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	product, err := utils.FetchModel[Product](ctx, businessId, productId)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		if err := utils.ValidateUnique[Product](ctx, businessId, "name", *input.Name, fmt.Sprint(productId)); err != nil {
			return nil, err
		}
		updates["name"] = *input.Name
	}
	if input.Sku != nil {
		if *input.Sku != "" {
			if err := utils.ValidateUnique[Product](ctx, businessId, "sku", *input.Sku, fmt.Sprint(productId)); err != nil {
				return nil, err
			}
		}
		updates["sku"] = *input.Sku
	}
	if input.UnitPrice != nil {
		if input.UnitPrice.IsNegative() {
			return nil, utils.ValidationError("unit price cannot be negative")
		}
		updates["unit_price"] = *input.UnitPrice
	}
	if input.TaxRate != nil {
		if input.TaxRate.IsNegative() || input.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
			return nil, utils.ValidationError("tax rate must be between 0 and 100")
		}
		updates["tax_rate"] = *input.TaxRate
	}
	if input.PriceIncludesTax != nil {
		updates["price_includes_tax"] = *input.PriceIncludesTax
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}

	if len(updates) > 0 {
		db := config.GetDB()
		if err := db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return product, nil
}

func GetProductById(ctx context.Context, productId int) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Product](ctx, businessId, productId)
}

func GetProducts(ctx context.Context, branchId int) ([]Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var products []Product
	db := config.GetDB()
	query := db.WithContext(ctx).Where("business_id = ?", businessId)
	if branchId > 0 {
		query = query.Where("branch_id = ? OR branch_id = 0", branchId)
	}
	if err := query.Order("name asc").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// loadSaleProducts fetches every product on a sale in one query and checks
// each is active and sellable at the branch. Returned map is keyed by id.
func loadSaleProducts(ctx context.Context, tx Tx, businessId string, branchId int, productIds []int) (map[int]Product, error) {
	ids := utils.UniqueSlice(productIds)

	var products []Product
	err := tx.DB().WithContext(ctx).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Find(&products).Error
	if err != nil {
		return nil, err
	}

	byId := make(map[int]Product, len(products))
	for _, product := range products {
		byId[product.ID] = product
	}

	for _, id := range ids {
		product, ok := byId[id]
		if !ok {
			return nil, utils.NotFoundError(fmt.Sprintf("product %d not found", id))
		}
		if product.IsActive != nil && !*product.IsActive {
			return nil, utils.StateConflictError(fmt.Sprintf("product %d is inactive", id))
		}
		if product.BranchId != 0 && product.BranchId != branchId {
			return nil, utils.ValidationError(fmt.Sprintf("product %d is not sold at this branch", id))
		}
	}
	return byId, nil
}

// applyProductCounters moves TotalSold and TotalRevenue by the given deltas.
// Checkout passes positive amounts; refund and cancel pass the negation, so
// the same statement reverses itself.
func applyProductCounters(ctx context.Context, tx Tx, productId int, quantityDelta decimal.Decimal, revenueDelta decimal.Decimal) error {
	return tx.DB().WithContext(ctx).Model(&Product{}).
		Where("id = ?", productId).
		Updates(map[string]interface{}{
			"total_sold":    gorm.Expr("total_sold + ?", quantityDelta),
			"total_revenue": gorm.Expr("total_revenue + ?", revenueDelta),
		}).Error
}
