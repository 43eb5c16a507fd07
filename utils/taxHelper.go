package utils

import (
	"github.com/shopspring/decimal"
)

// Pure money math for the sale engine. No I/O in this file.
//
// Every intermediate amount is rounded half-up to 2 decimal places before it
// is used again. Line items are persisted rounded and re-summed later, so
// rounding only at the end would drift totals by cents under many small items.

var (
	decimalOneHundred = decimal.NewFromInt(100)
	maxTaxRate        = decimal.NewFromInt(100)
)

// RoundMoney rounds half-up to 2 decimal places.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

func validateTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxTaxRate) {
		return ValidationError("tax rate must be between 0 and 100")
	}
	return nil
}

// TaxAmount returns round2(base * rate/100).
func TaxAmount(base decimal.Decimal, rate decimal.Decimal) (decimal.Decimal, error) {
	if base.IsNegative() {
		return decimal.Zero, ValidationError("amount cannot be negative")
	}
	if err := validateTaxRate(rate); err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(base.Mul(rate).Div(decimalOneHundred)), nil
}

// PriceWithTax returns round2(base + tax) for a tax-exclusive base price.
func PriceWithTax(base decimal.Decimal, rate decimal.Decimal) (decimal.Decimal, error) {
	taxAmount, err := TaxAmount(base, rate)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(base.Add(taxAmount)), nil
}

// PriceWithoutTax recovers the exclusive base from a tax-inclusive price:
// round2(inclusive / (1 + rate/100)). Used when a product's stored price
// already includes tax, before any line-item math.
func PriceWithoutTax(inclusivePrice decimal.Decimal, rate decimal.Decimal) (decimal.Decimal, error) {
	if inclusivePrice.IsNegative() {
		return decimal.Zero, ValidationError("amount cannot be negative")
	}
	if err := validateTaxRate(rate); err != nil {
		return decimal.Zero, err
	}
	divisor := decimal.NewFromInt(1).Add(rate.Div(decimalOneHundred))
	return RoundMoney(inclusivePrice.Div(divisor)), nil
}

type SaleTotalItem struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
}

type SaleTotals struct {
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// CalculateSaleTotals sums line subtotals and per-line tax, then applies the
// discount: total = round2(subtotal + tax - discount). UnitPrice must already
// be the tax-exclusive base (see PriceWithoutTax).
func CalculateSaleTotals(items []SaleTotalItem, discount decimal.Decimal) (SaleTotals, error) {
	if discount.IsNegative() {
		return SaleTotals{}, ValidationError("discount cannot be negative")
	}

	var subtotal, totalTax decimal.Decimal
	for _, item := range items {
		if item.Quantity.IsNegative() || item.Quantity.IsZero() {
			return SaleTotals{}, ValidationError("item quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return SaleTotals{}, ValidationError("item unit price cannot be negative")
		}
		itemSubtotal := RoundMoney(item.Quantity.Mul(item.UnitPrice))
		itemTax, err := TaxAmount(itemSubtotal, item.TaxRate)
		if err != nil {
			return SaleTotals{}, err
		}
		subtotal = subtotal.Add(itemSubtotal)
		totalTax = totalTax.Add(itemTax)
	}

	return SaleTotals{
		Subtotal:       subtotal,
		TaxAmount:      totalTax,
		DiscountAmount: discount,
		Total:          RoundMoney(subtotal.Add(totalTax).Sub(discount)),
	}, nil
}

// ClampLoyaltyDiscount bounds a requested loyalty discount by the sale's
// pre-discount ceiling (subtotal + tax). A discount can zero a sale out but
// never drive the total negative.
func ClampLoyaltyDiscount(requested decimal.Decimal, ceiling decimal.Decimal) decimal.Decimal {
	if requested.IsNegative() {
		return decimal.Zero
	}
	if requested.GreaterThan(ceiling) {
		return ceiling
	}
	return requested
}
