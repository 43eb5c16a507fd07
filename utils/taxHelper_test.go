package utils_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stampnote/loyalty_backend/utils"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTaxAmount(t *testing.T) {
	got, err := utils.TaxAmount(dec("100.00"), dec("15"))
	if err != nil {
		t.Fatalf("TaxAmount: %v", err)
	}
	if !got.Equal(dec("15.00")) {
		t.Fatalf("TaxAmount = %s, want 15.00", got)
	}

	// half-up at the second decimal
	got, err = utils.TaxAmount(dec("10.03"), dec("5"))
	if err != nil {
		t.Fatalf("TaxAmount: %v", err)
	}
	if !got.Equal(dec("0.50")) {
		t.Fatalf("TaxAmount = %s, want 0.50", got)
	}
}

func TestTaxAmountRejectsBadInput(t *testing.T) {
	if _, err := utils.TaxAmount(dec("-1"), dec("5")); err == nil {
		t.Fatal("negative base accepted")
	}
	if _, err := utils.TaxAmount(dec("10"), dec("-1")); err == nil {
		t.Fatal("negative rate accepted")
	}
	if _, err := utils.TaxAmount(dec("10"), dec("101")); err == nil {
		t.Fatal("rate above 100 accepted")
	}
}

func TestPriceWithTaxRoundTrip(t *testing.T) {
	cases := []struct{ base, rate string }{
		{"100.00", "15"},
		{"9.99", "7.5"},
		{"0.01", "5"},
		{"1234.56", "20"},
		{"50.00", "0"},
	}
	oneCent := dec("0.01")
	for _, tc := range cases {
		inclusive, err := utils.PriceWithTax(dec(tc.base), dec(tc.rate))
		if err != nil {
			t.Fatalf("PriceWithTax(%s, %s): %v", tc.base, tc.rate, err)
		}
		recovered, err := utils.PriceWithoutTax(inclusive, dec(tc.rate))
		if err != nil {
			t.Fatalf("PriceWithoutTax(%s, %s): %v", inclusive, tc.rate, err)
		}
		diff := recovered.Sub(dec(tc.base)).Abs()
		if diff.GreaterThan(oneCent) {
			t.Fatalf("round trip %s @ %s%%: got %s back, off by %s", tc.base, tc.rate, recovered, diff)
		}
	}
}

func TestPriceWithoutTaxRecoversExclusiveBase(t *testing.T) {
	// stored price 115.00 tax-inclusive at 15% recovers a 100.00 base
	base, err := utils.PriceWithoutTax(dec("115.00"), dec("15"))
	if err != nil {
		t.Fatalf("PriceWithoutTax: %v", err)
	}
	if !base.Equal(dec("100.00")) {
		t.Fatalf("base = %s, want 100.00", base)
	}
}

func TestCalculateSaleTotalsSimpleSale(t *testing.T) {
	// two items at 50.00 exclusive, 15% tax, no discount
	items := []utils.SaleTotalItem{
		{Quantity: dec("1"), UnitPrice: dec("50.00"), TaxRate: dec("15")},
		{Quantity: dec("1"), UnitPrice: dec("50.00"), TaxRate: dec("15")},
	}
	totals, err := utils.CalculateSaleTotals(items, decimal.Zero)
	if err != nil {
		t.Fatalf("CalculateSaleTotals: %v", err)
	}
	if !totals.Subtotal.Equal(dec("100.00")) {
		t.Fatalf("subtotal = %s, want 100.00", totals.Subtotal)
	}
	if !totals.TaxAmount.Equal(dec("15.00")) {
		t.Fatalf("tax = %s, want 15.00", totals.TaxAmount)
	}
	if !totals.Total.Equal(dec("115.00")) {
		t.Fatalf("total = %s, want 115.00", totals.Total)
	}
}

func TestCalculateSaleTotalsWithDiscount(t *testing.T) {
	items := []utils.SaleTotalItem{
		{Quantity: dec("3"), UnitPrice: dec("10.00"), TaxRate: dec("5")},
	}
	totals, err := utils.CalculateSaleTotals(items, dec("5.00"))
	if err != nil {
		t.Fatalf("CalculateSaleTotals: %v", err)
	}
	if !totals.Subtotal.Equal(dec("30.00")) {
		t.Fatalf("subtotal = %s, want 30.00", totals.Subtotal)
	}
	if !totals.TaxAmount.Equal(dec("1.50")) {
		t.Fatalf("tax = %s, want 1.50", totals.TaxAmount)
	}
	if !totals.Total.Equal(dec("26.50")) {
		t.Fatalf("total = %s, want 26.50", totals.Total)
	}
}

func TestCalculateSaleTotalsRoundsPerItem(t *testing.T) {
	// per-item rounding keeps totals in sync with persisted line items; many
	// small lines must not drift the sum by fractions of a cent
	items := make([]utils.SaleTotalItem, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, utils.SaleTotalItem{
			Quantity: dec("1"), UnitPrice: dec("0.33"), TaxRate: dec("7.5"),
		})
	}
	totals, err := utils.CalculateSaleTotals(items, decimal.Zero)
	if err != nil {
		t.Fatalf("CalculateSaleTotals: %v", err)
	}
	// each line: subtotal 0.33, tax round2(0.02475) = 0.02
	if !totals.Subtotal.Equal(dec("3.30")) {
		t.Fatalf("subtotal = %s, want 3.30", totals.Subtotal)
	}
	if !totals.TaxAmount.Equal(dec("0.20")) {
		t.Fatalf("tax = %s, want 0.20", totals.TaxAmount)
	}
}

func TestCalculateSaleTotalsRejectsBadItems(t *testing.T) {
	if _, err := utils.CalculateSaleTotals([]utils.SaleTotalItem{
		{Quantity: decimal.Zero, UnitPrice: dec("1"), TaxRate: dec("5")},
	}, decimal.Zero); err == nil {
		t.Fatal("zero quantity accepted")
	}
	if _, err := utils.CalculateSaleTotals([]utils.SaleTotalItem{
		{Quantity: dec("1"), UnitPrice: dec("-1"), TaxRate: dec("5")},
	}, decimal.Zero); err == nil {
		t.Fatal("negative unit price accepted")
	}
	if _, err := utils.CalculateSaleTotals(nil, dec("-1")); err == nil {
		t.Fatal("negative discount accepted")
	}
}

func TestClampLoyaltyDiscount(t *testing.T) {
	ceiling := dec("50.00")

	if got := utils.ClampLoyaltyDiscount(dec("80.00"), ceiling); !got.Equal(ceiling) {
		t.Fatalf("clamp = %s, want 50.00", got)
	}
	if got := utils.ClampLoyaltyDiscount(dec("20.00"), ceiling); !got.Equal(dec("20.00")) {
		t.Fatalf("clamp = %s, want 20.00", got)
	}
	if got := utils.ClampLoyaltyDiscount(dec("-5.00"), ceiling); !got.IsZero() {
		t.Fatalf("clamp = %s, want 0", got)
	}
}
