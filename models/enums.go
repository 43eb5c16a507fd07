package models

import "errors"

type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "Completed"
	SaleStatusRefunded  SaleStatus = "Refunded"
	SaleStatusCancelled SaleStatus = "Cancelled"
)

func (s *SaleStatus) Parse(str string) error {
	switch str {
	case "Completed":
		*s = SaleStatusCompleted
	case "Refunded":
		*s = SaleStatusRefunded
	case "Cancelled":
		*s = SaleStatusCancelled
	default:
		return errors.New("invalid sale status")
	}
	return nil
}

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "Cash"
	PaymentMethodCard   PaymentMethod = "Card"
	PaymentMethodMobile PaymentMethod = "Mobile"
)

func (p *PaymentMethod) Parse(str string) error {
	switch str {
	case "Cash":
		*p = PaymentMethodCash
	case "Card":
		*p = PaymentMethodCard
	case "Mobile":
		*p = PaymentMethodMobile
	default:
		return errors.New("invalid payment method")
	}
	return nil
}

type CustomerTier string

const (
	CustomerTierBronze CustomerTier = "Bronze"
	CustomerTierSilver CustomerTier = "Silver"
	CustomerTierGold   CustomerTier = "Gold"
)

// claim-count thresholds for tier upgrades
const (
	silverTierClaims = 5
	goldTierClaims   = 15
)

func tierForClaims(totalClaims int) CustomerTier {
	switch {
	case totalClaims >= goldTierClaims:
		return CustomerTierGold
	case totalClaims >= silverTierClaims:
		return CustomerTierSilver
	default:
		return CustomerTierBronze
	}
}

type UserRole string

const (
	UserRoleAdmin   UserRole = "Admin"
	UserRoleManager UserRole = "Manager"
	UserRoleCashier UserRole = "Cashier"
)

type SequenceKind string

const (
	SequenceKindSale    SequenceKind = "Sale"
	SequenceKindReceipt SequenceKind = "Receipt"
)
