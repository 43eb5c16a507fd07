package walletsync

import "time"

// ProgressSnapshot is the card state pushed to wallet providers. It is a
// value copy taken after commit, so a push never reads mid-transaction data.
type ProgressSnapshot struct {
	BusinessId   string `json:"business_id"`
	BusinessName string `json:"business_name"`
	CustomerId   int    `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	CustomerTier string `json:"customer_tier"`
	OfferId      int    `json:"offer_id"`
	OfferName    string `json:"offer_name"`
	Stamps       int    `json:"stamps"`
	MaxStamps    int    `json:"max_stamps"`
	RewardReady  bool   `json:"reward_ready"`
}

// HeldPass is one wallet registration to push to: the provider holding the
// pass and the serial number it was issued under. Customers only get pushes
// for wallets they actually hold.
type HeldPass struct {
	Provider     string `json:"provider"`
	SerialNumber string `json:"serial_number"`
}

// PushResult reports one held pass's outcome. A failed push is recorded,
// never propagated; the sale or scan that triggered it has already committed.
type PushResult struct {
	Provider         string        `json:"provider"`
	SerialNumber     string        `json:"serial_number"`
	Success          bool          `json:"success"`
	StatusCode       int           `json:"status_code"`
	ProviderObjectId string        `json:"provider_object_id,omitempty"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"-"`
	DurationMs       int64         `json:"duration_ms"`
}

// SyncAttempt is the audit row written per pass push.
type SyncAttempt struct {
	ID           int       `gorm:"primary_key" json:"id"`
	BusinessId   string    `gorm:"size:36;index;not null" json:"business_id"`
	CustomerId   int       `gorm:"not null" json:"customer_id"`
	OfferId      int       `gorm:"not null" json:"offer_id"`
	Provider     string    `gorm:"size:30;not null" json:"provider"`
	SerialNumber string    `gorm:"size:36;not null" json:"serial_number"`
	Success      *bool     `gorm:"not null" json:"success"`
	StatusCode   int       `gorm:"not null;default:0" json:"status_code"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
