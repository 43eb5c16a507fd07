package utils_test

import (
	"testing"
	"time"

	"github.com/stampnote/loyalty_backend/utils"
)

func TestLoyaltySignupTokenRoundTrip(t *testing.T) {
	token, err := utils.LoyaltySignupTokenGenerate("biz-1", 7, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claim, err := utils.LoyaltySignupTokenValidate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claim.BusinessId != "biz-1" {
		t.Fatalf("business id = %q, want biz-1", claim.BusinessId)
	}
	if claim.OfferId != 7 {
		t.Fatalf("offer id = %d, want 7", claim.OfferId)
	}
}

func TestLoyaltySignupTokenExpires(t *testing.T) {
	token, err := utils.LoyaltySignupTokenGenerate("biz-1", 7, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := utils.LoyaltySignupTokenValidate(token); err == nil {
		t.Fatal("expired signup token accepted")
	}
}

func TestLoyaltySignupTokenRejectsGarbage(t *testing.T) {
	if _, err := utils.LoyaltySignupTokenValidate("not-a-token"); err == nil {
		t.Fatal("malformed token accepted")
	}
}
