package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stampnote/loyalty_backend/utils"
)

func newCard(maxStamps int) *StampProgress {
	return &StampProgress{
		MaxStamps:   maxStamps,
		IsCompleted: utils.NewFalse(),
	}
}

func TestAddStampMonotonicity(t *testing.T) {
	card := newCard(8)
	now := time.Now()

	previous := 0
	for i := 0; i < 20; i++ {
		card.addStamp(now)
		if card.CurrentStamps < previous {
			t.Fatalf("stamps decreased from %d to %d", previous, card.CurrentStamps)
		}
		if card.CurrentStamps > card.MaxStamps {
			t.Fatalf("stamps %d exceeded max %d", card.CurrentStamps, card.MaxStamps)
		}
		previous = card.CurrentStamps
	}
	if card.TotalScans != 20 {
		t.Fatalf("total scans = %d, want 20: every scan is an audit event", card.TotalScans)
	}
}

func TestStampCycle(t *testing.T) {
	card := newCard(8)
	now := time.Now()

	for i := 0; i < 8; i++ {
		if card.completed() {
			t.Fatalf("card completed after only %d stamps", i)
		}
		card.addStamp(now)
	}
	if !card.completed() {
		t.Fatal("card not completed after 8 stamps")
	}
	if card.CompletedAt == nil {
		t.Fatal("completion not timestamped")
	}

	if err := card.claimReward(); err != nil {
		t.Fatalf("claimReward: %v", err)
	}
	if card.RewardsClaimed != 1 {
		t.Fatalf("rewards claimed = %d, want 1", card.RewardsClaimed)
	}
	if card.CurrentStamps != 0 {
		t.Fatalf("stamps = %d after claim, want 0", card.CurrentStamps)
	}
	if card.completed() {
		t.Fatal("card still completed after claim")
	}
	if card.CompletedAt != nil {
		t.Fatal("completion timestamp survived claim")
	}
}

func TestClaimRequiresCompletion(t *testing.T) {
	card := newCard(8)
	card.addStamp(time.Now())

	before := *card
	err := card.claimReward()
	if err == nil {
		t.Fatal("claim on incomplete card succeeded")
	}
	if utils.CodeOf(err) != utils.ErrCodeStateConflict {
		t.Fatalf("claim error code = %s, want %s", utils.CodeOf(err), utils.ErrCodeStateConflict)
	}
	if card.CurrentStamps != before.CurrentStamps || card.RewardsClaimed != before.RewardsClaimed {
		t.Fatal("failed claim mutated the card")
	}
}

func TestAddStampOnFullCardKeepsCap(t *testing.T) {
	card := newCard(3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		card.addStamp(now)
	}

	card.addStamp(now)
	if card.CurrentStamps != 3 {
		t.Fatalf("stamps = %d on full card, want cap of 3", card.CurrentStamps)
	}
	if !card.completed() {
		t.Fatal("extra scan cleared completion")
	}
	if card.TotalScans != 4 {
		t.Fatalf("total scans = %d, want 4", card.TotalScans)
	}
}

func TestClaimRollsBackOnPersistFailure(t *testing.T) {
	card := newCard(4)
	now := time.Now()
	for i := 0; i < 4; i++ {
		card.addStamp(now)
	}

	err := card.claimWithRollback(func() error { return errors.New("storage down") })
	if err == nil {
		t.Fatal("persist failure swallowed")
	}
	if card.RewardsClaimed != 0 {
		t.Fatalf("rewards claimed = %d after failed persist, want 0", card.RewardsClaimed)
	}
	if card.CurrentStamps != 4 || !card.completed() {
		t.Fatalf("card lost completion after failed persist: stamps=%d completed=%v",
			card.CurrentStamps, card.completed())
	}

	// the card stays claimable once persistence recovers
	if err := card.claimWithRollback(func() error { return nil }); err != nil {
		t.Fatalf("claimWithRollback after recovery: %v", err)
	}
	if card.RewardsClaimed != 1 || card.CurrentStamps != 0 {
		t.Fatalf("claim after recovery: claims=%d stamps=%d", card.RewardsClaimed, card.CurrentStamps)
	}
}

func TestClaimWithRollbackRequiresCompletion(t *testing.T) {
	card := newCard(4)
	card.addStamp(time.Now())

	persisted := false
	err := card.claimWithRollback(func() error {
		persisted = true
		return nil
	})
	if err == nil {
		t.Fatal("claim on incomplete card succeeded")
	}
	if persisted {
		t.Fatal("persist ran for a card that cannot be claimed")
	}
}

func TestTierForClaims(t *testing.T) {
	cases := []struct {
		claims int
		want   CustomerTier
	}{
		{0, CustomerTierBronze},
		{4, CustomerTierBronze},
		{5, CustomerTierSilver},
		{14, CustomerTierSilver},
		{15, CustomerTierGold},
		{40, CustomerTierGold},
	}
	for _, tc := range cases {
		if got := tierForClaims(tc.claims); got != tc.want {
			t.Fatalf("tierForClaims(%d) = %s, want %s", tc.claims, got, tc.want)
		}
	}
}
