package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceCounter is the per-scope monotonic counter behind sale and receipt
// numbers. Scope identity is (kind, year, business, branch); branch 0 means
// business-wide. Rows are created lazily and never deleted.
type SequenceCounter struct {
	ID         int          `gorm:"primary_key" json:"id"`
	Kind       SequenceKind `gorm:"size:30;not null;uniqueIndex:idx_sequence_scope" json:"kind"`
	Year       int          `gorm:"not null;uniqueIndex:idx_sequence_scope" json:"year"`
	BusinessId string       `gorm:"size:36;not null;uniqueIndex:idx_sequence_scope" json:"business_id"`
	BranchId   int          `gorm:"not null;default:0;uniqueIndex:idx_sequence_scope" json:"branch_id"`
	LastValue  int64        `gorm:"not null;default:0" json:"last_value"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// NextValue increments and returns the counter for the scope identity.
// Requiring a Tx makes "no active transaction" impossible to express; the
// row lock it takes is what prevents duplicate sale/receipt numbers under
// concurrent checkouts. Callers for different scopes never block each other.
func NextValue(ctx context.Context, tx Tx, kind SequenceKind, year int, businessId string, branchId int) (int64, error) {
	if businessId == "" {
		return 0, errors.New("business id is required")
	}

	var counter SequenceCounter
	for attempt := 0; ; attempt++ {
		err := tx.DB().WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("kind = ? AND year = ? AND business_id = ? AND branch_id = ?", kind, year, businessId, branchId).
			First(&counter).Error
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
		// Lazy creation. A concurrent caller may win the insert race; the
		// duplicate-key error sends us back to the locked read.
		counter = SequenceCounter{
			Kind:       kind,
			Year:       year,
			BusinessId: businessId,
			BranchId:   branchId,
			LastValue:  0,
		}
		if createErr := tx.DB().WithContext(ctx).Create(&counter).Error; createErr != nil {
			if attempt > 0 {
				return 0, createErr
			}
			continue
		}
		break
	}

	counter.LastValue++
	if err := tx.DB().WithContext(ctx).Model(&counter).
		Update("last_value", counter.LastValue).Error; err != nil {
		return 0, err
	}
	return counter.LastValue, nil
}
