package models

import (
	"context"

	"github.com/stampnote/loyalty_backend/config"
	"gorm.io/gorm"
)

// Tx is the unit-of-work handle for the sale engine. It can only be obtained
// through WithTransaction, so code that requires an active transaction (the
// sequence generator, the receipt assembler's uncommitted reads) takes a Tx
// parameter and simply cannot be called without one.
type Tx struct {
	db *gorm.DB
}

// DB exposes the transaction-bound gorm handle.
func (t Tx) DB() *gorm.DB {
	return t.db
}

// WithTransaction runs fn inside a single database transaction. A non-nil
// error from fn rolls everything back; otherwise the transaction commits.
func WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(Tx{db: gtx})
	})
}
