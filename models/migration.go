package models

import (
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/walletsync"
)

// MigrateTable runs schema auto-migration for every persisted model. Called
// once at startup after the database connection is established.
func MigrateTable() error {
	db := config.GetDB()
	return db.AutoMigrate(
		&Business{},
		&Branch{},
		&User{},
		&Product{},
		&Customer{},
		&Offer{},
		&StampProgress{},
		&SequenceCounter{},
		&Sale{},
		&SaleItem{},
		&Receipt{},
		&WalletPass{},
		&walletsync.SyncAttempt{},
	)
}
