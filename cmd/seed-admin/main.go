// seed-admin creates or updates an admin user for a business.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/seed-admin --business-id=<uuid> --email=admin@example.com --password=...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/models"
	"github.com/stampnote/loyalty_backend/utils"
	"gorm.io/gorm"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	email := flag.String("email", "", "Required: admin email")
	password := flag.String("password", "", "Required: admin password (min 8 chars)")
	name := flag.String("name", "Admin", "Display name")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" || strings.TrimSpace(*email) == "" {
		fmt.Fprintln(os.Stderr, "--business-id and --email are required")
		os.Exit(1)
	}
	if len(*password) < 8 {
		fmt.Fprintln(os.Stderr, "--password must be at least 8 characters")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	var biz models.Business
	if err := db.WithContext(ctx).Where("id = ?", *businessID).First(&biz).Error; err != nil {
		fmt.Fprintf(os.Stderr, "business not found: %v\n", err)
		os.Exit(2)
	}

	hashed, err := utils.HashPassword(*password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var existing models.User
	err = db.WithContext(ctx).Where("email = ?", *email).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		user := models.User{
			BusinessId: *businessID,
			Name:       *name,
			Email:      *email,
			Password:   string(hashed),
			Role:       models.UserRoleAdmin,
			IsActive:   utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: email=%q business=%s\n", *email, *businessID)
		return
	}

	if err := db.WithContext(ctx).Model(&models.User{}).Where("email = ?", *email).Updates(map[string]any{
		"password":    string(hashed),
		"name":        *name,
		"is_active":   utils.NewTrue(),
		"business_id": *businessID,
		"role":        models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin user: email=%q business=%s\n", *email, *businessID)
}
