// counter-rebuild recomputes product total_sold / total_revenue from the sale
// line items of completed sales. Refunded and cancelled sales are excluded
// because their counters were already reversed at transition time; a rebuild
// after a partial outage or a bad manual fix should land on the same numbers.
//
// Usage:
//
//	go run ./cmd/counter-rebuild --business-id=<uuid>            # dry run
//	go run ./cmd/counter-rebuild --business-id=<uuid> --dry-run=false --confirm=REBUILD
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/models"
	"gorm.io/gorm"
)

type productTotals struct {
	ProductId    int
	TotalSold    decimal.Decimal
	TotalRevenue decimal.Decimal
}

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	dryRun := flag.Bool("dry-run", true, "Show computed counters only (no writes)")
	confirm := flag.String("confirm", "", "Type REBUILD to proceed when dry-run=false")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "REBUILD" {
		fmt.Fprintln(os.Stderr, "set --confirm=REBUILD to proceed")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var biz models.Business
	if err := db.WithContext(ctx).Where("id = ?", *businessID).First(&biz).Error; err != nil {
		fmt.Fprintf(os.Stderr, "business not found: %v\n", err)
		os.Exit(2)
	}

	var computed []productTotals
	err := db.WithContext(ctx).Model(&models.SaleItem{}).
		Select("sale_items.product_id as product_id, COALESCE(SUM(sale_items.quantity), 0) as total_sold, COALESCE(SUM(sale_items.total), 0) as total_revenue").
		Joins("JOIN sales ON sales.id = sale_items.sale_id").
		Where("sales.business_id = ? AND sales.status = ?", *businessID, models.SaleStatusCompleted).
		Group("sale_items.product_id").
		Scan(&computed).Error
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to aggregate sale items: %v\n", err)
		os.Exit(1)
	}

	byProduct := make(map[int]productTotals, len(computed))
	for _, row := range computed {
		byProduct[row.ProductId] = row
	}

	var products []models.Product
	if err := db.WithContext(ctx).Where("business_id = ?", *businessID).Find(&products).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to load products: %v\n", err)
		os.Exit(1)
	}

	drift := 0
	for _, product := range products {
		want := byProduct[product.ID]
		if product.TotalSold.Equal(want.TotalSold) && product.TotalRevenue.Equal(want.TotalRevenue) {
			continue
		}
		drift++
		fmt.Printf("product %d %q: sold %s -> %s, revenue %s -> %s\n",
			product.ID, product.Name,
			product.TotalSold, want.TotalSold,
			product.TotalRevenue, want.TotalRevenue)
	}
	fmt.Printf("%d of %d products drifted\n", drift, len(products))

	if *dryRun || drift == 0 {
		return
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, product := range products {
			want := byProduct[product.ID]
			if product.TotalSold.Equal(want.TotalSold) && product.TotalRevenue.Equal(want.TotalRevenue) {
				continue
			}
			if err := tx.Model(&models.Product{}).Where("id = ?", product.ID).
				Updates(map[string]any{
					"total_sold":    want.TotalSold,
					"total_revenue": want.TotalRevenue,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed, nothing written: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("counters rebuilt")
}
