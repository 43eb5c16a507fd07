package models_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/models"
	"github.com/stampnote/loyalty_backend/utils"
	"github.com/stampnote/loyalty_backend/walletsync"
)

// Regression: checkout must mint unique sale numbers, compute totals per the
// tax rules (inclusive and exclusive pricing), persist the receipt in the
// same transaction, and reverse product counters on refund.
func TestCheckoutEndToEnd(t *testing.T) {
	ctx := setupIntegration(t)

	exclusive, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:      "Americano",
		UnitPrice: mustDec(t, "50.00"),
		TaxRate:   mustDec(t, "15"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	inclusive, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:             "Latte",
		UnitPrice:        mustDec(t, "115.00"),
		TaxRate:          mustDec(t, "15"),
		PriceIncludesTax: utils.NewTrue(),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	result, err := models.CreateSale(ctx, &models.NewSale{
		Items: []models.NewSaleItem{
			{ProductId: exclusive.ID, Quantity: mustDec(t, "1")},
			{ProductId: inclusive.ID, Quantity: mustDec(t, "1")},
		},
		PaymentMethod: "Cash",
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	sale := result.Sale
	// inclusive 115.00 @ 15% recovers a 100.00 base; exclusive stays 50.00
	if !sale.Subtotal.Equal(mustDec(t, "150.00")) {
		t.Fatalf("subtotal = %s, want 150.00", sale.Subtotal)
	}
	if !sale.TaxAmount.Equal(mustDec(t, "22.50")) {
		t.Fatalf("tax = %s, want 22.50", sale.TaxAmount)
	}
	if !sale.TotalAmount.Equal(mustDec(t, "172.50")) {
		t.Fatalf("total = %s, want 172.50", sale.TotalAmount)
	}
	if !strings.HasPrefix(sale.SaleNumber, "INV-") {
		t.Fatalf("sale number = %s, want INV- prefix", sale.SaleNumber)
	}
	if len(sale.Items) != 2 {
		t.Fatalf("line items = %d, want 2", len(sale.Items))
	}

	if result.Receipt == nil {
		t.Fatal("no receipt persisted with the sale")
	}
	receipt, err := models.GetReceiptBySaleId(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetReceiptBySaleId: %v", err)
	}
	if receipt.SaleId != sale.ID {
		t.Fatalf("receipt sale linkage = %d, want %d", receipt.SaleId, sale.ID)
	}

	// counters moved forward
	sold, err := models.GetProductById(ctx, exclusive.ID)
	if err != nil {
		t.Fatalf("GetProductById: %v", err)
	}
	if !sold.TotalSold.Equal(mustDec(t, "1")) {
		t.Fatalf("total sold = %s, want 1", sold.TotalSold)
	}

	// refund reverses them and is terminal
	refunded, err := models.RefundSale(ctx, sale.ID, &models.SaleStatusInput{Reason: "customer changed mind"})
	if err != nil {
		t.Fatalf("RefundSale: %v", err)
	}
	if refunded.Status != models.SaleStatusRefunded {
		t.Fatalf("status = %s, want Refunded", refunded.Status)
	}
	sold, err = models.GetProductById(ctx, exclusive.ID)
	if err != nil {
		t.Fatalf("GetProductById: %v", err)
	}
	if !sold.TotalSold.IsZero() {
		t.Fatalf("total sold = %s after refund, want 0", sold.TotalSold)
	}

	if _, err := models.RefundSale(ctx, sale.ID, &models.SaleStatusInput{Reason: "again"}); err == nil {
		t.Fatal("double refund succeeded")
	}
	if _, err := models.CancelSale(ctx, sale.ID, &models.SaleStatusInput{Reason: "also cancel"}); err == nil {
		t.Fatal("cancel after refund succeeded")
	}

	// missing rows classify as NOT_FOUND, never as a transactional failure
	if _, err := models.GetSaleById(ctx, 999999); err == nil || utils.CodeOf(err) != utils.ErrCodeNotFound {
		t.Fatalf("missing sale: err=%v code=%s, want %s", err, utils.CodeOf(err), utils.ErrCodeNotFound)
	}
	if _, err := models.GetReceiptBySaleId(ctx, 999999); err == nil || utils.CodeOf(err) != utils.ErrCodeNotFound {
		t.Fatalf("missing receipt: err=%v code=%s, want %s", err, utils.CodeOf(err), utils.ErrCodeNotFound)
	}
	if _, err := models.RefundSale(ctx, 999999, &models.SaleStatusInput{Reason: "x"}); err == nil || utils.CodeOf(err) != utils.ErrCodeNotFound {
		t.Fatalf("refund of missing sale: err=%v code=%s, want %s", err, utils.CodeOf(err), utils.ErrCodeNotFound)
	}
	unknownCustomer := 999999
	_, err = models.CreateSale(ctx, &models.NewSale{
		Items:         []models.NewSaleItem{{ProductId: exclusive.ID, Quantity: mustDec(t, "1")}},
		PaymentMethod: "Cash",
		CustomerId:    &unknownCustomer,
	})
	if err == nil || utils.CodeOf(err) != utils.ErrCodeNotFound {
		t.Fatalf("sale for unknown customer: err=%v code=%s, want %s", err, utils.CodeOf(err), utils.ErrCodeNotFound)
	}
}

// Regression: N concurrent checkouts in the same scope must observe the
// sequence values {1..N} with no duplicates or gaps.
func TestSequenceUniquenessUnderConcurrency(t *testing.T) {
	ctx := setupIntegration(t)
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	const workers = 20
	values := make(chan int64, workers)

	// first draw creates the counter row so the workers contend on the row
	// lock, not on the insert race
	err := models.WithTransaction(ctx, func(tx models.Tx) error {
		v, err := models.NextValue(ctx, tx, models.SequenceKindSale, 2099, businessId, 1)
		if err != nil {
			return err
		}
		values <- v
		return nil
	})
	if err != nil {
		t.Fatalf("NextValue: %v", err)
	}

	var wg sync.WaitGroup
	for i := 1; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := models.WithTransaction(ctx, func(tx models.Tx) error {
				v, err := models.NextValue(ctx, tx, models.SequenceKindSale, 2099, businessId, 1)
				if err != nil {
					return err
				}
				values <- v
				return nil
			})
			if err != nil {
				t.Errorf("NextValue: %v", err)
			}
		}()
	}
	wg.Wait()
	close(values)

	seen := map[int64]bool{}
	for v := range values {
		if seen[v] {
			t.Fatalf("duplicate sequence value %d", v)
		}
		seen[v] = true
	}
	for v := int64(1); v <= workers; v++ {
		if !seen[v] {
			t.Fatalf("missing sequence value %d", v)
		}
	}
}

// Regression: a redemption with an oversized reward clamps the loyalty
// discount to subtotal + tax and zeroes the total, never below.
func TestLoyaltyRedemptionClamp(t *testing.T) {
	ctx := setupIntegration(t)

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:      "Pastry",
		UnitPrice: mustDec(t, "43.48"),
		TaxRate:   mustDec(t, "15"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Aye Chan"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	offer, err := models.CreateOffer(ctx, &models.NewOffer{
		Name:        "Free Anything",
		MaxStamps:   2,
		RewardValue: mustDec(t, "80.00"),
	})
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	// fill the card
	for i := 0; i < 2; i++ {
		if _, err := models.ScanStamp(ctx, &models.ScanStampInput{
			CustomerToken: customer.ScanToken.String(),
			OfferHash:     offer.OfferHash,
		}); err != nil {
			t.Fatalf("ScanStamp: %v", err)
		}
	}

	result, err := models.CreateSale(ctx, &models.NewSale{
		Items:         []models.NewSaleItem{{ProductId: product.ID, Quantity: mustDec(t, "1")}},
		PaymentMethod: "Cash",
		LoyaltyRedemption: &models.LoyaltyRedemption{
			CustomerId: customer.ID,
			OfferId:    offer.ID,
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	// subtotal 43.48, tax 6.52, ceiling 50.00 < requested 80.00
	sale := result.Sale
	if !sale.LoyaltyDiscountAmount.Equal(mustDec(t, "50.00")) {
		t.Fatalf("loyalty discount = %s, want clamped 50.00", sale.LoyaltyDiscountAmount)
	}
	if !sale.TotalAmount.IsZero() {
		t.Fatalf("total = %s, want 0.00", sale.TotalAmount)
	}
	if !result.LoyaltyClaim.Claimed {
		t.Fatalf("reward not claimed: %s", result.LoyaltyClaim.Error)
	}

	progress, err := models.GetStampProgress(ctx, customer.ID, offer.ID)
	if err != nil {
		t.Fatalf("GetStampProgress: %v", err)
	}
	if progress.RewardsClaimed != 1 || progress.CurrentStamps != 0 {
		t.Fatalf("card after claim: claims=%d stamps=%d, want 1/0", progress.RewardsClaimed, progress.CurrentStamps)
	}

	// redeeming again without a completed card is a state conflict
	if _, err := models.CreateSale(ctx, &models.NewSale{
		Items:         []models.NewSaleItem{{ProductId: product.ID, Quantity: mustDec(t, "1")}},
		PaymentMethod: "Cash",
		LoyaltyRedemption: &models.LoyaltyRedemption{
			CustomerId: customer.ID,
			OfferId:    offer.ID,
		},
	}); err == nil {
		t.Fatal("redemption with an empty card succeeded")
	}
}

// Regression: a scan pushes only to the wallets the customer registered,
// surfaces the per-pass results in the scan response, and stores the object
// id the provider acknowledges with. A customer with no passes gets none.
func TestScanSurfacesWalletPushResults(t *testing.T) {
	ctx := setupIntegration(t)

	var pushedSerials []string
	appleServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushedSerials = append(pushedSerials, path.Base(r.URL.Path))
		w.Write([]byte(`{"provider_object_id":"apple-obj-9"}`))
	}))
	defer appleServer.Close()
	t.Setenv("APPLE_WALLET_SYNC_URL", appleServer.URL)
	t.Setenv("GOOGLE_WALLET_SYNC_URL", "")

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Thiri"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	offer, err := models.CreateOffer(ctx, &models.NewOffer{Name: "Coffee Card", MaxStamps: 8})
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	pass, err := models.RegisterWalletPass(ctx, &models.RegisterWalletPassInput{
		CustomerId: customer.ID,
		OfferId:    offer.ID,
		Provider:   walletsync.ProviderApple,
	})
	if err != nil {
		t.Fatalf("RegisterWalletPass: %v", err)
	}

	result, err := models.ScanStamp(ctx, &models.ScanStampInput{
		CustomerToken: customer.ScanToken.String(),
		OfferHash:     offer.OfferHash,
	})
	if err != nil {
		t.Fatalf("ScanStamp: %v", err)
	}

	if len(result.WalletResults) != 1 {
		t.Fatalf("wallet results = %d, want 1", len(result.WalletResults))
	}
	push := result.WalletResults[0]
	if push.Provider != walletsync.ProviderApple || !push.Success {
		t.Fatalf("unexpected push result: %+v", push)
	}
	if push.SerialNumber != pass.SerialNumber {
		t.Fatalf("pushed serial = %s, want %s", push.SerialNumber, pass.SerialNumber)
	}
	if len(pushedSerials) != 1 || pushedSerials[0] != pass.SerialNumber {
		t.Fatalf("provider saw serials %v, want [%s]", pushedSerials, pass.SerialNumber)
	}

	// acknowledged object id lands on the registration
	again, err := models.RegisterWalletPass(ctx, &models.RegisterWalletPassInput{
		CustomerId: customer.ID,
		OfferId:    offer.ID,
		Provider:   walletsync.ProviderApple,
	})
	if err != nil {
		t.Fatalf("RegisterWalletPass: %v", err)
	}
	if again.ProviderObjectId != "apple-obj-9" {
		t.Fatalf("provider object id = %q, want apple-obj-9", again.ProviderObjectId)
	}

	// a customer holding no wallet passes triggers no pushes
	walkIn, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Ko Ko"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	walkInResult, err := models.ScanStamp(ctx, &models.ScanStampInput{
		CustomerToken: walkIn.ScanToken.String(),
		OfferHash:     offer.OfferHash,
	})
	if err != nil {
		t.Fatalf("ScanStamp: %v", err)
	}
	if len(walkInResult.WalletResults) != 0 {
		t.Fatalf("wallet results for pass-less customer = %d, want 0", len(walkInResult.WalletResults))
	}
	if len(pushedSerials) != 1 {
		t.Fatalf("provider hit %d times, want still 1", len(pushedSerials))
	}
}

// Regression: the receipt QR token enrolls a customer into the business and
// offer it was minted for, and an expired token is refused.
func TestLoyaltySignupFromReceiptToken(t *testing.T) {
	ctx := setupIntegration(t)
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	offer, err := models.CreateOffer(ctx, &models.NewOffer{Name: "Join Us", MaxStamps: 5})
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	token, err := utils.LoyaltySignupTokenGenerate(businessId, offer.ID, time.Hour)
	if err != nil {
		t.Fatalf("LoyaltySignupTokenGenerate: %v", err)
	}

	result, err := models.LoyaltySignup(ctx, &models.LoyaltySignupInput{
		Token: token,
		Name:  "New Customer",
	})
	if err != nil {
		t.Fatalf("LoyaltySignup: %v", err)
	}
	if result.Customer.BusinessId != businessId {
		t.Fatalf("customer business = %s, want %s", result.Customer.BusinessId, businessId)
	}
	if result.Offer.ID != offer.ID {
		t.Fatalf("offer = %d, want %d", result.Offer.ID, offer.ID)
	}

	// the minted scan token is immediately scannable
	if _, err := models.ScanStamp(ctx, &models.ScanStampInput{
		CustomerToken: result.Customer.ScanToken.String(),
		OfferHash:     offer.OfferHash,
	}); err != nil {
		t.Fatalf("ScanStamp after signup: %v", err)
	}

	expired, err := utils.LoyaltySignupTokenGenerate(businessId, offer.ID, -time.Minute)
	if err != nil {
		t.Fatalf("LoyaltySignupTokenGenerate: %v", err)
	}
	if _, err := models.LoyaltySignup(ctx, &models.LoyaltySignupInput{
		Token: expired,
		Name:  "Too Late",
	}); err == nil {
		t.Fatal("expired signup token accepted")
	}
}

func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "stampnote_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	ctx = utils.SetUserIdInContext(ctx, 1)

	business, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  fmt.Sprintf("Checkout Co %d", time.Now().UnixNano()),
		Email: fmt.Sprintf("owner%d@checkout.test", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}

	ctx = utils.SetBusinessIdInContext(ctx, business.ID.String())
	ctx = utils.SetBranchIdInContext(ctx, business.PrimaryBranchId)
	return ctx
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("loyalty-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("loyalty-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=stampnote_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
