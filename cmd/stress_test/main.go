package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/checkout-payments/internal/adapter/storage"
	"github.com/rl1809/checkout-payments/internal/core/domain"
	"github.com/rl1809/checkout-payments/internal/core/service"
)

const (
	mysqlDSN          = "root:root@tcp(localhost:3306)/checkout?parseTime=true"
	redisAddr         = "localhost:6379"
	totalOrders       = 20
	callbacksPerOrder = 30
	queueSize         = totalOrders * 2
)

// approvingGateway verifies every token as a valid payment of amount for the
// transaction reference embedded in it.
type approvingGateway struct {
	amount      decimal.Decimal
	verifyCalls atomic.Int32
}

func (g *approvingGateway) Initiate(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentSession, error) {
	return &domain.PaymentSession{RedirectURL: "https://sandbox.sslcommerz.com/stress/" + req.TransactionRef}, nil
}

func (g *approvingGateway) Verify(ctx context.Context, token string) (*domain.Verification, error) {
	g.verifyCalls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return &domain.Verification{
		Status:         domain.VerificationValid,
		RawStatus:      "VALID",
		TransactionRef: strings.TrimPrefix(token, "VAL-"),
		Amount:         g.amount,
	}, nil
}

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	// Initialize MySQL
	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	if err := storage.RunMigrations(mysqlDSN); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Initialize adapters and services
	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb, time.Minute)
	unitPrice := decimal.NewFromInt(500)
	gw := &approvingGateway{amount: unitPrice}

	notifier := service.NewStatusNotifier(queueSize, logger)
	ledger := service.NewOrderLedger(mysqlAdapter, notifier, logger)
	reconciler := service.NewReconciler(ledger, gw, redisAdapter, logger, 5*time.Second)

	// Seed pending orders
	lines := []domain.LineItem{{ProductID: "stress-item", Quantity: 1, UnitPrice: unitPrice}}
	pricing, err := service.Price(lines, nil)
	if err != nil {
		log.Fatalf("failed to price cart: %v", err)
	}
	customer := domain.CustomerInfo{Name: "Stress", Email: "stress@example.com", Phone: "01700000000"}

	refs := make([]string, 0, totalOrders)
	for i := 0; i < totalOrders; i++ {
		order, err := ledger.Create(ctx, fmt.Sprintf("stress-%d", i), lines, pricing, nil, customer)
		if err != nil {
			log.Fatalf("failed to create order: %v", err)
		}
		refs = append(refs, order.TransactionRef)
	}

	// Fire success, IPN, fail and cancel callbacks at every order concurrently
	var callbackErrors atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, ref := range refs {
		for i := 0; i < callbacksPerOrder; i++ {
			wg.Add(1)
			go func(ref string, i int) {
				defer wg.Done()

				var err error
				switch i % 4 {
				case 0:
					_, err = reconciler.HandleSuccess(ctx, ref, "VAL-"+ref)
				case 1:
					_, err = reconciler.HandleIPN(ctx, ref, "VAL-"+ref)
				case 2:
					_, err = reconciler.HandleFail(ctx, ref)
				case 3:
					_, err = reconciler.HandleCancel(ctx, ref)
				}
				if err != nil {
					callbackErrors.Add(1)
				}
			}(ref, i)
		}
	}

	wg.Wait()
	elapsed := time.Since(start)
	notifier.Close()

	events := make(map[string]int)
	for event := range notifier.GetEventQueue() {
		events[event.TransactionRef]++
	}

	// Results
	outcomes := make(map[domain.PaymentStatus]int)
	violations := 0
	for _, ref := range refs {
		order, err := ledger.Lookup(ctx, ref)
		if err != nil {
			log.Fatalf("failed to load order %s: %v", ref, err)
		}
		outcomes[order.PaymentStatus]++
		if !order.PaymentStatus.IsTerminal() || events[ref] != 1 {
			violations++
			fmt.Printf("VIOLATION: %s status=%s events=%d\n", ref, order.PaymentStatus, events[ref])
		}
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Orders:             %d\n", totalOrders)
	fmt.Printf("Callbacks:          %d\n", totalOrders*callbacksPerOrder)
	fmt.Printf("Callback errors:    %d\n", callbackErrors.Load())
	fmt.Printf("Gateway verifies:   %d\n", gw.verifyCalls.Load())
	fmt.Printf("Paid:               %d\n", outcomes[domain.PaymentStatusPaid])
	fmt.Printf("Failed:             %d\n", outcomes[domain.PaymentStatusFailed])
	fmt.Printf("Cancelled:          %d\n", outcomes[domain.PaymentStatusCancelled])
	fmt.Printf("Duration:           %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if violations == 0 {
		fmt.Println("PASS: every order reached exactly one terminal status with one event")
	} else {
		fmt.Printf("FAIL: %d orders violated single-transition\n", violations)
	}
}
