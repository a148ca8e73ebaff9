package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/authz"
	appconfig "github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
	postgres "github.com/AnthonyGillesRudolfo/storefront-payments/internal/storage/postgres"
	"github.com/joho/godotenv"
)

const (
	demoStore  = "store:main"
	demoSeller = "user:seller-1"
)

func main() {
	_ = godotenv.Load()
	logger := log.New(os.Stdout, "[seed] ", log.LstdFlags)

	cfg, err := appconfig.LoadWorker()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	orders := order.DemoOrders(time.Now().UTC())

	if cfg.Store.Driver == "postgres" {
		db, err := postgres.OpenDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Fatalf("open database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewRepository(db, logger)
		for _, o := range orders {
			if err := repo.InsertOrder(ctx, o); err != nil {
				logger.Fatalf("insert %s: %v", o.ID, err)
			}
		}
		logger.Printf("seeded %d orders", len(orders))
	} else {
		logger.Printf("ORDER_STORE=%s, skipping order rows", cfg.Store.Driver)
	}

	if cfg.Authz.APIURL == "" || cfg.Authz.StoreID == "" {
		logger.Println("OPENFGA_API_URL or OPENFGA_STORE_ID not set, skipping tuples")
		return
	}
	fga := authz.NewOpenFGAClient(cfg.Authz, nil)

	tuples := []authz.TupleKey{{User: demoSeller, Relation: "seller", Object: demoStore}}
	for _, o := range orders {
		tuples = append(tuples,
			authz.TupleKey{User: demoStore, Relation: "store", Object: "order:" + o.ID},
			authz.TupleKey{User: "user:" + o.CustomerID, Relation: "buyer", Object: "order:" + o.ID},
		)
	}
	if err := fga.Write(ctx, tuples); err != nil {
		logger.Fatalf("write tuples: %v", err)
	}
	logger.Printf("seeded %d tuples", len(tuples))

	target := "order:" + orders[0].ID
	allowed, err := fga.Check(ctx, demoSeller, target, "can_fulfill")
	if err != nil {
		logger.Fatalf("check seller: %v", err)
	}
	logger.Printf("Check %s can_fulfill %s -> %v", demoSeller, target, allowed)
	denied, err := fga.Check(ctx, "user:"+orders[0].CustomerID, target, "can_fulfill")
	if err != nil {
		logger.Fatalf("check buyer: %v", err)
	}
	logger.Printf("Check buyer can_fulfill %s -> %v", target, denied)
	if !allowed || denied {
		logger.Fatal("authz seed verification failed")
	}
	logger.Println("authz seed verification passed")
}
