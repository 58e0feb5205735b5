package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hasledger/hasledger/internal/app"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/platform/cache"
	"github.com/hasledger/hasledger/internal/platform/db"
	"github.com/hasledger/hasledger/internal/pricing"
	"github.com/hasledger/hasledger/internal/stock"
	"github.com/hasledger/hasledger/internal/transactions"
)

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("refusing to seed a production database")
	}

	if err := db.RunMigrations(cfg.PGDSN, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()

	fmt.Println("→ Seeding parties...")
	repo := parties.NewRepository(pool)
	for _, p := range []parties.Party{
		{ID: "sup-atolye", Name: "Atölye Kuyumculuk", Type: parties.TypeSupplier},
		{ID: "sup-rafineri", Name: "Rafineri A.Ş.", Type: parties.TypeSupplier},
		{ID: "cus-walkin", Name: "Perakende Müşteri", Type: parties.TypeCustomer},
		{ID: "cus-toptan", Name: "Toptan Alıcı", Type: parties.TypeCustomer},
	} {
		if err := repo.Create(ctx, p); err != nil && !db.IsUniqueViolation(err, "") {
			log.Fatalf("seed party %s: %v", p.ID, err)
		}
	}

	fmt.Println("→ Publishing quotes...")
	feed := pricing.NewRedisFeed(redisClient, cfg.PriceQuotesKey, cfg.PriceMaxAge)
	quotes, err := cfg.StaticQuotes()
	if err != nil {
		quotes = defaultQuotes()
	}
	if err := feed.Publish(ctx, quotes, time.Now().UTC()); err != nil {
		log.Fatalf("publish quotes: %v", err)
	}

	fmt.Println("→ Recording opening stock...")
	service := transactions.NewService(transactions.Dependencies{
		Store:  transactions.NewRepository(pool),
		Prices: pricing.NewProvider(pricing.NewRepository(pool), feed, redisClient, pricing.Config{Bucket: cfg.PriceBucket, CacheTTL: cfg.PriceCacheTTL}, nil),
	})
	res, err := service.Purchase(ctx, transactions.PurchaseInput{
		PartyID:        "sup-rafineri",
		Description:    "opening stock",
		IdempotencyKey: "seed-opening-stock",
		ActorID:        "seed",
		Lines: []transactions.PurchaseLineInput{
			{
				NewProduct: &transactions.NewProductInput{Code: "HURDA-22", Name: "22 ayar hurda", ProductTypeID: "scrap", TrackType: stock.TrackPool},
				KaratID:    "22K",
				WeightGram: decimal.NewFromInt(250),
				Fineness:   decimal.RequireFromString("0.916"),
			},
			{
				NewProduct: &transactions.NewProductInput{Code: "BILEZIK-22", Name: "22 ayar bilezik", ProductTypeID: "bracelet", TrackType: stock.TrackFIFO, SaleHAS: decimal.RequireFromString("9.8")},
				KaratID:    "22K",
				WeightGram: decimal.NewFromInt(100),
				Fineness:   decimal.RequireFromString("0.916"),
				LaborType:  transactions.LaborPerGram,
				LaborRate:  decimal.RequireFromString("0.01"),
			},
		},
	})
	if err != nil {
		log.Fatalf("record opening stock: %v", err)
	}
	fmt.Printf("  %s (replayed=%t)\n", res.Transaction.Code, res.Replayed)

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func defaultQuotes() has.Quotes {
	return has.Quotes{
		Gold: has.Quote{Buy: decimal.NewFromInt(2400), Sell: decimal.NewFromInt(2500)},
		Currencies: map[string]has.Quote{
			"USD": {Buy: decimal.NewFromInt(32), Sell: decimal.NewFromInt(33)},
			"EUR": {Buy: decimal.NewFromInt(35), Sell: decimal.NewFromInt(36)},
		},
	}
}
