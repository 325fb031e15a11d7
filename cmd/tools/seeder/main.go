package main

import (
	"context"
	"flag"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bakery/internal/catalog"
	"github.com/noah-isme/backend-bakery/internal/config"
	"github.com/noah-isme/backend-bakery/internal/db"
	"github.com/noah-isme/backend-bakery/internal/obs"
)

type seedProduct struct {
	Name        string
	Description string
	Price       string
	Discounted  string
	OfferDays   int
	Stock       int
}

var defaultCatalog = []seedProduct{
	{Name: "Chocolate fudge cake", Description: "Three layers of cocoa sponge with dark chocolate ganache.", Price: "18500", Stock: 6},
	{Name: "Lemon pie", Description: "Shortcrust, lemon curd and toasted meringue.", Price: "12000", Discounted: "9900", OfferDays: 7, Stock: 8},
	{Name: "Red velvet cupcakes (6)", Description: "Cream cheese frosting, box of six.", Price: "7800", Stock: 20},
	{Name: "Carrot cake", Description: "Spiced carrot sponge with walnuts and cream cheese.", Price: "16000", Stock: 5},
	{Name: "Alfajores de maicena (12)", Description: "Cornstarch cookies with dulce de leche and coconut.", Price: "6500", Discounted: "5500", OfferDays: 3, Stock: 30},
	{Name: "Cheesecake with berries", Description: "Baked New York style with red berry coulis.", Price: "17500", Stock: 4},
	{Name: "Chocotorta", Description: "Chocolate cookies layered with dulce de leche cream.", Price: "14000", Stock: 6},
	{Name: "Brownie box (9)", Description: "Fudgy brownies with walnuts.", Price: "8200", Stock: 15},
}

func main() {
	force := flag.Bool("force", false, "seed even when the catalog already has products")
	migrate := flag.Bool("migrate", true, "apply migrations before seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel).With().Str("component", "seeder").Logger()

	if *migrate {
		if err := (db.Migrator{URL: cfg.DatabaseURL, Logger: &logger}).Up(); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.DatabaseURL, ApplicationName: "bakery-seeder"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	svc, err := catalog.NewService(catalog.ServiceConfig{Repository: catalog.NewPGRepository(pool), Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}

	existing, err := svc.List(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("list products")
	}
	if len(existing) > 0 && !*force {
		logger.Info().Int("products", len(existing)).Msg("catalog already seeded, use -force to add the defaults again")
		return
	}

	now := time.Now().In(cfg.ShopLocation)
	created := 0
	for _, sp := range defaultCatalog {
		in, err := sp.input(now)
		if err != nil {
			logger.Fatal().Err(err).Str("product", sp.Name).Msg("invalid seed product")
		}
		p, err := svc.Create(ctx, in)
		if err != nil {
			logger.Error().Err(err).Str("product", sp.Name).Msg("create product")
			continue
		}
		created++
		logger.Info().Str("id", p.ID).Str("product", p.Name).Msg("product seeded")
	}
	logger.Info().Int("created", created).Msg("seeding completed")
}

func (sp seedProduct) input(now time.Time) (catalog.ProductInput, error) {
	price, err := decimal.NewFromString(sp.Price)
	if err != nil {
		return catalog.ProductInput{}, err
	}
	in := catalog.ProductInput{
		Name:        sp.Name,
		Description: sp.Description,
		Price:       price,
		Stock:       sp.Stock,
	}
	if sp.Discounted != "" {
		d, err := decimal.NewFromString(sp.Discounted)
		if err != nil {
			return catalog.ProductInput{}, err
		}
		in.DiscountedPrice = &d
		if sp.OfferDays > 0 {
			y, m, day := now.AddDate(0, 0, sp.OfferDays).Date()
			ends := time.Date(y, m, day, 23, 59, 59, 0, now.Location())
			in.OfferEndsAt = &ends
		}
	}
	return in, nil
}
