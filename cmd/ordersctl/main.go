package main

import (
	"fmt"
	"log"
	"os"

	"marketplace-orders/config"
	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/auth"
	"marketplace-orders/internal/broker"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/redisclient"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	app := &cli.App{
		Name:  "ordersctl",
		Usage: "maintenance commands for the marketplace order service",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Action: func(c *cli.Context) error {
					db, err := store.NewStore(cfg.Database.URL)
					if err != nil {
						return err
					}
					defer db.Close()
					return db.Migrate(c.Context)
				},
			},
			{
				Name:  "sync-inventory",
				Usage: "rebuild the Redis inventory mirror from the database",
				Action: func(c *cli.Context) error {
					db, err := store.NewStore(cfg.Database.URL)
					if err != nil {
						return err
					}
					defer db.Close()
					rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
					if err != nil {
						return err
					}
					defer rc.Close()

					n, err := service.NewInventoryService(db, rc).SyncAll(c.Context)
					if err != nil {
						return err
					}
					fmt.Printf("synced %d products\n", n)
					return nil
				},
			},
			{
				Name:  "relay-once",
				Usage: "publish one batch of pending outbox events to Kafka",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "batch", Value: cfg.Business.OutboxBatchSize, Usage: "maximum events to publish"},
				},
				Action: func(c *cli.Context) error {
					db, err := store.NewStore(cfg.Database.URL)
					if err != nil {
						return err
					}
					defer db.Close()
					producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
					defer producer.Close()

					n, err := service.NewOutboxRelay(db, producer, c.Int("batch"), cfg.Business.OutboxPollInterval).RelayOnce(c.Context)
					if err != nil {
						return err
					}
					fmt.Printf("published %d events\n", n)
					return nil
				},
			},
			{
				Name:  "seed",
				Usage: "create an admin account and a sample coupon",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "admin-email", Required: true},
					&cli.StringFlag{Name: "admin-password", Required: true},
					&cli.StringFlag{Name: "coupon", Value: "WELCOME10", Usage: "percentage coupon code to create, empty to skip"},
				},
				Action: func(c *cli.Context) error {
					db, err := store.NewStore(cfg.Database.URL)
					if err != nil {
						return err
					}
					defer db.Close()

					users := service.NewUserService(db, auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg.Auth.BcryptCost)
					admin, err := users.CreateUser(c.Context, c.String("admin-email"), c.String("admin-password"), models.RoleAdmin)
					switch {
					case apperr.Is(err, apperr.KindConflict):
						util.GetLogger().Info("Admin already exists", zap.String("email", c.String("admin-email")))
					case err != nil:
						return err
					default:
						util.GetLogger().Info("Admin created", zap.Int64("user_id", admin.ID))
					}

					if code := c.String("coupon"); code != "" {
						err := db.CreateCoupon(c.Context, &models.Coupon{
							Code:     code,
							Type:     models.CouponTypePercentage,
							Value:    decimal.NewFromInt(10),
							IsActive: true,
						})
						if err != nil && !apperr.Is(err, apperr.KindConflict) {
							return err
						}
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		util.GetLogger().Fatal("Command failed", zap.Error(err))
	}
}
