package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/cache"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/config"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/db"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/fulfillment"
	adminapi "github.com/bihaiyouyou/huan-yin-chao-i-website/internal/http/api/admin"
	filesapi "github.com/bihaiyouyou/huan-yin-chao-i-website/internal/http/api/files"
	shopapi "github.com/bihaiyouyou/huan-yin-chao-i-website/internal/http/api/shop"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/logging"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/payment"
	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/security"
)

// shutdownTimeout bounds how long in-flight requests may run after a
// stop signal.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database, runs migrations and seeds initial rows.
func Migrate(ctx context.Context, cfg config.Config) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSeed := db.SeedCardTypes(conn); errSeed != nil {
		return errSeed
	}
	return seedAdmin(conn, cfg)
}

// Run boots the card shop server and blocks until ctx is cancelled or
// the listener fails.
func Run(ctx context.Context, cfg config.Config) error {
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return fmt.Errorf("open database: %w", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return fmt.Errorf("migrate database: %w", errMigrate)
	}
	if errSeed := db.SeedCardTypes(conn); errSeed != nil {
		return fmt.Errorf("seed card types: %w", errSeed)
	}
	if errSeed := seedAdmin(conn, cfg); errSeed != nil {
		return fmt.Errorf("seed admin: %w", errSeed)
	}

	statusCache, errCache := cache.New(ctx, cfg.Redis)
	if errCache != nil {
		return fmt.Errorf("connect redis: %w", errCache)
	}
	defer func() { _ = statusCache.Close() }()

	gateway, errGateway := buildGateway(cfg)
	if errGateway != nil {
		return errGateway
	}
	engine := fulfillment.New(conn, gateway, cfg.Payment.Mode)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	shopapi.RegisterShopRoutes(router, conn, engine, statusCache)
	filesapi.RegisterFileRoutes(router, conn, cfg.Files)
	adminapi.RegisterAdminRoutes(router, conn, cfg.JWT)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s (payment mode %s)", cfg.Server.Addr, cfg.Payment.Mode)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("shutdown: %w", errShutdown)
		}
		log.Info("server stopped")
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// buildGateway selects the payment provider from configuration.
func buildGateway(cfg config.Config) (payment.Gateway, error) {
	switch cfg.Payment.Mode {
	case config.PaymentModeAlipay:
		gateway, errNew := payment.NewAlipayGateway(cfg.Payment.Alipay, cfg.Payment.NotifyURL)
		if errNew != nil {
			return nil, fmt.Errorf("init alipay gateway: %w", errNew)
		}
		return gateway, nil
	case config.PaymentModeSimulated:
		autoSucceed := time.Duration(cfg.Payment.Simulated.AutoSucceedSeconds) * time.Second
		return payment.NewSimulatedGateway(cfg.Payment.Simulated.Secret, autoSucceed), nil
	default:
		return nil, fmt.Errorf("unknown payment mode %q", cfg.Payment.Mode)
	}
}

// seedAdmin creates the initial admin account when credentials are
// configured and no admin exists yet.
func seedAdmin(conn *gorm.DB, cfg config.Config) error {
	username := cfg.Admin.Username
	password := cfg.Admin.Password
	if username == "" || password == "" {
		return nil
	}
	hashed, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}
	return db.SeedAdmin(conn, username, hashed)
}
