// Package main runs the funnel HTTP server: webinar playback, checkout and payments.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/funnel/config"
	"github.com/aura-webinar/funnel/internal/analytics"
	"github.com/aura-webinar/funnel/internal/auth"
	"github.com/aura-webinar/funnel/internal/checkout"
	"github.com/aura-webinar/funnel/internal/middleware"
	"github.com/aura-webinar/funnel/internal/offers"
	"github.com/aura-webinar/funnel/internal/payments"
	"github.com/aura-webinar/funnel/internal/products"
	"github.com/aura-webinar/funnel/internal/realtime"
	"github.com/aura-webinar/funnel/internal/registrations"
	"github.com/aura-webinar/funnel/internal/telemetry"
	"github.com/aura-webinar/funnel/internal/tracking"
	"github.com/aura-webinar/funnel/internal/webinars"
	"github.com/aura-webinar/funnel/pkg/database"
	"github.com/aura-webinar/funnel/pkg/queue"
	"github.com/aura-webinar/funnel/pkg/redis"
	"github.com/aura-webinar/funnel/pkg/response"
	"github.com/aura-webinar/funnel/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var productFiles products.Files
	if cfg.AWS.ProductsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ProductsBucket:       cfg.AWS.ProductsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			productFiles = s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret)
	reporter := telemetry.NewReporter(logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	support := response.Support{Email: cfg.Support.Email, Phone: cfg.Support.Phone}

	// Realtime
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Catalog, tracking, pending payments
	offerRepo := offers.NewRepository(pool)
	trackingSvc := tracking.NewService(tracking.NewRepository(pool), jobQueue, logger)
	pendingSvc := payments.NewPendingService(payments.NewPendingRepository(pool), jobQueue, logger)

	// Payment gateways
	quoter := payments.NewQuoter(offerRepo)
	checkoutDeps := checkout.Deps{
		Offers:     offerRepo,
		Tracker:    trackingSvc,
		Reporter:   reporter,
		Countdown:  time.Duration(cfg.Checkout.CountdownMinutes) * time.Minute,
		SuccessURL: cfg.Checkout.SuccessURL,
		Logger:     logger,
	}
	paymentDeps := payments.HandlerDeps{
		Quoter:     quoter,
		Pending:    pendingSvc,
		Support:    support,
		SuccessURL: cfg.Checkout.SuccessURL,
		Logger:     logger,
	}
	if cfg.Stripe.Enabled() {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeConfig{SecretKey: cfg.Stripe.SecretKey}, logger)
		if err != nil {
			logger.Fatal("stripe", zap.Error(err))
		}
		intents := payments.NewIntentService(quoter, stripeGateway)
		checkoutDeps.Intents = intents
		checkoutDeps.SavedMethods = stripeGateway
		checkoutDeps.Methods = append(checkoutDeps.Methods,
			checkout.QuickPay{Charger: stripeGateway},
			checkout.CardElement{Confirmer: stripeGateway})
		paymentDeps.Intents = intents
		paymentDeps.Stripe = stripeGateway
		paymentDeps.PublishableKey = cfg.Stripe.PublishableKey
	} else {
		logger.Warn("stripe not configured; card payments disabled")
	}
	if cfg.PayPal.Enabled() {
		paypalGateway, err := payments.NewPayPalGateway(payments.PayPalConfig{
			ClientID: cfg.PayPal.ClientID,
			Secret:   cfg.PayPal.ClientSecret,
			Sandbox:  cfg.PayPal.Sandbox,
		}, logger)
		if err != nil {
			logger.Fatal("paypal", zap.Error(err))
		}
		checkoutDeps.PayPalOrders = paypalGateway
		checkoutDeps.Methods = append(checkoutDeps.Methods, checkout.PayPal{Capturer: paypalGateway, Saver: pendingSvc})
		paymentDeps.PayPal = paypalGateway
	} else {
		logger.Warn("paypal not configured; paypal endpoints disabled")
	}

	// Checkout
	checkoutSvc := checkout.NewService(checkoutDeps)
	checkoutStore := checkout.NewStore(rdb.Client, cfg.Checkout.SessionTTL)
	checkoutHandler := checkout.NewHandler(checkoutSvc, checkoutStore,
		checkout.CookieConfig{Domain: cfg.Checkout.CookieDomain, Secure: cfg.Checkout.CookieSecure},
		support, cfg.Checkout.DefaultRegion, logger)
	paymentHandler := payments.NewHandler(paymentDeps)

	// Webinars
	webinarRepo := webinars.NewRepository(pool)
	webinarSvc := webinars.NewService(webinarRepo, hub, logger)
	webinarHandler := webinars.NewHandler(webinarSvc, hub, support, cfg.Playback.HomeURL, logger)
	liveHandler := webinars.NewLive(webinarSvc, hub, realtime.NewUpgrader(middleware.SplitOrigins(cfg.Server.CORSAllowedOrigins)), webinars.LiveConfig{
		HeartbeatInterval:   cfg.Playback.HeartbeatInterval,
		CommitInterval:      cfg.Playback.CommitInterval,
		ParticipantInterval: cfg.Playback.ParticipantInterval,
		GraceDelay:          cfg.Playback.GraceDelay,
		ComeBackURL:         cfg.Playback.ComeBackURL,
		RegisterURL:         cfg.Playback.RegisterURL,
		HomeURL:             cfg.Playback.HomeURL,
		Support:             support,
	}, reporter, logger)

	registrationHandler := registrations.NewHandler(registrations.NewRepository(pool), webinarRepo, trackingSvc, registrations.Config{
		WatchURL: cfg.Playback.WatchURL,
		Cookies:  checkout.CookieConfig{Domain: cfg.Checkout.CookieDomain, Secure: cfg.Checkout.CookieSecure},
	}, logger)

	analyticsHandler := analytics.NewHandler(analytics.NewRepository(pool), webinarRepo, hub, logger)

	// Products
	productHandler := products.NewHandler(offerRepo, productFiles, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(telemetry.Tracing())
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if !rdb.Healthy(c.Request.Context()) {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		if err := pool.Ping(c.Request.Context()); err != nil {
			logger.Warn("database health check failed", zap.Error(err))
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Session, chat and payment contracts (token optional)
	api := router.Group("/api")
	api.Use(middleware.OptionalJWT(jwtService))
	{
		api.POST("/get-session", webinarHandler.GetSession)
		api.POST("/get-messages", webinarHandler.GetMessages)
		api.POST("/update-watchtime", webinarHandler.UpdateWatchtime)
		api.POST("/send-feedback", webinarHandler.SendFeedback)

		api.GET("/stripe-config", paymentHandler.StripeConfig)
		api.POST("/create-intent", paymentHandler.CreateIntent)
		api.POST("/has-payment-methods", paymentHandler.HasPaymentMethods)
		api.POST("/charge-saved-card", middleware.JWT(jwtService), paymentHandler.ChargeSavedCard)
		api.POST("/paypal/create-order", paymentHandler.CreatePayPalOrder)
		api.POST("/paypal/save-pending-payment", paymentHandler.SavePendingPayment)
	}

	// Stripe events (signed; card payments are fulfilled here)
	if cfg.Stripe.WebhookSecret != "" {
		webhookHandler := payments.NewWebhookHandler(cfg.Stripe.WebhookSecret, offerRepo, reporter, logger)
		router.POST("/webhooks/stripe", webhookHandler.HandleStripe)
	} else if cfg.Stripe.Enabled() {
		logger.Warn("stripe webhook secret not set; card payments will not be fulfilled")
	}

	// Registration and playback
	router.POST("/webinars/:id/register", middleware.OptionalJWT(jwtService), registrationHandler.Register)
	router.GET("/sessions/:id/view", webinarHandler.View)
	router.GET("/ws/sessions/:id", liveHandler.Serve)

	// Checkout (token optional; an authenticated viewer skips the identity step)
	co := router.Group("/checkout")
	co.Use(middleware.OptionalJWT(jwtService))
	{
		co.POST("", checkoutHandler.Begin)
		co.GET("/:id", checkoutHandler.Get)
		co.POST("/:id/identity", checkoutHandler.SubmitIdentity)
		co.POST("/:id/bump", checkoutHandler.SetBump)
		co.POST("/:id/pay/saved-card", checkoutHandler.PaySavedCard)
		co.POST("/:id/pay/card", checkoutHandler.PayCard)
		co.POST("/:id/paypal/order", checkoutHandler.CreatePayPalOrder)
		co.POST("/:id/pay/paypal", checkoutHandler.PayPayPal)
	}

	// Purchased products (JWT required)
	authed := router.Group("")
	authed.Use(middleware.JWT(jwtService))
	{
		authed.GET("/products", productHandler.Mine)
		authed.GET("/products/:slug/download", productHandler.Download)
	}

	// Admin
	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/webinars/:id/messages", webinarHandler.AddMessage)
		admin.GET("/webinars/:id/audience", webinarHandler.AudienceCount)
		admin.GET("/webinars/:id/analytics", analyticsHandler.GetByWebinar)
		admin.POST("/products/:slug/file", productHandler.Upload)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
