package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/config"
	"github.com/studentrooms/booking-backend/internal/database"
	"github.com/studentrooms/booking-backend/internal/handlers"
	"github.com/studentrooms/booking-backend/internal/middleware"
	"github.com/studentrooms/booking-backend/internal/mirror"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/queue"
	"github.com/studentrooms/booking-backend/internal/services"
	"github.com/studentrooms/booking-backend/pkg/jwt"
	"github.com/studentrooms/booking-backend/pkg/validator"
	"gopkg.in/gomail.v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting room booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.LogFile != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Server.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}))
	}

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	if err := validator.Register(); err != nil {
		logger.Fatalf("Failed to register validators: %v", err)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize mirror store
	logger.Info("Connecting to Redis...")
	rdb, err := mirror.Connect(context.Background(), cfg.Redis.URL)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()
	mirrorStore := mirror.NewStore(rdb)
	logger.Info("Redis connection established")

	// Initialize repositories
	roomRepository := database.NewRoomRepository(db.DB)
	holdRepository := database.NewHoldRepository(db.DB)
	guestRepository := database.NewGuestRepository(db.DB)
	bookingRepository := database.NewBookingRepository(db.DB)
	correlationRepository := database.NewPaymentCorrelationRepository(db.DB)
	paymentAuditRepository := database.NewPaymentAuditRepository(db.DB, logger)

	// Outbound notifications. The queue is optional; without it the
	// confirmation email is sent in-process.
	mailer := gomail.NewDialer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password)

	var publisher services.EventPublisher
	var confirmedQueue *queue.Publisher
	if cfg.Queue.URL != "" {
		confirmedQueue, err = queue.NewPublisher(cfg.Queue.URL, logger)
		if err != nil {
			logger.WithError(err).Warn("Message queue unavailable; notifications will be sent in-process")
		} else {
			publisher = confirmedQueue
			defer confirmedQueue.Close()
		}
	}

	// Initialize services
	logger.Info("Initializing services...")
	notificationService := services.NewNotificationService(mailer, publisher, cfg.Mail, cfg.Payment.RenewalURL, logger)
	availabilityService := services.NewAvailabilityService(roomRepository, mirrorStore, logger)
	holdService := services.NewHoldService(holdRepository, cfg.Booking.HoldTTL, logger)
	guestService := services.NewGuestService(guestRepository, logger)
	auditService := services.NewAuditService(db)

	orchestrator := services.NewBookingOrchestratorService(
		roomRepository,
		bookingRepository,
		correlationRepository,
		guestService,
		holdService,
		availabilityService,
		notificationService,
		services.BookingOrchestratorConfig{CorrelationTTL: cfg.Booking.CorrelationTTL},
		logger,
	)
	reconciler := services.NewPaymentReconciliationService(
		roomRepository,
		bookingRepository,
		correlationRepository,
		availabilityService,
		notificationService,
		logger,
	)

	// Payment rails. A rail without credentials stays disabled.
	var razorpayWebhook handlers.WebhookRail
	if cfg.Payment.Razorpay.KeyID != "" {
		razorpayService := services.NewRazorpayService(
			services.NewRazorpayAPI(cfg.Payment.Razorpay),
			cfg.Payment.Razorpay.WebhookSecret,
			cfg.Payment.Currency,
			reconciler,
			logger,
		)
		orchestrator.RegisterRail(models.PaymentMethodCard, razorpayService)
		razorpayWebhook = razorpayService
		logger.Info("Card rail enabled")
	}

	var omiseWebhook handlers.WebhookRail
	if cfg.Payment.Omise.SecretKey != "" {
		omiseAPI, err := services.NewOmiseAPI(cfg.Payment.Omise)
		if err != nil {
			logger.Fatalf("Failed to create omise client: %v", err)
		}
		omiseService := services.NewOmiseService(omiseAPI, cfg.Payment.Currency, cfg.Payment.ReturnURL, reconciler, logger)
		orchestrator.RegisterRail(models.PaymentMethodAlternate, omiseService)
		omiseWebhook = omiseService
		logger.Info("Alternate rail enabled")
	}

	relayService := services.NewSyncRelayService(roomRepository, mirrorStore, logger)
	cancellationService := services.NewCancellationService(bookingRepository, availabilityService, cfg.Booking.CancellationRequireKey, logger)
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.TokenExpiry)

	// Background workers
	cronService := services.NewCronService(holdService, correlationRepository, auditService, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if confirmedQueue != nil {
		consumer := queue.NewConsumer(cfg.Queue.URL, logger)
		go consumer.Run(workerCtx, notificationService.SendConfirmationEmail)
	}

	logger.Info("Services initialized")

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(orchestrator, logger)
	webhookHandler := handlers.NewPaymentWebhookHandler(razorpayWebhook, omiseWebhook, paymentAuditRepository, notificationService, logger)
	syncHandler := handlers.NewSyncHandler(relayService, cancellationService, auditService, logger)
	roomHandler := handlers.NewRoomHandler(mirrorStore, roomRepository, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db, mirrorStore))

	relayAuth := middleware.RelayAuth(jwtService, cfg.JWT.SourceProjectID, auditService, logger)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		rooms := v1.Group("/rooms")
		{
			rooms.GET("", roomHandler.List)
			rooms.GET("/:id", roomHandler.Get)
		}

		bookings := v1.Group("/bookings")
		{
			bookings.POST("/eligibility",
				middleware.NewRateLimiter(rdb, cfg.RateLimit.Eligibility, "eligibility", logger),
				bookingHandler.CheckEligibility)
			bookings.POST("",
				middleware.NewRateLimiter(rdb, cfg.RateLimit.Commit, "commit", logger),
				bookingHandler.Commit)
		}

		v1.POST("/payments/sessions",
			middleware.NewRateLimiter(rdb, cfg.RateLimit.Commit, "payment_session", logger),
			bookingHandler.StartPayment)

		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/razorpay", webhookHandler.Razorpay)
			webhooks.POST("/omise", webhookHandler.Omise)
		}

		sync := v1.Group("/sync", relayAuth)
		{
			sync.POST("/documents", syncHandler.Documents)
			sync.POST("/cancellations", syncHandler.Cancellations)
			sync.GET("/jobs", func(c *gin.Context) {
				c.JSON(http.StatusOK, cronService.GetJobStatus())
			})
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	cronService.Stop()
	stopWorkers()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB, mirrorStore *mirror.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus, redisStatus := "healthy", "healthy"
		if err := db.PingContext(ctx); err != nil {
			dbStatus = "unhealthy"
		}
		if err := mirrorStore.Ping(ctx); err != nil {
			redisStatus = "unhealthy"
		}

		status := http.StatusOK
		overall := "healthy"
		if dbStatus != "healthy" || redisStatus != "healthy" {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":    overall,
			"database":  dbStatus,
			"redis":     redisStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
