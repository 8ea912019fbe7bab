package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/config"
	"github.com/studentrooms/booking-backend/internal/database"
	"github.com/studentrooms/booking-backend/internal/services"
)

// transientTables hold short-lived booking state only
var transientTables = []string{
	"provisional_holds",
	"payment_correlations",
}

func main() {
	var dbURLFlag string
	var truncate bool
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.BoolVar(&truncate, "truncate", false, "truncate holds and correlation records instead of sweeping expired ones")
	flag.Parse()

	// Try loading .env from current working directory (optional)
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	// Build minimal database config without loading full app config
	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if truncate {
		for _, t := range transientTables {
			if _, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s", t)); err != nil {
				log.Fatalf("failed to truncate %s: %v", t, err)
			}
		}
		fmt.Println("Transient booking tables truncated.")
		return
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	holds := services.NewHoldService(database.NewHoldRepository(db.DB), 0, logger)
	cron := services.NewCronService(holds, database.NewPaymentCorrelationRepository(db.DB), nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fmt.Printf("Expired holds removed: %d\n", cron.RunHoldSweepNow(ctx))
	fmt.Printf("Expired payment correlations removed: %d\n", cron.RunCorrelationSweepNow(ctx))
}
