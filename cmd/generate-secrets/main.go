package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/studentrooms/booking-backend/internal/utils"
	"github.com/studentrooms/booking-backend/pkg/jwt"
)

func main() {
	var projectID, secret string
	var expiry time.Duration
	flag.StringVar(&projectID, "project", "", "content project id the relay token is issued for")
	flag.StringVar(&secret, "secret", "", "existing RELAY_JWT_SECRET (a new one is generated when empty)")
	flag.DurationVar(&expiry, "expiry", 365*24*time.Hour, "token lifetime, 0 for no expiry")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Relay Secret Generator")
	fmt.Println("===========================================")
	fmt.Println()

	if secret == "" {
		generated, err := utils.GenerateSecret(32)
		if err != nil {
			log.Fatalf("Failed to generate secret: %v", err)
		}
		secret = generated
		fmt.Println("Add this to your .env file:")
		fmt.Println()
		fmt.Printf("RELAY_JWT_SECRET=%s\n", secret)
		fmt.Println()
	}

	if projectID == "" {
		fmt.Println("Pass -project to also issue a relay token.")
		return
	}

	token, err := jwt.NewService(secret, expiry).GenerateRelayToken(projectID)
	if err != nil {
		log.Fatalf("Failed to issue relay token: %v", err)
	}

	fmt.Println("Configure the content store webhook with:")
	fmt.Println()
	fmt.Printf("SOURCE_PROJECT_ID=%s\n", projectID)
	fmt.Printf("Authorization: Bearer %s\n", token)
	fmt.Println()
	fmt.Println("IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
