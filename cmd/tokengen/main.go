// Package main provides CLI for minting ingest tokens.
// Usage: tokengen issue --producer feed-relay [--ttl 24h]
//        tokengen verify <token>
package main

import (
	"fmt"
	"os"
	"time"

	"unitcast/internal/core/security"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "issue":
		issueToken()
	case "verify":
		verifyToken()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Unitcast Ingest Token CLI

Usage:
  tokengen <command> [options]

Commands:
  issue     Mint a token for a change producer
  verify    Validate a token and print its producer
  help      Show this help

Environment Variables:
  UNITCAST_INGEST_TOKEN_SECRET   Signing secret (required)

Examples:
  tokengen issue --producer feed-relay
  tokengen issue --producer feed-relay --ttl 168h
  tokengen verify eyJhbGciOi...`)
}

func tokenService(ttl time.Duration) *security.TokenService {
	secret := os.Getenv("UNITCAST_INGEST_TOKEN_SECRET")
	if secret == "" {
		fmt.Println("Error: UNITCAST_INGEST_TOKEN_SECRET environment variable is required")
		os.Exit(1)
	}

	config := security.DefaultTokenConfig(secret)
	if ttl > 0 {
		config.TTL = ttl
	}
	return security.NewTokenService(config)
}

func issueToken() {
	var producer string
	var ttl time.Duration

	// Parse arguments
	for i := 2; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--producer":
			if i+1 < len(os.Args) {
				producer = os.Args[i+1]
				i++
			}
		case "--ttl":
			if i+1 < len(os.Args) {
				parsed, err := time.ParseDuration(os.Args[i+1])
				if err != nil {
					fmt.Printf("Error: invalid --ttl value: %v\n", err)
					os.Exit(1)
				}
				ttl = parsed
				i++
			}
		}
	}

	if producer == "" {
		fmt.Println("Error: --producer is required")
		fmt.Println("Usage: tokengen issue --producer <name> [--ttl <duration>]")
		os.Exit(1)
	}

	token, expiresAt, err := tokenService(ttl).GenerateToken(producer)
	if err != nil {
		fmt.Printf("Error minting token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Producer:   %s\n", producer)
	fmt.Printf("Expires at: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Printf("Token:      %s\n", token)
}

func verifyToken() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tokengen verify <token>")
		os.Exit(1)
	}

	producer, err := tokenService(0).ValidateToken(os.Args[2])
	if err != nil {
		fmt.Printf("Token invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token valid for producer: %s\n", producer)
}
