package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tendant/simple-sso/pkg/tokengenerator"
)

// tokengen issues a token the way the SSO callback does, for testing front ends
// and APIs without going through a provider.
func main() {
	secret := flag.String("secret", os.Getenv("JWT_KEY"), "Secret key for signing the token (defaults to JWT_KEY)")
	issuer := flag.String("issuer", "simple-sso", "Issuer of the token")
	audience := flag.String("audience", "", "Audience of the token")
	subject := flag.String("subject", "00000000-0000-0000-0000-000000000000", "Subject of the token (user ID)")
	email := flag.String("email", "test@example.com", "Email claim")
	provider := flag.String("provider", "Google", "Provider claim")
	outputFormat := flag.String("format", "compact", "Output format: compact, full, or debug")
	flag.Parse()

	tokenGen, err := tokengenerator.NewJwtTokenGenerator(*secret, *issuer, *audience)
	if err != nil {
		slog.Error("Failed to create token generator", "err", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tokenStr, err := tokenGen.GenerateToken(*subject, *email, *provider)
	if err != nil {
		slog.Error("Failed to generate token", "err", err)
		fmt.Fprintf(os.Stderr, "Error: Failed to generate token: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "compact":
		fmt.Println(tokenStr)
	case "full", "debug":
		claims, err := tokenGen.ParseToken(tokenStr)
		if err != nil {
			slog.Error("Failed to parse generated token", "err", err)
			fmt.Fprintf(os.Stderr, "Error: Failed to parse generated token: %v\n", err)
			os.Exit(1)
		}
		if *outputFormat == "full" {
			fmt.Printf("Token: %s\nExpires: %s\n", tokenStr, claims.ExpiresAt.Format(time.RFC3339))
			return
		}

		fmt.Printf("=== Token Information ===\n")
		fmt.Printf("Token: %s\n\n", tokenStr)
		fmt.Printf("=== Token Claims ===\n")
		claimsJSON, _ := json.MarshalIndent(claims, "", "  ")
		fmt.Printf("%s\n\n", claimsJSON)
		fmt.Printf("Expires: %s\n", claims.ExpiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown output format: %s\n", *outputFormat)
		os.Exit(1)
	}
}
