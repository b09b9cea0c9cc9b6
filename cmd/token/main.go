// Command token mints a service JWT for the chat gateway.
//
// The API refuses unauthenticated calls whenever JWT_SECRET is set, and the
// gateway needs a signed token to present. This command is the operator's
// side of that handshake — run it with the same JWT_SECRET the server uses
// and hand the printed token to the gateway:
//
//	JWT_SECRET=... go run ./cmd/token -caller gateway -ttl 720h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sakif/referral-board/internal/auth"
)

func main() {
	caller := flag.String("caller", "gateway", "subject recorded in the token (shows up in request logs)")
	ttl := flag.Duration("ttl", 720*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "token: JWT_SECRET is not set")
		os.Exit(1)
	}

	tokens, err := auth.NewTokenService(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}

	signed, err := tokens.Generate(*caller, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}

	// The token alone on stdout — pipe-friendly for provisioning scripts.
	fmt.Println(signed)
}
