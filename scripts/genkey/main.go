// genkey generates the secrets promptdeck needs at startup.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go >> .env
//
// Prints:
//
//	PROMPTDECK_SECRETS_KEY  hex-encoded 32-byte key sealing provider credentials
//	PROMPTDECK_JWT_SECRET   HMAC secret signing workspace bearer tokens
//
// The server auto-generates an ephemeral JWT secret when
// PROMPTDECK_JWT_SECRET is unset, but that secret is discarded on every
// restart, invalidating all existing tokens. The sealing key has no
// ephemeral fallback: credentials sealed under a lost key are
// unrecoverable, so persist both.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/promptdeck/promptdeck/internal/secrets"
)

func main() {
	sealKey, err := secrets.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate sealing key: %v\n", err)
		os.Exit(1)
	}

	jwtSecret := make([]byte, 32)
	if _, err := rand.Read(jwtSecret); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate jwt secret: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("PROMPTDECK_SECRETS_KEY=%s\n", sealKey)
	fmt.Printf("PROMPTDECK_JWT_SECRET=%s\n", hex.EncodeToString(jwtSecret))
}
