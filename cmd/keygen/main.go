// Command keygen prints a fresh admin token for the key manager's
// operator endpoints.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/af-corp/aegis-router/internal/auth"
)

func main() {
	env := flag.String("env", "admin", "token environment prefix")
	flag.Parse()

	token, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}

	fmt.Println("Admin token generated.")
	fmt.Println()
	fmt.Printf("  Token:   %s\n", token)
	fmt.Printf("  Prefix:  %s\n", auth.KeyPrefix(token))
	fmt.Printf("  SHA-256: %s\n", auth.HashKey(token))
	fmt.Println()
	fmt.Println("Set it in gateway.yaml under server.admin_token, or export it:")
	fmt.Printf("  export AEGIS_ADMIN_TOKEN=%s\n", token)
}
