// hashpass generates the bcrypt hash the AUTH_PASSWORD_HASH setting
// expects. Run it once, paste the output into the environment.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"deriv-trading-bot/internal/auth"
)

func main() {
	fmt.Print("Operator password: ")

	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading password: %v\n", err)
		os.Exit(1)
	}
	password = strings.TrimRight(password, "\r\n")

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error hashing password: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nSet these in the environment:")
	fmt.Println("  AUTH_ENABLED=true")
	fmt.Printf("  AUTH_PASSWORD_HASH='%s'\n", hash)
}
