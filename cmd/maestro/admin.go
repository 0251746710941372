package main

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey()
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: maestro admin <command>

Commands:
  hash-key   Read a team API key (no echo) and print its bcrypt hash
             for auth.api_key_hash / MAESTRO_API_KEY_HASH
  help       Show this help message
`)
}

// runAdminHashKey reads the key without echoing it and prints the hash.
func runAdminHashKey() error {
	fmt.Fprint(os.Stderr, "API key: ")
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if len(key) == 0 {
		return fmt.Errorf("empty key")
	}

	hash, err := bcrypt.GenerateFromPassword(key, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}
