package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/seojinpark/crosspost/internal/domain"
	"github.com/seojinpark/crosspost/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dbPath    string
		secret    string
		sessionID string
		unlink    string
	)

	flag.StringVar(&dbPath, "db", envOrDefault("DATABASE_PATH", "crosspost.db"), "SQLite database path")
	flag.StringVar(&secret, "secret", envOrDefault("COOKIE_SECRET", ""), "cookie secret used to decrypt stored accounts")
	flag.StringVar(&sessionID, "session", "", "browser session id to inspect")
	flag.StringVar(&unlink, "unlink", "", "platform to unlink instead of listing")
	flag.Parse()

	if secret == "" {
		return fmt.Errorf("--secret is required (or set COOKIE_SECRET)")
	}
	if sessionID == "" {
		return fmt.Errorf("--session is required")
	}

	store, err := session.NewSQLiteStore(dbPath, secret)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	if unlink != "" {
		platform, err := domain.ParsePlatform(unlink)
		if err != nil {
			return err
		}
		if err := store.DeleteAccount(ctx, sessionID, platform); err != nil {
			return err
		}
		fmt.Printf("Unlinked %s\n", platform)
		return nil
	}

	accounts, err := store.ListAccounts(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("No linked accounts")
		return nil
	}

	for platform, account := range accounts {
		profile := account.Profile()
		if profile.Host != "" {
			fmt.Printf("%-8s @%s (%s) on %s\n", platform, profile.Handle, profile.DisplayName, profile.Host)
		} else {
			fmt.Printf("%-8s @%s (%s)\n", platform, profile.Handle, profile.DisplayName)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
