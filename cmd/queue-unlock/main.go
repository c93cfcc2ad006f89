// queue-unlock releases stale IN_COUNT locks, returning abandoned items to
// the pending pool. Workers sometimes walk away mid-count; their lock blocks
// the item until this runs or the cycle resets.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/queue-unlock -older-than-minutes 60
//
// Dry-run by default; pass -confirm to apply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/models"
)

func main() {
	olderThan := flag.Int("older-than-minutes", 60, "Release locks held longer than this many minutes")
	confirm := flag.Bool("confirm", false, "Apply the unlock. Without this flag only reports what would be released.")
	flag.Parse()

	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "-older-than-minutes must be positive")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	cutoff := time.Now().Add(-time.Duration(*olderThan) * time.Minute)

	var stale []models.QueueItem
	err := db.WithContext(ctx).
		Where("status = ? AND locked_at < ?", models.QueueStatusInCount, cutoff).
		Find(&stale).Error
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list stale locks: %v\n", err)
		os.Exit(1)
	}
	if len(stale) == 0 {
		fmt.Println("No stale locks found.")
		return
	}

	for _, item := range stale {
		lockedBy := 0
		if item.LockedBy != nil {
			lockedBy = *item.LockedBy
		}
		fmt.Printf("item=%d product=%d locked_by=%d locked_at=%s\n", item.ID, item.ProductCode, lockedBy, item.LockedAt.Format(time.RFC3339))
	}

	if !*confirm {
		fmt.Printf("Dry run: %d stale locks would be released. Pass -confirm to apply.\n", len(stale))
		return
	}

	released, err := models.ReleaseStaleLocks(ctx, db, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to release locks: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Released %d stale locks.\n", released)
}
