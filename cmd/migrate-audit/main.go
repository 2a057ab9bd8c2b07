// migrate-audit creates or updates the gateway's audit tables and optionally prunes
// old entries. Run it as a job when the gateway starts with SKIP_MIGRATIONS=true.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/migrate-audit [-prune-days 365] [-dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"github.com/sirupsen/logrus"
)

func main() {
	pruneDays := flag.Int("prune-days", 0, "Delete audit entries older than this many days (0 keeps everything)")
	dryRun := flag.Bool("dry-run", false, "Only count what would be pruned")
	timeout := flag.Duration("timeout", 2*time.Minute, "Give up connecting to the database after this long")
	flag.Parse()

	if !config.DatabaseConfigured() {
		fmt.Fprintln(os.Stderr, "DB_HOST is not set; nothing to migrate")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	config.ConnectDatabaseWithRetry(ctx)
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	models.MigrateTable()
	logger.WithFields(logrus.Fields{"field": "migrate-audit"}).Warn("audit tables migrated")

	if *pruneDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -*pruneDays)
		n, err := models.PruneAuditEntries(context.Background(), cutoff, *dryRun)
		if err != nil {
			config.LogError(logger, "migrate-audit", "main", "Pruning audit entries", cutoff, err)
			os.Exit(1)
		}
		verb := "deleted"
		if *dryRun {
			verb = "would delete"
		}
		fmt.Printf("%s %d audit entries older than %s\n", verb, n, cutoff.Format(time.DateOnly))
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
