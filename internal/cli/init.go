package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sbenjam1n/eggsync/internal/db"
	"github.com/sbenjam1n/eggsync/internal/queue"
	"github.com/spf13/cobra"
)

var skipRedis bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the PostgreSQL schema and the Redis notification stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		fmt.Println("Connecting to PostgreSQL...")
		pool, err := connectDB(ctx)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()

		fmt.Println("Running migrations...")
		applied, err := db.Migrate(ctx, pool, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		for _, f := range applied {
			fmt.Printf("  applied %s\n", filepath.Base(f))
		}

		if skipRedis || !cfg.PublishNotifications {
			fmt.Println("\nSkipping Redis stream setup.")
			return nil
		}

		fmt.Println("Connecting to Redis...")
		rdb, err := connectRedis()
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer rdb.Close()

		q := queue.New(rdb, cfg.NotificationStream)
		if err := q.EnsureStreams(ctx); err != nil {
			return fmt.Errorf("redis stream setup failed: %w", err)
		}
		fmt.Printf("Redis stream %s ready\n", q.Stream())

		fmt.Println("\nNext steps:")
		fmt.Println("  1. Run: eggs definitions import <file.json>")
		fmt.Println("  2. Run: eggs track <name> --user <id>")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&skipRedis, "skip-redis", false, "Only run PostgreSQL migrations")
}
