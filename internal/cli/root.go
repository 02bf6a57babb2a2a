package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sbenjam1n/eggsync/internal/config"
	"github.com/sbenjam1n/eggsync/internal/db"
	"github.com/sbenjam1n/eggsync/internal/gamification"
	"github.com/sbenjam1n/eggsync/internal/logging"
	"github.com/sbenjam1n/eggsync/internal/pgstore"
	"github.com/sbenjam1n/eggsync/internal/queue"
	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	logger  *slog.Logger
	userID  string
	rootCmd = &cobra.Command{
		Use:   "eggs",
		Short: "Easter egg tracking, achievements and notifications",
		Long: `eggs drives the easter egg gamification engine against PostgreSQL
and publishes notifications to a Redis stream.

Set up the schema once:
  eggs init

Track an action for a user:
  eggs track konami --user u-123 --key ArrowUp

Inspect what a user unlocked:
  eggs achievements --user u-123`,
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("EGGS_USER"), "Acting user id (default $EGGS_USER)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(definitionsCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(achievementsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(pointsCmd)
	rootCmd.AddCommand(seenCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(queueCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger = logging.New("eggs", cfg.LogLevel)
	slog.SetDefault(logger)
}

func connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w\nSet EGGS_DATABASE_URL environment variable", err)
	}
	return pool, nil
}

func connectRedis() (*redis.Client, error) {
	rdb, err := queue.ConnectRedis(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w\nSet EGGS_REDIS_URL environment variable", err)
	}
	return rdb, nil
}

// session is an initialized engine plus the connections behind it.
type session struct {
	engine *gamification.Engine
	store  *pgstore.Store
	close  func()
}

func openSession(ctx context.Context) (*session, error) {
	pool, err := connectDB(ctx)
	if err != nil {
		return nil, err
	}
	store := pgstore.New(pool, logger)

	opts := []gamification.Option{gamification.WithLogger(logger)}
	var rdb *redis.Client
	if cfg.PublishNotifications {
		rdb, err = connectRedis()
		if err != nil {
			pool.Close()
			return nil, err
		}
		opts = append(opts, gamification.WithPublisher(queue.New(rdb, cfg.NotificationStream)))
	}

	engine := gamification.NewEngine(store, gamification.StaticUser(userID), opts...)
	closeAll := func() {
		engine.ClearCache()
		if rdb != nil {
			rdb.Close()
		}
		pool.Close()
	}
	if err := engine.Initialize(ctx); err != nil {
		closeAll()
		return nil, err
	}
	return &session{engine: engine, store: store, close: closeAll}, nil
}

func requireUser() error {
	if userID == "" {
		return fmt.Errorf("%w: pass --user or set EGGS_USER", gamification.ErrNotAuthenticated)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
