package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sbenjam1n/eggsync/internal/queue"
	"github.com/spf13/cobra"
)

var (
	watchConsumer string
	watchOnce     bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Notification stream management",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the length and pending count of the notification stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb, err := connectRedis()
		if err != nil {
			return err
		}
		defer rdb.Close()

		ctx := context.Background()
		q := queue.New(rdb, cfg.NotificationStream)

		length, pending, err := q.Status(ctx)
		if err != nil {
			return fmt.Errorf("queue status: %w", err)
		}

		fmt.Printf("Queue Status:\n")
		fmt.Printf("  %s: %d messages, %d pending\n", q.Stream(), length, pending)
		return nil
	},
}

var queueWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print and acknowledge notifications as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb, err := connectRedis()
		if err != nil {
			return err
		}
		defer rdb.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		q := queue.New(rdb, cfg.NotificationStream)
		if err := q.EnsureStreams(ctx); err != nil {
			return err
		}

		for {
			n, msgID, err := q.ReadNotification(ctx, watchConsumer, 5*time.Second)
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, queue.ErrNoMessages):
				if watchOnce {
					return nil
				}
				continue
			case err != nil && msgID == "":
				return err
			case err != nil:
				logger.Error("skip undecodable notification", "id", msgID, "error", err)
			default:
				fmt.Printf("%s  %-11s %s %s  %s\n", n.CreatedAt.Format(time.RFC3339), n.Type, n.Icon, n.Title, n.RecipientID)
			}

			if err := q.Ack(ctx, msgID); err != nil {
				return fmt.Errorf("ack %s: %w", msgID, err)
			}
			if watchOnce {
				return nil
			}
		}
	},
}

func init() {
	queueWatchCmd.Flags().StringVar(&watchConsumer, "consumer", "eggs_watch_1", "Consumer name within the notifier group")
	queueWatchCmd.Flags().BoolVar(&watchOnce, "once", false, "Exit after one message or one idle timeout")

	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueWatchCmd)
}
