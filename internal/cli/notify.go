package cli

import (
	"context"
	"fmt"

	"github.com/sbenjam1n/eggsync/internal/gamification"
	"github.com/spf13/cobra"
)

var (
	notifyTitle     string
	notifyContent   string
	notifyIcon      string
	notifyAnimation string
	notifyPriority  string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send an ad-hoc gamification notification to --user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		if notifyTitle == "" {
			return fmt.Errorf("--title is required")
		}

		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		n, err := s.engine.Dispatcher().GamificationNotification(ctx, userID, notifyTitle, notifyContent, gamification.NotifyOptions{
			Icon:      notifyIcon,
			Animation: notifyAnimation,
			Priority:  gamification.Priority(notifyPriority),
		})
		if err != nil {
			return err
		}
		return printJSON(n)
	},
}

func init() {
	notifyCmd.Flags().StringVar(&notifyTitle, "title", "", "Notification title")
	notifyCmd.Flags().StringVar(&notifyContent, "content", "", "Notification body")
	notifyCmd.Flags().StringVar(&notifyIcon, "icon", "", "Icon (default 🎮)")
	notifyCmd.Flags().StringVar(&notifyAnimation, "animation", "", "Animation (default bounce)")
	notifyCmd.Flags().StringVar(&notifyPriority, "priority", "", "Priority: low, normal, high (default normal)")
}
