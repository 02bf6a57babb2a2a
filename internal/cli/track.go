package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sbenjam1n/eggsync/internal/gamification"
	"github.com/spf13/cobra"
)

var (
	trackKey      string
	trackAction   string
	trackDuration int64
	trackExtra    string
	trackRepeat   int
)

var trackCmd = &cobra.Command{
	Use:   "track <easter-egg>",
	Short: "Track an action against an easter egg for --user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := actionFromFlags()
		if err != nil {
			return err
		}

		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		// Repeats share one engine, so they exercise the progress cache the
		// way consecutive UI events do.
		var res gamification.TrackingResult
		for i := 0; i < trackRepeat; i++ {
			res = s.engine.TrackEasterEggAction(ctx, args[0], action)
			if !res.Success || res.Completed {
				break
			}
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("track %s: %s", args[0], res.Error)
		}
		return nil
	},
}

func actionFromFlags() (gamification.ActionData, error) {
	action := gamification.ActionData{Key: trackKey, Action: trackAction, Duration: trackDuration}
	if trackExtra != "" {
		if err := json.Unmarshal([]byte(trackExtra), &action.Extra); err != nil {
			return action, fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}
	if trackRepeat < 1 {
		return action, fmt.Errorf("--repeat must be at least 1")
	}
	return action, nil
}

func init() {
	trackCmd.Flags().StringVar(&trackKey, "key", "", "Key pressed (sequence triggers)")
	trackCmd.Flags().StringVar(&trackAction, "action", "", "Action name (combo triggers)")
	trackCmd.Flags().Int64Var(&trackDuration, "duration", 0, "Duration in milliseconds (time_based triggers)")
	trackCmd.Flags().StringVar(&trackExtra, "data", "", "Extra action data as a JSON object, stored on the achievement")
	trackCmd.Flags().IntVar(&trackRepeat, "repeat", 1, "Track the same action this many times")
}
