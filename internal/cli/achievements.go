package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/sbenjam1n/eggsync/internal/gamification"
	"github.com/spf13/cobra"
)

var (
	onlyNew  bool
	category string
	sortBy   string
	seenAll  bool
)

var achievementsCmd = &cobra.Command{
	Use:   "achievements",
	Short: "List achievements unlocked by --user",
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := parseSort(sortBy)
		if err != nil {
			return err
		}

		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		list, err := s.engine.UserAchievements(ctx, gamification.AchievementOptions{
			OnlyNew:  onlyNew,
			Category: category,
			Sort:     order,
		})
		if err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Println("  (none)")
			return nil
		}
		for _, a := range list {
			marker := " "
			if a.IsNew {
				marker = "*"
			}
			fmt.Printf("%s %s  %-24s %4d pts  %-10s %s\n", marker, a.ID, a.DisplayName, a.Points, a.Category, a.UnlockedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show achievement statistics for --user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		stats, err := s.engine.UserStats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Achievements: %d (%d new)\n", stats.Total, stats.NewCount)
		fmt.Printf("Points:       %d\n", stats.TotalPoints)
		printCounts("By category:", stats.ByCategory)
		printCounts("By difficulty:", stats.ByDifficulty)
		return nil
	},
}

var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "Print the total points of --user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		points, err := s.engine.UserTotalPoints(ctx)
		if err != nil {
			return err
		}
		fmt.Println(points)
		return nil
	},
}

var seenCmd = &cobra.Command{
	Use:   "seen [achievement-id]",
	Short: "Mark one or all achievements of --user as seen",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		if seenAll == (len(args) == 1) {
			return fmt.Errorf("pass either an achievement id or --all")
		}

		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		if seenAll {
			n, err := s.engine.MarkAllAchievementsAsSeen(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Marked %d achievements as seen\n", n)
			return nil
		}

		if _, err := s.engine.MarkAchievementAsSeen(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Marked %s as seen\n", args[0])
		return nil
	},
}

func parseSort(s string) (gamification.SortOrder, error) {
	switch o := gamification.SortOrder(s); o {
	case gamification.SortNewest, gamification.SortPoints, gamification.SortName:
		return o, nil
	default:
		return "", fmt.Errorf("unknown sort %q (newest, points, name)", s)
	}
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Println(title)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-12s %d\n", k, counts[k])
	}
}

func init() {
	achievementsCmd.Flags().BoolVar(&onlyNew, "new", false, "Only achievements not yet seen")
	achievementsCmd.Flags().StringVar(&category, "category", "", "Only achievements in this category")
	achievementsCmd.Flags().StringVar(&sortBy, "sort", "newest", "Sort order: newest, points, name")

	seenCmd.Flags().BoolVar(&seenAll, "all", false, "Mark every achievement as seen")
}
