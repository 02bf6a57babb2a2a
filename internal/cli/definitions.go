package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sbenjam1n/eggsync/internal/gamification"
	"github.com/spf13/cobra"
)

var (
	listAll    bool
	filterType string
)

var definitionsCmd = &cobra.Command{
	Use:     "definitions",
	Aliases: []string{"defs"},
	Short:   "Easter egg definitions",
}

var definitionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List easter egg definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		var defs []*gamification.Definition
		switch {
		case listAll:
			defs, err = s.store.ListDefinitions(ctx)
			if err != nil {
				return err
			}
		case filterType != "":
			defs = s.engine.EasterEggsByType(gamification.TriggerType(filterType))
		default:
			defs = s.engine.AvailableEasterEggs()
		}

		if len(defs) == 0 {
			fmt.Println("  (none)")
			return nil
		}
		for _, d := range defs {
			state := ""
			if !d.IsActive {
				state = " [inactive]"
			}
			fmt.Printf("  %-24s %-10s %-9s %4d pts  %s%s\n", d.Name, d.TriggerType, d.Difficulty, d.Points, d.Category, state)
		}
		return nil
	},
}

var definitionsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one active definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		d := s.engine.EasterEggDefinition(args[0])
		if d == nil {
			return fmt.Errorf("%s: %w", args[0], gamification.ErrDefinitionNotFound)
		}
		return printJSON(definitionFile{Definition: d, TriggerConfig: mustRaw(d.Trigger)})
	},
}

var definitionsImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Create or update definitions from a JSON array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		defs, err := parseDefinitions(data)
		if err != nil {
			return err
		}

		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		for _, d := range defs {
			id, err := s.store.UpsertDefinition(ctx, d)
			if err != nil {
				return err
			}
			fmt.Printf("  %s -> %s\n", d.Name, id)
		}
		if err := s.engine.ReloadEasterEggs(ctx); err != nil {
			return err
		}
		fmt.Printf("Imported %d definitions, %d active\n", len(defs), len(s.engine.AvailableEasterEggs()))
		return nil
	},
}

// definitionFile is the JSON shape of a definition in import files.
type definitionFile struct {
	*gamification.Definition
	TriggerConfig json.RawMessage `json:"trigger_config"`
}

func mustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// parseDefinitions decodes an import file and validates every trigger config.
// is_active defaults to true when omitted.
func parseDefinitions(data []byte) ([]*gamification.Definition, error) {
	var files []struct {
		definitionFile
		IsActive *bool `json:"is_active"`
	}
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("decode definitions: %w", err)
	}

	defs := make([]*gamification.Definition, 0, len(files))
	seen := make(map[string]bool)
	for i, f := range files {
		d := f.Definition
		if d == nil || d.Name == "" {
			return nil, fmt.Errorf("definition %d: name is required", i)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("definition %s: duplicate name", d.Name)
		}
		seen[d.Name] = true

		trigger, err := gamification.DecodeTriggerConfig(d.TriggerType, f.TriggerConfig)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", d.Name, err)
		}
		d.Trigger = trigger
		d.IsActive = f.IsActive == nil || *f.IsActive
		if d.Difficulty == "" {
			d.Difficulty = gamification.DifficultyEasy
		}
		if d.DisplayName == "" {
			d.DisplayName = d.Name
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func init() {
	definitionsListCmd.Flags().BoolVar(&listAll, "all", false, "Include inactive definitions")
	definitionsListCmd.Flags().StringVar(&filterType, "type", "", "Only show one trigger type (clicks, sequence, time_based, combo)")

	definitionsCmd.AddCommand(definitionsListCmd)
	definitionsCmd.AddCommand(definitionsShowCmd)
	definitionsCmd.AddCommand(definitionsImportCmd)
}
