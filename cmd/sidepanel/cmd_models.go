package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sidepanel/internal/provider"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models offered by every configured provider",
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Print JSON instead of a styled listing")
}

type modelsReport struct {
	Models   []provider.Model  `json:"models"`
	Statuses []provider.Status `json:"statuses"`
	Selected string            `json:"selected"`
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	core := newStreamCore(newLiveConfig(cfg))
	defer core.Close()

	models, statuses := core.discovery.Discover(ctx, cfg.Credentials())
	report := modelsReport{
		Models:   models,
		Statuses: statuses,
		Selected: provider.SelectModel(models, cfg.Chat.SelectedModel),
	}
	logger.Debug("Discovered models", zap.Int("count", len(models)), zap.String("selected", report.Selected))

	out := cmd.OutOrStdout()
	if modelsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintln(out, headerStyle.Render("Providers"))
	for _, st := range statuses {
		if st.Connected {
			fmt.Fprintf(out, "  %s %s\n", okStyle.Render("●"), st.Provider)
			continue
		}
		line := fmt.Sprintf("  %s %s", errStyle.Render("○"), st.Provider)
		if st.Error != "" {
			line += " " + mutedStyle.Render(st.Error)
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("Models"))
	if len(models) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("  no models available"))
		return nil
	}
	for _, m := range models {
		name := m.ID
		if m.ID == report.Selected {
			name = selectedStyle.Render(m.ID)
		}
		fmt.Fprintf(out, "  %s %s\n", name, mutedStyle.Render(string(m.Host)))
	}
	return nil
}
