package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/josephschmitt/maestro/internal/config"
	"github.com/josephschmitt/maestro/internal/store"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects under the storage base path",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = config.DefaultPath()
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		projects, err := store.ListProjects(cfg.ResolveBasePath())
		if err != nil {
			return fmt.Errorf("listing projects: %w", err)
		}
		if len(projects) == 0 {
			fmt.Println("No projects yet. Create one through the API: POST /api/create-project")
			return nil
		}

		color := isatty.IsTerminal(os.Stdout.Fd())
		for _, p := range projects {
			if color {
				fmt.Printf("%s%s%s  %s%s%s\n", colorBold, p.Name, colorReset, colorDim, p.ID, colorReset)
			} else {
				fmt.Printf("%s  %s\n", p.Name, p.ID)
			}
		}
		return nil
	},
}

func init() {
	projectsCmd.Flags().String("config", "", "Path to config.toml (default ~/.maestro/config.toml)")
	rootCmd.AddCommand(projectsCmd)
}
