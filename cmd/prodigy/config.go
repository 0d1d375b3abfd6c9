package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prodigy-dev/prodigy/internal/config"
)

var configShow bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View Prodigy configuration.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (PRODIGY_*)
  3. Project config (.prodigy/config.yaml)
  4. Home config (~/.prodigy/config.yaml)
  5. Defaults

Examples:
  prodigy config --show           # Show resolved configuration
  prodigy config --show -o json   # Output as JSON`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show resolved configuration with sources")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	if !configShow {
		return cmd.Help()
	}

	resolved := config.Resolve(GetOutput(), GetHome(), GetVerbose())

	if GetOutput() == "json" {
		data, err := json.MarshalIndent(resolved, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("Prodigy Configuration")
	fmt.Println("=====================")
	fmt.Println()

	fmt.Println("Config files:")
	homePath := filepath.Join(os.Getenv("HOME"), ".prodigy", "config.yaml")
	printConfigFileStatus("Home", homePath)

	projectPath := strings.TrimSpace(os.Getenv("PRODIGY_CONFIG"))
	if projectPath == "" {
		cwd, _ := os.Getwd()
		projectPath = filepath.Join(cwd, ".prodigy", "config.yaml")
	}
	printConfigFileStatus("Project", projectPath)

	fmt.Println()
	fmt.Println("Resolved values:")
	fmt.Printf("  output:               %v  (from %s)\n", resolved.Output.Value, resolved.Output.Source)
	fmt.Printf("  prodigy_home:         %v  (from %s)\n", resolved.ProdigyHome.Value, resolved.ProdigyHome.Source)
	fmt.Printf("  verbose:              %v  (from %s)\n", resolved.Verbose.Value, resolved.Verbose.Source)
	fmt.Printf("  worktree.mode:        %v  (from %s)\n", resolved.WorktreeMode.Value, resolved.WorktreeMode.Source)
	fmt.Printf("  assistant.command:    %v  (from %s)\n", resolved.AssistantCommand.Value, resolved.AssistantCommand.Source)
	fmt.Printf("  assistant.skip_permissions: %v  (from %s)\n", resolved.SkipPermissions.Value, resolved.SkipPermissions.Source)
	fmt.Printf("  assistant.streaming:  %v  (from %s)\n", resolved.AssistantStreaming.Value, resolved.AssistantStreaming.Source)

	fmt.Println()
	fmt.Println("Environment variables (if set):")
	envVars := []string{
		"PRODIGY_CONFIG",
		"PRODIGY_OUTPUT",
		"PRODIGY_HOME",
		"PRODIGY_VERBOSE",
		"PRODIGY_WORKTREE_MODE",
		"PRODIGY_ASSISTANT_COMMAND",
		"PRODIGY_SKIP_PERMISSIONS",
		"PRODIGY_ASSISTANT_STREAMING",
		"PRODIGY_MAPREDUCE_MAX_PARALLEL",
		"PRODIGY_MAPREDUCE_TIMEOUT_PER_AGENT",
	}
	anySet := false
	for _, env := range envVars {
		if v := os.Getenv(env); v != "" {
			fmt.Printf("  %s=%s\n", env, v)
			anySet = true
		}
	}
	if !anySet {
		fmt.Println("  (none set)")
	}

	return nil
}

func printConfigFileStatus(label, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  ✓ %s: %s\n", label, path)
	} else {
		fmt.Printf("  ✗ %s: %s (not found)\n", label, path)
	}
}
