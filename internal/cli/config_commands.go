package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-gallery/internal/api"
	"github.com/rescale/rescale-gallery/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage rescale-gallery configuration",
		Long: `Configuration management commands for rescale-gallery.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test the server connection
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// configPath returns --config or the default location.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for rescale-gallery.

The configuration is saved as an INI file with owner-only permissions.
Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()
			out := cmd.OutOrStdout()

			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to determine config path: %w", err)
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			fmt.Fprintln(out, "Rescale Gallery Configuration Setup")
			fmt.Fprintln(out, "===================================")
			fmt.Fprintln(out)

			reader := bufio.NewReader(cmd.InOrStdin())
			cfg := config.NewConfig()

			cfg.APIBaseURL = promptLine(reader, out, "Server URL", cfg.APIBaseURL)
			for cfg.APIKey == "" {
				key, err := promptSecret(reader, out, "API Key (required)")
				if err != nil {
					return err
				}
				cfg.APIKey = key
				if cfg.APIKey == "" {
					fmt.Fprintln(out, "  Error: API key is required")
				}
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Viewport Settings (press Enter for defaults)")
			fmt.Fprintln(out, "--------------------------------------------")
			if v, err := strconv.Atoi(promptLine(reader, out, "Page size", strconv.Itoa(cfg.Viewport.PageSize))); err == nil && v > 0 {
				cfg.Viewport.PageSize = v
			}
			if tiers := promptLine(reader, out, "Resolution tiers", strings.Join(cfg.Viewport.Tiers, ",")); tiers != "" {
				cfg.Viewport.Tiers = splitList(tiers)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Thumbnail source: api, s3, azure")
			cfg.Thumbnails.Source = promptLine(reader, out, "Source", cfg.Thumbnails.Source)
			switch cfg.Thumbnails.Source {
			case config.SourceS3:
				cfg.Thumbnails.Bucket = promptLine(reader, out, "Bucket", "")
				cfg.Thumbnails.Region = promptLine(reader, out, "Region", "us-east-1")
				cfg.Thumbnails.Endpoint = promptLine(reader, out, "Endpoint (empty for AWS)", "")
				cfg.Thumbnails.Prefix = promptLine(reader, out, "Key prefix", "")
			case config.SourceAzure:
				cfg.Thumbnails.ContainerURL = promptLine(reader, out, "Container SAS URL", "")
				cfg.Thumbnails.Prefix = promptLine(reader, out, "Blob prefix", "")
			}

			fmt.Fprintln(out)
			if strings.HasPrefix(strings.ToLower(promptLine(reader, out, "Configure proxy? [y/N]", "n")), "y") {
				fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
				cfg.ProxyMode = promptLine(reader, out, "Proxy mode", "system")
				if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
					cfg.ProxyHost = promptLine(reader, out, "Proxy host", "")
					if v, err := strconv.Atoi(promptLine(reader, out, "Proxy port", "8080")); err == nil && v > 0 {
						cfg.ProxyPort = v
					}
					cfg.ProxyUser = promptLine(reader, out, "Proxy user", "")
				}
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}

			log.Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Configuration saved to: %s\n", path)
			fmt.Fprintln(out, "Test your configuration with: rescale-gallery config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file
  2. Environment variables (GALLERY_API_KEY, GALLERY_SERVER_URL)
  3. Command-line flags (--api-key, --server-url)

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Fprintln(out, "Current Configuration")
			fmt.Fprintln(out, "=====================")
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Server:")
			fmt.Fprintf(out, "  URL:     %s\n", cfg.APIBaseURL)
			if cfg.APIKey != "" {
				// Never display any portion of the API key
				fmt.Fprintf(out, "  API Key: <set (%d chars)>\n", len(cfg.APIKey))
			} else {
				fmt.Fprintln(out, "  API Key: <not set>")
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Viewport:")
			fmt.Fprintf(out, "  Page Size:       %d\n", cfg.Viewport.PageSize)
			fmt.Fprintf(out, "  Tiers:           %s\n", strings.Join(cfg.Viewport.Tiers, ", "))
			fmt.Fprintf(out, "  Grid Max Tier:   %s\n", tierLabel(cfg.Viewport.Tiers, cfg.Viewport.GridMaxTier))
			fmt.Fprintf(out, "  Viewer Min Tier: %s\n", tierLabel(cfg.Viewport.Tiers, cfg.Viewport.ViewerMinTier))
			fmt.Fprintf(out, "  Prefetch Window: %d\n", cfg.Viewport.PrefetchConcurrency)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Thumbnails:")
			fmt.Fprintf(out, "  Source: %s\n", cfg.Thumbnails.Source)
			switch cfg.Thumbnails.Source {
			case config.SourceS3:
				fmt.Fprintf(out, "  Bucket: %s\n", cfg.Thumbnails.Bucket)
				fmt.Fprintf(out, "  Region: %s\n", cfg.Thumbnails.Region)
				if cfg.Thumbnails.Endpoint != "" {
					fmt.Fprintf(out, "  Endpoint: %s\n", cfg.Thumbnails.Endpoint)
				}
				if cfg.Thumbnails.AccessKeyID != "" {
					fmt.Fprintln(out, "  Credentials: static keys")
				} else {
					fmt.Fprintln(out, "  Credentials: default AWS chain")
				}
			case config.SourceAzure:
				if cfg.Thumbnails.ContainerURL != "" {
					fmt.Fprintln(out, "  Container URL: <set>")
				}
			}
			if cfg.Thumbnails.Prefix != "" {
				fmt.Fprintf(out, "  Prefix: %s\n", cfg.Thumbnails.Prefix)
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Proxy:")
			fmt.Fprintf(out, "  Mode: %s\n", cfg.ProxyMode)
			if cfg.ProxyHost != "" {
				fmt.Fprintf(out, "  Host: %s\n", cfg.ProxyHost)
				fmt.Fprintf(out, "  Port: %d\n", cfg.ProxyPort)
			}
			fmt.Fprintln(out)

			if path, err := configPath(); err == nil {
				fmt.Fprintf(out, "Configuration file: %s\n", path)
				if _, err := os.Stat(path); os.IsNotExist(err) {
					fmt.Fprintln(out, "  (file does not exist - using defaults)")
				}
			}

			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "\nWarning: %v\n", err)
			}
			return nil
		},
	}

	return cmd
}

func tierLabel(tiers []string, i int) string {
	if i < 0 || i >= len(tiers) {
		return "none"
	}
	return tiers[i]
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test the server connection",
		Long: `Test the media server connection with the current configuration.

Use this to verify your API key and network connectivity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			fmt.Fprintf(out, "Server URL: %s\n", cfg.APIBaseURL)
			fmt.Fprintln(out, "Testing connection...")

			client, err := api.NewClient(cfg)
			if err != nil {
				return fmt.Errorf("failed to create API client: %w", err)
			}

			ctx, cancel := context.WithTimeout(GetContext(), 10*time.Second)
			defer cancel()

			if err := client.Ping(ctx); err != nil {
				log.Error().Err(err).Msg("Connection test failed")
				fmt.Fprintln(out, "Connection FAILED")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("connection test failed")
			}

			log.Info().Msg("Connection test successful")
			fmt.Fprintln(out, "Connection SUCCESSFUL")
			return nil
		},
	}

	return cmd
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path, err := configPath()
			if err != nil {
				return fmt.Errorf("failed to determine config path: %w", err)
			}
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n\n", path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: File exists")
				fmt.Fprintf(out, "Size:   %d bytes\n", info.Size())
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create a configuration file with: rescale-gallery config init")
			}
			fmt.Fprintf(out, "Bookmarks: %s\n", bookmarkPath())

			return nil
		},
	}

	return cmd
}
