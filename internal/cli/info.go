package cli

import (
	"errors"
	"fmt"

	"sticker-convert/internal/platform"
	"sticker-convert/internal/startup"

	"github.com/spf13/cobra"
)

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [name]",
		Short: "List the platform presets or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return printJSON(cmd.OutOrStdout(), platform.Names())
			}
			spec, err := platform.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), spec)
		},
	}
}

func newHistoryCommand(a *app) *cobra.Command {
	var (
		name  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded pack uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return errors.New("limit must not be negative")
			}
			db, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			uploads, err := db.ListUploads(cmd.Context(), name, limit)
			if err != nil {
				return fmt.Errorf("failed to list uploads: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), uploads)
		},
	}
	cmd.Flags().StringVar(&name, "platform", "", "only show uploads to this platform")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of uploads")
	return cmd
}

func newToolsCommand(a *app) *cobra.Command {
	var versions bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Show which external tools were found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := a.toolRunner()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runner.Registry().Status(cmd.Context(), versions))
		},
	}
	cmd.Flags().BoolVar(&versions, "versions", false, "run each tool to report its version")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), startup.GetBuildInfo())
		},
	}
}
