package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sticker-convert/internal/convert"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/startup"

	"github.com/spf13/cobra"
)

// errFailed is returned by commands that ran to completion but left some
// work undone; the details are already in the JSON output.
var errFailed = errors.New("completed with failures")

// NewRootCommand builds the sticker-convert command tree.
func NewRootCommand() *cobra.Command {
	return newRoot(&app{})
}

func newRoot(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "sticker-convert",
		Short:         "Convert, verify and publish sticker packs",
		Long:          "Converts images and videos to the sticker formats of Telegram, Signal, WhatsApp, LINE, Kakao, Discord and iMessage, splits them into packs and exports them.",
		Version:       startup.GetBuildInfo().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.SetOutput(cmd.ErrOrStderr())

			var err error
			if a.envFile != "" {
				err = startup.LoadDotEnv(a.envFile)
			} else {
				err = startup.LoadDotEnv()
			}
			if err != nil {
				return err
			}

			if a.logLevel != "" {
				level, ok := logging.ParseLevel(a.logLevel)
				if !ok {
					return fmt.Errorf("unknown log level %q", a.logLevel)
				}
				logging.SetLevel(level)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", "", "load variables from this file instead of ./.env")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (default from LOG_LEVEL)")
	flags.BoolVar(&a.noCache, "no-cache", false, "do not read or write the conversion cache")

	root.AddCommand(
		newConvertCommand(a),
		newProbeCommand(a),
		newVerifyCommand(a),
		newSplitCommand(a),
		newDownloadCommand(a),
		newUploadCommand(a),
		newRunCommand(a),
		newServeCommand(a),
		newPresetsCommand(),
		newHistoryCommand(a),
		newToolsCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	defer convert.ShutdownVips()
	defer a.close()

	root := newRoot(a)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}
