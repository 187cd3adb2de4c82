package cli

import (
	"fmt"

	"sticker-convert/internal/convert"
	"sticker-convert/internal/packer"
	"sticker-convert/internal/platform"
	"sticker-convert/internal/probe"
	"sticker-convert/internal/verify"

	"github.com/spf13/cobra"
)

func newConvertCommand(a *app) *cobra.Command {
	var (
		output  string
		preset  string
		workers int
		opts    convert.Options
	)

	cmd := &cobra.Command{
		Use:   "convert <file or dir>...",
		Short: "Convert files to a platform's sticker format",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := platform.Get(preset)
			if err != nil {
				return err
			}
			inputs, err := expandInputs(args)
			if err != nil {
				return err
			}
			conv, err := a.converter(cmd.Context())
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = a.cfg.Workers
			}

			results, err := conv.ConvertAll(cmd.Context(), inputs, output, spec, opts, workers)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			for _, r := range results {
				if r.Error != "" || r.Oversize {
					return errFailed
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "output directory")
	f.StringVarP(&preset, "preset", "p", "telegram", "target platform preset")
	f.IntVarP(&workers, "workers", "j", 0, "parallel conversions (default from STICKER_WORKERS or CPU count)")
	f.BoolVar(&opts.FakeVideo, "fake-video", false, "turn static inputs into one-frame videos for video-only presets")
	f.BoolVar(&opts.ForceRecompress, "force-recompress", false, "re-encode files that already comply")
	f.BoolVar(&opts.NoCompress, "no-compress", false, "copy files without converting")
	f.StringVar(&opts.Format, "format", "", "force an output extension such as .webp")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

type probeOutput struct {
	*probe.Info
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

func newProbeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file or dir>...",
		Short: "Show the codec information of sticker files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := expandInputs(args)
			if err != nil {
				return err
			}
			runner, err := a.toolRunner()
			if err != nil {
				return err
			}
			prober := probe.New(runner)

			out := make([]probeOutput, 0, len(inputs))
			failed := false
			for _, path := range inputs {
				info, err := prober.Probe(cmd.Context(), path)
				entry := probeOutput{Info: info, Path: path}
				if err != nil {
					entry.Error = err.Error()
					failed = true
				}
				out = append(out, entry)
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if failed {
				return errFailed
			}
			return nil
		},
	}
}

func newVerifyCommand(a *app) *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "verify <file or dir>...",
		Short: "Check files against a platform's limits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := platform.Get(preset)
			if err != nil {
				return err
			}
			inputs, err := expandInputs(args)
			if err != nil {
				return err
			}
			runner, err := a.toolRunner()
			if err != nil {
				return err
			}
			v := verify.New(probe.New(runner))

			reports := make([]*verify.Report, 0, len(inputs))
			bad := 0
			for _, path := range inputs {
				report, err := v.Check(cmd.Context(), path, spec)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if !report.OK() {
					bad++
				}
				reports = append(reports, report)
			}
			if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d files: %w", bad, len(reports), errFailed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&preset, "preset", "p", "telegram", "platform preset to check against")
	return cmd
}

type splitOutput struct {
	Packs   []packer.Pack     `json:"packs"`
	Skipped []packer.Skipped `json:"skipped,omitempty"`
}

func newSplitCommand(a *app) *cobra.Command {
	var (
		preset string
		title  string
	)

	cmd := &cobra.Command{
		Use:   "split <dir>",
		Short: "Plan how the stickers of a directory are split into packs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := platform.Get(preset)
			if err != nil {
				return err
			}
			runner, err := a.toolRunner()
			if err != nil {
				return err
			}
			packs, skipped, err := packer.SplitDir(cmd.Context(), probe.New(runner), args[0], title, spec.PackOptions())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), splitOutput{Packs: packs, Skipped: skipped})
		},
	}
	cmd.Flags().StringVarP(&preset, "preset", "p", "telegram", "platform preset whose pack limits apply")
	cmd.Flags().StringVarP(&title, "title", "t", "Stickers", "pack title")
	return cmd
}
