package cli

import (
	"fmt"

	"sticker-convert/internal/jobfile"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metadata"
	"sticker-convert/internal/pipeline"

	"github.com/spf13/cobra"
)

func newDownloadCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <platform> <url>",
		Short: "Download a sticker pack",
		Long: "Downloads a pack into a directory together with its title.txt, author.txt and emoji.txt.\n" +
			"Platforms: telegram, signal, line, kakao, discord, discord_emoji.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline(cmd.Context(), 0)
			if err != nil {
				return err
			}
			dl, err := p.Downloader(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			res, err := dl.Download(cmd.Context(), args[1], output)
			if err != nil {
				return err
			}
			meta := &metadata.Meta{Title: res.Title, Author: res.Author, Emoji: res.Emoji}
			if err := metadata.Save(output, meta); err != nil {
				return err
			}
			logging.Info("Downloaded %d files of %q to %s", len(res.Files), res.Title, output)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory to download into")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// exportPresets is the preset upload uses when --preset is not given.
var exportPresets = map[string]string{
	pipeline.ExportTelegram:   "telegram",
	pipeline.ExportSignal:     "signal",
	pipeline.ExportWastickers: "whatsapp",
	pipeline.ExportIMessage:   "imessage_medium",
}

func newUploadCommand(a *app) *cobra.Command {
	var (
		job     pipeline.Job
		convert bool
	)

	cmd := &cobra.Command{
		Use:   "upload <dir>",
		Short: "Split a directory of stickers into packs and export them",
		Long: "Exports the stickers of a directory to telegram, signal, wastickers or imessage.\n" +
			"Files are copied as they are unless --convert is given; credentials come from stickercreds.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job.Input = args[0]
			job.Options.NoCompress = !convert
			if job.Preset == "" {
				job.Preset = exportPresets[job.Export]
			}
			return runJobs(cmd, a, []pipeline.Job{job})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&job.Export, "export", "e", "", "telegram, signal, wastickers or imessage")
	f.StringVarP(&job.Output, "output", "o", "", "directory for converted files and bundles")
	f.StringVarP(&job.Preset, "preset", "p", "", "platform preset (default matches --export)")
	f.StringVarP(&job.Title, "title", "t", "", "pack title (default from title.txt)")
	f.StringVarP(&job.Author, "author", "a", "", "pack author (default from author.txt)")
	f.StringVar(&job.Emoji, "emoji", "", "emoji for stickers without an emoji.txt entry")
	f.BoolVar(&convert, "convert", false, "convert the files to the preset before exporting")
	f.IntVarP(&job.Workers, "workers", "j", 0, "parallel conversions")
	_ = cmd.MarkFlagRequired("export")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newRunCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job.hcl or dir>...",
		Short: "Run the jobs described in HCL job files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := jobfile.Load(args...)
			if err != nil {
				return err
			}
			return runJobs(cmd, a, jobs)
		},
	}
}

// runJobs runs jobs one after another and prints every result. A job
// that fails does not stop the ones after it.
func runJobs(cmd *cobra.Command, a *app, jobs []pipeline.Job) error {
	ctx := cmd.Context()
	results := make([]*pipeline.Result, 0, len(jobs))
	failed := 0
	for _, job := range jobs {
		p, err := a.pipeline(ctx, job.Workers)
		if err != nil {
			return err
		}
		res, err := p.Run(ctx, job)
		if err != nil {
			logging.Error("Job %s failed: %v", job.Name, err)
		}
		if res.Status != "success" {
			failed++
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}

	if err := printJSON(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs: %w", failed, len(jobs), errFailed)
	}
	return nil
}
