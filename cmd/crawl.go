// Package cmd defines and implements the CLI commands for the webcrawler executable.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/app"
	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/output"
)

type crawlFlags struct {
	depth       int
	top         int
	timeout     time.Duration
	resultPath  string
	profilePath string
	quiet       bool
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl in the
// foreground and writes its result and profile.
func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl [URL...]",
		Short: "Crawl the given pages and print the most popular words",
		Long: `Crawls from the given URLs, or crawler.start_pages from the config
when none are given. The result is appended to output.result_path as JSON
and the call profile to output.profile_path; either defaults to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawlCommand(cmd, args, flags)
		},
	}
	cmd.Flags().IntVar(&flags.depth, "depth", 0, "override crawler.max_depth")
	cmd.Flags().IntVar(&flags.top, "top", 0, "override crawler.popular_word_count")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "override crawler.timeout")
	cmd.Flags().StringVar(&flags.resultPath, "output", "", "override output.result_path")
	cmd.Flags().StringVar(&flags.profilePath, "profile", "", "override output.profile_path")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "hide the progress spinner")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string, flags *crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	params := crawlParameters(cmd, appInstance, args, flags)
	if len(params.StartPages) == 0 {
		return errors.New("no start pages: pass URLs or set crawler.start_pages")
	}

	var spin *spinner.Spinner
	if !flags.quiet {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		spin.Suffix = fmt.Sprintf(" crawling %d start page(s)", len(params.StartPages))
		spin.Start()
	}
	crawlID, outcome, err := appInstance.Crawl(cmd.Context(), params)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}

	logger := appInstance.Logger.With(zap.String("crawl_id", crawlID))
	if outcome.Result.Failures != nil {
		logger.Warn("crawl finished with worker failures", zap.Error(outcome.Result.Failures))
	}

	resultPath := valueOr(flags.resultPath, appInstance.Config.Output.ResultPath)
	if err := writeResult(cmd.OutOrStdout(), resultPath, outcome.Result); err != nil {
		return err
	}
	profilePath := valueOr(flags.profilePath, appInstance.Config.Output.ProfilePath)
	if err := writeProfile(cmd.OutOrStdout(), profilePath, appInstance); err != nil {
		return err
	}

	logger.Info("Crawl command finished.",
		zap.Int("urls_visited", outcome.Result.URLsVisited),
		zap.String("archive_uri", outcome.ArchiveURI),
	)
	return nil
}

func crawlParameters(cmd *cobra.Command, a *app.App, args []string, flags *crawlFlags) crawler.JobParameters {
	params := a.Config.DefaultJobParameters()
	if len(args) > 0 {
		params.StartPages = append([]string(nil), args...)
	}
	if cmd.Flags().Changed("depth") {
		params.MaxDepth = flags.depth
	}
	if cmd.Flags().Changed("top") {
		params.PopularWordCount = flags.top
	}
	if cmd.Flags().Changed("timeout") {
		params.Timeout = flags.timeout
	}
	return params
}

func writeResult(stdout io.Writer, path string, res crawler.Result) error {
	if path == "" {
		if err := output.Write(stdout, res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		return nil
	}
	if err := output.WriteFile(path, res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func writeProfile(stdout io.Writer, path string, a *app.App) error {
	if path == "" {
		if err := a.Profiler.WriteData(stdout); err != nil {
			return fmt.Errorf("write profile: %w", err)
		}
		return nil
	}
	if err := a.Profiler.WriteFile(path); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

func valueOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
