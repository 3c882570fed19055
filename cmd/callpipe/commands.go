package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"voice-ledger-go/internal/config"
	"voice-ledger-go/internal/logger"
	"voice-ledger-go/internal/pipeline"
	"voice-ledger-go/internal/transcription"
	"voice-ledger-go/internal/types"
)

// NewRootCommand returns the callpipe command tree. Every subcommand loads
// the same configuration and writes through fs.
func NewRootCommand(ctx context.Context, fs afero.Fs, log *logger.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "callpipe",
		Short: "Transcribe recorded calls and classify them by topic.",
		Long: `callpipe transcribes every new recording in the source directory exactly once,
keeps a ledger so interrupted runs resume where they stopped, and classifies the
consolidated transcripts into keyword categories.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTranscribeCommand(ctx, fs, log))
	root.AddCommand(newClassifyCommand(ctx, fs, log))
	root.AddCommand(newWatchCommand(ctx, fs, log))
	return root
}

func newCoordinator(fs afero.Fs, log *logger.Logger) (*pipeline.Coordinator, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, err
	}
	tr, err := transcription.New(transcription.Options{
		URL:     cfg.TranscribeURL,
		Model:   cfg.TranscribeModel,
		UseMock: cfg.UseMockTranscribe,
		Log:     log,
	})
	if err != nil {
		return nil, cfg, err
	}
	c, err := pipeline.New(cfg, fs, tr, log)
	return c, cfg, err
}

func newTranscribeCommand(ctx context.Context, fs afero.Fs, log *logger.Logger) *cobra.Command {
	var classify bool
	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Run one transcription pass over the source directory.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := newCoordinator(fs, log)
			if err != nil {
				return err
			}
			rep, err := c.Run(ctx)
			printRun(cmd.OutOrStdout(), rep)
			if errors.Is(err, context.Canceled) {
				log.Info("interrupted; remaining items are picked up by the next run")
				return nil
			}
			if err != nil {
				return err
			}
			if classify {
				crep, err := c.Classify(ctx)
				if err != nil {
					return err
				}
				printClassify(cmd.OutOrStdout(), crep)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&classify, "classify", false, "classify the consolidated dataset after the run")
	return cmd
}

func newClassifyCommand(ctx context.Context, fs afero.Fs, log *logger.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Classify every consolidated transcript and rewrite the classified workbook.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := newCoordinator(fs, log)
			if err != nil {
				return err
			}
			rep, err := c.Classify(ctx)
			if err != nil {
				return err
			}
			printClassify(cmd.OutOrStdout(), rep)
			return nil
		},
	}
}

func newWatchCommand(ctx context.Context, fs afero.Fs, log *logger.Logger) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run transcription on a schedule until interrupted.",
		Long: `watch runs a transcription pass on the configured schedule (WATCH_SCHEDULE,
default "@every 30m"). Both cron expressions and descriptors are accepted.
A pass that is still running when the next one is due makes that one skip.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, cfg, err := newCoordinator(fs, log)
			if err != nil {
				return err
			}
			if schedule == "" {
				schedule = cfg.WatchSchedule
			}
			return watch(ctx, c, schedule, log, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule overriding WATCH_SCHEDULE")
	return cmd
}

// watch blocks until ctx is done. Fatal run errors are logged and the
// schedule keeps going; the next pass retries from the ledger.
func watch(ctx context.Context, c *pipeline.Coordinator, schedule string, log *logger.Logger, out io.Writer) error {
	wlog := log.Component("watch")
	cl := cronLogger{wlog}
	sched := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	_, err := sched.AddFunc(schedule, func() {
		rep, err := c.Run(ctx)
		printRun(out, rep)
		if err != nil && !errors.Is(err, context.Canceled) {
			wlog.WithError(err).Error("scheduled run failed")
			return
		}
		if rep.NewlyProcessed+rep.NewlyErrored+rep.Recovered == 0 {
			return
		}
		crep, err := c.Classify(ctx)
		if err != nil {
			wlog.WithError(err).Error("scheduled classification failed")
			return
		}
		printClassify(out, crep)
	})
	if err != nil {
		return fmt.Errorf("watch schedule %q: %w", schedule, err)
	}

	wlog.WithField("schedule", schedule).Info("watching source directory")
	sched.Start()
	<-ctx.Done()
	wlog.Info("stopping, waiting for the current run")
	<-sched.Stop().Done()
	return nil
}

func printRun(w io.Writer, rep types.RunReport) {
	fmt.Fprintf(w, "run %s: scanned=%d already_processed=%d processed=%d errored=%d recovered=%d consolidated=%d\n",
		rep.RunID, rep.Scanned, rep.AlreadyProcessed, rep.NewlyProcessed, rep.NewlyErrored, rep.Recovered, rep.Consolidated)
}

func printClassify(w io.Writer, rep pipeline.ClassifyReport) {
	fmt.Fprintf(w, "classified %d transcripts into %s\n", rep.Insight.Total, rep.Path)
	for _, cat := range rep.Insight.Order {
		n := rep.Insight.CategoryCounts[cat]
		if n == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-32s %5d  %5.1f%%\n", cat, n, rep.Insight.CategoryShare[cat]*100)
	}
}

// cronLogger routes cron's own messages into logrus.
type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithField("error", err.Error()).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
