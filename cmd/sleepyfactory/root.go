package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	pipeline "github.com/obsidiantrove/sleepyfactory"
	"github.com/obsidiantrove/sleepyfactory/artifact"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/jobspec"
	"github.com/obsidiantrove/sleepyfactory/stagework"
)

// signalContext returns a context canceled on SIGINT/SIGTERM, for the
// long-running loop commands (orchestrator-loop, worker, recovery, dev).
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sleepyfactory",
		Short:         "Control surface for the stage scheduler.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newNewJobCmd(),
		newListJobsCmd(),
		newShowJobCmd(),
		newOrchestratorCmd(),
		newOrchestratorLoopCmd(),
		newWorkerCmd(),
		newRecoveryCmd(),
		newDevCmd(),
		newCleanArtifactsCmd(),
	)
	return root
}

func newNewJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-job",
		Short: "Insert one job row; print its id and stage statuses.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			j, err := a.store.CreateJob(ctx, &jobspec.Spec{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), j.ID)
			for _, stage := range job.Stages() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", stage, j.Stage(stage).Status)
			}
			return nil
		},
	}
}

func newListJobsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list-jobs",
		Short: "Print newest-first summary of jobs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			jobs, err := a.store.List(ctx, limit)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  created=%s  attempts=%d\n", j.ID, j.CreatedAt.Format(time.RFC3339), j.Attempts)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to print")
	return cmd
}

func newShowJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-job <id>",
		Short: "Print per-stage status, lease, manifest contents for the job.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := a.store.Get(ctx, id)
			if err != nil {
				return err
			}
			if j == nil {
				return fmt.Errorf("job %s not found", id)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job %s\n", j.ID)
			if j.LastError != nil {
				fmt.Fprintf(out, "  last_error: %s\n", *j.LastError)
			}
			for _, stage := range job.Stages() {
				st := j.Stage(stage)
				fmt.Fprintf(out, "  %s: %s", stage, st.Status)
				if st.LeaseOwner != nil {
					fmt.Fprintf(out, " (owner=%s", *st.LeaseOwner)
					if st.LeaseExpiresAt != nil {
						fmt.Fprintf(out, " expires=%s", st.LeaseExpiresAt.Format(time.RFC3339))
					}
					fmt.Fprint(out, ")")
				}
				fmt.Fprintln(out)
			}

			manifest, err := a.artifacts.LoadManifest(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  artifacts:\n")
			for _, rec := range manifest.Artifacts {
				fmt.Fprintf(out, "    %s  %s  %d bytes  %s\n", rec.Stage, rec.Relpath, rec.Bytes, rec.Kind)
			}
			return nil
		},
	}
}

func newOrchestratorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrator",
		Short: "Run one orchestrator tick and exit; print promotion count.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			orch := pipeline.NewOrchestrator(a.store, pipeline.OrchestratorConfig{
				BatchSize: a.cfg.BatchSize,
				Log:       a.log,
			})
			n, err := orch.Tick(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promoted %d stage(s)\n", n)
			return nil
		},
	}
}

func newOrchestratorLoopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrator-loop",
		Short: "Run ticks forever on a poll interval.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			orch := pipeline.NewOrchestrator(a.store, pipeline.OrchestratorConfig{
				Interval:  a.cfg.OrchestratorPollInterval,
				BatchSize: a.cfg.BatchSize,
				Log:       a.log,
			})
			if err := orch.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return orch.Stop(10 * time.Second)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	var stageName string
	cmd := &cobra.Command{
		Use:   "worker --stage <stage>",
		Short: "Run the worker loop for one stage forever.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := job.ParseStage(stageName)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			w := pipeline.NewStageWorker(a.store, pipeline.StageWorkerConfig{
				Stage:         stage,
				Do:            defaultStageFunc(a, stage),
				PollInterval:  a.cfg.PollInterval,
				LeaseDuration: a.cfg.LeaseDuration,
				Log:           a.log,
			})
			if err := w.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return w.Stop(10 * time.Second)
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "stage to run (script|audio|visuals|render)")
	cmd.MarkFlagRequired("stage")
	return cmd
}

func newRecoveryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recovery",
		Short: "Run the recovery loop forever.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			rec := pipeline.NewLeaseRecovery(a.store, pipeline.LeaseRecoveryConfig{
				Interval:  a.cfg.RecoveryPollInterval,
				BatchSize: a.cfg.BatchSize,
				Log:       a.log,
			})
			if err := rec.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return rec.Stop(10 * time.Second)
		},
	}
}

func newDevCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dev",
		Short: "Run orchestrator, recovery, one worker per stage, and artifact retention, in-process.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			orch := pipeline.NewOrchestrator(a.store, pipeline.OrchestratorConfig{
				Interval:  a.cfg.OrchestratorPollInterval,
				BatchSize: a.cfg.BatchSize,
				Log:       a.log,
			})
			rec := pipeline.NewLeaseRecovery(a.store, pipeline.LeaseRecoveryConfig{
				Interval:  a.cfg.RecoveryPollInterval,
				BatchSize: a.cfg.BatchSize,
				Log:       a.log,
			})
			workers := make([]*pipeline.StageWorker, 0, len(job.Stages()))
			for _, stage := range job.Stages() {
				workers = append(workers, pipeline.NewStageWorker(a.store, pipeline.StageWorkerConfig{
					Stage:         stage,
					Do:            defaultStageFunc(a, stage),
					PollInterval:  a.cfg.PollInterval,
					LeaseDuration: a.cfg.LeaseDuration,
					Log:           a.log,
				}))
			}
			retention := artifact.NewRetentionWorker(artifactCleaner(a), artifact.RetentionWorkerConfig{
				Interval:   a.cfg.RetentionPollInterval,
				OlderThan:  a.cfg.RetentionOlderThan,
				IsTerminal: isTerminalFunc(a, ctx),
				Log:        a.log,
			})

			if err := orch.Start(ctx); err != nil {
				return err
			}
			if err := rec.Start(ctx); err != nil {
				return err
			}
			for _, w := range workers {
				if err := w.Start(ctx); err != nil {
					return err
				}
			}
			if err := retention.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()

			var stopErr error
			if err := retention.Stop(10 * time.Second); err != nil && stopErr == nil {
				stopErr = err
			}
			for _, w := range workers {
				if err := w.Stop(10 * time.Second); err != nil && stopErr == nil {
					stopErr = err
				}
			}
			if err := rec.Stop(10 * time.Second); err != nil && stopErr == nil {
				stopErr = err
			}
			if err := orch.Stop(10 * time.Second); err != nil && stopErr == nil {
				stopErr = err
			}
			return stopErr
		},
	}
}

func newCleanArtifactsCmd() *cobra.Command {
	var olderThan time.Duration
	var terminalOnly bool
	var watch bool
	cmd := &cobra.Command{
		Use:   "clean-artifacts",
		Short: "Remove the artifacts root, or run retention passes continuously with --watch.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if watch {
				ctx, cancel := signalContext()
				defer cancel()

				w := artifact.NewRetentionWorker(artifactCleaner(a), artifact.RetentionWorkerConfig{
					Interval:   a.cfg.RetentionPollInterval,
					OlderThan:  olderThan,
					IsTerminal: isTerminalFunc(a, ctx),
					Log:        a.log,
				})
				if err := w.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				return w.Stop(10 * time.Second)
			}

			ctx := cmd.Context()
			if !terminalOnly && olderThan == 0 {
				if err := a.artifacts.Clean(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "removed artifacts root")
				return nil
			}

			var cutoff *time.Time
			if olderThan > 0 {
				t := time.Now().Add(-olderThan)
				cutoff = &t
			}
			n, err := artifactCleaner(a).Clean(ctx, cutoff, isTerminalFunc(a, ctx))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d job artifact director(y/ies)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "prune artifacts of fully terminal jobs older than this duration instead of removing the artifacts root")
	cmd.Flags().BoolVar(&terminalOnly, "terminal-only", false, "prune artifacts of fully terminal jobs instead of removing the artifacts root")
	cmd.Flags().BoolVar(&watch, "watch", false, "run retention passes on RETENTION_POLL_INTERVAL instead of once")
	return cmd
}

// defaultStageFunc wires stagework's demo implementations into a
// pipeline.StageFunc for the given stage.
func defaultStageFunc(a *app, stage job.Stage) pipeline.StageFunc {
	switch stage {
	case job.Script:
		return stagework.Script(a.artifacts)
	case job.Audio:
		return stagework.Audio(a.artifacts)
	case job.Visuals:
		return stagework.Visuals(a.artifacts)
	default:
		return stagework.Render(a.artifacts)
	}
}

// parseJobID parses a job id given on the command line.
func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return id, nil
}

// artifactCleaner builds a Cleaner rooted at a's artifact store.
func artifactCleaner(a *app) *artifact.Cleaner {
	return artifact.NewCleaner(a.artifacts)
}

// isTerminalFunc returns a predicate reporting whether every stage of
// the job with the given id has reached DONE or ERROR, backed by a
// lookup against the store. An id with no matching job is treated as
// not terminal, so clean-artifacts never removes a directory for a
// job it cannot account for.
func isTerminalFunc(a *app, ctx context.Context) func(uuid.UUID) bool {
	return func(id uuid.UUID) bool {
		j, err := a.store.Get(ctx, id)
		if err != nil || j == nil {
			return false
		}
		for _, stage := range job.Stages() {
			if !j.Stage(stage).Status.Terminal() {
				return false
			}
		}
		return true
	}
}
