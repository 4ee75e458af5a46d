// Command opustrainer-feed feeds a weighted, curriculum-driven mix of
// training data to a child trainer process's stdin, resuming from a
// persisted state file across restarts.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/shlex"
	"github.com/urfave/cli/v2"

	"github.com/csvquery/opustrainer/internal/curriculum"
	"github.com/csvquery/opustrainer/internal/statetracker"
	"github.com/csvquery/opustrainer/internal/telemetry"
	"github.com/csvquery/opustrainer/internal/trainer"
)

// cleanupFuncs runs in reverse order of registration on the way out,
// after the final state save.
var cleanupFuncs []func()

func main() {
	app := &cli.App{
		Name:  "opustrainer-feed",
		Usage: "feeds marian tsv data for training",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "YAML curriculum configuration"},
			&cli.StringFlag{Name: "state", Aliases: []string{"s"}, Usage: "YAML state file, defaults to ${config}.state"},
			&cli.BoolFlag{Name: "sync", Usage: "do not shuffle async"},
			&cli.StringFlag{Name: "temporary-directory", Aliases: []string{"T"}, Usage: "temporary dir, used for shuffling"},
			&cli.BoolFlag{Name: "do-not-resume", Aliases: []string{"d"}, Usage: "do not resume from the previous training state"},
			&cli.BoolFlag{Name: "no-shuffle", Aliases: []string{"n"}, Usage: "do not shuffle, for debugging"},
			&cli.IntFlag{Name: "batch-size", Aliases: []string{"b"}, Value: 100, Usage: "batch size"},
			&cli.IntFlag{Name: "chunk-size", Aliases: []string{"B"}, Value: 16, Usage: "chunk size of batches fed to modifiers"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"j"}, Value: runtime.NumCPU(), Usage: "number of workers"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-file", Aliases: []string{"l"}, Usage: "target location for logging, always logs to stderr too"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "opustrainer-feed: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level, err := telemetry.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logger, err := telemetry.New(level, c.String("log-file"))
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer logger.Sync()

	cur, err := curriculum.Load(c.String("config"), logger)
	if err != nil {
		return fmt.Errorf("loading curriculum: %w", err)
	}
	if err := cur.Validate(); err != nil {
		return fmt.Errorf("invalid curriculum: %w", err)
	}

	for name, ds := range cur.Datasets {
		for _, f := range ds.Files {
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("dataset %q is missing file %s: %w", name, f, err)
			}
		}
	}

	t, err := trainer.New(cur, trainer.Config{
		TmpDir:    c.String("temporary-directory"),
		BatchSize: c.Int("batch-size"),
		ChunkSize: c.Int("chunk-size"),
		Workers:   c.Int("workers"),
		NoShuffle: c.Bool("no-shuffle"),
		Async:     !c.Bool("sync"),
		Warner:    logger,
	})
	if err != nil {
		return fmt.Errorf("constructing trainer: %w", err)
	}
	defer t.Close()

	statePath := c.String("state")
	if statePath == "" {
		statePath = statetracker.DefaultPath(c.String("config"))
	}
	tracker, err := statetracker.Open(statePath)
	if err != nil {
		return fmt.Errorf("opening state tracker: %w", err)
	}
	cleanupFuncs = append(cleanupFuncs, func() { tracker.Close() })
	defer tracker.Close()

	ctx := context.Background()
	if !c.Bool("do-not-resume") && tracker.Exists() {
		s, err := tracker.Load()
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}
		if err := t.Restore(ctx, s); err != nil {
			return fmt.Errorf("restoring state: %w", err)
		}
		logger.Infow("resumed from state file", "path", statePath, "stage", s.Stage)
	}

	trainerArgs := c.Args().Slice()
	if len(trainerArgs) == 0 {
		if cur.Trainer == "" {
			return fmt.Errorf("no trainer command given on the command line, and curriculum has no trainer key")
		}
		trainerArgs, err = shlex.Split(cur.Trainer)
		if err != nil {
			return fmt.Errorf("splitting curriculum trainer command: %w", err)
		}
	}

	child := exec.Command(trainerArgs[0], trainerArgs[1:]...)
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	stdin, err := child.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating child stdin pipe: %w", err)
	}
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting trainer %v: %w", trainerArgs, err)
	}
	logger.Infow("started trainer process", "args", trainerArgs, "pid", child.Process.Pid)

	// The child is expected to ignore SIGINT itself (like marian's
	// preexec_fn=ignore_sigint); we own the escalation sequence instead.
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)
	defer signal.Stop(sigint)

	sigusr1 := make(chan os.Signal, 1)
	signal.Notify(sigusr1, syscall.SIGUSR1)
	defer signal.Stop(sigusr1)
	go func() {
		for range sigusr1 {
			printState(logger, t.State())
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if _, ok := <-sigint; ok {
			logger.Infow("ctrl-c pressed, stopping training")
			cancel()
		}
	}()

	batches, errc := t.Run(ctx)
	w := bufio.NewWriter(stdin)

	feedErr := feedBatches(batches, w, tracker, t)
	if feedErr != nil {
		// Run is blocked handing over its next batch; stop it.
		cancel()
	}
	runErr := <-errc

	if err := tracker.Save(t.State()); err != nil {
		logger.Warnw("final state save failed", "error", err)
	}
	for i := len(cleanupFuncs) - 1; i >= 0; i-- {
		cleanupFuncs[i]()
	}

	if feedErr != nil {
		logger.Warnw("trainer stopped reading input", "error", feedErr)
	} else if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	return escalateShutdown(logger, child, stdin, sigint)
}

// feedBatches writes each batch's lines to w, flushing per batch and
// checkpointing state no more often than the tracker's interval allows.
func feedBatches(batches <-chan trainer.Batch, w *bufio.Writer, tracker *statetracker.Tracker, t *trainer.Trainer) error {
	for b := range batches {
		for _, line := range b.Lines {
			if _, err := w.WriteString(line); err != nil {
				return err
			}
			if _, err := w.WriteString("\n"); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if err := tracker.SaveIfDue(t.State()); err != nil {
			return err
		}
	}
	return nil
}

// escalateShutdown walks the three levels the original's main() loop
// does: close stdin first (let the child drain and exit on its own),
// then terminate, then kill, each level triggered by another ctrl-c.
func escalateShutdown(logger *telemetry.Logger, child *exec.Cmd, stdin interface{ Close() error }, sigint <-chan os.Signal) error {
	done := make(chan error, 1)
	go func() { done <- child.Wait() }()

	stages := []string{"exit", "terminate", "kill"}
	for _, stage := range stages {
		switch stage {
		case "exit":
			stdin.Close()
		case "terminate":
			child.Process.Signal(syscall.SIGTERM)
		case "kill":
			child.Process.Kill()
		}

		logger.Infow("waiting for trainer", "stage", stage)
		select {
		case err := <-done:
			if exitErr, ok := err.(*exec.ExitError); ok {
				os.Exit(exitErr.ExitCode())
			}
			return err
		case <-sigint:
			logger.Infow("ctrl-c pressed again, escalating shutdown")
			continue
		}
	}

	// Out of escalation levels; block until the child actually exits.
	err := <-done
	if exitErr, ok := err.(*exec.ExitError); ok {
		os.Exit(exitErr.ExitCode())
	}
	return err
}

func printState(logger *telemetry.Logger, s trainer.State) {
	logger.Infow("trainer state", "stage", s.Stage)
	for name, ds := range s.Datasets {
		logger.Infow("dataset state", "dataset", name, "epoch", ds.Epoch, "line", ds.Line)
	}
}
