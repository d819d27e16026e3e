// Command tick runs one outbox drain or automation tick and exits. It is
// meant for schedulers that cannot call the cron HTTP endpoints.
//
//	tick outbox [-limit N] [-types send_sms,send_email]
//	tick automation
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/app"
	"github.com/lalithlochan/autopilot/internal/config"
	"github.com/lalithlochan/autopilot/internal/observ"
	"github.com/lalithlochan/autopilot/internal/outbox"
	"github.com/lalithlochan/autopilot/internal/worker"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tick <outbox|automation> [flags]")
	}

	cmd, args := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	limit := fs.Int("limit", 0, "max items to process (outbox only, 0 uses OUTBOX_BATCH_SIZE)")
	typeList := fs.String("types", "", "comma-separated outbox types to drain")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}

	types, err := parseTypes(*typeList)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	switch cmd {
	case "outbox":
		res, err := a.Processor.ProcessDue(ctx, worker.Options{Now: start, Limit: *limit, Types: types})
		if err != nil {
			return fmt.Errorf("outbox tick: %w", err)
		}
		logger.Info("outbox tick finished",
			zap.Int("due", res.Due),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
			zap.Int("deferred", res.Deferred),
			zap.Duration("took", time.Since(start)),
		)
	case "automation":
		res, err := a.Runner.RunScheduled(ctx, start)
		if err != nil {
			return fmt.Errorf("automation tick: %w", err)
		}
		logger.Info("automation tick finished",
			zap.Int("due", res.Due),
			zap.Int("processed", res.Processed),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
			zap.Duration("took", time.Since(start)),
		)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func parseTypes(s string) ([]outbox.Type, error) {
	if s == "" {
		return nil, nil
	}
	var types []outbox.Type
	for _, part := range strings.Split(s, ",") {
		t := outbox.Type(strings.TrimSpace(part))
		if !t.IsValid() {
			return nil, fmt.Errorf("%w: %q", outbox.ErrInvalidType, t)
		}
		types = append(types, t)
	}
	return types, nil
}
