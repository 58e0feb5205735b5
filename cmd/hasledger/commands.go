package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/hasledger/hasledger/cmd/hasledger/cli"
	"github.com/hasledger/hasledger/internal/app"
	"github.com/hasledger/hasledger/internal/platform/cache"
	"github.com/hasledger/hasledger/internal/pricing"
)

const usage = `usage:
  hasledger                                  run the HTTP server
  hasledger quotes publish [-file quotes.json]
  hasledger quotes show
  hasledger jobs trigger -name outbox:dispatch|ledger:reconcile|idempotency:cleanup
  hasledger jobs stats
`

// runCLI dispatches operational subcommands and returns the exit code.
func runCLI(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(args) < 2 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	switch args[0] + " " + args[1] {
	case "quotes publish", "quotes show":
		fs := flag.NewFlagSet("quotes", flag.ContinueOnError)
		path := fs.String("file", "-", "quotes JSON document, - for stdin")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer client.Close()
		quotes := cli.NewQuotesCLI(pricing.NewRedisFeed(client, cfg.PriceQuotesKey, cfg.PriceMaxAge))
		if args[1] == "show" {
			return quotes.ShowCommand(ctx, cli.QuotesOptions{})
		}
		return quotes.PublishCommand(ctx, cli.QuotesOptions{Path: *path})

	case "jobs trigger", "jobs stats":
		fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
		name := fs.String("name", "", "task type to enqueue")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer jobsCLI.Close()
		if args[1] == "stats" {
			stats, err := jobsCLI.InspectQueue()
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
				return 1
			}
			_ = json.NewEncoder(os.Stdout).Encode(stats)
			return 0
		}
		info, err := jobsCLI.Trigger(ctx, *name, cfg.OutboxBatchSize, cfg.IdempotencyTTL)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stdout, "enqueued %s as %s\n", info.Type, info.ID)
		return 0
	}

	_, _ = fmt.Fprint(os.Stderr, usage)
	return 2
}
