// pantryctl queues ledger maintenance jobs and inspects the job queues.
//
// Usage:
//
//	pantryctl reconcile -owner user_123 -item 0192...
//	pantryctl purge -owner user_123
//	pantryctl queue
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/pizza-pantry/pizza-pantry/cmd/pantryctl/cli"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pantryctl [-redis addr] <reconcile|purge|queue> [flags]")
}

func main() {
	redisAddr := flag.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "Redis address of the job queue")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobsCLI := cli.NewJobsCLI(*redisAddr)
	defer func() { _ = jobsCLI.Close() }()

	if err := run(ctx, jobsCLI, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "pantryctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.JobsCLI, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	owner := fs.String("owner", "", "owner (user) id")
	item := fs.String("item", "", "item id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch command {
	case "reconcile":
		info, err := c.Reconcile(ctx, *owner, *item)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
	case "purge":
		info, err := c.Purge(ctx, *owner)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
	case "queue":
		stats, err := c.InspectQueues()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
