package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vigil-archive/vigil/internal/cli"
	"github.com/vigil-archive/vigil/internal/errs"
	"github.com/vigil-archive/vigil/internal/metrics"
	"github.com/vigil-archive/vigil/internal/violation"
	candidateschema "github.com/vigil-archive/vigil/schema"
)

func runCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	merge := fs.Bool("merge", false, "Merge into an existing violation when a duplicate is found")
	noDedup := fs.Bool("no-dedup", false, "Insert without checking for duplicates")
	threshold := fs.Float64("threshold", 0, "Override the similarity threshold (0 keeps the configured value)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "create requires at least one candidate JSON file")
		return 2
	}
	if *threshold < 0 || *threshold > 1 {
		fmt.Fprintln(os.Stderr, "--threshold must be in [0,1]")
		return 2
	}

	ctx, cancel, cfg, logger, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	creator := buildCreator(pool, cfg, metrics.New(), logger)

	failures := 0
	for _, path := range fs.Args() {
		payload, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
			failures++
			continue
		}

		validated, err := candidateschema.ValidateCandidatePayload(payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
			failures++
			continue
		}

		candidate, err := violation.FromPayload(validated)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
			failures++
			continue
		}

		result, err := creator.CreateSingle(ctx, candidate, violation.CreateOptions{
			SkipDuplicateCheck: *noDedup,
			MergeDuplicates:    *merge,
			Threshold:          *threshold,
			Actor:              "cli",
		})
		if err != nil {
			var ce *errs.ConflictError
			if errors.As(err, &ce) {
				fmt.Fprintf(os.Stderr, "CONFLICT %s: %v\n", path, err)
			} else {
				fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
			}
			failures++
			continue
		}

		if result.Merged {
			fmt.Printf("MERGED  %s -> violation %s\n", path, result.Violation.ViolationUUID)
			continue
		}
		fmt.Printf("CREATED %s -> violation %s\n", path, result.Violation.ViolationUUID)
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d file(s) failed\n", failures, fs.NArg())
		return 1
	}
	return 0
}
