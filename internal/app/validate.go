package app

import (
	"errors"
	"flag"
	"fmt"
	"os"

	candidateschema "github.com/vigil-archive/vigil/schema"
)

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "validate requires at least one candidate JSON file")
		return 2
	}

	failures := 0
	for _, path := range fs.Args() {
		payload, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
			failures++
			continue
		}

		candidate, err := candidateschema.ValidateCandidatePayload(payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
			failures++
			continue
		}

		fmt.Printf("OK   %s (%s on %s)\n", path, candidate.Type, candidate.OccurredOn)
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d file(s) failed validation\n", failures, fs.NArg())
		return 1
	}
	return 0
}
