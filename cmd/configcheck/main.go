// Command configcheck validates the sources and credentials configuration
// and prints how many sources can serve each model.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/af-corp/aegis-router/internal/config"
)

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	loader := config.NewLoader(*configDir, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := loader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sources := loader.Sources()
	report := config.Validate(sources, loader.Credentials())

	for _, e := range report.Errors {
		fmt.Printf("ERROR   %s\n", e)
	}
	for _, w := range report.Warnings {
		fmt.Printf("WARNING %s\n", w)
	}

	coverage := config.SourceCoverage(sources)
	names := make([]string, 0, len(coverage))
	for m := range coverage {
		names = append(names, m)
	}
	sort.Strings(names)

	fmt.Println()
	fmt.Println("Source coverage:")
	for _, m := range names {
		marker := ""
		if coverage[m] == 0 {
			marker = "  (unservable)"
		} else if coverage[m] == 1 {
			marker = "  (no backup)"
		}
		fmt.Printf("  %-32s %d%s\n", m, coverage[m], marker)
	}

	fmt.Printf("\n%d error(s), %d warning(s)\n", len(report.Errors), len(report.Warnings))
	if !report.OK() {
		os.Exit(1)
	}
}
