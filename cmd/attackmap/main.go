// Package main is the CLI entry point for attackmap.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/styx8114/attackmap/internal/analysis"
	"github.com/styx8114/attackmap/internal/config"
	"github.com/styx8114/attackmap/internal/export"
	"github.com/styx8114/attackmap/internal/server"
	"github.com/styx8114/attackmap/internal/taxonomy"
	"github.com/styx8114/attackmap/internal/ttp"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "attackmap [report.pdf]",
		Short: "Map threat-intelligence PDF reports onto ATT&CK techniques, malware families, and a timeline",
		Long: `attackmap extracts text from a threat-intelligence PDF report, identifies
ATT&CK techniques (keyword matching with a classifier fallback) and known
malware families, and correlates dates in the text into an event timeline.
Results are written as JSON for the web and visualization front-ends.`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringP("config", "c", "config.toml", "path to config file")
	rootCmd.Flags().String("taxonomy-file", "", "load the ATT&CK bundle from a local file instead of the network")
	rootCmd.Flags().StringP("output", "o", "", "output directory for analysis artifacts")
	rootCmd.Flags().Bool("serve", false, "run the upload server instead of analyzing one file")
	rootCmd.Flags().Int("port", 0, "port for the upload server (overrides config)")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	taxonomyFile, _ := cmd.Flags().GetString("taxonomy-file")
	outputDir, _ := cmd.Flags().GetString("output")
	serve, _ := cmd.Flags().GetBool("serve")
	port, _ := cmd.Flags().GetInt("port")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if !serve && len(args) == 0 {
		return fmt.Errorf("either pass a PDF to analyze or use --serve")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if taxonomyFile != "" {
		cfg.Taxonomy.File = taxonomyFile
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	ctx := cmd.Context()

	fmt.Fprintf(os.Stderr, "[*] Loading ATT&CK taxonomy...\n")
	tax := taxonomy.Load(ctx, cfg.Taxonomy.URL, cfg.Taxonomy.File,
		time.Duration(cfg.Taxonomy.Timeout)*time.Second, verbose)
	if tax.Degraded() {
		fmt.Fprintf(os.Stderr, "[*] Warning: taxonomy unavailable, matching will find nothing (%s)\n",
			tax.DegradedReason)
	} else {
		fmt.Fprintf(os.Stderr, "[*] Taxonomy ready: %d techniques, %d malware families\n",
			len(tax.Techniques), len(tax.MalwareNames))
	}

	var classifier ttp.Classifier
	if cfg.Classifier.Endpoint != "" {
		classifier = ttp.NewHTTPClassifier(
			cfg.Classifier.Endpoint,
			cfg.Classifier.Model,
			cfg.Classifier.MaxTokens,
			time.Duration(cfg.Classifier.Timeout)*time.Second,
		)
		fmt.Fprintf(os.Stderr, "[*] Classifier: %s\n", cfg.Classifier.Endpoint)
	} else if verbose {
		fmt.Fprintf(os.Stderr, "[main] no classifier configured, keyword matching only\n")
	}

	orch, err := analysis.New(tax, classifier, cfg.Classifier.Threshold, cfg.Timeline.Window, verbose)
	if err != nil {
		return err
	}

	exp, err := export.NewWriter(cfg.Output.Dir)
	if err != nil {
		return err
	}

	if serve {
		return runServer(ctx, orch, exp, cfg)
	}
	return analyzeFile(ctx, orch, exp, args[0])
}

func runServer(ctx context.Context, orch *analysis.Orchestrator, exp *export.Writer, cfg *config.Config) error {
	srv := server.New(orch, exp, cfg.Server.FeedbackLog, cfg.Server.MaxUploadMB, false)
	addr, err := srv.Start(cfg.Server.Port)
	if err != nil {
		return err
	}
	defer srv.Stop()

	fmt.Fprintf(os.Stderr, "[*] Listening on %s\n", addr)
	<-ctx.Done()
	fmt.Fprintf(os.Stderr, "[*] Shutting down\n")
	return nil
}

func analyzeFile(ctx context.Context, orch *analysis.Orchestrator, exp *export.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(os.Stderr, "[*] Analyzing %s...\n", path)
	res := orch.Analyze(ctx, f)
	if res.Error != "" {
		return fmt.Errorf("analysis failed: %s", res.Error)
	}

	resultsPath, id, err := exp.SaveResults(res)
	if err != nil {
		return err
	}
	timelinePath, err := exp.SaveTimeline(res)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== attackmap analysis %s ===\n", id)
	fmt.Printf("Techniques: %d | Malware: %d | Timeline events: %d\n",
		len(res.ReportTTPs), len(res.Malware), len(res.Timeline))
	for _, reason := range res.Degraded {
		fmt.Printf("Degraded: %s\n", reason)
	}
	fmt.Printf("Results: %s\n", resultsPath)
	fmt.Printf("Timeline: %s\n", timelinePath)
	return nil
}
