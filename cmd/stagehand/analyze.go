package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/okanewa/stagehand/internal/bypass"
	"github.com/okanewa/stagehand/internal/eventlog"
	"github.com/okanewa/stagehand/internal/notify"
)

var (
	analyzeWorkflow string
	analyzeWatch    bool
	analyzeJSON     bool
	patternsFile    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the bypass detector over the execution log",
	Long: `Replay the execution log against the bypass signature set and print
findings. The detector is offline: it reads the log and artifact store
but never touches workflow state.

With --watch, stagehand follows the log and re-analyzes on every append.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeWorkflow, "workflow", "", "restrict analysis to one workflow id")
	analyzeCmd.Flags().BoolVar(&analyzeWatch, "watch", false, "follow the log and re-analyze on append")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "emit findings as JSON")
	analyzeCmd.Flags().StringVar(&patternsFile, "patterns", "", "YAML file with additional bypass patterns")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	eng, err := newEngine(false)
	if err != nil {
		return exitWith(exitInternal, err)
	}
	defer eng.close()

	patterns := bypass.DefaultPatterns()
	if patternsFile != "" {
		extra, err := loadPatterns(patternsFile)
		if err != nil {
			return exitWith(exitInternal, err)
		}
		patterns = append(patterns, extra...)
	}

	analyzer := bypass.NewAnalyzer(eng.artifacts, eng.logger)

	if analyzeWatch {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		notifier := notify.New(eng.cfg.Alerts.Command, eng.cfg.Alerts.Args)
		alerted := make(map[string]bool)
		err := bypass.Watch(ctx, eng.logPath(), analyzer, patterns, eng.logger, func(findings []bypass.Finding) {
			findings = filterFindings(findings)
			printFindings(findings)
			for _, f := range findings {
				if f.Severity != bypass.SeverityCritical || alerted[f.ID] {
					continue
				}
				alerted[f.ID] = true
				msg := fmt.Sprintf("%s on %s", f.PatternID, f.WorkflowID)
				if err := notifier.Send("stagehand: critical bypass finding", msg); err != nil {
					eng.logger.Warn("alert delivery failed", zap.Error(err))
				}
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return exitWith(exitInternal, err)
		}
		return nil
	}

	entries, err := eventlog.Read(eng.logPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("no execution log yet")
			return nil
		}
		return exitWith(exitInternal, err)
	}

	findings := filterFindings(analyzer.Analyze(entries, patterns))
	printFindings(findings)
	return nil
}

func filterFindings(findings []bypass.Finding) []bypass.Finding {
	if analyzeWorkflow == "" {
		return findings
	}
	var out []bypass.Finding
	for _, f := range findings {
		if f.WorkflowID == analyzeWorkflow {
			out = append(out, f)
		}
	}
	return out
}

func printFindings(findings []bypass.Finding) {
	if analyzeJSON {
		printJSON(findings)
		return
	}
	if len(findings) == 0 {
		fmt.Println("no findings")
		return
	}
	for _, f := range findings {
		fmt.Printf("[%s] %s  %s  workflow=%s\n", f.Severity, f.ID, f.PatternID, f.WorkflowID)
		for _, e := range f.Evidence {
			fmt.Printf("    evidence: %s\n", e)
		}
		if f.SuggestedFix != "" {
			fmt.Printf("    fix: %s\n", f.SuggestedFix)
		}
	}
	fmt.Println(bypass.Summarize(findings))
}

// loadPatterns reads extra signatures from a YAML list.
func loadPatterns(path string) ([]bypass.Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}
	var patterns []bypass.Pattern
	if err := yamlv3.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("parse patterns file: %w", err)
	}
	return patterns, nil
}
