package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/omar-gamzatov/content-guardian/internal/moderation"
	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

func newEvalCmd() *cobra.Command {
	var policyPath, signalsPath string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a single rule expression against signals",
		Example: `  guardian eval --policy rule.json --signals signals.json
  echo '{"toxicity": 0.92}' | guardian eval --policy rule.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var policyDoc, signals any
			if err := readDocument(cmd, policyPath, &policyDoc); err != nil {
				return fmt.Errorf("policy: %w", err)
			}
			if err := readDocument(cmd, signalsPath, &signals); err != nil {
				return fmt.Errorf("signals: %w", err)
			}

			svc, err := moderation.New(moderation.Options{Verdict: verdict.DefaultConfig()})
			if err != nil {
				return err
			}
			decision, err := svc.Evaluate(cmd.Context(), policyDoc, signals)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"decision": decision})
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "rule expression file, JSON or YAML (required)")
	cmd.Flags().StringVar(&signalsPath, "signals", "-", `signals file, "-" reads stdin`)
	_ = cmd.MarkFlagRequired("policy")
	return cmd
}

func newAggregateCmd() *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Build a verdict from category scores using the configured thresholds",
		Long: `aggregate reads the same document POST /v1/verdicts accepts and prints
the resulting verdict. Thresholds, actions and rule overrides come from the
config file and the policies it loads.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := buildOptions(cfg)
			if err != nil {
				return err
			}
			defer opts.Cache.Close()
			svc, err := moderation.New(opts)
			if err != nil {
				return err
			}

			var req struct {
				Categories []verdict.CategoryScore `json:"categories"`
				Action     verdict.Action          `json:"action"`
				Severity   verdict.Severity        `json:"severity"`
				Explain    *verdict.Explain        `json:"explain"`
			}
			data, err := readInput(cmd, inputPath)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("decode input: %w", err)
			}
			in := verdict.Input{Categories: req.Categories, Action: req.Action, Severity: req.Severity}
			if e := req.Explain; e != nil {
				in.PolicyVersion = e.PolicyVersion
				in.RulesFired = e.RulesFired
				in.Uncertainty = e.Uncertainty
				in.Model = e.Model
			}
			v, err := svc.Aggregate(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "-", `verdict input JSON file, "-" reads stdin`)
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and compile every policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := buildOptions(cfg)
			if err != nil {
				return err
			}
			defer opts.Cache.Close()
			if _, err := moderation.New(opts); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, v := range opts.Registry.Versions() {
				set, err := opts.Registry.Get(v)
				if err != nil {
					return err
				}
				marker := ""
				if v == opts.Registry.Default() {
					marker = " (default)"
				}
				fmt.Fprintf(out, "policy %s%s: %d rules\n", v, marker, len(set.Rules))
			}
			fmt.Fprintln(out, "config ok")
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// readDocument decodes JSON or YAML into dst. Empty input is an error.
func readDocument(cmd *cobra.Command, path string, dst *any) error {
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty document")
	}
	return yaml.Unmarshal(data, dst)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
