package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/daimoniac/docshield/internal/config"
	"github.com/daimoniac/docshield/internal/observability"
	"github.com/daimoniac/docshield/internal/security"
	"github.com/spf13/cobra"
)

// loadStack builds the security components from the configured policy
// with logging limited to errors
func loadStack() (*securityStack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Policy != nil {
		if err := cfg.Policy.Validate(); err != nil {
			return nil, fmt.Errorf("invalid policy: %w", err)
		}
	}
	return newSecurityStack(cfg.Policy, observability.NewLogger("error"))
}

// readValue returns the single argument, or stdin when it is "-" or absent
func readValue(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// readPayload returns the contents of the named file, or stdin when the
// argument is "-" or absent
func readPayload(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read payload: %w", err)
		}
		return string(data), nil
	}
	return readValue(cmd, nil)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newValidateCmd() *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "validate [value|-]",
		Short: "Validate one input value the way the catalog would",
		Long: "Validate one input value with the sanitizer. Structured queries are read as JSON.\n" +
			"Field types: sku, face_shape, query, structured_query.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ft, err := security.ParseFieldType(field)
			if err != nil {
				return err
			}
			raw, err := readValue(cmd, args)
			if err != nil {
				return err
			}

			var value any = raw
			if ft == security.FieldStructuredQuery {
				if err := json.Unmarshal([]byte(raw), &value); err != nil {
					return fmt.Errorf("structured query is not valid JSON: %w", err)
				}
			}

			stack, err := loadStack()
			if err != nil {
				return err
			}

			clean, err := stack.sanitizer.ValidateInput(value, ft)
			if err != nil {
				var v *security.Violation
				if errors.As(err, &v) {
					_ = writeJSON(cmd.OutOrStdout(), v)
				}
				return fmt.Errorf("rejected: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"valid": true, "value": clean})
		},
	}

	cmd.Flags().StringVarP(&field, "field", "f", "sku", "field type of the value")
	return cmd
}

func newDetectCmd() *cobra.Command {
	var (
		raw    bool
		source string
	)

	cmd := &cobra.Command{
		Use:   "detect [file|-]",
		Short: "Scan a JSON payload for threats",
		Long: "Scan a payload file, or stdin, for injection signatures. The payload is parsed as JSON\n" +
			"unless --raw is set.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readPayload(cmd, args)
			if err != nil {
				return err
			}

			var payload any = input
			if !raw {
				if err := json.Unmarshal([]byte(input), &payload); err != nil {
					return fmt.Errorf("payload is not valid JSON (use --raw for plain text): %w", err)
				}
			}

			stack, err := loadStack()
			if err != nil {
				return err
			}

			// without a source there is nothing to rate limit
			var v *security.Violation
			if source == "" {
				v = stack.detector.Scan(payload)
			} else {
				v = stack.detector.DetectThreat(payload, source)
			}
			if v == nil {
				result := map[string]any{"threat": false}
				if source != "" {
					result["source"] = source
				}
				return writeJSON(cmd.OutOrStdout(), result)
			}
			if err := writeJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
			return fmt.Errorf("threat detected: %s (%s)", v.Type, v.Level)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "treat the payload as a plain string")
	cmd.Flags().StringVar(&source, "source", "", "source identifier; enables rate limiting of repeated threats")
	return cmd
}

func newPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List the threat signatures in the pattern library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := loadStack()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pattern library %s\n\n", stack.library.Version())

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tLEVEL\tKIND")
			for _, p := range stack.library.Patterns() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Type, p.Level, p.Kind)
			}
			return tw.Flush()
		},
	}
}
