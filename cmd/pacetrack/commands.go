package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pacetrack/pacetrack/internal/config"
	"github.com/pacetrack/pacetrack/internal/domain/analysis"
	"github.com/pacetrack/pacetrack/internal/domain/transmission"
	"github.com/pacetrack/pacetrack/internal/domain/trend"
	"github.com/pacetrack/pacetrack/internal/platform/egm"
	"github.com/pacetrack/pacetrack/internal/platform/validation"
	"github.com/pacetrack/pacetrack/internal/platform/vendor"
)

// withApp loads config, wires the services and runs fn. Logs go to stderr
// so stdout stays parseable.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(os.Getenv("ENV"), os.Stderr)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func windowFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "Window start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Window end (RFC3339 or YYYY-MM-DD)")
}

func windowFrom(cmd *cobra.Command) (trend.Window, error) {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	return trend.WindowFromQuery(start, end)
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import HL7 ORU^R01 transmission files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				failed := 0
				for _, path := range args {
					res, err := importFile(ctx, a, path)
					if err != nil {
						failed++
						fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
						continue
					}
					fmt.Println(importSummary(path, res))
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d file(s) failed to import", failed, len(args))
				}
				return nil
			})
		},
	}
}

func importFile(ctx context.Context, a *app, path string) (*transmission.ImportResult, error) {
	resolved, err := validation.ValidateImportFile(path, int64(a.cfg.HL7MinBytes), int64(a.cfg.HL7MaxBytes))
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return a.transmissions.Import(ctx, raw, filepath.Base(resolved))
}

func importSummary(path string, res *transmission.ImportResult) string {
	patient := res.Transmission.PatientID
	if res.PatientCreated {
		patient += " (new)"
	}
	s := fmt.Sprintf("%s: transmission %s for patient %s, %d observation(s): %d mapped, %d unmapped, %d field error(s)",
		path, res.Transmission.ID, patient, len(res.Observations), res.Mapped, res.Unmapped, res.FieldErrors)
	if n := len(res.Warnings); n > 0 {
		s += fmt.Sprintf(", %d warning(s)", n)
	}
	return s
}

func trendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend <patient-id> [variable]",
		Short: "Print longitudinal trends for a patient",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := windowFrom(cmd)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					all, err := a.trends.BuildAll(ctx, args[0])
					if err != nil {
						return err
					}
					return writeJSON(os.Stdout, all)
				}
				t, err := a.trends.Build(ctx, args[0], args[1], w)
				if err != nil {
					return err
				}
				return writeJSON(os.Stdout, t)
			})
		},
	}
	windowFlags(cmd)
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run clinical analyses for a patient",
	}

	kinds := []struct {
		use, short string
		run        func(ctx context.Context, svc *analysis.Service, cmd *cobra.Command, patientID string, w trend.Window) (interface{}, error)
	}{
		{"battery", "Predict battery depletion", func(ctx context.Context, svc *analysis.Service, _ *cobra.Command, id string, w trend.Window) (interface{}, error) {
			return svc.Battery(ctx, id, w)
		}},
		{"impedance", "Check lead impedance stability", func(ctx context.Context, svc *analysis.Service, _ *cobra.Command, id string, w trend.Window) (interface{}, error) {
			return svc.Impedance(ctx, id, w)
		}},
		{"arrhythmia", "Classify arrhythmia burden", func(ctx context.Context, svc *analysis.Service, cmd *cobra.Command, id string, w trend.Window) (interface{}, error) {
			variable, _ := cmd.Flags().GetString("variable")
			return svc.Arrhythmia(ctx, id, variable, w)
		}},
	}

	for _, k := range kinds {
		k := k
		sub := &cobra.Command{
			Use:   k.use + " <patient-id>",
			Short: k.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				w, err := windowFrom(cmd)
				if err != nil {
					return err
				}
				return withApp(func(ctx context.Context, a *app) error {
					res, err := k.run(ctx, a.analysis, cmd, args[0], w)
					if err != nil {
						return err
					}
					return writeJSON(os.Stdout, res)
				})
			},
		}
		windowFlags(sub)
		if k.use == "arrhythmia" {
			sub.Flags().String("variable", analysis.VariableAFibBurden, "Burden variable to analyze")
		}
		cmd.AddCommand(sub)
	}
	return cmd
}

func egmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "egm [observation-id]",
		Short: "Decode and analyze an EGM strip",
		Long:  "Analyze a stored EGM observation by id, or a raw payload with --file.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			v, _ := cmd.Flags().GetString("vendor")

			switch {
			case file != "" && len(args) == 0:
				return analyzeEGMFile(file, vendor.Vendor(v))
			case file == "" && len(args) == 1:
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid observation id %q: %w", args[0], err)
				}
				return withApp(func(ctx context.Context, a *app) error {
					res, err := a.analysis.EGM(ctx, id)
					if err != nil {
						return err
					}
					return writeJSON(os.Stdout, res)
				})
			default:
				return fmt.Errorf("give either an observation id or --file")
			}
		},
	}
	cmd.Flags().String("file", "", "Raw EGM payload to analyze without the store")
	cmd.Flags().String("vendor", string(vendor.Generic), "Device vendor of --file")
	return cmd
}

func analyzeEGMFile(path string, v vendor.Vendor) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	overrides, err := vendor.LoadOverrides(cfg.VendorCodesFile)
	if err != nil {
		return err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := analysis.AnalyzeEGM(blob, vendor.For(v, overrides), egm.NewProcessor(egmConfig(cfg)), cfg.EGMStripSeconds)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, res)
}
