package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
	"github.com/WessleyAI/wessley-valuation/engine/domain"
	"github.com/WessleyAI/wessley-valuation/engine/pricing"
	"github.com/WessleyAI/wessley-valuation/pkg/config"
	"github.com/WessleyAI/wessley-valuation/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// rootOpts are the persistent flags shared by every command.
type rootOpts struct {
	models  string
	files   artifact.Files
	json    bool
	verbose bool
}

func newRootCmd(cfg config.Config) *cobra.Command {
	opts := &rootOpts{files: artifact.Files{Model: cfg.ModelFile, Scaler: cfg.ScalerFile, Features: cfg.FeaturesFile}}
	root := &cobra.Command{
		Use:           "pricectl",
		Short:         "Inspect and exercise used-car valuation artifacts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.models, "models", cfg.ArtifactDir, "Artifact directory")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Output as JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log artifact warnings to stderr")

	root.AddCommand(newSchemaCmd(opts))
	root.AddCommand(newInspectCmd(opts))
	root.AddCommand(newEstimateCmd(opts, cfg))
	root.AddCommand(newReloadCmd(cfg))
	return root
}

func (o *rootOpts) logger(cmd *cobra.Command) *slog.Logger {
	if !o.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
}

func (o *rootOpts) store(cmd *cobra.Command) *artifact.Store {
	return artifact.NewStore(o.models, artifact.WithStoreLogger(o.logger(cmd)), artifact.WithFiles(o.files))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- schema ---

func newSchemaCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the installed feature list and artifact generation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := opts.store(cmd).Load(cmd.Context())
			if err != nil {
				return err
			}
			info := pricing.NewArtifactInfo(b)
			if opts.json {
				return printJSON(cmd.OutOrStdout(), info)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Generation: %s\n", info.Generation)
			for _, name := range []string{artifact.ArtifactModel, artifact.ArtifactScaler, artifact.ArtifactFeatures} {
				f := info.Files[name]
				fmt.Fprintf(w, "  %-8s %s (%d bytes)\n", name, f.Path, f.Size)
			}
			fmt.Fprintf(w, "\nFeatures (%d):\n", len(info.Features))
			for i, n := range info.Features {
				fmt.Fprintf(w, "  %3d  %s\n", i, n)
			}
			if len(info.Warnings) > 0 {
				fmt.Fprintf(w, "\nWarnings (%d):\n", len(info.Warnings))
				for _, warn := range info.Warnings {
					fmt.Fprintf(w, "  %s\n", warn)
				}
			}
			return nil
		},
	}
}

// --- inspect ---

// sampleSparse builds the diagnostic record against schema: fixed numeric
// values, the first brand column set, fuel and transmission left at zero and
// the last service-history column set.
func sampleSparse(schema *artifact.Schema) pricing.Sparse {
	sp := pricing.Sparse{
		pricing.FeatureMileage:   18.0,
		pricing.FeatureEngineCC:  1600.0,
		pricing.FeatureOwners:    0.0,
		pricing.FeatureAccidents: 0.0,
		pricing.FeatureCarAge:    5.0,
	}
	if cols := schema.WithPrefix(pricing.PrefixBrand); len(cols) > 0 {
		sp[cols[0]] = 1.0
	}
	if cols := schema.WithPrefix(pricing.PrefixServiceHistory); len(cols) > 0 {
		sp[cols[len(cols)-1]] = 1.0
	}
	return sp
}

func newInspectCmd(opts *rootOpts) *cobra.Command {
	var first int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Run the fixed diagnostic record and print every intermediate vector",
		PreRunE: func(*cobra.Command, []string) error {
			if first < 0 {
				return fmt.Errorf("--first must not be negative, got %d", first)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := opts.store(cmd).Load(cmd.Context())
			if err != nil {
				return err
			}
			aligned, err := pricing.Align(sampleSparse(b.Schema), b.Schema)
			if err != nil {
				return err
			}
			scaled, err := pricing.Scale(aligned, b.Scaler)
			if err != nil {
				return err
			}
			est, err := pricing.Predict(scaled, b.Model)
			if err != nil {
				return err
			}
			est.Generation = b.Generation.ID
			restored, err := pricing.Unscale(scaled, b.Scaler)
			if err != nil {
				return err
			}
			drift := maxDrift(aligned.Values, restored.Values)

			if opts.json {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"features": aligned.Names(),
					"aligned":  aligned.Values,
					"scaled":   scaled.Values,
					"drift":    drift,
					"estimate": est,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Aligned input (unscaled):")
			for i, n := range aligned.Names() {
				fmt.Fprintf(w, "  %-32s %g\n", n, aligned.Values[i])
			}
			n := min(first, b.Scaler.Len())
			fmt.Fprintf(w, "\nscaler mean (first %d):  %v\n", n, round6(b.Scaler.Mean[:n]))
			fmt.Fprintf(w, "scaler scale (first %d): %v\n", n, round6(b.Scaler.Scale[:n]))
			fmt.Fprintf(w, "\nScaled input: %v\n", round6(scaled.Values))
			fmt.Fprintf(w, "Scaler round-trip drift: %.3g\n", drift)
			printEstimate(w, est)
			return nil
		},
	}
	cmd.Flags().IntVar(&first, "first", 20, "Number of scaler parameters to print")
	return cmd
}

// maxDrift is the largest absolute difference between a and b.
func maxDrift(a, b []float64) float64 {
	var d float64
	for i := range a {
		d = max(d, math.Abs(a[i]-b[i]))
	}
	return d
}

func round6(xs []float64) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = fmt.Sprintf("%.6g", x)
	}
	return out
}

func printEstimate(w io.Writer, est pricing.Estimate) {
	fmt.Fprintf(w, "\nPredicted Price: $%.2f\n", est.Price)
	if est.WasClamped {
		fmt.Fprintf(w, "  (raw model output %.2f clamped at zero)\n  %s\n", est.Raw, pricing.Advisory)
	}
}

// --- estimate ---

func newEstimateCmd(opts *rootOpts, cfg config.Config) *cobra.Command {
	var (
		rec    = domain.SampleRecord()
		fuel   string
		trans  string
		svc    string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Price one car described by flags",
		Example: `  pricectl estimate --brand Toyota
  pricectl estimate --brand Kia --fuel Diesel --transmission Manual --age 9 --owners 2 --accidents`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec.FuelType = domain.FuelType(fuel)
			rec.Transmission = domain.Transmission(trans)
			rec.ServiceHistory = domain.ServiceHistory(svc)

			validate := domain.Validate
			if strict {
				validate = domain.ValidateStrict
			}
			if err := validate(rec); err != nil {
				return err
			}

			cache := artifact.NewCache(opts.store(cmd), artifact.WithCacheLogger(opts.logger(cmd)))
			est := pricing.NewEstimator(cache, pricing.WithLogger(opts.logger(cmd)))
			if opts.json {
				tr, err := est.Evaluate(cmd.Context(), rec)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pricing.NewResponse(tr))
			}
			price, err := est.EstimatePrice(cmd.Context(), rec)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s %s, %d cc, %g km/l, %d yrs, %d owner(s)\n",
				rec.Brand, rec.FuelType, rec.Transmission, rec.EngineCC, rec.Mileage, rec.CarAge, rec.OwnerCount)
			printEstimate(w, price)
			fmt.Fprintf(w, "Generation: %s\n", price.Generation)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&rec.Brand, "brand", rec.Brand, "Make ("+strings.Join(domain.KnownBrands, ", ")+")")
	f.StringVar(&fuel, "fuel", string(rec.FuelType), "Fuel type (Petrol, Diesel, Electric)")
	f.StringVar(&trans, "transmission", string(rec.Transmission), "Transmission (Automatic, Manual)")
	f.StringVar(&svc, "service", string(rec.ServiceHistory), "Service history (Full, Partial, Unknown)")
	f.Float64Var(&rec.Mileage, "mileage", rec.Mileage, "Fuel efficiency in km/l")
	f.IntVar(&rec.EngineCC, "engine-cc", rec.EngineCC, "Engine displacement in cc")
	f.IntVar(&rec.OwnerCount, "owners", rec.OwnerCount, "Number of previous owners")
	f.IntVar(&rec.CarAge, "age", rec.CarAge, "Car age in years")
	f.BoolVar(&rec.AccidentsReported, "accidents", rec.AccidentsReported, "Accidents were reported")
	f.BoolVar(&strict, "known-brands-only", cfg.KnownBrandsOnly, "Reject makes outside the known list")
	return cmd
}

// --- reload ---

func newReloadCmd(cfg config.Config) *cobra.Command {
	var (
		url     string
		reason  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask running services to reload their artifacts over NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				return errors.New("reload: no NATS server (set --nats or NATS_URL)")
			}
			nc, err := nats.Connect(url, nats.Name("pricectl"))
			if err != nil {
				return fmt.Errorf("nats connect: %w", err)
			}
			defer nc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := natsutil.Request[pricing.ReloadRequest, pricing.ReloadResult](ctx, nc, pricing.SubjectArtifactsReload, pricing.ReloadRequest{Reason: reason})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if res.Error != "" {
				fmt.Fprintf(w, "Reload failed, still serving %s\n", res.Generation)
				return fmt.Errorf("reload: %s", res.Error)
			}
			if res.Previous == res.Generation {
				fmt.Fprintf(w, "Artifacts unchanged: %s\n", res.Generation)
				return nil
			}
			fmt.Fprintf(w, "Installed %s (was %s)\n", res.Generation, orNone(res.Previous))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "nats", cfg.NATSURL, "NATS server URL")
	cmd.Flags().StringVar(&reason, "reason", "pricectl", "Reason recorded by the services")
	cmd.Flags().DurationVar(&timeout, "timeout", natsutil.DefaultTimeout, "Reply timeout")
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
