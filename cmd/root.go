package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Eggwite/megacloud-key-extractor/internal/config"
	"github.com/Eggwite/megacloud-key-extractor/internal/observability"
	"github.com/Eggwite/megacloud-key-extractor/solver"
)

// NewRootCmd builds the keyextract command with its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "keyextract [inputs...]",
		Short: "Deobfuscates player scripts and extracts their AES key.",
		Long: `keyextract simplifies obfuscated scripts (control-flow unflattening, string
table decoding, dead-code elimination) and prints every AES key candidate it can
prove. Inputs are file paths or http(s) URLs.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeConfig(v, cmd, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			if cfg.Silent {
				observability.InitializeSilent()
			} else {
				observability.InitializeLogger(cfg.Logger)
			}
			return run(cmd.Context(), cmd, cfg, args)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	flags.StringP("input", "i", "", "script file or URL, in addition to positional inputs")
	flags.BoolP("silent", "s", false, "print keys only, no logs")
	flags.BoolP("exhaustive", "e", false, "report every key instead of stopping at the first")
	flags.StringP("output", "o", "", "write the simplified program here (a directory for several inputs)")
	flags.Bool("json", false, "print a JSON report instead of plain keys")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	return rootCmd
}

// flagKeys maps each flag to the config key it overrides.
var flagKeys = map[string]string{
	"input":      "input_path",
	"silent":     "silent",
	"exhaustive": "exhaustive",
	"output":     "output_path",
	"json":       "json",
}

// initializeConfig layers defaults, the config file, the environment and
// flags, in increasing precedence.
func initializeConfig(v *viper.Viper, cmd *cobra.Command, cfgFile string) error {
	config.SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	config.BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := observability.GetLogger()

	inputs := args
	if cfg.InputPath != "" {
		inputs = append([]string{cfg.InputPath}, args...)
	}
	if len(inputs) == 0 {
		return errors.New("no input given: pass a script path or URL")
	}

	loader, err := newLoader(cfg, inputs)
	if err != nil {
		return err
	}
	pipeline := solver.New(pipelineOptions(cfg), logger)
	items, err := pipeline.RunAll(ctx, loader, inputs, cfg.Engine.Concurrency)
	if err != nil {
		return err
	}

	if cfg.OutputPath != "" {
		if err := writeArtifacts(cfg.OutputPath, items); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if cfg.JSON {
		data, err := solver.MarshalReports(items)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		printKeys(out, cmd.ErrOrStderr(), items, cfg.Silent)
	}

	var failed []error
	for _, it := range items {
		if it.Err != nil {
			logger.Error("input failed", zap.String("input", it.Input), zap.Error(it.Err))
			failed = append(failed, fmt.Errorf("%s: %w", it.Input, it.Err))
		}
	}
	return errors.Join(failed...)
}

func pipelineOptions(cfg *config.Config) solver.Options {
	return solver.Options{
		Exhaustive:       cfg.Exhaustive,
		MaxDCEIterations: cfg.Engine.MaxDCEIterations,
		MinTableSize:     cfg.Engine.MinTableSize,
		MaxRotations:     cfg.Engine.MaxRotations,
		VMTimeout:        cfg.Engine.VMTimeout,
		UseVMFallback:    cfg.Engine.UseVMFallback,
	}
}

// newLoader only builds the TLS client when some input is a URL.
func newLoader(cfg *config.Config, inputs []string) (solver.Loader, error) {
	for _, in := range inputs {
		if solver.IsURL(in) {
			return solver.NewFetcher(int(cfg.Engine.FetchTimeout.Seconds()))
		}
	}
	return solver.NewFetcherWithClient(nil), nil
}

// printKeys writes accepted keys one per line. With several inputs each line
// is prefixed by its input.
func printKeys(out, errOut io.Writer, items []solver.BatchItem, silent bool) {
	multi := len(items) > 1
	for _, it := range items {
		if it.Err != nil {
			continue
		}
		found := it.Result.Keys.Keys()
		if len(found) == 0 && !silent {
			fmt.Fprintf(errOut, "%s: no key found\n", it.Input)
		}
		for _, k := range found {
			if multi {
				fmt.Fprintf(out, "%s\t%s\n", it.Input, k)
			} else {
				fmt.Fprintln(out, k)
			}
		}
	}
}

func writeArtifacts(outputPath string, items []solver.BatchItem) error {
	if len(items) == 1 {
		if items[0].Err != nil {
			return nil
		}
		return os.WriteFile(outputPath, []byte(items[0].Result.Simplified), 0o644)
	}
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for i, it := range items {
		if it.Err != nil {
			continue
		}
		name := fmt.Sprintf("%02d-%s", i, artifactName(it.Input))
		if err := os.WriteFile(filepath.Join(outputPath, name), []byte(it.Result.Simplified), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

func artifactName(input string) string {
	base := filepath.Base(strings.TrimRight(input, "/"))
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if base == "" || base == "." || base == "/" {
		base = "script"
	}
	if !strings.HasSuffix(base, ".js") {
		base += ".js"
	}
	return base
}

// Execute runs the root command. The caller decides the exit status.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
