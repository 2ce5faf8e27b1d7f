// Package main provides the vibe-ldsc command-line tool.
package main

import (
	"fmt"
	"os"

	"github.com/raulk/go-watchdog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/regress"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		return ExitError
	}
	return ExitSuccess
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vibe-ldsc",
		Short: "LD Score regression from GWAS summary statistics",
		Long: `vibe-ldsc estimates SNP-heritability and genetic correlation from GWAS
summary statistics using LD Score regression, and computes the LD Scores
the regression needs from a PLINK reference panel.`,
		Example: `  # Compute LD Scores for one chromosome of a reference panel
  vibe-ldsc score --bfile 1000G.EUR.22 --ld-wind-cm 1 --out eur_w_ld_chr/22

  # Estimate SNP-heritability
  vibe-ldsc h2 --h2 scz.sumstats.gz --ref-ld-chr eur_w_ld_chr/ --w-ld-chr eur_w_ld_chr/ --out scz

  # Estimate genetic correlation between two traits
  vibe-ldsc rg --rg scz.sumstats.gz,bip.sumstats.gz --ref-ld-chr eur_w_ld_chr/ --w-ld-chr eur_w_ld_chr/ --out scz_bip`,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().String("out", "ldsc", "Output filename prefix")
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().Int("workers", 0, "Jackknife worker pool size (0 = one per CPU)")
	root.PersistentFlags().Int("memory-limit", 0, "Heap watchdog limit in MB (0 = disabled)")

	cobra.OnInitialize(initConfig)

	root.AddCommand(newScoreCmd())
	root.AddCommand(newH2Cmd())
	root.AddCommand(newRGCmd())
	root.AddCommand(newH2CTSCmd())
	root.AddCommand(newConvertCmd())
	root.AddCommand(newConfigCmd())

	return root
}

// initConfig seeds the option defaults and loads ~/.vibe-ldsc.yaml when
// present. Explicit flags always win over config-file values.
func initConfig() {
	viper.SetDefault("out", "ldsc")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("workers", 0)
	viper.SetDefault("memory-limit", 0)
	viper.SetDefault("n-blocks", regress.DefaultNBlocks)
	viper.SetDefault("chunk-size", ldscore.DefaultChunkSize)

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	viper.AddConfigPath(home)
	viper.SetConfigName(".vibe-ldsc")
	viper.SetConfigType("yaml")
	_ = viper.ReadInConfig() // config file is optional
}

// flagString resolves a string option: an explicit flag wins, then the
// config file, then the flag default.
func flagString(cmd *cobra.Command, name string) string {
	if !cmd.Flags().Changed(name) && viper.InConfig(name) {
		return viper.GetString(name)
	}
	v, _ := cmd.Flags().GetString(name)
	return v
}

// flagInt resolves an integer option the same way.
func flagInt(cmd *cobra.Command, name string) int {
	if !cmd.Flags().Changed(name) && viper.InConfig(name) {
		return viper.GetInt(name)
	}
	v, _ := cmd.Flags().GetInt(name)
	return v
}

// openLogger builds the run logger: console output on stderr teed into
// the persistent <out>.log file, so every run leaves a log behind.
func openLogger(cmd *cobra.Command) (*zap.Logger, func(), error) {
	out := flagString(cmd, "out")
	level, err := zapcore.ParseLevel(flagString(cmd, "log-level"))
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	logFile, err := os.Create(out + ".log")
	if err != nil {
		return nil, nil, fmt.Errorf("create log file: %w", err)
	}
	sink := zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stderr), zapcore.AddSync(logFile))
	logger := zap.New(zapcore.NewCore(enc, sink, level))

	cleanup := func() {
		_ = logger.Sync()
		_ = logFile.Close()
	}
	return logger, cleanup, nil
}

// startWatchdog enables the heap-driven memory watchdog when a limit is
// configured. The returned stop function is a no-op when disabled.
func startWatchdog(cmd *cobra.Command, logger *zap.Logger) (func(), error) {
	limitMB := flagInt(cmd, "memory-limit")
	if limitMB <= 0 {
		return func() {}, nil
	}
	err, stop := watchdog.HeapDriven(uint64(limitMB)<<20, 40, watchdog.NewAdaptivePolicy(0.5))
	if err != nil {
		return nil, fmt.Errorf("start memory watchdog: %w", err)
	}
	logger.Info("heap watchdog enabled", zap.Int("limit_mb", limitMB))
	return stop, nil
}
