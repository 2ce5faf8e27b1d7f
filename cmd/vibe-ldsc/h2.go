package main

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/ldstore"
	"github.com/inodb/vibe-ldsc/internal/regress"
	"github.com/inodb/vibe-ldsc/internal/report"
	"github.com/inodb/vibe-ldsc/internal/sumstats"
)

func newH2Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "h2",
		Short: "Estimate SNP-heritability from GWAS summary statistics",
		Long: `h2 regresses GWAS chi-square statistics on reference LD Scores with a
weighted block jackknife, yielding the SNP-heritability of the trait and,
with partitioned reference scores, its split across annotation
categories.

Reference and weight LD Scores come from score runs, as a single fileset
(--ref-ld, --w-ld) or one per chromosome (--ref-ld-chr, --w-ld-chr, with
@ standing for the chromosome number). Prefixes ending in .duckdb are
read from a DuckDB store instead.`,
		Example: `  vibe-ldsc h2 --h2 scz.sumstats.gz --ref-ld-chr eur_w_ld_chr/ --w-ld-chr eur_w_ld_chr/ --out scz
  vibe-ldsc h2 --h2 bmi.sumstats.gz --ref-ld-chr baseline. --w-ld-chr weights. --samp-prev 0.5 --pop-prev 0.01 --out bmi`,
		Args: cobra.NoArgs,
		RunE: runH2,
	}

	cmd.Flags().String("h2", "", "Summary-statistics file (SNP, Z, N columns)")
	addRegressionFlags(cmd)
	cmd.Flags().Float64("intercept-h2", 1, "Constrain the regression intercept to this value")
	cmd.Flags().Float64("two-step", regress.DefaultTwoStepCutoff, "Two-step estimator chi-square cutoff")
	cmd.Flags().Float64("samp-prev", math.NaN(), "Case fraction in the study sample, for liability-scale conversion")
	cmd.Flags().Float64("pop-prev", math.NaN(), "Disease prevalence in the population, for liability-scale conversion")
	cmd.Flags().Bool("print-coefficients", false, "Write the per-category coefficient table even for a single category")
	cmd.Flags().Bool("print-cov", false, "Write the jackknife covariance of the coefficients")
	cmd.Flags().Bool("print-delete-vals", false, "Write the per-block jackknife delete values")
	_ = cmd.MarkFlagRequired("h2")

	return cmd
}

func runH2(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := openLogger(cmd)
	if err != nil {
		return err
	}
	defer closeLog()
	stopWatchdog, err := startWatchdog(cmd, logger)
	if err != nil {
		return err
	}
	defer stopWatchdog()

	out := flagString(cmd, "out")
	ssPath, _ := cmd.Flags().GetString("h2")
	ss, err := sumstats.Load(ssPath, false)
	if err != nil {
		return err
	}
	logSumstats(logger, ssPath, ss)

	ref, w, m, err := loadRegressionInputs(cmd, logger)
	if err != nil {
		return err
	}

	design, err := regress.BuildH2(ss, ref, w, m, designOptions(cmd))
	if err != nil {
		return err
	}
	logDesign(logger, &design.Diag)

	fit := fitOptions(cmd, design.Names, "intercept-h2")
	if fit.TwoStep != nil {
		logger.Info("using two-step estimator", zap.Float64("cutoff", *fit.TwoStep))
	}

	res, err := regress.Hsq(design, fit)
	if err != nil {
		return err
	}

	sampPrev, _ := cmd.Flags().GetFloat64("samp-prev")
	popPrev, _ := cmd.Flags().GetFloat64("pop-prev")
	factor, err := regress.LiabilityFactor(sampPrev, popPrev)
	if err != nil {
		return err
	}

	logger.Info("heritability estimate",
		zap.Float64("h2_obs", res.Tot),
		zap.Float64("h2_obs_se", res.TotSE),
		zap.Float64("mean_chisq", res.MeanChisq),
		zap.Float64("lambda_gc", res.LambdaGC),
		zap.Float64("intercept", res.Intercept))
	fmt.Print(report.HsqSummary(res, factor))

	printCoef, _ := cmd.Flags().GetBool("print-coefficients")
	if len(res.Names) > 1 || printCoef {
		path := out + ".results"
		if err := writeReport(path, func(w io.Writer) error { return report.WriteResults(w, res) }); err != nil {
			return err
		}
		logger.Info("wrote category results", zap.String("path", path))
	}
	if printCov, _ := cmd.Flags().GetBool("print-cov"); printCov {
		path := out + ".cov"
		if err := writeReport(path, func(w io.Writer) error { return report.WriteMatrix(w, res.Names, res.CoefCov) }); err != nil {
			return err
		}
		logger.Info("wrote coefficient covariance", zap.String("path", path))
	}
	if printDel, _ := cmd.Flags().GetBool("print-delete-vals"); printDel {
		if err := writeDeleteValues(out, res, logger); err != nil {
			return err
		}
	}
	return nil
}

// addRegressionFlags registers the flags shared by every regression
// command.
func addRegressionFlags(cmd *cobra.Command) {
	cmd.Flags().String("ref-ld", "", "Reference LD Score prefix (comma-separated list binds columns)")
	cmd.Flags().String("ref-ld-chr", "", "Chromosome-split reference LD Score prefix, @ replaced by 1..22")
	cmd.Flags().String("w-ld", "", "Regression-weight LD Score prefix (single score column)")
	cmd.Flags().String("w-ld-chr", "", "Chromosome-split regression-weight LD Score prefix")
	cmd.Flags().Int("n-blocks", regress.DefaultNBlocks, "Jackknife block count")
	cmd.Flags().Float64("chisq-max", 0, "Exclude SNPs with chi-square at or above this ceiling")
	cmd.Flags().Bool("not-M-5-50", false, "Normalize by all SNPs instead of those with 0.05 < MAF < 0.50")
	cmd.Flags().Bool("no-intercept", false, "Constrain the intercept to its null value")
	cmd.Flags().Bool("invert-anyway", false, "Proceed despite an ill-conditioned LD Score matrix")
}

// ldArg resolves the plain or chromosome-split variant of an LD Score
// argument. Exactly one of --<name> and --<name>-chr must be given.
func ldArg(cmd *cobra.Command, name string) (arg string, split bool, err error) {
	plain, _ := cmd.Flags().GetString(name)
	chr, _ := cmd.Flags().GetString(name + "-chr")
	switch {
	case plain != "" && chr != "":
		return "", false, &ldscore.ConfigError{
			Field:   name,
			Message: fmt.Sprintf("--%s and --%s-chr are mutually exclusive", name, name),
		}
	case plain != "":
		return plain, false, nil
	case chr != "":
		return chr, true, nil
	}
	return "", false, &ldscore.ConfigError{
		Field:   name,
		Message: fmt.Sprintf("one of --%s or --%s-chr is required", name, name),
	}
}

// loadRegressionInputs reads the reference and weight LD Score tables
// named by the command's flags and picks the per-category counts used
// for normalization.
func loadRegressionInputs(cmd *cobra.Command, logger *zap.Logger) (ref, w *ldscore.Table, m []float64, err error) {
	refArg, refSplit, err := ldArg(cmd, "ref-ld")
	if err != nil {
		return nil, nil, nil, err
	}
	wArg, wSplit, err := ldArg(cmd, "w-ld")
	if err != nil {
		return nil, nil, nil, err
	}

	if ref, err = ldstore.ReadFileset(refArg, refSplit); err != nil {
		return nil, nil, nil, err
	}
	logger.Info("read reference LD Scores",
		zap.String("arg", refArg),
		zap.Int("snps", ref.NSNPs()),
		zap.Int("categories", ref.NCols()))
	if w, err = ldstore.ReadWeights(wArg, wSplit); err != nil {
		return nil, nil, nil, err
	}
	logger.Info("read regression-weight LD Scores",
		zap.String("arg", wArg),
		zap.Int("snps", w.NSNPs()))

	m = ref.M550
	if not550, _ := cmd.Flags().GetBool("not-M-5-50"); not550 {
		m = ref.M
	}
	return ref, w, m, nil
}

// designOptions builds the design-builder options from a command's
// flags.
func designOptions(cmd *cobra.Command) regress.DesignOptions {
	opts := regress.DesignOptions{}
	if cmd.Flags().Changed("chisq-max") {
		v, _ := cmd.Flags().GetFloat64("chisq-max")
		opts.ChisqMax = &v
	}
	if v, err := cmd.Flags().GetBool("invert-anyway"); err == nil {
		opts.InvertAnyway = v
	}
	if v, err := cmd.Flags().GetBool("no-check-alleles"); err == nil {
		opts.NoCheckAlleles = v
	}
	return opts
}

// fitOptions builds the regression fit options for a single-trait fit.
// interceptFlag names the command's intercept-constraint flag. The
// two-step estimator defaults on when the intercept is free and the
// design has a single score column.
func fitOptions(cmd *cobra.Command, names []string, interceptFlag string) regress.FitOptions {
	fit := regress.FitOptions{
		NBlocks: flagInt(cmd, "n-blocks"),
		Workers: flagInt(cmd, "workers"),
	}
	if v, err := cmd.Flags().GetBool("invert-anyway"); err == nil {
		fit.InvertAnyway = v
	}
	if noInt, _ := cmd.Flags().GetBool("no-intercept"); noInt {
		one := 1.0
		fit.Intercept = &one
	} else if cmd.Flags().Changed(interceptFlag) {
		v, _ := cmd.Flags().GetFloat64(interceptFlag)
		fit.Intercept = &v
	}
	if cmd.Flags().Changed("two-step") {
		v, _ := cmd.Flags().GetFloat64("two-step")
		fit.TwoStep = &v
	} else if fit.Intercept == nil && len(names) == 1 {
		var v float64 = regress.DefaultTwoStepCutoff
		fit.TwoStep = &v
	}
	return fit
}

// logSumstats reports what survived summary-statistics parsing.
func logSumstats(logger *zap.Logger, path string, ss *sumstats.Table) {
	logger.Info("loaded summary statistics",
		zap.String("path", path),
		zap.Int("snps", len(ss.Records)),
		zap.Int("dropped_na", ss.DroppedNA),
		zap.Int("dropped_duplicate", ss.DroppedDup))
}

// logDesign reports the row counts of the assembled regression design.
func logDesign(logger *zap.Logger, diag *regress.Diagnostics) {
	logger.Info("assembled regression design",
		zap.Int("snps", diag.SNPs),
		zap.Int("dropped_ref_join", diag.DroppedRefJoin),
		zap.Int("dropped_w_join", diag.DroppedWJoin),
		zap.Int("dropped_chisq", diag.DroppedChisq),
		zap.Strings("dropped_columns", diag.DroppedColumns))
	if diag.SNPs < 200000 {
		logger.Warn("regression uses fewer than 200k SNPs, estimates may be unstable",
			zap.Int("snps", diag.SNPs))
	}
}

// writeDeleteValues writes the jackknife delete values: the total in
// <out>.delete and the full per-coefficient matrix in <out>.part_delete.
func writeDeleteValues(out string, res *regress.HsqResult, logger *zap.Logger) error {
	path := out + ".delete"
	if err := writeReport(path, func(w io.Writer) error { return report.WriteDeleteValues(w, res.TotDelete) }); err != nil {
		return err
	}
	names := append([]string(nil), res.Names...)
	if !res.Constrained {
		names = append(names, "intercept")
	}
	partPath := out + ".part_delete"
	if err := writeReport(partPath, func(w io.Writer) error { return report.WriteMatrix(w, names, res.Jackknife.Delete) }); err != nil {
		return err
	}
	logger.Info("wrote jackknife delete values",
		zap.String("delete", path),
		zap.String("part_delete", partPath))
	return nil
}

// writeReport creates path and streams one report into it.
func writeReport(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
