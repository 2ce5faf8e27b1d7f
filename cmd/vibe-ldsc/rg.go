package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/regress"
	"github.com/inodb/vibe-ldsc/internal/report"
	"github.com/inodb/vibe-ldsc/internal/sumstats"
)

func newRGCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rg",
		Short: "Estimate genetic correlation between traits",
		Long: `rg estimates the genetic correlation between the first trait of --rg and
each of the others: both heritabilities, the genetic covariance from the
Z1*Z2 cross product, and their ratio, each with jackknife standard
errors sharing the same blocks.

Alleles are harmonized between the two studies of each pair; the pair
fails when more than half of the shared SNPs cannot be matched. The
list-valued options (--intercept-h2, --intercept-gencov, --samp-prev,
--pop-prev) take one comma-separated entry per trait, NA for entries to
leave at their default.`,
		Example: `  vibe-ldsc rg --rg scz.sumstats.gz,bip.sumstats.gz --ref-ld-chr eur_w_ld_chr/ --w-ld-chr eur_w_ld_chr/ --out scz_bip
  vibe-ldsc rg --rg scz.sumstats.gz,bip.sumstats.gz --ref-ld-chr eur_w_ld_chr/ --w-ld-chr eur_w_ld_chr/ --samp-prev 0.5,0.4 --pop-prev 0.01,0.01 --out scz_bip`,
		Args: cobra.NoArgs,
		RunE: runRG,
	}

	cmd.Flags().String("rg", "", "Comma-separated summary-statistics files, first trait against each other")
	addRegressionFlags(cmd)
	cmd.Flags().String("intercept-h2", "", "Per-trait h2 intercept constraints, comma-separated")
	cmd.Flags().String("intercept-gencov", "", "Per-trait gencov intercept constraints, comma-separated (first entry unused)")
	cmd.Flags().String("samp-prev", "", "Per-trait sample prevalences, comma-separated")
	cmd.Flags().String("pop-prev", "", "Per-trait population prevalences, comma-separated")
	cmd.Flags().Float64("two-step", regress.DefaultTwoStepCutoff, "Two-step estimator chi-square cutoff")
	cmd.Flags().Bool("no-check-alleles", false, "Skip allele harmonization between the two studies")
	_ = cmd.MarkFlagRequired("rg")

	return cmd
}

func runRG(cmd *cobra.Command, args []string) error {
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

	rgArg, _ := cmd.Flags().GetString("rg")
	paths := strings.Split(rgArg, ",")
	if len(paths) < 2 {
		return &ldscore.ConfigError{Field: "rg", Message: "need at least two summary-statistics files"}
	}
	nTraits := len(paths)

	noIntercept, _ := cmd.Flags().GetBool("no-intercept")
	interceptH2, err := parseFloatList(cmd, "intercept-h2", nTraits, math.NaN())
	if err != nil {
		return err
	}
	interceptGencov, err := parseFloatList(cmd, "intercept-gencov", nTraits, math.NaN())
	if err != nil {
		return err
	}
	if noIntercept {
		for i := range interceptH2 {
			interceptH2[i] = 1
			interceptGencov[i] = 0
		}
	}
	sampPrev, err := parseFloatList(cmd, "samp-prev", nTraits, math.NaN())
	if err != nil {
		return err
	}
	popPrev, err := parseFloatList(cmd, "pop-prev", nTraits, math.NaN())
	if err != nil {
		return err
	}

	noCheck, _ := cmd.Flags().GetBool("no-check-alleles")
	ss1, err := sumstats.Load(paths[0], !noCheck)
	if err != nil {
		return err
	}
	logSumstats(logger, paths[0], ss1)

	ref, w, m, err := loadRegressionInputs(cmd, logger)
	if err != nil {
		return err
	}
	dopts := designOptions(cmd)

	// One two-step cutoff covers every pair, chosen before any fit so
	// all three regressions of a pair use the same estimator.
	var twoStep *float64
	ih2Str, _ := cmd.Flags().GetString("intercept-h2")
	igcStr, _ := cmd.Flags().GetString("intercept-gencov")
	if cmd.Flags().Changed("two-step") {
		v, _ := cmd.Flags().GetFloat64("two-step")
		twoStep = &v
	} else if !noIntercept && ih2Str == "" && igcStr == "" && ref.NCols() == 1 {
		var v float64 = regress.DefaultTwoStepCutoff
		twoStep = &v
	}
	if twoStep != nil {
		logger.Info("using two-step estimator", zap.Float64("cutoff", *twoStep))
	}

	rows := make([]report.RGRow, 0, nTraits-1)
	for i := 1; i < nTraits; i++ {
		logger.Info("computing genetic correlation",
			zap.Int("pair", i),
			zap.Int("pairs", nTraits-1),
			zap.String("p2", paths[i]))
		opts := regress.RGOptions{
			NBlocks:      flagInt(cmd, "n-blocks"),
			TwoStep:      twoStep,
			Workers:      flagInt(cmd, "workers"),
			InvertAnyway: dopts.InvertAnyway,
		}
		opts.InterceptH1 = floatPtr(interceptH2[0])
		opts.InterceptH2 = floatPtr(interceptH2[i])
		opts.InterceptGencov = floatPtr(interceptGencov[i])

		row, err := rgPair(logger, pairInputs{
			ss1:    ss1,
			paths:  paths,
			index:  i,
			ref:    ref,
			w:      w,
			m:      m,
			dopts:  dopts,
			rgOpts: opts,
			samp:   [2]float64{sampPrev[0], sampPrev[i]},
			pop:    [2]float64{popPrev[0], popPrev[i]},
		})
		if err != nil {
			// A failed pair leaves an NA row so the remaining pairs
			// still run.
			logger.Error("trait pair failed", zap.String("p2", paths[i]), zap.Error(err))
			row = naRGRow(paths[0], paths[i])
		}
		rows = append(rows, row)
	}

	fmt.Print("\nSummary of Genetic Correlation Results\n")
	if err := report.WriteRGTable(os.Stdout, rows); err != nil {
		return err
	}
	out := flagString(cmd, "out")
	tablePath := out + ".rg.tsv"
	if err := writeReport(tablePath, func(w io.Writer) error { return report.WriteRGTable(w, rows) }); err != nil {
		return err
	}
	logger.Info("wrote genetic correlation table", zap.String("path", tablePath))
	return nil
}

// pairInputs collects everything one trait pair's regressions need.
type pairInputs struct {
	ss1    *sumstats.Table
	paths  []string
	index  int
	ref, w *ldscore.Table
	m      []float64
	dopts  regress.DesignOptions
	rgOpts regress.RGOptions
	samp   [2]float64 // sample prevalence of trait 1 and trait 2
	pop    [2]float64
}

// rgPair runs the three regressions of one trait pair and prints their
// summaries. The first trait's heritability block only prints for the
// first pair.
func rgPair(logger *zap.Logger, in pairInputs) (report.RGRow, error) {
	p2 := in.paths[in.index]
	ss2, err := sumstats.Load(p2, !in.dopts.NoCheckAlleles)
	if err != nil {
		return report.RGRow{}, err
	}
	logSumstats(logger, p2, ss2)

	design, err := regress.BuildRG(in.ss1, ss2, in.ref, in.w, in.m, in.dopts)
	if err != nil {
		return report.RGRow{}, err
	}
	logDesign(logger, &design.Diag)
	if design.Diag.DroppedAlleles > 0 {
		logger.Info("dropped SNPs with mismatched alleles", zap.Int("snps", design.Diag.DroppedAlleles))
	}

	res, err := regress.RG(design, in.rgOpts)
	if err != nil {
		return report.RGRow{}, err
	}

	factor1, err := regress.LiabilityFactor(in.samp[0], in.pop[0])
	if err != nil {
		return report.RGRow{}, err
	}
	factor2, err := regress.LiabilityFactor(in.samp[1], in.pop[1])
	if err != nil {
		return report.RGRow{}, err
	}
	gencovFactor := math.Sqrt(factor1) * math.Sqrt(factor2)

	if in.index == 1 {
		section("Heritability of phenotype 1")
		fmt.Print(report.HsqSummary(res.Hsq1, factor1))
	}
	section(fmt.Sprintf("Heritability of phenotype %d/%d", in.index+1, len(in.paths)))
	fmt.Print(report.HsqSummary(res.Hsq2, factor2))
	section("Genetic Covariance")
	fmt.Print(report.GencovSummary(res.Gencov, gencovFactor))
	section("Genetic Correlation")
	fmt.Print(report.RGSummary(res))

	logger.Info("genetic correlation estimate",
		zap.String("p2", p2),
		zap.Float64("rg", res.RG),
		zap.Float64("se", res.RGSE),
		zap.Float64("p", res.PValue))

	return report.RGRow{
		P1:        in.paths[0],
		P2:        p2,
		RG:        res.RG,
		SE:        res.RGSE,
		Z:         res.ZScore,
		P:         res.PValue,
		H2Obs:     res.Hsq2.Tot,
		H2ObsSE:   res.Hsq2.TotSE,
		H2Int:     res.Hsq2.Intercept,
		H2IntSE:   res.Hsq2.InterceptSE,
		GcovInt:   res.Gencov.Intercept,
		GcovIntSE: res.Gencov.InterceptSE,
	}, nil
}

// section prints an underlined block title to stdout.
func section(title string) {
	fmt.Printf("\n%s\n%s\n", title, strings.Repeat("-", len(title)))
}

// parseFloatList parses a comma-separated per-trait option. An empty
// flag yields def for every trait; NA entries stay at def.
func parseFloatList(cmd *cobra.Command, name string, n int, def float64) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		out[i] = def
	}
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return out, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, &ldscore.ConfigError{
			Field:   name,
			Message: fmt.Sprintf("%d values for %d traits", len(parts), n),
		}
	}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.EqualFold(p, "NA") || strings.EqualFold(p, "nan") {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, &ldscore.ConfigError{Field: name, Message: fmt.Sprintf("invalid value: %s", p)}
		}
		out[i] = v
	}
	return out, nil
}

// floatPtr returns a pointer to v, or nil when v is NaN, mapping the
// NA list entries to unconstrained intercepts.
func floatPtr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// naRGRow is the summary-table row of a failed pair.
func naRGRow(p1, p2 string) report.RGRow {
	nan := math.NaN()
	return report.RGRow{
		P1: p1, P2: p2,
		RG: nan, SE: nan, Z: nan, P: nan,
		H2Obs: nan, H2ObsSE: nan,
		H2Int: nan, H2IntSE: nan,
		GcovInt: nan, GcovIntSE: nan,
	}
}
