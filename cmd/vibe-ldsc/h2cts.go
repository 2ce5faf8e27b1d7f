package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/ldstore"
	"github.com/inodb/vibe-ldsc/internal/regress"
	"github.com/inodb/vibe-ldsc/internal/report"
	"github.com/inodb/vibe-ldsc/internal/sumstats"
	"github.com/inodb/vibe-ldsc/internal/textio"
)

func newH2CTSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "h2-cts",
		Short: "Rank cell-type annotations by heritability enrichment",
		Long: `h2-cts tests each candidate cell-type LD Score set for heritability
enrichment conditional on a shared base model: every candidate joins the
base reference scores in one regression, and its leading coefficient is
tested one-sided against zero.

--ref-ld-chr-cts names a file with one candidate per line: a name and a
comma-separated list of chromosome-split LD Score prefixes. Results are
ranked by p-value in <out>.cell_type_results.txt.`,
		Example: `  vibe-ldsc h2-cts --h2-cts bmi.sumstats.gz --ref-ld-chr baseline. --w-ld-chr weights. --ref-ld-chr-cts cahoy.ldcts --out bmi_cahoy`,
		Args: cobra.NoArgs,
		RunE: runH2CTS,
	}

	cmd.Flags().String("h2-cts", "", "Summary-statistics file (SNP, Z, N columns)")
	addRegressionFlags(cmd)
	cmd.Flags().String("ref-ld-chr-cts", "", "File listing candidate cell-type LD Score sets")
	cmd.Flags().Float64("intercept-h2", 1, "Constrain the regression intercept to this value")
	cmd.Flags().Bool("print-all-cts", false, "Report every candidate score column, not just the first")
	_ = cmd.MarkFlagRequired("h2-cts")
	_ = cmd.MarkFlagRequired("ref-ld-chr-cts")

	return cmd
}

func runH2CTS(cmd *cobra.Command, args []string) error {
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

	ssPath, _ := cmd.Flags().GetString("h2-cts")
	ss, err := sumstats.Load(ssPath, false)
	if err != nil {
		return err
	}
	logSumstats(logger, ssPath, ss)

	ref, w, m, err := loadRegressionInputs(cmd, logger)
	if err != nil {
		return err
	}

	// The chi-square ceiling always applies here, whatever the base
	// column count: candidates make every joint fit multi-category.
	dopts := designOptions(cmd)
	if dopts.ChisqMax == nil {
		maxN := 0.0
		for i := range ss.Records {
			if ss.Records[i].N > maxN {
				maxN = ss.Records[i].N
			}
		}
		ceiling := math.Max(0.001*maxN, 80)
		dopts.ChisqMax = &ceiling
	}

	design, err := regress.BuildH2(ss, ref, w, m, dopts)
	if err != nil {
		return err
	}
	logDesign(logger, &design.Diag)

	ctsPath, _ := cmd.Flags().GetString("ref-ld-chr-cts")
	jobs, err := readCTSJobs(ctsPath)
	if err != nil {
		return err
	}
	logger.Info("read candidate list", zap.String("path", ctsPath), zap.Int("candidates", len(jobs)))

	not550, _ := cmd.Flags().GetBool("not-M-5-50")
	ctOpts := regress.CellTypeOptions{
		FitOptions: fitOptions(cmd, design.Names, "intercept-h2"),
		AllSNPsM:   not550,
	}

	printAll, _ := cmd.Flags().GetBool("print-all-cts")
	scan := regress.CellTypes(design, jobs, ctOpts)
	var rows []report.CellTypeRow
	for {
		res, err := scan.Next()
		if err != nil {
			return err
		}
		if res == nil {
			break
		}
		logger.Info("tested cell type",
			zap.String("name", res.Name),
			zap.Float64("coef", res.Coef),
			zap.Float64("p", res.PValue))
		rows = append(rows, report.CellTypeRow{
			Name:   res.Name,
			Coef:   res.Coef,
			CoefSE: res.CoefSE,
			PValue: res.PValue,
		})
		if printAll {
			for j := 1; j < res.NCts; j++ {
				coef, se := res.Hsq.Coef[j], res.Hsq.CoefSE[j]
				rows = append(rows, report.CellTypeRow{
					Name:   fmt.Sprintf("%s_%d", res.Name, j),
					Coef:   coef,
					CoefSE: se,
					PValue: regress.CoefficientP(coef, se),
				})
			}
		}
	}

	report.SortCellTypes(rows)
	out := flagString(cmd, "out")
	path := out + ".cell_type_results.txt"
	if err := writeReport(path, func(w io.Writer) error { return report.WriteCellTypes(w, rows) }); err != nil {
		return err
	}
	logger.Info("wrote cell-type results", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

// readCTSJobs parses a candidate list: one candidate per line, a name
// and a comma-separated list of chromosome-split LD Score prefixes.
func readCTSJobs(path string) ([]regress.CellTypeJob, error) {
	rc, err := textio.OpenMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open candidate list: %w", err)
	}
	defer rc.Close()

	var jobs []regress.CellTypeJob
	scanner := textio.NewScanner(rc)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, &textio.ParseError{File: path, Line: line, Message: "expected a name and an LD Score prefix list"}
		}
		prefixes := fields[1]
		jobs = append(jobs, regress.CellTypeJob{
			Name: fields[0],
			Load: func() (*ldscore.Table, error) { return ldstore.ReadFileset(prefixes, true) },
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read candidate list: %w", err)
	}
	if len(jobs) == 0 {
		return nil, &ldscore.ConfigError{Field: "ref-ld-chr-cts", Message: "no candidates listed"}
	}
	return jobs, nil
}
