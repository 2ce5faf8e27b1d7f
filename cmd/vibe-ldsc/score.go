package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vibe-ldsc/internal/annot"
	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/ldstore"
	"github.com/inodb/vibe-ldsc/internal/plink"
)

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute LD Scores from a PLINK reference panel",
		Long: `score reads a PLINK binary fileset (.bed/.bim/.fam), computes per-SNP
LD Scores over a sliding genomic window, and writes them as a
<out>.l2.ldscore.gz / <out>.l2.M / <out>.l2.M_5_50 fileset.

Exactly one window unit must be given: --ld-wind-snps, --ld-wind-kb or
--ld-wind-cm. Scores can be partitioned by the categories of an .annot
file (--annot) or of indicator bins derived from continuous per-SNP
values (--cts-bin).`,
		Example: `  vibe-ldsc score --bfile 1000G.EUR.22 --ld-wind-cm 1 --out eur_w_ld_chr/22
  vibe-ldsc score --bfile 1000G.EUR.22 --ld-wind-cm 1 --annot baseline.22.annot.gz --out baseline.22`,
		Args: cobra.NoArgs,
		RunE: runScore,
	}

	cmd.Flags().String("bfile", "", "PLINK fileset prefix (expects .bed, .bim and .fam)")
	cmd.Flags().Int("ld-wind-snps", 0, "Window half-width in SNPs")
	cmd.Flags().Float64("ld-wind-kb", 0, "Window half-width in kilobases")
	cmd.Flags().Float64("ld-wind-cm", 0, "Window half-width in centimorgans")
	cmd.Flags().String("annot", "", "Annotation file for partitioned scores")
	cmd.Flags().Bool("thin-annot", false, "Annotation file has category columns only")
	cmd.Flags().String("extract", "", "File listing SNP IDs to keep")
	cmd.Flags().String("keep", "", "File listing individual IDs to keep")
	cmd.Flags().Float64("maf", 0, "Minor allele frequency lower bound")
	cmd.Flags().Int("chunk-size", ldscore.DefaultChunkSize, "Genotype columns read per chunk")
	cmd.Flags().Bool("per-allele", false, "Scale each SNP by its heterozygosity 2p(1-p)")
	cmd.Flags().Float64("pq-exp", 0, "Scale each SNP by (p(1-p))^a for this exponent a")
	cmd.Flags().String("cts-bin", "", "Comma-separated continuous annotation files to bin into categories")
	cmd.Flags().String("cts-breaks", "", "Break points per cts file, comma-separated, lists joined by x, N for minus")
	cmd.Flags().String("cts-names", "", "Comma-separated annotation names, one per cts file")
	cmd.Flags().Bool("no-print-annot", false, "Do not write the annotation derived by --cts-bin")
	cmd.Flags().String("print-snps", "", "File listing the SNP IDs to write scores for")
	cmd.Flags().Bool("yes-really", false, "Compute whole-chromosome windows anyway")
	_ = cmd.MarkFlagRequired("bfile")

	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
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
	bfile, _ := cmd.Flags().GetString("bfile")

	windSNPs, _ := cmd.Flags().GetInt("ld-wind-snps")
	windKb, _ := cmd.Flags().GetFloat64("ld-wind-kb")
	windCM, _ := cmd.Flags().GetFloat64("ld-wind-cm")
	spec := ldscore.WindowSpec{SNPs: windSNPs, Kb: windKb, CM: windCM}
	if err := spec.Validate(); err != nil {
		return err
	}

	annotPath, _ := cmd.Flags().GetString("annot")
	extractPath, _ := cmd.Flags().GetString("extract")
	ctsBin, _ := cmd.Flags().GetString("cts-bin")
	if annotPath != "" && extractPath != "" {
		return &ldscore.ConfigError{Field: "extract", Message: "cannot use --extract together with --annot, annotation files must align with the full fileset"}
	}
	if annotPath != "" && ctsBin != "" {
		return &ldscore.ConfigError{Field: "cts-bin", Message: "cannot use --cts-bin together with --annot"}
	}
	if ctsBin != "" && extractPath != "" {
		return &ldscore.ConfigError{Field: "extract", Message: "cannot use --extract together with --cts-bin"}
	}

	perAllele, _ := cmd.Flags().GetBool("per-allele")
	var freqExp *float64
	if cmd.Flags().Changed("pq-exp") {
		if perAllele {
			return &ldscore.ConfigError{Field: "pq-exp", Message: "cannot use --pq-exp together with --per-allele"}
		}
		v, _ := cmd.Flags().GetFloat64("pq-exp")
		freqExp = &v
	} else if perAllele {
		one := 1.0
		freqExp = &one
	}

	filter := plink.Filter{}
	if v, _ := cmd.Flags().GetFloat64("maf"); v > 0 {
		filter.MAFMin = v
	}
	if extractPath != "" {
		if filter.Extract, err = plink.ReadIDList(extractPath); err != nil {
			return err
		}
	}
	if keepPath, _ := cmd.Flags().GetString("keep"); keepPath != "" {
		if filter.Keep, err = plink.ReadIDList(keepPath); err != nil {
			return err
		}
	}

	rd, err := plink.Open(bfile, filter)
	if err != nil {
		return err
	}
	defer rd.Close()
	rd.SetLogger(logger)
	stats := rd.Stats()
	logger.Info("loaded genotype fileset",
		zap.String("bfile", bfile),
		zap.Int("snps", stats.SNPsKept),
		zap.Int("snps_dropped_filter", stats.DroppedExtract),
		zap.Int("snps_dropped_maf", stats.DroppedMAF),
		zap.Int("individuals", stats.IndividualsKept))

	recs := rd.Records()
	set, err := loadScoreAnnotation(cmd, rd, logger)
	if err != nil {
		return err
	}
	var ann *ldscore.Annotation
	if set != nil {
		ann = set.Annotation()
	}

	yesReally, _ := cmd.Flags().GetBool("yes-really")
	windows, err := chromosomeWindows(recs, spec, yesReally)
	if err != nil {
		return err
	}

	calc := ldscore.NewCalculator(ldscore.Options{
		ChunkSize: flagInt(cmd, "chunk-size"),
		FreqExp:   freqExp,
	})
	calc.SetLogger(logger)
	table, err := calc.Compute(rd, recs, windows, ann)
	if err != nil {
		return err
	}

	if printSNPs, _ := cmd.Flags().GetString("print-snps"); printSNPs != "" {
		ids, err := plink.ReadIDList(printSNPs)
		if err != nil {
			return err
		}
		table = table.KeepSNPs(ids)
		if table.NSNPs() == 0 {
			return &ldscore.ConfigError{Field: "print-snps", Message: "no SNPs with computed scores remain"}
		}
		logger.Info("restricted output SNPs", zap.Int("snps", table.NSNPs()))
	}

	if err := ldstore.WriteFileset(out, table); err != nil {
		return err
	}
	logger.Info("wrote LD Scores",
		zap.String("prefix", out),
		zap.Int("snps", table.NSNPs()),
		zap.Int("categories", table.NCols()))
	for j, name := range table.Names {
		logger.Debug("category summary",
			zap.String("category", name),
			zap.Float64("m", table.M[j]),
			zap.Float64("m_5_50", table.M550[j]))
	}
	return nil
}

// loadScoreAnnotation resolves the partitioning annotation for a score
// run: an .annot file, categories binned from continuous values, or nil
// for plain unpartitioned scores.
func loadScoreAnnotation(cmd *cobra.Command, rd *plink.Reader, logger *zap.Logger) (*annot.Set, error) {
	annotPath, _ := cmd.Flags().GetString("annot")
	ctsBin, _ := cmd.Flags().GetString("cts-bin")

	switch {
	case annotPath != "":
		thin, _ := cmd.Flags().GetBool("thin-annot")
		set, err := annot.Load(annotPath, thin)
		if err != nil {
			return nil, err
		}
		sub, err := set.Subset(rd.AllSNPIDs(), rd.KeptIndices())
		if err != nil {
			return nil, err
		}
		logger.Info("loaded annotation",
			zap.String("annot", annotPath),
			zap.Int("categories", len(sub.Names)))
		return sub, nil

	case ctsBin != "":
		files := strings.Split(ctsBin, ",")
		ctsBreaks, _ := cmd.Flags().GetString("cts-breaks")
		breaks, err := annot.ParseBreaks(ctsBreaks, len(files))
		if err != nil {
			return nil, err
		}
		names := make([]string, len(files))
		if ctsNames, _ := cmd.Flags().GetString("cts-names"); ctsNames != "" {
			names = strings.Split(ctsNames, ",")
			if len(names) != len(files) {
				return nil, &ldscore.ConfigError{
					Field:   "cts-names",
					Message: fmt.Sprintf("%d names for %d cts files", len(names), len(files)),
				}
			}
		} else {
			for i, f := range files {
				names[i] = strings.SplitN(filepath.Base(f), ".", 2)[0]
			}
		}

		values := make([][]float64, len(files))
		for i, f := range files {
			if values[i], err = annot.ReadValues(f, rd.AllSNPIDs()); err != nil {
				return nil, err
			}
		}
		full, err := annot.Bin(values, breaks, names)
		if err != nil {
			return nil, err
		}
		if noPrint, _ := cmd.Flags().GetBool("no-print-annot"); !noPrint {
			path := flagString(cmd, "out") + ".annot.gz"
			if err := annot.WriteThin(path, full); err != nil {
				return nil, err
			}
			logger.Info("wrote derived annotation", zap.String("path", path))
		}
		sub, err := full.Subset(rd.AllSNPIDs(), rd.KeptIndices())
		if err != nil {
			return nil, err
		}
		logger.Info("binned continuous annotations",
			zap.Int("files", len(files)),
			zap.Int("categories", len(sub.Names)))
		return sub, nil
	}
	return nil, nil
}

// chromosomeWindows computes windows per contiguous chromosome run and
// offsets them to global SNP indices, so positions restarting at the
// next chromosome never join one window. A window wide enough to span a
// whole chromosome is refused unless yesReally is set.
func chromosomeWindows(recs []ldscore.SNPRecord, spec ldscore.WindowSpec, yesReally bool) ([]ldscore.Window, error) {
	windows := make([]ldscore.Window, 0, len(recs))
	for start := 0; start < len(recs); {
		end := start + 1
		for end < len(recs) && recs[end].Chr == recs[start].Chr {
			end++
		}
		coords := spec.Coords(recs[start:end])
		if ldscore.SpansAll(coords, spec.MaxDist()) && !yesReally {
			return nil, &ldscore.ConfigError{
				Field:   "ld-wind",
				Message: fmt.Sprintf("window spans all of chromosome %s, pass --yes-really to compute anyway", recs[start].Chr),
			}
		}
		chrWin, err := ldscore.Windows(coords, spec.MaxDist())
		if err != nil {
			return nil, err
		}
		for _, w := range chrWin {
			windows = append(windows, ldscore.Window{Lo: w.Lo + start, Hi: w.Hi + start})
		}
		start = end
	}
	return windows, nil
}
