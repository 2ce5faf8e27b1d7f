package plink

import (
	"fmt"
	"io"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
)

// bed magic bytes: two-byte signature plus the SNP-major mode flag.
var bedMagic = [3]byte{0x6c, 0x1b, 0x01}

// Filter restricts which SNPs and individuals a Reader keeps.
type Filter struct {
	Extract map[string]bool // SNP IDs to keep; nil keeps all
	Keep    map[string]bool // individual IDs to keep; nil keeps all
	MAFMin  float64         // strict lower bound on minor allele frequency
}

// Stats counts what loading and filtering excluded.
type Stats struct {
	SNPsTotal        int
	SNPsKept         int
	DroppedExtract   int
	DroppedMAF       int // below the MAF floor, monomorphic, or all-missing
	IndividualsTotal int
	IndividualsKept  int
}

// Reader streams standardized genotype columns for the kept SNPs of a
// PLINK binary fileset. Allele frequencies are computed in a first
// sequential pass over the .bed file; columns are served on demand in a
// second pass, so the full matrix is never held in memory. Monomorphic
// SNPs are always dropped: their standardized column is identically zero
// and carries no LD information.
type Reader struct {
	path        string
	f           *os.File
	bytesPerSNP int
	keepIdx     []int // kept individual indices in .fam order
	allIDs      []string
	recs        []ldscore.SNPRecord
	keptSNP     []int // .bed record index per kept SNP
	cur         int
	stats       Stats
	logger      *zap.Logger
	buf         []byte
}

// Open loads the fileset at prefix (prefix.bed/.bim/.fam), applies the
// filter, and computes per-SNP allele frequencies.
func Open(prefix string, filter Filter) (*Reader, error) {
	famIDs, err := parseFAM(prefix + ".fam")
	if err != nil {
		return nil, err
	}
	var keepIdx []int
	for i, id := range famIDs {
		if filter.Keep == nil || filter.Keep[id] {
			keepIdx = append(keepIdx, i)
		}
	}
	if len(keepIdx) == 0 {
		return nil, &ldscore.ConfigError{Field: "keep", Message: "no individuals remain after filtering"}
	}

	bimRecs, err := parseBIM(prefix + ".bim")
	if err != nil {
		return nil, err
	}

	bedPath := prefix + ".bed"
	f, err := os.Open(bedPath)
	if err != nil {
		return nil, fmt.Errorf("open bed: %w", err)
	}
	var magic [3]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read bed magic: %w", err)
	}
	if magic != bedMagic {
		f.Close()
		if magic[0] == bedMagic[0] && magic[1] == bedMagic[1] {
			return nil, fmt.Errorf("bed file %s is individual-major; only SNP-major files are supported", bedPath)
		}
		return nil, fmt.Errorf("bed file %s has invalid magic bytes", bedPath)
	}

	allIDs := make([]string, len(bimRecs))
	for i, rec := range bimRecs {
		allIDs[i] = rec.ID
	}
	r := &Reader{
		path:        bedPath,
		f:           f,
		bytesPerSNP: (len(famIDs) + 3) / 4,
		keepIdx:     keepIdx,
		allIDs:      allIDs,
		logger:      zap.NewNop(),
	}
	r.buf = make([]byte, r.bytesPerSNP)
	r.stats.SNPsTotal = len(bimRecs)
	r.stats.IndividualsTotal = len(famIDs)
	r.stats.IndividualsKept = len(keepIdx)

	if info, err := f.Stat(); err == nil {
		want := int64(3 + len(bimRecs)*r.bytesPerSNP)
		if info.Size() < want {
			f.Close()
			return nil, fmt.Errorf("bed file %s is truncated: %d bytes, want %d", bedPath, info.Size(), want)
		}
	}

	mafMin := filter.MAFMin
	if mafMin < 0 {
		mafMin = 0
	}
	dos := make([]float64, len(keepIdx))
	for i, rec := range bimRecs {
		if _, err := io.ReadFull(f, r.buf); err != nil {
			f.Close()
			return nil, fmt.Errorf("read bed record %d: %w", i, err)
		}
		if filter.Extract != nil && !filter.Extract[rec.ID] {
			r.stats.DroppedExtract++
			continue
		}
		sum, cnt := 0.0, 0
		decodeSNP(r.buf, keepIdx, dos)
		for _, d := range dos {
			if !math.IsNaN(d) {
				sum += d
				cnt++
			}
		}
		if cnt == 0 {
			r.stats.DroppedMAF++
			continue
		}
		p := sum / (2 * float64(cnt))
		maf := math.Min(p, 1-p)
		if maf <= mafMin {
			r.stats.DroppedMAF++
			continue
		}
		rec.MAF = maf
		r.recs = append(r.recs, rec)
		r.keptSNP = append(r.keptSNP, i)
	}
	r.stats.SNPsKept = len(r.recs)
	if len(r.recs) == 0 {
		f.Close()
		return nil, &ldscore.ConfigError{Field: "bfile", Message: "no SNPs remain after filtering"}
	}
	return r, nil
}

// SetLogger sets the logger for progress messages.
func (r *Reader) SetLogger(l *zap.Logger) { r.logger = l }

// Records returns the kept SNPs in order, with MAF filled in.
func (r *Reader) Records() []ldscore.SNPRecord { return r.recs }

// AllSNPIDs returns every SNP ID in the .bim file, before filtering.
// Annotation files must align with this list.
func (r *Reader) AllSNPIDs() []string { return r.allIDs }

// KeptIndices returns, for each kept SNP, its row index in the .bim file.
func (r *Reader) KeptIndices() []int { return r.keptSNP }

// Stats returns filtering diagnostics.
func (r *Reader) Stats() Stats { return r.stats }

// NIndividuals returns the number of kept individuals.
func (r *Reader) NIndividuals() int { return len(r.keepIdx) }

// NextSNPs returns up to max standardized columns for the next kept SNPs,
// or nil, nil after the last one.
func (r *Reader) NextSNPs(max int) ([][]float64, error) {
	if r.cur >= len(r.keptSNP) {
		return nil, nil
	}
	var out [][]float64
	for r.cur < len(r.keptSNP) && len(out) < max {
		idx := r.keptSNP[r.cur]
		off := int64(3 + idx*r.bytesPerSNP)
		if _, err := r.f.ReadAt(r.buf, off); err != nil {
			return nil, fmt.Errorf("read bed record %d: %w", idx, err)
		}
		col := make([]float64, len(r.keepIdx))
		decodeSNP(r.buf, r.keepIdx, col)
		standardize(col)
		out = append(out, col)
		r.cur++
	}
	r.logger.Debug("streamed genotype chunk",
		zap.Int("snps", len(out)),
		zap.Int("streamed", r.cur),
		zap.Int("total", len(r.keptSNP)))
	return out, nil
}

// Reset rewinds the stream to the first kept SNP.
func (r *Reader) Reset() { r.cur = 0 }

// Close closes the underlying .bed file.
func (r *Reader) Close() error { return r.f.Close() }

// decodeSNP unpacks one .bed record into A2-allele dosages for the kept
// individuals. Genotypes are packed two bits per individual, LSB first:
// 00 = hom A1, 01 = missing, 10 = het, 11 = hom A2. Missing genotypes
// come out as NaN.
func decodeSNP(buf []byte, keepIdx []int, out []float64) {
	for j, idx := range keepIdx {
		code := buf[idx/4] >> (uint(idx%4) * 2) & 3
		switch code {
		case 0:
			out[j] = 0
		case 1:
			out[j] = math.NaN()
		case 2:
			out[j] = 1
		default:
			out[j] = 2
		}
	}
}

// standardize centers a dosage column at its mean over non-missing
// entries (missing entries are replaced by that mean, i.e. zero after
// centering) and divides by the population standard deviation. A
// zero-variance column divides by 1 instead.
func standardize(col []float64) {
	sum, cnt := 0.0, 0
	for _, v := range col {
		if !math.IsNaN(v) {
			sum += v
			cnt++
		}
	}
	mean := sum / float64(cnt)
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = mean
		}
	}
	ss := 0.0
	for _, v := range col {
		ss += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(ss / float64(len(col)))
	if sd == 0 {
		sd = 1
	}
	for i, v := range col {
		col[i] = (v - mean) / sd
	}
}
