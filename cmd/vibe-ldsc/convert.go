package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vibe-ldsc/internal/ldstore"
)

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert LD Score filesets to a DuckDB store and back",
		Long: `convert packs a TSV LD Score fileset into a single DuckDB database for
SQL access, or unpacks a store back into fileset form with --reverse.
Regression commands accept either form, so conversion is only needed
when querying scores directly.`,
		Example: `  # Pack a chromosome-split fileset into one store
  vibe-ldsc convert --ldscores eur_w_ld_chr/ --chr --db eur_w_ld.duckdb

  # Unpack a store into a fileset
  vibe-ldsc convert --db eur_w_ld.duckdb --reverse --ldscores eur_w_ld`,
		Args: cobra.NoArgs,
		RunE: runConvert,
	}

	cmd.Flags().String("ldscores", "", "LD Score fileset prefix")
	cmd.Flags().String("db", "", "DuckDB store path")
	cmd.Flags().Bool("chr", false, "Fileset is chromosome-split, @ replaced by 1..22")
	cmd.Flags().Bool("reverse", false, "Unpack the store into a fileset instead")
	_ = cmd.MarkFlagRequired("ldscores")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runConvert(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := openLogger(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	prefix, _ := cmd.Flags().GetString("ldscores")
	dbPath, _ := cmd.Flags().GetString("db")
	if filepath.Ext(dbPath) != ".duckdb" {
		dbPath += ".duckdb"
	}
	split, _ := cmd.Flags().GetBool("chr")

	if reverse, _ := cmd.Flags().GetBool("reverse"); reverse {
		store, err := ldstore.OpenStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		t, err := store.ReadTable()
		if err != nil {
			return err
		}
		if err := ldstore.WriteFileset(prefix, t); err != nil {
			return err
		}
		logger.Info("unpacked store into fileset",
			zap.String("db", dbPath),
			zap.String("prefix", prefix),
			zap.Int("snps", t.NSNPs()),
			zap.Int("categories", t.NCols()))
		return nil
	}

	t, err := ldstore.ReadFileset(prefix, split)
	if err != nil {
		return err
	}
	// Replace any existing store so stale rows never mix in.
	if _, err := os.Stat(dbPath); err == nil {
		if err := os.Remove(dbPath); err != nil {
			return err
		}
	}
	store, err := ldstore.OpenStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.WriteTable(t); err != nil {
		return err
	}

	var sizeMB float64
	if info, err := os.Stat(dbPath); err == nil {
		sizeMB = float64(info.Size()) / (1 << 20)
	}
	logger.Info("packed fileset into store",
		zap.String("prefix", prefix),
		zap.String("db", dbPath),
		zap.Int("snps", t.NSNPs()),
		zap.Int("categories", t.NCols()),
		zap.Float64("size_mb", sizeMB))
	return nil
}
