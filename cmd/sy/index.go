package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/indexer"
	"github.com/zulandar/switchyard/internal/models"
)

func newIndexCmd() *cobra.Command {
	var (
		configPath string
		sourceType string
		meta       indexer.Meta
	)

	cmd := &cobra.Command{
		Use:   "index <url|file>",
		Short: "Index a website or document into the knowledge base",
		Long: `Crawls a website (same host, bounded page count) or reads a single
document, splits it into overlapping chunks, embeds them and replaces any
chunks previously stored for the same source.

URLs are crawled as websites unless --type document is given. Local files
are always indexed as documents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, configPath, args[0], sourceType, meta)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&sourceType, "type", "", "source type: website or document")
	cmd.Flags().StringVar(&meta.TenantID, "tenant", "", "tenant the content belongs to (default: config default_tenant)")
	cmd.Flags().StringVar(&meta.Title, "title", "", "title override")
	cmd.Flags().StringVar(&meta.Category, "category", "", "category label")
	cmd.Flags().StringSliceVar(&meta.Tags, "tags", nil, "comma-separated tags")
	return cmd
}

func runIndex(cmd *cobra.Command, configPath, locator, sourceType string, meta indexer.Meta) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := loadAndConnect(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	ix, err := buildIndexer(cmd.Context(), cfg, gormDB)
	if err != nil {
		return err
	}

	if meta.TenantID == "" {
		meta.TenantID = cfg.DefaultTenant
	}
	if _, statErr := os.Stat(locator); statErr == nil {
		sourceType = models.SourceDocument
	} else if sourceType == "" {
		sourceType = models.SourceWebsite
	}

	fmt.Fprintf(out, "Indexing %s as %s...\n", locator, sourceType)
	res, err := ix.Index(cmd.Context(), locator, sourceType, meta)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Indexed %d chunks", res.ChunkCount)
	if res.Pages > 1 {
		fmt.Fprintf(out, " from %d pages", res.Pages)
	}
	fmt.Fprintf(out, " (source %s)\n", res.SourceID)
	if len(meta.Tags) > 0 {
		fmt.Fprintf(out, "Tags: %s\n", strings.Join(meta.Tags, ", "))
	}
	return nil
}
