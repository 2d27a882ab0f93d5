package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lbms/library"
	"lbms/library/config"
	"lbms/library/server"
)

func main() {
	var (
		configPath string
		catalog    string
		copies     int
	)

	cmd := &cobra.Command{
		Use:   "import_books",
		Short: "Stock the library with copies of every catalog book",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load(".env")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if catalog != "" {
				cfg.Catalog = catalog
			}
			return importBooks(cmd.Context(), cfg, copies)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "lbms.yml", "configuration file")
	cmd.Flags().StringVar(&catalog, "catalog", "", "catalog CSV to import instead of the configured one")
	cmd.Flags().IntVarP(&copies, "copies", "n", 1, "copies to buy of each book")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func importBooks(ctx context.Context, cfg config.Config, copies int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	srv, err := server.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	mgr := srv.Manager()

	entries := mgr.Catalog().Entries()
	fmt.Printf("Importing %d books (%d copies each)...\n", len(entries), copies)

	var bought []library.Purchase
	errorCount := 0
	for _, e := range entries {
		p, err := mgr.Buy(copies, []string{e.ISBN})
		if err != nil {
			fmt.Printf("ERROR %s: %v\n", e.ISBN, err)
			errorCount++
			continue
		}
		bought = append(bought, p...)
	}

	if err := srv.Close(ctx); err != nil {
		return fmt.Errorf("save library: %w", err)
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", len(bought))
	fmt.Printf("Errors: %d\n", errorCount)

	if len(bought) > 0 {
		fmt.Println("\nImported books:")
		fmt.Printf("%-14s %-50s %-5s\n", "ISBN", "Title", "Total")
		fmt.Println(strings.Repeat("-", 71))
		for _, p := range bought {
			fmt.Printf("%-14s %-50s %5d\n", p.Book.ISBN, truncateString(p.Book.Title, 50), p.Book.Total)
		}
	}
	if errorCount > 0 {
		return fmt.Errorf("%d books failed", errorCount)
	}
	return nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
