// Command shopctl holds the operator tasks that run outside the server:
// schema migrations, catalog seeding, stock audits and admin token issuance.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/shopaway/shopaway/app"
	"github.com/shopaway/shopaway/internal/catalog"
	"github.com/shopaway/shopaway/internal/config"
	"github.com/shopaway/shopaway/internal/db"
	"github.com/shopaway/shopaway/internal/services"
)

func main() {
	root := &cobra.Command{
		Use:           "shopctl",
		Short:         "ShopAway operator commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		migrateCommand(),
		seedCommand(),
		stockHistoryCommand(),
		adminTokenCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "shopctl:", err)
		os.Exit(1)
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-up",
		Short: "apply all pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func seedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [catalog.yaml]",
		Short: "load a YAML product catalog into the products table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "catalog.yaml"
			if len(args) == 1 {
				path = args[0]
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, logFile, err := app.NewLogger(cfg)
			if err != nil {
				return err
			}
			if logFile != nil {
				defer logFile.Close()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			return seed(ctx, cfg, logger.With("file", path), path)
		},
	}
}

func seed(ctx context.Context, cfg *config.Config, logger *slog.Logger, path string) error {
	shopCatalog, err := catalog.NewParser().ParseFile(path)
	if err != nil {
		return err
	}
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, logger.With("component", "db"))
	if err != nil {
		return err
	}
	defer pool.Close()

	count, err := catalog.NewImporter(db.NewProductStore(pool), logger).Import(ctx, shopCatalog)
	if err != nil {
		return err
	}
	logger.Info("catalog imported", "shop", shopCatalog.Shop.Name, "products", count)
	return nil
}

func stockHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stock-history SKU",
		Short: "print the stock movements recorded for a product, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, logFile, err := app.NewLogger(cfg)
			if err != nil {
				return err
			}
			if logFile != nil {
				defer logFile.Close()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pool, err := db.Connect(ctx, cfg.DatabaseURL, logger.With("component", "db"))
			if err != nil {
				return err
			}
			defer pool.Close()

			products := db.NewProductStore(pool)
			product, err := products.GetBySKU(ctx, args[0])
			if err != nil {
				return fmt.Errorf("product %s: %w", args[0], err)
			}
			txs, err := products.ListStockTransactions(ctx, product.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  stock=%d\n", product.SKU, product.Name, product.Stock)
			for i, tx := range txs {
				if limit > 0 && i >= limit {
					break
				}
				fmt.Fprintf(out, "%s  %+d  %s\n", tx.CreatedAt.Format(time.RFC3339), tx.Change, tx.Note)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum movements to print, 0 for all")
	return cmd
}

func adminTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "print a signed bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(subject) == "" {
				return fmt.Errorf("--subject is required")
			}
			// Only the signing secret is needed, so the full config is not loaded.
			auth, err := services.NewAdminAuth(os.Getenv("ADMIN_JWT_SECRET"))
			if err != nil {
				return fmt.Errorf("ADMIN_JWT_SECRET: %w", err)
			}
			token, err := auth.IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "who the token is issued to, recorded in request logs")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
