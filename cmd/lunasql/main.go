package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuannm99/lunasql/internal/config"
	"github.com/tuannm99/lunasql/internal/sql/ast"
	"github.com/tuannm99/lunasql/internal/system"
)

func main() {
	var (
		initData bool
		loadTable string
		loadFile  string
	)

	rootCmd := &cobra.Command{
		Use:           "lunasql",
		Short:         "lunasql, a single-user on-disk relational database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			config.InitLogging(cfg.LogLevel)

			if initData {
				slog.Info("resetting data directory", "path", cfg.Path)
				if err := os.RemoveAll(cfg.Path); err != nil {
					return err
				}
				return os.MkdirAll(cfg.Path, 0o755)
			}
			if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
				return err
			}

			sys := system.New(cfg.Path)
			defer func() {
				if err := sys.Shutdown(); err != nil {
					slog.Error("shutdown failed", "err", err)
				}
			}()

			if cfg.Database != "" {
				if _, err := sys.Execute(&ast.UseDatabase{Name: cfg.Database}); err != nil {
					return err
				}
			}

			if loadTable != "" && loadFile != "" {
				res, err := sys.Execute(&ast.Load{Path: loadFile, Table: loadTable, Delimiter: ","})
				if err != nil {
					return err
				}
				fmt.Printf("Query OK, %d rows affected\n", res.Affected)
				return nil
			}

			if cfg.Batch {
				return batchMain(sys, os.Stdin)
			}
			return shellMain(sys)
		},
	}

	flags := rootCmd.Flags()
	flags.BoolP("batch", "b", false, "batch mode: read statements from stdin")
	flags.StringP("database", "d", "", "database to select at startup")
	flags.StringP("path", "p", "data", "data root directory")
	flags.BoolVar(&initData, "init", false, "reset the data directory and exit")
	flags.StringVarP(&loadTable, "table", "t", "", "table to bulk-load into")
	flags.StringVarP(&loadFile, "file", "f", "", "CSV file to bulk-load")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
