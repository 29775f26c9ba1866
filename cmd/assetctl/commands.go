package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"campus-inventory-api/internal/auth"
	"campus-inventory-api/internal/deletion"
	"campus-inventory-api/internal/history"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/service"
	"campus-inventory-api/pkg/importer"
)

func newMigrateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := g.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(out, "applied %s\n", name)
			}
			return nil
		},
	}
}

func newNextSequenceCommand(g *globals) *cobra.Command {
	var (
		tenantID int64
		kind     string
		category string
		year     string
	)
	cmd := &cobra.Command{
		Use:   "next-sequence",
		Short: "Show the next identifier number for a category and year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := g.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			idKind := models.IdentifierKind(kind)
			if idKind != models.IdentifierTag && idKind != models.IdentifierManagement {
				return fmt.Errorf("--kind must be %s or %s", models.IdentifierTag, models.IdentifierManagement)
			}
			category = strings.ToUpper(strings.TrimSpace(category))
			seq, err := service.New(db, g.log, nil).NextSequence(cmd.Context(), tenantID, idKind, category, year)
			if err != nil {
				return err
			}
			key := models.IdentifierKey{TenantID: tenantID, Kind: idKind, Category: category, Year: year, Sequence: seq}
			fmt.Fprintln(cmd.OutOrStdout(), key.Display())
			return nil
		},
	}
	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id")
	cmd.Flags().StringVar(&kind, "kind", string(models.IdentifierTag), "identifier kind (tag or management)")
	cmd.Flags().StringVar(&category, "category", "", "identifier category, e.g. NB")
	cmd.Flags().StringVar(&year, "year", "", "two digit year token")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newPurgeTenantCommand(g *globals) *cobra.Command {
	var (
		tenantID int64
		groups   string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "purge-tenant",
		Short: "Delete all or selected inventory data of one tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := g.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			o := deletion.NewOrchestrator(db, g.log, nil, deletion.Options{
				MaxRetries:      g.cfg.DeleteMaxRetries,
				InitialInterval: g.cfg.DeleteRetryInitial,
			})
			out := cmd.OutOrStdout()

			if dryRun {
				counts, err := o.Counts(cmd.Context(), tenantID)
				if err != nil {
					return err
				}
				return printCounts(out, counts, false)
			}

			var summary *models.DeletionSummary
			if strings.TrimSpace(groups) != "" {
				summary, err = o.DeleteTenantSelective(cmd.Context(), tenantID, deletion.ParseGroups(groups))
			} else {
				summary, err = o.DeleteTenant(cmd.Context(), tenantID)
			}
			if err != nil {
				return err
			}
			if err := printCounts(out, summary.Tables, true); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %d inventory rows (+%d supporting) in %d attempt(s)\n",
				summary.Total, summary.Supporting, summary.Attempts)
			return nil
		},
	}
	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id")
	cmd.Flags().StringVar(&groups, "groups", "", "comma separated table groups; empty purges everything")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only print the row counts that would be deleted")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func printCounts(out io.Writer, counts []models.TableCount, deleted bool) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if deleted {
		fmt.Fprintln(tw, "TABLE\tBEFORE\tDELETED")
	} else {
		fmt.Fprintln(tw, "TABLE\tROWS")
	}
	for _, c := range counts {
		if deleted {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", c.Table, c.Before, c.Deleted)
		} else {
			fmt.Fprintf(tw, "%s\t%d\n", c.Table, c.Before)
		}
	}
	return tw.Flush()
}

func newPruneHistoryCommand(g *globals) *cobra.Command {
	var (
		tenantID  int64
		olderThan time.Duration
	)
	cmd := &cobra.Command{
		Use:   "prune-history",
		Short: "Delete change history older than a retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				olderThan = g.cfg.HistoryRetention
			}
			if olderThan <= 0 {
				return errors.New("--older-than or HISTORY_RETENTION is required")
			}
			db, err := g.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			q := history.NewQuery(db, g.log)
			cutoff := time.Now().Add(-olderThan)
			var n int64
			if tenantID > 0 {
				n, err = q.PurgeOlderThan(cmd.Context(), tenantID, cutoff)
			} else {
				n, err = q.PruneAll(cmd.Context(), cutoff)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d history entries older than %s\n", n, cutoff.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id; 0 prunes every tenant")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention period, e.g. 8760h; defaults to HISTORY_RETENTION")
	return cmd
}

func newImportCommand(g *globals) *cobra.Command {
	var (
		opts importer.ImportOptions
		file string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Register assets from an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			db, err := g.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if opts.MappingPath == "" {
				opts.MappingPath = g.cfg.ImportMapping
			}
			im := importer.New(service.New(db, g.log, nil), g.log)
			summary, importErr := im.Import(cmd.Context(), f, opts)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			return importErr
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the .xlsx workbook")
	cmd.Flags().Int64Var(&opts.TenantID, "tenant", 0, "tenant id")
	cmd.Flags().StringVar(&opts.MappingPath, "mapping", "", "column mapping YAML; defaults to IMPORT_MAPPING")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate rows without writing")
	cmd.Flags().IntVar(&opts.MaxErrors, "max-errors", 0, "abort once row errors exceed this many (default 50)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newTemplateCommand(g *globals) *cobra.Command {
	var (
		mappingPath string
		output      string
	)
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an empty import workbook with the mapped headers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mappingPath == "" {
				mappingPath = g.cfg.ImportMapping
			}
			mapping, err := importer.LoadMapping(mappingPath)
			if err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := importer.WriteTemplate(f, mapping); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&mappingPath, "mapping", "", "column mapping YAML; defaults to IMPORT_MAPPING")
	cmd.Flags().StringVarP(&output, "output", "o", "import-template.xlsx", "output file")
	return cmd
}

func newTokenCommand(g *globals) *cobra.Command {
	var (
		userID   int64
		tenantID int64
		roles    string
		expiry   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if expiry <= 0 {
				expiry = g.cfg.JWTExpiry
			}
			roleList := lo.Compact(lo.Map(strings.Split(roles, ","), func(r string, _ int) string {
				return strings.TrimSpace(r)
			}))

			jwtManager := auth.NewJWTManager(g.cfg.JWTSecret, g.cfg.JWTIssuer, g.cfg.JWTAudience, expiry)
			token, err := jwtManager.GenerateToken(userID, tenantID, roleList)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			g.log.WithFields(logrus.Fields{
				"user_id":   userID,
				"tenant_id": tenantID,
				"roles":     roleList,
				"expiry":    expiry.String(),
			}).Info("token issued")
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "user id")
	cmd.Flags().Int64Var(&tenantID, "tenant", auth.MainTenantID, "tenant id")
	cmd.Flags().StringVar(&roles, "roles", auth.RoleAdmin, "comma separated roles")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime; defaults to JWT_EXPIRY")
	return cmd
}
