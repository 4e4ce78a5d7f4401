package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/policyfund-crawler/internal/app"
)

func newMigrateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Creates the schema and repairs stored records",
	}
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "report affected rows without changing them")

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Creates the policy and run tables and their indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := resolveMigrator(cmd)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "dry run: schema unchanged")
				return nil
			}
			if err := m.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	})

	var source string
	searchURLs := &cobra.Command{
		Use:   "search-urls",
		Short: "Rewrites a source's stored links to its keyword-search URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			tag, err := sourceTag(source, appInstance.Config().Sources)
			if err != nil {
				return err
			}
			builder, err := appInstance.Builder(tag)
			if err != nil {
				return err
			}
			m, err := resolveMigrator(cmd)
			if err != nil {
				return err
			}
			n, err := m.BackfillSearchURLs(cmd.Context(), tag, builder, dryRun)
			if err != nil {
				return err
			}
			reportCount(cmd, dryRun, n, "links rewritten")
			return nil
		},
	}
	searchURLs.Flags().StringVar(&source, "source", app.SelectKStartup, "portal whose rows are rewritten: kstartup or bizinfo")
	cmd.AddCommand(searchURLs)

	cmd.AddCommand(&cobra.Command{
		Use:   "dedupe",
		Short: "Deletes rows whose title duplicates an older row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := resolveMigrator(cmd)
			if err != nil {
				return err
			}
			n, err := m.DeleteDuplicateTitles(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			reportCount(cmd, dryRun, n, "duplicate rows deleted")
			return nil
		},
	})
	return cmd
}

func resolveMigrator(cmd *cobra.Command) (Migrator, error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return nil, err
	}
	return appInstance.Migrator(cmd.Context())
}

func reportCount(cmd *cobra.Command, dryRun bool, n int, what string) {
	if dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "dry run: %d %s\n", n, what)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", n, what)
}
