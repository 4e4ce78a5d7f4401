package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/policyfund-crawler/internal/app"
)

func newCheckLinkCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "check-link <title> <url>",
		Short: "Prints the link that would be stored for a notice",
		Long: `Validates url by looking for detail-page markers and prints it when valid;
otherwise prints the keyword-search URL built from title.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			link := appInstance.LinkChecker().SafeLink(cmd.Context(), builder, args[0], args[1])
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", app.SelectKStartup, "portal whose search URL is used: kstartup or bizinfo")
	return cmd
}
