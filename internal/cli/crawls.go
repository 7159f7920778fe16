package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var crawlsCmd = &cobra.Command{
	Use:   "crawls",
	Short: "Manage crawl jobs",
}

var crawlsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List crawl jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := apiClient.ListCrawls(cmd.Context(), listPage, listLimit)
		if err != nil {
			return err
		}
		if len(page.Crawls) == 0 {
			fmt.Fprintln(out, "No crawl jobs found.")
			return nil
		}
		writeCrawls(out, page.Crawls)
		fmt.Fprintf(out, "\n%d of %d crawl jobs\n", len(page.Crawls), page.Total)
		return nil
	},
}

var crawlsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a crawl job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.DeleteCrawl(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted crawl job %s\n", args[0])
		return nil
	},
}

func init() {
	crawlsListCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	crawlsListCmd.Flags().IntVar(&listLimit, "limit", 20, "jobs per page")

	crawlsCmd.AddCommand(crawlsListCmd, crawlsDeleteCmd)
	rootCmd.AddCommand(crawlsCmd)
}
