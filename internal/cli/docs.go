package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var (
	listPage  int
	listLimit int
	assumeYes bool
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage uploaded documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := apiClient.ListDocuments(cmd.Context(), listPage, listLimit)
		if err != nil {
			return err
		}
		if len(page.Documents) == 0 {
			fmt.Fprintln(out, "No documents found.")
			return nil
		}
		writeDocuments(out, page.Documents, page.Total)
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete documents",
	Long: `Delete one or more documents. Several ids are removed in a single bulk
request after confirmation.

Examples:
  docdash docs delete 42
  docdash docs delete 42 43 44 --yes`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := lo.Uniq(args)
		if len(ids) == 1 {
			if err := apiClient.DeleteDocument(cmd.Context(), ids[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted document %s\n", ids[0])
			return nil
		}

		if !assumeYes && !confirm(os.Stdin, fmt.Sprintf("Delete %d documents?", len(ids))) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
		n, err := apiClient.BulkDeleteDocuments(cmd.Context(), ids)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %d of %d documents\n", n, len(ids))
		return nil
	},
}

func init() {
	docsListCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	docsListCmd.Flags().IntVar(&listLimit, "limit", 20, "documents per page")
	docsDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")

	docsCmd.AddCommand(docsListCmd, docsDeleteCmd)
	rootCmd.AddCommand(docsCmd)
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
