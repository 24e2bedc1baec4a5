package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/arcgis-harvester/internal/category"
)

// newCategorizeCmd creates the 'categorize' subcommand, which shows where service
// names would be archived without contacting the peer.
func newCategorizeCmd() *cobra.Command {
	var listRules bool
	cmd := &cobra.Command{
		Use:   "categorize [SERVICE_NAME...]",
		Short: "Prints the archive category of each service name",
		Example: `  arcgis-harvester categorize Military/CNR_SEP_2025_MIL1 Victimas/Registro
  arcgis-harvester categorize --rules`,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := category.DefaultTable()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if listRules {
				for _, rule := range table.Rules() {
					fmt.Fprintf(w, "%s\t%s\t%s\n", rule.Category, rule.Category.Dir(), strings.Join(rule.Keywords, ","))
				}
				return w.Flush()
			}
			if len(args) == 0 {
				return errors.New("at least one service name is required")
			}
			for _, name := range args {
				cat := table.Categorize(name)
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, cat, cat.Dir())
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&listRules, "rules", false, "print the rule table in match order")
	return cmd
}
