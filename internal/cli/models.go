package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"handscribe/internal/registry"
	"handscribe/pkg/types"
)

func newModelsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List cached weight files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := registry.LoadDir(a.cfg.CacheDir)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if asJSON {
				if models == nil {
					models = []types.Model{}
				}
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(types.ModelsResponse{Models: models})
			}
			if len(models) == 0 {
				fmt.Fprintf(a.stdout, "no cached weights in %s\n", a.cfg.CacheDir)
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tROLE\tPRECISION\tSIZE\tREPO")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f GB\t%s\n", m.ID, m.Role, m.Precision, float64(m.SizeBytes)/1e9, m.Repo)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
