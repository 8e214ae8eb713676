package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/visionline/camd/internal/cameras"
	"github.com/visionline/camd/pkg/device"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected cameras",
	Long: `List the cameras every linked SDK can see, without opening them.
A camera opened by another process is still listed.`,
	Example: `  # All families
  camd list

  # Only Hikrobot cameras, as JSON
  camd list --family mvs --format json`,
	RunE: runList,
}

var (
	listFamily string
	listFormat string
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listFamily, "family", "", "camera family (mvs, mindvision or sim)")
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
}

func runList(cmd *cobra.Command, args []string) error {
	cameras.Init()
	defer cameras.Close(cmd.Context())

	list, err := cameras.Devices(cmd.Context(), listFamily)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	switch listFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	case "table":
		return printDevices(out, list)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func printDevices(out io.Writer, list []device.Descriptor) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "FAMILY\tINDEX\tTRANSPORT\tSERIAL\tMODEL\tNAME\tIP")
	for _, desc := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			desc.Family, desc.Index, desc.Transport, desc.Serial, desc.Model, desc.UserName, desc.IP)
	}

	return w.Flush()
}
