package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/galaxycam/internal/device"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"list"},
	Short:   "List connected cameras",
	Long: `Enumerate the cameras the configured driver can see, without opening
any of them.`,
	Example: `  # List cameras in table format (default)
  galaxycam devices

  # List real cameras as JSON
  galaxycam devices --driver galaxy --format json`,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := lookupDriver(cfg.Camera)
	if err != nil {
		return err
	}
	lib, err := device.AcquireLibrary(d)
	if err != nil {
		return errors.Wrap(err, "failed to initialize camera library")
	}
	defer lib.Release()

	infos, err := lib.Driver().Enumerate(cfg.Camera.EnumerateTimeout())
	if err != nil {
		return errors.Wrap(err, "failed to enumerate devices")
	}
	selected, matched := device.Select(infos, cfg.Camera.DeviceSelector)

	switch devicesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(infos)
	case "table":
		return printDevicesTable(infos, selected, matched)
	default:
		return errors.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}
}

func printDevicesTable(infos []device.Info, selected int, matched bool) error {
	if len(infos) == 0 {
		fmt.Println("No cameras found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "\tINDEX\tSERIAL\tVENDOR\tMODEL\tCLASS\tACCESS")
	fmt.Fprintln(w, "\t-----\t------\t------\t-----\t-----\t------")

	for i, info := range infos {
		mark := ""
		if i == selected {
			mark = "*"
			if !matched {
				mark = "~" // fallback to the first device
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			mark, info.Index, info.Serial, info.Vendor, info.Model, info.DeviceClass, info.AccessStatus)
	}
	return nil
}
