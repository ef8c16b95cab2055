package fimg

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/openwrt-tools/factoryimg/internal/config"
	"github.com/openwrt-tools/factoryimg/internal/deviceflag"
	"github.com/spf13/cobra"
)

// devicesCmd is factoryimg devices.
var devicesCmd = &cobra.Command{
	GroupID: "image",
	Use:     "devices",
	Short:   "List the known device profiles",
	Long: `List the built-in device profiles and those read from the profile file.

Examples:
  % factoryimg devices
  % factoryimg devices --config ./factoryimg.yaml
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return devicesImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type devicesImplConfig struct{}

var devicesImpl devicesImplConfig

func init() {
	deviceflag.RegisterPflags(devicesCmd.Flags())
}

func (r *devicesImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	profiles, err := deviceflag.Profiles()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tPRODUCT\tERASE BLOCK\tKERNEL\tMAX ROOTFS\tSOURCE\n")
	for _, name := range profiles.Names() {
		d, _ := profiles.Profile(name)
		source := "built-in"
		if preset, ok := config.Presets[name]; !ok || preset != d {
			source = profiles.ConfigFile
		}
		if name == deviceflag.Device() {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%s %s\t%#x\t%#x\t%#x\t%s\n",
			name,
			d.ProductName,
			d.ProductVersion,
			d.EraseBlockSize,
			d.KernelBase,
			d.MaxRootfsBase,
			source)
	}
	return tw.Flush()
}
