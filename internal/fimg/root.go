package fimg

import (
	"fmt"

	"github.com/openwrt-tools/factoryimg/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "factoryimg",
		Short: "convert OpenWrt sysupgrade images into TP-Link factory images",
		Long: `The factoryimg tool converts an OpenWrt sysupgrade image into the
factory image format (3rdimg.bin) which the bootloader of devices like the
TP-Link EAP245 v3 accepts in its web recovery interface:

1. Build a factory image (factoryimg build),
2. Inspect or verify existing factory images (factoryimg info, factoryimg verify),
3. List the supported device profiles (factoryimg devices).
`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			versionVal, err := cmd.Flags().GetBool("version")
			if err != nil {
				return fmt.Errorf("BUG: version flag declared as non-bool")
			}
			if versionVal {
				fmt.Fprintln(cmd.OutOrStdout(), version.Read())
				return nil
			}
			return pflag.ErrHelp
		},
	}
	rootCmd.AddGroup(&cobra.Group{
		ID:    "image",
		Title: "Commands to build and inspect factory images:",
	})
	rootCmd.Flags().Bool("version", false, "print factoryimg version")
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}
