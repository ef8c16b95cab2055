package fimg

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/openwrt-tools/factoryimg/internal/factory"
	"github.com/spf13/cobra"
)

// infoCmd is factoryimg info.
var infoCmd = &cobra.Command{
	GroupID: "image",
	Use:     "info <factory.bin>...",
	Short:   "Print the header and partition table of factory images",
	Long: `Print the header and partition table of factory images.

Examples:
  % factoryimg info 3rdimg.bin
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return infoImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type infoImplConfig struct{}

var infoImpl infoImplConfig

func (r *infoImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	for idx, path := range args {
		if idx > 0 {
			fmt.Fprintln(stdout)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		img, err := factory.Analyze(b)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		printInfo(stdout, path, img)
	}
	return nil
}

func printInfo(w io.Writer, path string, img *factory.Image) {
	fmt.Fprintf(w, "%s: %s\n", path, humanize.Bytes(uint64(img.Len())))
	fmt.Fprintf(w, "\tproduct:  %s %s\n", img.Device.ProductName, img.Device.ProductVersion)
	fmt.Fprintf(w, "\tCRC32:    %08x\n", img.Checksum)
	fmt.Fprintf(w, "Partitions:\n")
	for _, p := range img.Partitions {
		fmt.Fprintf(w, "\t%s (%s)\n", p, humanize.Bytes(uint64(p.Size)))
	}
}
