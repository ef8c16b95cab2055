package fimg

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/openwrt-tools/factoryimg/internal/deviceflag"
	"github.com/openwrt-tools/factoryimg/internal/factory"
	"github.com/openwrt-tools/factoryimg/internal/measure"
	"github.com/openwrt-tools/factoryimg/internal/sysupgrade"
	"github.com/openwrt-tools/factoryimg/internal/version"
	"github.com/spf13/cobra"
)

// buildCmd is factoryimg build.
var buildCmd = &cobra.Command{
	GroupID: "image",
	Use:     "build <sysupgrade.bin>",
	Short:   "Convert an OpenWrt sysupgrade image into a factory image",
	Long: `Convert an OpenWrt sysupgrade image into a factory image.

The kernel and squashfs root file system are extracted from the sysupgrade
image, the root file system is re-aligned to the erase block size of the
device and both are packed into a factory image with the partition table
the device bootloader expects.

The output file is only replaced once the complete image was built.

Examples:
  % factoryimg build -d eap245-v3 -o 3rdimg.bin \
      openwrt-ath79-generic-tplink_eap245-v3-squashfs-sysupgrade.bin
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return buildImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type buildImplConfig struct {
	output string
}

var buildImpl buildImplConfig

func init() {
	deviceflag.RegisterPflags(buildCmd.Flags())
	buildCmd.Flags().StringVarP(&buildImpl.output, "output", "o", "3rdimg.bin", "path of the factory image to write")
}

func (r *buildImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	profiles, err := deviceflag.Profiles()
	if err != nil {
		return err
	}
	dev, err := profiles.Device(deviceflag.Device())
	if err != nil {
		return err
	}
	log.Printf("factoryimg %s, device %s (erase block size %#x, kernel @%#x)",
		version.ReadBrief(), dev.Name, dev.EraseBlockSize, dev.KernelBase)

	src, err := sysupgrade.ReadFile(ctx, args[0], stderr)
	if err != nil {
		return err
	}

	img, err := convert(stdout, filepath.Base(args[0]), src, dev)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	fmt.Fprintf(stdout, "Generated partitions:\n")
	for _, p := range img.Partitions {
		fmt.Fprintf(stdout, "\t%s\n", p)
	}

	if err := replaceFile(r.output, img.Bytes(), 0644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s (%s, CRC32 %08x) for %s %s\n",
		r.output,
		humanize.Bytes(uint64(img.Len())),
		img.Checksum,
		dev.ProductName,
		dev.ProductVersion)
	return nil
}

func convert(stdout io.Writer, name string, src []byte, dev factory.Device) (_ *factory.Image, err error) {
	done := measure.Interactively(stdout, "converting "+name)
	fragment := ""
	defer func() {
		if err != nil {
			fragment = ", failed"
		}
		done(fragment)
	}()
	img, err := factory.Convert(src, dev)
	if err != nil {
		return nil, err
	}
	fragment = ", " + humanize.Bytes(uint64(img.Len()))
	return img, nil
}
