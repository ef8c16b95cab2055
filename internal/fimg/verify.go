package fimg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/openwrt-tools/factoryimg/internal/deviceflag"
	"github.com/openwrt-tools/factoryimg/internal/factory"
	"github.com/openwrt-tools/factoryimg/internal/sysupgrade"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// verifyCmd is factoryimg verify.
var verifyCmd = &cobra.Command{
	GroupID: "image",
	Use:     "verify <factory.bin>...",
	Short:   "Check factory images for consistency",
	Long: `Check factory images for consistency: length, CRC32 checksum, header,
the partition table layout the bootloader expects and the payload offsets.

The rootfs partition base is checked against the max_rootfs_base of the
selected device profile.

With --sysupgrade, additionally check that each image is exactly what
factoryimg build would produce from the specified sysupgrade image.

Examples:
  % factoryimg verify 3rdimg.bin
  % factoryimg verify -d eap245-v3 --sysupgrade sysupgrade.bin 3rdimg.bin
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return verifyImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type verifyImplConfig struct {
	sysupgrade string
}

var verifyImpl verifyImplConfig

func init() {
	deviceflag.RegisterPflags(verifyCmd.Flags())
	verifyCmd.Flags().StringVarP(&verifyImpl.sysupgrade, "sysupgrade", "", "", "if non-empty, compare against the factory image built from this sysupgrade image")
}

func (r *verifyImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	profiles, err := deviceflag.Profiles()
	if err != nil {
		return err
	}
	dev, err := profiles.Device(deviceflag.Device())
	if err != nil {
		return err
	}

	var want []byte
	if r.sysupgrade != "" {
		src, err := sysupgrade.ReadFile(ctx, r.sysupgrade, stderr)
		if err != nil {
			return err
		}
		img, err := factory.Convert(src, dev)
		if err != nil {
			return fmt.Errorf("%s: %w", r.sysupgrade, err)
		}
		want = img.Bytes()
	}

	results := make([]error, len(args))
	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for idx, path := range args {
		idx, path := idx, path
		eg.Go(func() error {
			results[idx] = verifyFile(ctx, path, dev.RootfsBaseLimit(), want)
			return nil
		})
	}
	eg.Wait()

	var failed int
	for idx, path := range args {
		if err := results[idx]; err != nil {
			failed++
			fmt.Fprintf(stdout, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(stdout, "OK   %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed verification", failed, len(args))
	}
	return nil
}

func verifyFile(ctx context.Context, path string, maxRootfsBase uint32, want []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := factory.AnalyzeLimit(b, maxRootfsBase); err != nil {
		return err
	}
	if want != nil && !bytes.Equal(b, want) {
		return fmt.Errorf("differs from the factory image built from the sysupgrade image")
	}
	return nil
}
