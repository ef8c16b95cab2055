// Package fimg allows running the factoryimg CLI from Go code
// programmatically, e.g. from build scripts producing images for several
// devices.
package fimg

import (
	"context"
	"io"

	"github.com/openwrt-tools/factoryimg/internal/fimg"
)

// Context holds the I/O streams and command line arguments of one factoryimg
// invocation. Nil fields default to the process's streams and os.Args.
type Context struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Args   []string
}

// Execute runs the factoryimg command selected by c.Args, e.g.
// {"build", "-d", "eap245-v3", "-o", "3rdimg.bin", "sysupgrade.bin"}. ctx is
// checked before the source image is read and before each image is verified.
func (c Context) Execute(ctx context.Context) error {
	root := fimg.RootCmd()
	if r := c.Stdin; r != nil {
		root.SetIn(r)
	}
	if w := c.Stdout; w != nil {
		root.SetOut(w)
	}
	if w := c.Stderr; w != nil {
		root.SetErr(w)
	}
	if args := c.Args; args != nil {
		root.SetArgs(args)
	}
	root.SetContext(ctx)
	return root.Execute()
}
