//go:build !linux

package sysupgrade

import "os"

func adviseSequential(f *os.File) error {
	return nil
}
