// Package sysupgrade splits an OpenWrt sysupgrade image into its kernel and
// root file system payloads.
//
// A sysupgrade image for NOR flash devices is the kernel, immediately followed
// by a squashfs root file system. The producer pads the image to an erase
// block boundary and appends the JFFS2 end-of-data marker, so that the
// remainder of the rootfs_data partition is formatted on first boot.
package sysupgrade

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/openwrt-tools/factoryimg/internal/eraseblock"
	"github.com/openwrt-tools/factoryimg/internal/fwerr"
)

const (
	// EndMarker is the JFFS2 end-of-data marker (big-endian on flash).
	EndMarker = 0xdeadc0de

	// FillByte is the erased state of NOR flash.
	FillByte = 0xff

	markerLen = 4
)

// SquashfsMagic is the squashfs superblock magic 0x73717368 ("sqsh") as it
// appears on little-endian targets.
var SquashfsMagic = []byte("hsqs")

var endMarkerBytes = binary.BigEndian.AppendUint32(nil, EndMarker)

func hasEndMarker(b []byte) bool {
	return len(b) >= markerLen && bytes.Equal(b[len(b)-markerLen:], endMarkerBytes)
}

func endMarkerError(b []byte) error {
	if len(b) < markerLen {
		return fwerr.Formatf(fwerr.CheckEndMarker, "need at least %d bytes, got %d", markerLen, len(b))
	}
	off := len(b) - markerLen
	return fwerr.FormatAtf(fwerr.CheckEndMarker, off, "got %#08x, want end marker %#08x",
		binary.BigEndian.Uint32(b[off:]), uint32(EndMarker))
}

// Extract returns the kernel payload and the raw root file system region
// (starting at the squashfs magic, including the trailing end marker) of the
// sysupgrade image img. The returned slices alias img.
//
// The kernel payload may be empty if img starts with the squashfs magic.
func Extract(img []byte, ebSize int) (kernel, rootfs []byte, _ error) {
	// The image is padded to an erase block boundary, followed by the end
	// marker. Anything behind it (e.g. fwtool metadata) is cut off.
	n := eraseblock.RoundDown(len(img), ebSize) + markerLen
	if n > len(img) {
		n = len(img)
	}
	img = img[:n]
	if !hasEndMarker(img) {
		return nil, nil, endMarkerError(img)
	}

	idx := bytes.Index(img, SquashfsMagic)
	if idx == -1 {
		return nil, nil, fwerr.Formatf(fwerr.CheckSquashfsSignature,
			"squashfs magic %q not found in %d bytes", SquashfsMagic, len(img))
	}
	return img[:idx], img[idx:], nil
}

// Realign strips the 0xff fill between the end of the squashfs and the end
// marker of rootfs, then pads the squashfs with 0xff up to the next erase
// block boundary and re-appends the end marker. The result is a newly
// allocated slice.
func Realign(rootfs []byte, ebSize int) ([]byte, error) {
	if !hasEndMarker(rootfs) {
		return nil, endMarkerError(rootfs)
	}

	end := len(rootfs) - markerLen
	for end > 0 && rootfs[end-1] == FillByte {
		end--
	}
	if end == 0 {
		return nil, fwerr.FormatAtf(fwerr.CheckFillScan, 0,
			"root file system consists of %d fill bytes only", len(rootfs)-markerLen)
	}

	padded := eraseblock.RoundUp(end, ebSize)
	out := make([]byte, padded, padded+markerLen)
	copy(out, rootfs[:end])
	for i := end; i < padded; i++ {
		out[i] = FillByte
	}
	if !eraseblock.Aligned(len(out), ebSize) {
		panic(fmt.Sprintf("BUG: realigned root file system is %d bytes, not a multiple of %d", len(out), ebSize))
	}
	return append(out, endMarkerBytes...), nil
}

// Split is Extract followed by Realign of the root file system.
func Split(img []byte, ebSize int) (kernel, rootfs []byte, _ error) {
	kernel, raw, err := Extract(img, ebSize)
	if err != nil {
		return nil, nil, err
	}
	rootfs, err = Realign(raw, ebSize)
	if err != nil {
		return nil, nil, err
	}
	return kernel, rootfs, nil
}
