// Package factory implements the TP-Link "3rdimg" factory image format, which
// the first-stage bootloader of e.g. the EAP245 v3 accepts through its web
// recovery interface.
//
// Layout (all integers big-endian):
//
//	0x000  u32 total length (up to, excluding, the signature)
//	0x004  u32 CRC32 of everything from 0x008 up to the signature
//	0x008  u32 magic 0xdeadbeef
//	0x00c  64 bytes "product_name=...\nproduct_version=...\n", zero padded
//	0x04c  256 bytes partition table, zero padded
//	0x14c  kernel payload, one byte of padding, rootfs payload
//	       256 bytes signature
//
// The bootloader has two bugs which the image has to be built around; see
// RootfsNameFieldLen and PayloadGap.
package factory

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/openwrt-tools/factoryimg/internal/eraseblock"
	"github.com/openwrt-tools/factoryimg/internal/fwerr"
)

const (
	Magic = 0xdeadbeef

	productInfoLen = 64
	headerLen      = 4 + productInfoLen
	tableLen       = 0x100
	prefixLen      = 4 + 4 // total length + CRC32

	// SignatureLen is the size of the RSA-1024 signature trailing the image.
	// The bootloader does not verify it, so it is left zeroed.
	SignatureLen = 0x100

	// DataOffset is the file offset of the kernel payload.
	DataOffset = prefixLen + headerLen + tableLen

	nameFieldLen = 8

	// RootfsNameFieldLen is the serialized name length of the rootfs
	// partition entry. The bootloader skips len("rootfs") instead of the
	// 8-byte field width after matching the name, so this entry is 2 bytes
	// shorter than the kernel entry.
	RootfsNameFieldLen = 6

	// PayloadGap is the number of bytes between the kernel and rootfs
	// payloads. The bootloader reads the rootfs payload one byte past the
	// offset it computes, so one byte of padding is inserted and the rootfs
	// payload offset is recorded accordingly.
	PayloadGap = 1

	// DefaultMaxRootfsBase is the exclusive upper bound for the flash offset
	// of the rootfs partition. The name comparison still covers 8 bytes
	// including the terminating NUL, which due to the short name field is the
	// most significant byte of the rootfs base offset.
	DefaultMaxRootfsBase = 0x1000000

	KernelName = "os-linux"
	RootfsName = "rootfs"
)

var byteOrder = binary.BigEndian

// Partition is one entry of the partition table.
type Partition struct {
	Name          string
	Base          uint32 // flash offset
	Size          uint32 // multiple of the erase block size
	PayloadOffset uint32 // file offset
	PayloadSize   uint32
}

func (p Partition) String() string {
	return fmt.Sprintf("%-8s @%08x+%08x, payload=%08x @ %08x",
		p.Name, p.Base, p.Size, p.PayloadSize, p.PayloadOffset)
}

func (p Partition) marshal(w io.Writer, nameLen int) error {
	if len(p.Name) > nameLen {
		return fmt.Errorf("BUG: partition name %q exceeds %d bytes", p.Name, nameLen)
	}
	name := make([]byte, nameLen)
	copy(name, p.Name)
	for _, v := range []interface{}{
		name,
		p.Base,
		p.Size,
		p.PayloadOffset,
		p.PayloadSize,
	} {
		if err := binary.Write(w, byteOrder, v); err != nil {
			return err
		}
	}
	return nil
}

// Device describes the flash layout and identity expected by the bootloader
// of one device model.
type Device struct {
	Name           string `mapstructure:"name"`
	ProductName    string `mapstructure:"product_name"`
	ProductVersion string `mapstructure:"product_version"`
	EraseBlockSize int    `mapstructure:"erase_block_size"`
	KernelBase     uint32 `mapstructure:"kernel_base"`
	PayloadBase    uint32 `mapstructure:"payload_base"`

	// MaxRootfsBase is the exclusive limit for the rootfs partition offset,
	// DefaultMaxRootfsBase if zero. It has only been confirmed on the
	// EAP245 v3.
	MaxRootfsBase uint32 `mapstructure:"max_rootfs_base"`
}

// RootfsBaseLimit returns the exclusive limit for the rootfs partition
// offset.
func (d Device) RootfsBaseLimit() uint32 {
	if d.MaxRootfsBase == 0 {
		return DefaultMaxRootfsBase
	}
	return d.MaxRootfsBase
}

// ProductInfo returns the key=value block stored in the image header.
func (d Device) ProductInfo() string {
	return fmt.Sprintf("product_name=%s\nproduct_version=%s\n", d.ProductName, d.ProductVersion)
}

// Validate checks the device description for values which cannot be
// represented in a factory image.
func (d Device) Validate() error {
	if d.EraseBlockSize <= 0 {
		return fmt.Errorf("device %q: erase block size must be positive, got %d", d.Name, d.EraseBlockSize)
	}
	if d.ProductName == "" || d.ProductVersion == "" {
		return fmt.Errorf("device %q: product name and version must not be empty", d.Name)
	}
	for _, s := range []string{d.ProductName, d.ProductVersion} {
		if strings.ContainsAny(s, "\x00\n=") {
			return fmt.Errorf("device %q: product name/version %q contains NUL, newline or '='", d.Name, s)
		}
	}
	if n := len(d.ProductInfo()); n > productInfoLen {
		return &fwerr.ConstraintError{
			Check: fwerr.CheckProductInfo,
			Field: "product info length",
			Value: uint64(n),
			Limit: productInfoLen + 1,
		}
	}
	if d.PayloadBase != DataOffset {
		return fmt.Errorf("device %q: payload base %#x does not match the factory header size %#x", d.Name, d.PayloadBase, DataOffset)
	}
	if !eraseblock.Aligned(int(d.KernelBase), d.EraseBlockSize) {
		return fmt.Errorf("device %q: kernel base %#x is not aligned to the erase block size %#x", d.Name, d.KernelBase, d.EraseBlockSize)
	}
	return nil
}

func fitU32(field string, v uint64) (uint32, error) {
	if v > 0xffffffff {
		return 0, &fwerr.ConstraintError{
			Check: fwerr.CheckFieldRange,
			Field: field,
			Value: v,
			Limit: 1 << 32,
		}
	}
	return uint32(v), nil
}

// Layout computes the kernel and rootfs partition table entries for payloads
// of the specified sizes. The rootfs payload size includes the end marker.
func Layout(d Device, kernelLen, rootfsLen int) ([2]Partition, error) {
	var parts [2]Partition
	if err := d.Validate(); err != nil {
		return parts, err
	}
	eb := d.EraseBlockSize

	// The kernel partition must be larger than its payload.
	kernelSize := uint64(eraseblock.RoundToNext(kernelLen, eb))
	rootfsBase := uint64(d.KernelBase) + kernelSize
	rootfsSize := uint64(eraseblock.RoundUp(rootfsLen, eb))
	kernelOffset := uint64(d.PayloadBase)
	rootfsOffset := kernelOffset + uint64(kernelLen) + PayloadGap

	if limit := d.RootfsBaseLimit(); rootfsBase >= uint64(limit) {
		return parts, &fwerr.ConstraintError{
			Check: fwerr.CheckRootfsBase,
			Field: "rootfs partition base",
			Value: rootfsBase,
			Limit: uint64(limit),
		}
	}

	fields := []struct {
		name string
		v    uint64
		dst  *uint32
	}{
		{"kernel partition size", kernelSize, &parts[0].Size},
		{"rootfs partition base", rootfsBase, &parts[1].Base},
		{"rootfs partition end", rootfsBase + rootfsSize - 1, nil},
		{"rootfs partition size", rootfsSize, &parts[1].Size},
		{"kernel payload size", uint64(kernelLen), &parts[0].PayloadSize},
		{"rootfs payload offset", rootfsOffset, &parts[1].PayloadOffset},
		{"rootfs payload size", uint64(rootfsLen), &parts[1].PayloadSize},
		{"image length", rootfsOffset + uint64(rootfsLen), nil},
	}
	for _, f := range fields {
		v, err := fitU32(f.name, f.v)
		if err != nil {
			return parts, err
		}
		if f.dst != nil {
			*f.dst = v
		}
	}
	parts[0].Name = KernelName
	parts[0].Base = d.KernelBase
	parts[0].PayloadOffset = d.PayloadBase
	parts[1].Name = RootfsName
	return parts, nil
}

func marshalTable(parts [2]Partition) ([]byte, error) {
	var buf bytes.Buffer
	if err := parts[0].marshal(&buf, nameFieldLen); err != nil {
		return nil, err
	}
	if err := parts[1].marshal(&buf, RootfsNameFieldLen); err != nil {
		return nil, err
	}
	if buf.Len() > tableLen {
		return nil, fmt.Errorf("BUG: partition table: got %d bytes, want <= %d", buf.Len(), tableLen)
	}
	table := make([]byte, tableLen)
	copy(table, buf.Bytes())
	return table, nil
}
