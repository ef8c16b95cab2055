package factory

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/openwrt-tools/factoryimg/internal/fwerr"
	"github.com/openwrt-tools/factoryimg/internal/sysupgrade"
)

// Image is an assembled factory image.
type Image struct {
	Device     Device
	Partitions [2]Partition
	Checksum   uint32

	raw []byte
}

// Kernel returns the kernel payload.
func (img *Image) Kernel() []byte {
	p := img.Partitions[0]
	return img.raw[p.PayloadOffset : p.PayloadOffset+p.PayloadSize]
}

// Rootfs returns the rootfs payload, including the end marker.
func (img *Image) Rootfs() []byte {
	p := img.Partitions[1]
	return img.raw[p.PayloadOffset : p.PayloadOffset+p.PayloadSize]
}

// Bytes returns the serialized image. The returned slice must not be
// modified.
func (img *Image) Bytes() []byte { return img.raw }

// Len returns the size of the serialized image in bytes.
func (img *Image) Len() int { return len(img.raw) }

// WriteTo writes the serialized image to w.
func (img *Image) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(img.raw)
	return int64(n), err
}

// Assemble builds the factory image for device d from the kernel payload and
// the realigned rootfs payload (see sysupgrade.Realign).
func Assemble(d Device, kernel, rootfs []byte) (*Image, error) {
	parts, err := Layout(d, len(kernel), len(rootfs))
	if err != nil {
		return nil, err
	}
	table, err := marshalTable(parts)
	if err != nil {
		return nil, err
	}

	total := int(parts[1].PayloadOffset + parts[1].PayloadSize)
	raw := make([]byte, prefixLen, total+SignatureLen)
	raw = byteOrder.AppendUint32(raw, Magic)
	info := make([]byte, productInfoLen)
	copy(info, d.ProductInfo())
	raw = append(raw, info...)
	raw = append(raw, table...)
	raw = append(raw, kernel...)
	raw = append(raw, make([]byte, PayloadGap)...)
	raw = append(raw, rootfs...)
	if len(raw) != total {
		return nil, fmt.Errorf("BUG: image length: got %d, want %d", len(raw), total)
	}

	checksum := crc32.ChecksumIEEE(raw[prefixLen:])
	byteOrder.PutUint32(raw[0:], uint32(total))
	byteOrder.PutUint32(raw[4:], checksum)
	raw = append(raw, make([]byte, SignatureLen)...)

	return &Image{
		Device:     d,
		Partitions: parts,
		Checksum:   checksum,
		raw:        raw,
	}, nil
}

// Convert builds the factory image for device d from the sysupgrade image
// src.
func Convert(src []byte, d Device) (*Image, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	kernel, rootfs, err := sysupgrade.Split(src, d.EraseBlockSize)
	if err != nil {
		return nil, err
	}
	if len(kernel) == 0 {
		return nil, fwerr.Formatf(fwerr.CheckKernelPayload, "sysupgrade image starts with the root file system, kernel payload is empty")
	}
	if !bytes.HasPrefix(rootfs, sysupgrade.SquashfsMagic) {
		return nil, fwerr.FormatAtf(fwerr.CheckSquashfsMagic, len(kernel), "realigned root file system does not start with %q", sysupgrade.SquashfsMagic)
	}
	return Assemble(d, kernel, rootfs)
}
