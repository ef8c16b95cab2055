package factory

import (
	"bytes"
	"hash/crc32"
	"strings"

	"github.com/openwrt-tools/factoryimg/internal/fwerr"
	"github.com/openwrt-tools/factoryimg/internal/sysupgrade"
)

func parsePartition(b []byte, nameLen int) (Partition, int) {
	p := Partition{
		Name: string(bytes.TrimRight(b[:nameLen], "\x00")),
	}
	b = b[nameLen:]
	p.Base = byteOrder.Uint32(b[0:])
	p.Size = byteOrder.Uint32(b[4:])
	p.PayloadOffset = byteOrder.Uint32(b[8:])
	p.PayloadSize = byteOrder.Uint32(b[12:])
	return p, nameLen + 16
}

func parseProductInfo(b []byte) (name, version string, ok bool) {
	info := string(bytes.TrimRight(b, "\x00"))
	var haveName, haveVersion bool
	for _, line := range strings.Split(strings.TrimSuffix(info, "\n"), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			return "", "", false
		}
		switch key {
		case "product_name":
			name, haveName = value, true
		case "product_version":
			version, haveVersion = value, true
		}
	}
	return name, version, haveName && haveVersion
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Analyze parses and verifies the factory image b, as produced by Assemble,
// assuming the rootfs partition must start below DefaultMaxRootfsBase.
//
// The erase block size is not stored in the image, so the returned
// Image.Device only describes the product and the offsets.
func Analyze(b []byte) (*Image, error) {
	return AnalyzeLimit(b, DefaultMaxRootfsBase)
}

// AnalyzeLimit is like Analyze, but checks the rootfs partition base against
// maxRootfsBase, see Device.RootfsBaseLimit.
func AnalyzeLimit(b []byte, maxRootfsBase uint32) (*Image, error) {
	if len(b) < DataOffset+SignatureLen {
		return nil, fwerr.Formatf(fwerr.CheckLength, "image too short: got %d bytes, want at least %d", len(b), DataOffset+SignatureLen)
	}
	total := int(byteOrder.Uint32(b[0:]))
	if want := len(b) - SignatureLen; total != want {
		return nil, fwerr.FormatAtf(fwerr.CheckLength, 0, "total length %#x does not match file size %#x minus signature", total, len(b))
	}
	checksum := byteOrder.Uint32(b[4:])
	if got := crc32.ChecksumIEEE(b[prefixLen:total]); got != checksum {
		return nil, fwerr.FormatAtf(fwerr.CheckCRC32, 4, "stored CRC32 %#08x, computed %#08x", checksum, got)
	}
	if magic := byteOrder.Uint32(b[prefixLen:]); magic != Magic {
		return nil, fwerr.FormatAtf(fwerr.CheckMagic, prefixLen, "got %#08x, want %#08x", magic, uint32(Magic))
	}

	infoOff := prefixLen + 4
	name, version, ok := parseProductInfo(b[infoOff : infoOff+productInfoLen])
	if !ok {
		return nil, fwerr.FormatAtf(fwerr.CheckProductInfo, infoOff, "product_name or product_version missing in %q",
			bytes.TrimRight(b[infoOff:infoOff+productInfoLen], "\x00"))
	}

	tableOff := prefixLen + headerLen
	table := b[tableOff : tableOff+tableLen]
	kernel, n := parsePartition(table, nameFieldLen)
	rootfs, m := parsePartition(table[n:], RootfsNameFieldLen)
	if kernel.Name != KernelName || rootfs.Name != RootfsName {
		return nil, fwerr.FormatAtf(fwerr.CheckPartitionTable, tableOff, "partition names: got %q, %q, want %q, %q",
			kernel.Name, rootfs.Name, KernelName, RootfsName)
	}
	if !allZero(table[n+m:]) {
		return nil, fwerr.FormatAtf(fwerr.CheckPartitionTable, tableOff+n+m, "unexpected data after the rootfs entry")
	}

	tableErr := func(format string, args ...interface{}) error {
		return fwerr.FormatAtf(fwerr.CheckPartitionTable, tableOff, format, args...)
	}
	switch {
	case kernel.PayloadOffset != DataOffset:
		return nil, tableErr("kernel payload offset %#x, want %#x", kernel.PayloadOffset, DataOffset)
	case kernel.PayloadSize == 0 || kernel.Size <= kernel.PayloadSize:
		return nil, tableErr("kernel partition size %#x must exceed its payload size %#x", kernel.Size, kernel.PayloadSize)
	case rootfs.Base != kernel.Base+kernel.Size:
		return nil, tableErr("rootfs partition base %#x does not follow the kernel partition end %#x", rootfs.Base, kernel.Base+kernel.Size)
	case rootfs.Base >= maxRootfsBase:
		return nil, tableErr("rootfs partition base %#x exceeds the name field limit %#x", rootfs.Base, maxRootfsBase)
	case uint64(rootfs.PayloadOffset) != uint64(kernel.PayloadOffset)+uint64(kernel.PayloadSize)+PayloadGap:
		return nil, tableErr("rootfs payload offset %#x, want kernel payload end %#x + %d",
			rootfs.PayloadOffset, kernel.PayloadOffset+kernel.PayloadSize, PayloadGap)
	case rootfs.Size < rootfs.PayloadSize:
		return nil, tableErr("rootfs partition size %#x is smaller than its payload size %#x", rootfs.Size, rootfs.PayloadSize)
	case uint64(rootfs.PayloadOffset)+uint64(rootfs.PayloadSize) != uint64(total):
		return nil, tableErr("rootfs payload ends at %#x, image data ends at %#x", uint64(rootfs.PayloadOffset)+uint64(rootfs.PayloadSize), total)
	}
	gapOff := int(kernel.PayloadOffset + kernel.PayloadSize)
	if !allZero(b[gapOff:rootfs.PayloadOffset]) {
		return nil, fwerr.FormatAtf(fwerr.CheckPartitionTable, gapOff, "padding between kernel and rootfs payload is not zero")
	}
	if !bytes.HasPrefix(b[rootfs.PayloadOffset:], sysupgrade.SquashfsMagic) {
		return nil, fwerr.FormatAtf(fwerr.CheckSquashfsMagic, int(rootfs.PayloadOffset), "rootfs payload does not start with %q", sysupgrade.SquashfsMagic)
	}
	if !allZero(b[total:]) {
		return nil, fwerr.FormatAtf(fwerr.CheckSignature, total, "signature is not zeroed")
	}

	return &Image{
		Device: Device{
			ProductName:    name,
			ProductVersion: version,
			KernelBase:     kernel.Base,
			PayloadBase:    kernel.PayloadOffset,
			MaxRootfsBase:  maxRootfsBase,
		},
		Partitions: [2]Partition{kernel, rootfs},
		Checksum:   checksum,
		raw:        b,
	}, nil
}
