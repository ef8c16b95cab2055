// Package fwerr defines the errors returned while converting firmware images.
//
// Every error names the validation that failed (see the Check constants), so
// that a failing conversion of a real device image can be traced back to the
// offending region of the input.
package fwerr

import "fmt"

// Check identifies one validation step.
type Check string

const (
	CheckEndMarker         Check = "end-marker"
	CheckSquashfsSignature Check = "squashfs-signature"
	CheckFillScan          Check = "fill-scan"
	CheckSquashfsMagic     Check = "squashfs-magic"
	CheckKernelPayload     Check = "kernel-payload"
	CheckRootfsBase        Check = "rootfs-base"
	CheckFieldRange        Check = "field-range"
	CheckProductInfo       Check = "product-info"

	// Checks performed when parsing an existing factory image.
	CheckLength         Check = "length"
	CheckCRC32          Check = "crc32"
	CheckMagic          Check = "magic"
	CheckPartitionTable Check = "partition-table"
	CheckSignature      Check = "signature"
)

// FormatError indicates malformed or unexpected input data.
type FormatError struct {
	Check  Check
	Offset int // byte offset into the inspected buffer, -1 if not applicable
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("invalid image (%s): %s", e.Check, e.Msg)
	}
	return fmt.Sprintf("invalid image (%s) at offset %#x: %s", e.Check, e.Offset, e.Msg)
}

// Formatf returns a *FormatError without an offset.
func Formatf(check Check, format string, args ...interface{}) *FormatError {
	return &FormatError{
		Check:  check,
		Offset: -1,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// FormatAtf returns a *FormatError pointing at offset.
func FormatAtf(check Check, offset int, format string, args ...interface{}) *FormatError {
	return &FormatError{
		Check:  check,
		Offset: offset,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// ConstraintError indicates that a computed layout value violates a hard
// requirement of the target bootloader.
type ConstraintError struct {
	Check Check
	Field string
	Value uint64
	Limit uint64
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("layout constraint violated (%s): %s = %#x, must be < %#x",
		e.Check, e.Field, e.Value, e.Limit)
}
