// Package eraseblock implements size arithmetic on flash erase block
// boundaries.
package eraseblock

import "fmt"

func check(size, ebSize int) {
	if ebSize <= 0 {
		panic(fmt.Sprintf("BUG: erase block size must be positive, got %d", ebSize))
	}
	if size < 0 {
		panic(fmt.Sprintf("BUG: size must not be negative, got %d", size))
	}
}

// RoundUp returns the smallest multiple of ebSize which is >= size.
func RoundUp(size, ebSize int) int {
	check(size, ebSize)
	if size%ebSize == 0 {
		return size
	}
	return (size/ebSize + 1) * ebSize
}

// RoundToNext returns the smallest multiple of ebSize which is strictly
// greater than size, even if size is already aligned.
func RoundToNext(size, ebSize int) int {
	check(size, ebSize)
	return (size/ebSize + 1) * ebSize
}

// RoundDown returns the largest multiple of ebSize which is <= size.
func RoundDown(size, ebSize int) int {
	check(size, ebSize)
	return (size / ebSize) * ebSize
}

// Aligned reports whether size is a multiple of ebSize.
func Aligned(size, ebSize int) bool {
	check(size, ebSize)
	return size%ebSize == 0
}
