package sysupgrade

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
)

// ReadFile reads the sysupgrade image at path into memory, drawing a progress
// bar on w while doing so. A nil w disables the progress bar.
func ReadFile(ctx context.Context, path string, w io.Writer) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	if err := adviseSequential(f); err != nil {
		log.Printf("fadvise(%s): %v", path, err)
	}

	if w == nil {
		w = io.Discard
	}
	bar := progressbar.NewOptions64(st.Size(),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("reading "+filepath.Base(path)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish())

	var buf bytes.Buffer
	buf.Grow(int(st.Size()))
	if _, err := io.Copy(&buf, io.TeeReader(f, bar)); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := bar.Finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
