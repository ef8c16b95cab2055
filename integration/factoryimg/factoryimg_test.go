package factoryimg_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openwrt-tools/factoryimg/fimg"
	"github.com/openwrt-tools/factoryimg/internal/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n, mul int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i * mul) % 251)
	}
	return b
}

func writeSysupgrade(t *testing.T, dir string, withMarker bool) string {
	t.Helper()
	rootfs := pattern(0x1fff0, 7)
	copy(rootfs, "hsqs")
	var img []byte
	img = append(img, pattern(0x30000, 1)...)
	img = append(img, rootfs...)
	img = append(img, bytes.Repeat([]byte{0xff}, 0x10)...)
	if withMarker {
		img = append(img, 0xde, 0xad, 0xc0, 0xde)
	} else {
		img = append(img, 0xff, 0xff, 0xff, 0xff)
	}
	fn := filepath.Join(dir, "sysupgrade.bin")
	require.NoError(t, os.WriteFile(fn, img, 0644))
	return fn
}

// writeProfiles writes a profile file, so that the tests do not pick up
// factoryimg.yaml from the environment.
func writeProfiles(t *testing.T, dir, content string) string {
	t.Helper()
	fn := filepath.Join(dir, "factoryimg.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(content), 0644))
	return fn
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	c := fimg.Context{
		Args:   args,
		Stdout: &stdout,
		Stderr: &stdout,
	}
	err := c.Execute(context.Background())
	return stdout.String(), err
}

func build(t *testing.T, dir string) string {
	t.Helper()
	src := writeSysupgrade(t, dir, true)
	profiles := writeProfiles(t, dir, "")
	out := filepath.Join(dir, "3rdimg.bin")
	stdout, err := run(t,
		"build",
		"--config="+profiles,
		"--device=eap245-v3",
		"--output="+out,
		src)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	assert.Contains(t, stdout, "os-linux @000c0000+00040000")
	assert.Contains(t, stdout, "rootfs   @00100000+00030000")
	return out
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	out := build(t, dir)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	sum := sha256.Sum256(b)
	assert.Equal(t,
		"cb5b6905bca7420d3ab5b701dbef800881bd1e8376b645383281c5243bb9e794",
		hex.EncodeToString(sum[:]))

	img, err := factory.Analyze(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xfed3c3aa), img.Checksum)
	assert.Equal(t, "EAP245", img.Device.ProductName)
}

func TestBuildReplacesOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "3rdimg.bin")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0600))
	build(t, dir)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	_, err = factory.Analyze(b)
	require.NoError(t, err)

	st, err := os.Stat(out)
	require.NoError(t, err)
	if st.Mode().Perm() != 0600 {
		t.Errorf("unexpected permissions: got %v, want %v", st.Mode().Perm(), os.FileMode(0600))
	}
}

func TestBuildMissingMarker(t *testing.T) {
	dir := t.TempDir()
	src := writeSysupgrade(t, dir, false)
	profiles := writeProfiles(t, dir, "")
	out := filepath.Join(dir, "3rdimg.bin")
	_, err := run(t,
		"build",
		"--config="+profiles,
		"--device=eap245-v3",
		"--output="+out,
		src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end marker")
	_, statErr := os.Stat(out)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "output file unexpectedly created: %v", statErr)
}

func TestBuildUnknownDevice(t *testing.T) {
	dir := t.TempDir()
	src := writeSysupgrade(t, dir, true)
	profiles := writeProfiles(t, dir, "")
	_, err := run(t,
		"build",
		"--config="+profiles,
		"--device=archer-c7",
		"--output="+filepath.Join(dir, "3rdimg.bin"),
		src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown device "archer-c7"`)
}

func TestInfo(t *testing.T) {
	dir := t.TempDir()
	out := build(t, dir)

	stdout, err := run(t, "info", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, out+": 328 kB")
	assert.Contains(t, stdout, "product:  EAP245 3.0")
	assert.Contains(t, stdout, "CRC32:    fed3c3aa")
	assert.Contains(t, stdout, "os-linux @000c0000+00040000, payload=00030000 @ 0000014c")
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	out := build(t, dir)
	src := filepath.Join(dir, "sysupgrade.bin")
	profiles := filepath.Join(dir, "factoryimg.yaml")

	stdout, err := run(t,
		"verify",
		"--config="+profiles,
		"--device=eap245-v3",
		"--sysupgrade="+src,
		out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "OK   "+out)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	b[len(b)-0x200] ^= 0x01
	corrupt := filepath.Join(dir, "corrupt.bin")
	require.NoError(t, os.WriteFile(corrupt, b, 0644))

	stdout, err = run(t,
		"verify",
		"--config="+profiles,
		"--device=eap245-v3",
		"--sysupgrade=",
		out,
		corrupt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 images failed verification")
	assert.Contains(t, stdout, "OK   "+out)
	assert.Contains(t, stdout, "FAIL "+corrupt)
	assert.Contains(t, stdout, "crc32")
}

func TestDevices(t *testing.T) {
	dir := t.TempDir()
	profiles := writeProfiles(t, dir, `
devices:
  - name: eap245-v3-lab
    product_name: EAP245
    product_version: "3.0"
    erase_block_size: 0x10000
    kernel_base: 0x80000
`)
	stdout, err := run(t,
		"devices",
		"--config="+profiles,
		"--device=eap245-v3-lab")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3, "stdout: %s", stdout)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "eap245-v3 "))
	assert.Contains(t, lines[1], "built-in")
	assert.True(t, strings.HasPrefix(lines[2], "eap245-v3-lab *"))
	assert.Contains(t, lines[2], "0x80000")
	assert.Contains(t, lines[2], profiles)
}

func TestVerifyRootfsBaseLimit(t *testing.T) {
	dir := t.TempDir()
	src := writeSysupgrade(t, dir, true)
	profiles := writeProfiles(t, dir, `
devices:
  - name: eap245-v3-high
    product_name: EAP245
    product_version: "3.0"
    erase_block_size: 0x10000
    kernel_base: 0xfc0000
    max_rootfs_base: 0x2000000
`)
	out := filepath.Join(dir, "3rdimg.bin")
	if _, err := run(t,
		"build",
		"--config="+profiles,
		"--device=eap245-v3-high",
		"--output="+out,
		src); err != nil {
		t.Fatalf("build: %v", err)
	}

	stdout, err := run(t,
		"verify",
		"--config="+profiles,
		"--device=eap245-v3-high",
		"--sysupgrade="+src,
		out)
	require.NoError(t, err, "stdout: %s", stdout)
	assert.Contains(t, stdout, "OK   "+out)

	stdout, err = run(t,
		"verify",
		"--config="+profiles,
		"--device=eap245-v3",
		"--sysupgrade=",
		out)
	require.Error(t, err)
	assert.Contains(t, stdout, "FAIL "+out)
	assert.Contains(t, stdout, "exceeds the name field limit 0x1000000")
}
