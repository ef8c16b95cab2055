package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openwrt-tools/factoryimg/internal/config"
	"github.com/openwrt-tools/factoryimg/internal/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(fn, []byte(content), 0644))
	return fn
}

func TestPresets(t *testing.T) {
	p, err := config.Load(writeFile(t, "empty.yaml", "devices: []\n"))
	require.NoError(t, err)

	d, err := p.Device(config.DefaultDevice)
	require.NoError(t, err)
	assert.Equal(t, "EAP245", d.ProductName)
	assert.Equal(t, "3.0", d.ProductVersion)
	assert.Equal(t, 0x10000, d.EraseBlockSize)
	assert.Equal(t, uint32(0xc0000), d.KernelBase)
	assert.Equal(t, uint32(factory.DataOffset), d.PayloadBase)
	assert.Equal(t, []string{"eap245-v3"}, p.Names())
}

func TestLoadYAML(t *testing.T) {
	fn := writeFile(t, "factoryimg.yaml", `devices:
  - name: test-device
    product_name: TEST
    product_version: "1.0"
    erase_block_size: 0x1000
    kernel_base: 0x50000
`)
	p, err := config.Load(fn)
	require.NoError(t, err)
	assert.Equal(t, fn, p.ConfigFile)
	assert.Equal(t, []string{"eap245-v3", "test-device"}, p.Names())

	d, err := p.Device("test-device")
	require.NoError(t, err)
	assert.Equal(t, factory.Device{
		Name:           "test-device",
		ProductName:    "TEST",
		ProductVersion: "1.0",
		EraseBlockSize: 0x1000,
		KernelBase:     0x50000,
		PayloadBase:    factory.DataOffset,
		MaxRootfsBase:  factory.DefaultMaxRootfsBase,
	}, d)
}

func TestLoadJSON(t *testing.T) {
	fn := writeFile(t, "factoryimg.json", `{
  "devices": [
    {
      "name": "eap245-v3",
      "product_name": "EAP245",
      "product_version": "3.1",
      "erase_block_size": 65536,
      "kernel_base": 786432,
      "max_rootfs_base": 8388608
    }
  ]
}`)
	p, err := config.Load(fn)
	require.NoError(t, err)

	d, err := p.Device("eap245-v3")
	require.NoError(t, err)
	assert.Equal(t, "3.1", d.ProductVersion)
	assert.Equal(t, uint32(0x800000), d.MaxRootfsBase)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "explicitly specified profile file does not exist")

	_, err = config.Load(writeFile(t, "broken.yaml", "devices: [\n"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "noname.yaml", "devices:\n  - product_name: X\n"))
	assert.Error(t, err)
}

func TestUnknownDevice(t *testing.T) {
	p, err := config.Load(writeFile(t, "empty.yaml", "devices: []\n"))
	require.NoError(t, err)
	_, err = p.Device("eap225-v3")
	assert.ErrorContains(t, err, `unknown device "eap225-v3"`)
}

func TestInvalidDevice(t *testing.T) {
	fn := writeFile(t, "factoryimg.yaml", `devices:
  - name: zero-eb
    product_name: TEST
    product_version: "1.0"
    kernel_base: 0x50000
`)
	p, err := config.Load(fn)
	require.NoError(t, err)
	_, err = p.Device("zero-eb")
	assert.ErrorContains(t, err, "erase block size must be positive")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("FACTORYIMG_PRODUCT_VERSION", "3.2")
	t.Setenv("FACTORYIMG_KERNEL_BASE", "0x80000")
	t.Setenv("FACTORYIMG_MAX_ROOTFS_BASE", "0x800000")

	p, err := config.Load(writeFile(t, "empty.yaml", "devices: []\n"))
	require.NoError(t, err)
	d, err := p.Device(config.DefaultDevice)
	require.NoError(t, err)
	assert.Equal(t, "3.2", d.ProductVersion)
	assert.Equal(t, uint32(0x80000), d.KernelBase)
	assert.Equal(t, uint32(0x800000), d.MaxRootfsBase)
	assert.Equal(t, "EAP245", d.ProductName)

	// The presets themselves are left untouched.
	assert.Equal(t, "3.0", config.Presets[config.DefaultDevice].ProductVersion)
}

func TestEnvironmentOverrideInvalid(t *testing.T) {
	t.Setenv("FACTORYIMG_ERASE_BLOCK_SIZE", "64k")

	p, err := config.Load(writeFile(t, "empty.yaml", "devices: []\n"))
	require.NoError(t, err)
	_, err = p.Device(config.DefaultDevice)
	assert.ErrorContains(t, err, "FACTORYIMG_ERASE_BLOCK_SIZE")
}
