// Package config resolves device profiles from the built-in presets, an
// optional profile file and FACTORYIMG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/openwrt-tools/factoryimg/internal/factory"
	"github.com/spf13/viper"
)

// Presets are the devices known to work with the factory image format.
var Presets = map[string]factory.Device{
	"eap245-v3": {
		Name:           "eap245-v3",
		ProductName:    "EAP245",
		ProductVersion: "3.0",
		EraseBlockSize: 0x10000,
		KernelBase:     0xc0000,
		PayloadBase:    factory.DataOffset,
		MaxRootfsBase:  factory.DefaultMaxRootfsBase,
	},
}

// DefaultDevice is used when no device is specified.
const DefaultDevice = "eap245-v3"

// Profiles holds all device profiles available for a run.
type Profiles struct {
	// ConfigFile is the profile file which was read, if any.
	ConfigFile string

	devices map[string]factory.Device
	v       *viper.Viper
}

// Load reads the profile file at path, or searches for factoryimg.{yaml,json,toml}
// in the current directory, $HOME/.config/factoryimg and /etc/factoryimg if
// path is empty. A missing file is not an error when searching.
//
// Example profile file:
//
//	devices:
//	  - name: eap245-v3-custom
//	    product_name: EAP245
//	    product_version: "3.0"
//	    erase_block_size: 0x10000
//	    kernel_base: 0xc0000
func Load(path string) (*Profiles, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("factoryimg")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/factoryimg")
		v.AddConfigPath("/etc/factoryimg")
	}
	for _, key := range overrideKeys {
		if err := v.BindEnv("override."+key, envName(key)); err != nil {
			return nil, err
		}
	}

	p := &Profiles{
		devices: make(map[string]factory.Device, len(Presets)),
		v:       v,
	}
	for name, d := range Presets {
		p.devices[name] = d
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading device profiles: %w", err)
		}
		return p, nil
	}
	p.ConfigFile = v.ConfigFileUsed()
	log.Printf("reading device profiles from %s", p.ConfigFile)

	var devices []factory.Device
	if err := v.UnmarshalKey("devices", &devices); err != nil {
		return nil, fmt.Errorf("%s: %w", p.ConfigFile, err)
	}
	for _, d := range devices {
		if d.Name == "" {
			return nil, fmt.Errorf("%s: device profile without name", p.ConfigFile)
		}
		if d.PayloadBase == 0 {
			d.PayloadBase = factory.DataOffset
		}
		if d.MaxRootfsBase == 0 {
			d.MaxRootfsBase = factory.DefaultMaxRootfsBase
		}
		if _, ok := Presets[d.Name]; ok {
			log.Printf("%s: device profile %q overrides the built-in preset", p.ConfigFile, d.Name)
		}
		p.devices[d.Name] = d
	}
	return p, nil
}

// Names returns the sorted names of all device profiles.
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.devices))
	for name := range p.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile returns the device profile called name as configured, without
// environment overrides and without validation.
func (p *Profiles) Profile(name string) (factory.Device, bool) {
	d, ok := p.devices[name]
	return d, ok
}

var overrideKeys = []string{
	"product_name",
	"product_version",
	"erase_block_size",
	"kernel_base",
	"max_rootfs_base",
}

// Device returns the validated device profile called name, with
// FACTORYIMG_<KEY> environment variables (e.g. FACTORYIMG_KERNEL_BASE=0xc0000)
// applied on top.
func (p *Profiles) Device(name string) (factory.Device, error) {
	d, ok := p.devices[name]
	if !ok {
		return factory.Device{}, fmt.Errorf("unknown device %q, known devices: %q", name, p.Names())
	}
	for _, key := range overrideKeys {
		if !p.v.IsSet("override." + key) {
			continue
		}
		val := p.v.GetString("override." + key)
		log.Printf("overriding %s of device %q with %q from the environment", key, name, val)
		var err error
		switch key {
		case "product_name":
			d.ProductName = val
		case "product_version":
			d.ProductVersion = val
		case "erase_block_size":
			var n uint64
			n, err = strconv.ParseUint(val, 0, 31)
			d.EraseBlockSize = int(n)
		case "kernel_base":
			d.KernelBase, err = parseUint32(val)
		case "max_rootfs_base":
			d.MaxRootfsBase, err = parseUint32(val)
		}
		if err != nil {
			return factory.Device{}, fmt.Errorf("%s: %w", envName(key), err)
		}
	}
	if err := d.Validate(); err != nil {
		return factory.Device{}, err
	}
	return d, nil
}

func envName(key string) string {
	return "FACTORYIMG_" + strings.ToUpper(key)
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	return uint32(n), err
}
