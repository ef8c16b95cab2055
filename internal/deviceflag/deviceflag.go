// Package deviceflag registers the flags selecting the device profile.
package deviceflag

import (
	"os"

	"github.com/openwrt-tools/factoryimg/internal/config"
	"github.com/spf13/pflag"
)

var (
	device     string
	configFile string
)

func RegisterPflags(fs *pflag.FlagSet) {
	def := os.Getenv("FACTORYIMG_DEVICE")
	if def == "" {
		def = config.DefaultDevice
	}
	fs.StringVarP(&device,
		"device",
		"d",
		def,
		`device profile name, see factoryimg devices`)

	fs.StringVar(&configFile,
		"config",
		"",
		`device profile file (YAML, JSON or TOML). If empty, factoryimg.yaml is searched in ., ~/.config/factoryimg and /etc/factoryimg`)
}

func Device() string {
	return device
}

// Profiles loads the device profiles selected by the flags.
func Profiles() (*config.Profiles, error) {
	return config.Load(configFile)
}
