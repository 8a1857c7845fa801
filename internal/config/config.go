package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
	elementsnetwork "github.com/vulpemventures/go-elements/network"
)

const (
	networkMainnet = "mainnet"
	networkTestnet = "testnet"
	networkRegtest = "regtest"
)

type Config struct {
	Datadir         string  `mapstructure:"DATADIR" envDefault:"banco-swaps" envInfo:"Data directory for swap state"`
	LogLevel        uint32  `mapstructure:"LOG_LEVEL" envDefault:"4" envInfo:"Log verbosity (higher = more verbose)"`
	Network         string  `mapstructure:"NETWORK" envDefault:"mainnet" envInfo:"Network: mainnet | testnet | regtest"`
	BoltzURL        string  `mapstructure:"BOLTZ_URL" envDefault:"" envInfo:"Swap provider HTTP endpoint (e.g., http://boltz:9001)"`
	BoltzWSURL      string  `mapstructure:"BOLTZ_WS_URL" envDefault:"" envInfo:"Swap provider WebSocket endpoint (e.g., ws://boltz:9004)"`
	CovenantURL     string  `mapstructure:"COVENANT_URL" envDefault:"" envInfo:"Covenant claim service base URL"`
	EnableWebsocket bool    `mapstructure:"ENABLE_WEBSOCKET" envDefault:"true" envInfo:"Subscribe to swap status updates at boot"`
	FeeRateSatVb    float64 `mapstructure:"FEE_RATE_SAT_VB" envDefault:"1.0" envInfo:"Claim transaction fee rate in sat/vB"`
	LimitsTTLSec    uint32  `mapstructure:"LIMITS_TTL_SEC" envDefault:"60" envInfo:"Provider limits cache TTL in seconds"`
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("BANCO")
	v.AutomaticEnv()

	if err := setDefaultConfig(v); err != nil {
		return nil, fmt.Errorf("error setting default config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}

	if err := config.initDatadir(); err != nil {
		return nil, fmt.Errorf("error initializing data directory: %w", err)
	}

	if _, err := config.BitcoinNetwork(); err != nil {
		return nil, err
	}

	if config.BoltzURL == "" {
		return nil, fmt.Errorf("missing swap provider URL")
	}

	return &config, nil
}

func (c *Config) BitcoinNetwork() (*chaincfg.Params, error) {
	switch c.Network {
	case networkMainnet:
		return &chaincfg.MainNetParams, nil
	case networkTestnet:
		return &chaincfg.TestNet3Params, nil
	case networkRegtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}

func (c *Config) LiquidNetwork() (*elementsnetwork.Network, error) {
	switch c.Network {
	case networkMainnet:
		return &elementsnetwork.Liquid, nil
	case networkTestnet:
		return &elementsnetwork.Testnet, nil
	case networkRegtest:
		return &elementsnetwork.Regtest, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}

// LBtcAssetID returns the hex id of the L-BTC asset on the configured
// network, the expected settlement asset of magic routing hints.
func (c *Config) LBtcAssetID() (string, error) {
	net, err := c.LiquidNetwork()
	if err != nil {
		return "", err
	}
	return net.AssetID, nil
}

// WalletChain is the chain the wallet custodies funds on.
func (c *Config) WalletChain() boltz.Currency {
	return boltz.CurrencyLiquid
}

func (c *Config) LimitsTTL() time.Duration {
	return time.Duration(c.LimitsTTLSec) * time.Second
}

func (c *Config) initDatadir() error {
	if c.Datadir == "banco-swaps" {
		c.Datadir = appDatadir("banco-swaps", false)
	} else {
		c.Datadir = cleanAndExpandPath(c.Datadir)
	}
	return makeDirectoryIfNotExists(c.Datadir)
}

func setDefaultConfig(v *viper.Viper) error {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		def := f.Tag.Get("envDefault")
		if def != "" {
			v.SetDefault(key, def)
		}
		err := v.BindEnv(key)
		if err != nil {
			return fmt.Errorf("error binding env variable for key %s: %w", key, err)
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// appDataDir returns an operating system specific directory to be used for
// storing application data for an application.  See AppDataDir for more
// details.  This unexported version takes an operating system argument
// primarily to enable the testing package to properly test the function by
// forcing an operating system that is not the currently one.
func appDatadir(appName string, roaming bool) string {
	if appName == "" || appName == "." {
		return "."
	}

	// The caller really shouldn't prepend the appName with a period, but
	// if they do, handle it gracefully by trimming it.
	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := string(unicode.ToUpper(rune(appName[0]))) + appName[1:]
	appNameLower := string(unicode.ToLower(rune(appName[0]))) + appName[1:]

	// Get the OS specific home directory via the Go standard lib.
	var homeDir string
	usr, err := user.Current()
	if err == nil {
		homeDir = usr.HomeDir
	}

	// Fall back to standard HOME environment variable that works
	// for most POSIX OSes if the directory from the Go standard
	// lib failed.
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}

	goos := runtime.GOOS
	switch goos {
	// Attempt to use the LOCALAPPDATA or APPDATA environment variable on
	// Windows.
	case "windows":
		// Windows XP and before didn't have a LOCALAPPDATA, so fallback
		// to regular APPDATA when LOCALAPPDATA is not set.
		appData := os.Getenv("LOCALAPPDATA")
		if roaming || appData == "" {
			appData = os.Getenv("APPDATA")
		}

		if appData != "" {
			return filepath.Join(appData, appNameUpper)
		}

	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library",
				"Application Support", appNameUpper)
		}

	case "plan9":
		if homeDir != "" {
			return filepath.Join(homeDir, appNameLower)
		}

	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appNameLower)
		}
	}

	// Fall back to the current directory if all else fails.
	return "."
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

//go:generate go run ../../tools/gen-env-doc/main.go
