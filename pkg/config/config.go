package config

import (
	goerrors "errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/status-im/status-signer-go/internal/transport"
	"github.com/status-im/status-signer-go/internal/transport/ble"
	"github.com/status-im/status-signer-go/internal/transport/usbhid"
)

const (
	EnvPrefix = "SIGNER"

	TransportHID  = "hid"
	TransportBLE  = "ble"
	TransportPCSC = "pcsc"
	TransportMock = "mock"

	BackendSoftware = "software"
	BackendHardware = "hardware"
)

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Device  DeviceConfig  `mapstructure:"device"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	Chains  ChainsConfig  `mapstructure:"chains"`
	Signing SigningConfig `mapstructure:"signing"`
}

type LogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"` // production JSON logs go here when set
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type DeviceConfig struct {
	// Transport is empty when no hardware wallet is used.
	Transport      string        `mapstructure:"transport" validate:"omitempty,oneof=hid ble pcsc mock"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	HID            HIDConfig     `mapstructure:"hid"`
	BLE            BLEConfig     `mapstructure:"ble"`
}

type HIDConfig struct {
	VendorID   uint16   `mapstructure:"vendor_id"`
	ProductIDs []uint16 `mapstructure:"product_ids"`
	UsagePage  uint16   `mapstructure:"usage_page"`
}

type BLEConfig struct {
	ServiceUUID string        `mapstructure:"service_uuid" validate:"uuid"`
	WriteUUID   string        `mapstructure:"write_uuid" validate:"uuid"`
	NotifyUUID  string        `mapstructure:"notify_uuid" validate:"uuid"`
	ScanTimeout time.Duration `mapstructure:"scan_timeout" validate:"gt=0"`
}

type WalletConfig struct {
	ID           string `mapstructure:"id" validate:"required"`
	MnemonicFile string `mapstructure:"mnemonic_file"`
}

type ChainsConfig struct {
	Testnet bool `mapstructure:"testnet"`
}

type SigningConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=software hardware"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.enabled", true)
	v.SetDefault("log.file", "")

	v.SetDefault("server.address", "127.0.0.1:0")

	v.SetDefault("device.transport", "")
	v.SetDefault("device.timeout", transport.DefaultTimeout)
	v.SetDefault("device.connect_timeout", transport.DefaultTimeout)
	v.SetDefault("device.hid.vendor_id", usbhid.LedgerVendorID)
	v.SetDefault("device.hid.product_ids", usbhid.LedgerProductIDs)
	v.SetDefault("device.hid.usage_page", usbhid.LedgerUsagePage)
	v.SetDefault("device.ble.service_uuid", ble.LedgerServiceUUID)
	v.SetDefault("device.ble.write_uuid", ble.LedgerWriteUUID)
	v.SetDefault("device.ble.notify_uuid", ble.LedgerNotifyUUID)
	v.SetDefault("device.ble.scan_timeout", 10*time.Second)

	v.SetDefault("wallet.id", "default")
	v.SetDefault("wallet.mnemonic_file", "")

	v.SetDefault("chains.testnet", false)

	v.SetDefault("signing.backend", BackendSoftware)
}

// Load reads defaults, then the YAML file at path (or ./signer.yaml when path is
// empty and the file exists), then SIGNER_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("signer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !goerrors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration without any file or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var errs validator.ValidationErrors
		if goerrors.As(err, &errs) {
			return errors.Wrap(goerrors.Join(errs), "invalid config")
		}
		return errors.Wrap(err, "invalid config")
	}
	if c.Signing.Backend == BackendHardware && c.Device.Transport == "" {
		return errors.New("invalid config: hardware signing needs device.transport")
	}
	return nil
}

func (c *Config) HID() usbhid.Config {
	cfg := usbhid.DefaultConfig()
	cfg.VendorID = c.Device.HID.VendorID
	cfg.ProductIDs = c.Device.HID.ProductIDs
	cfg.UsagePage = c.Device.HID.UsagePage
	cfg.Timeout = c.Device.Timeout
	return cfg
}

func (c *Config) BLE() ble.Config {
	return ble.Config{
		ServiceUUID: c.Device.BLE.ServiceUUID,
		WriteUUID:   c.Device.BLE.WriteUUID,
		NotifyUUID:  c.Device.BLE.NotifyUUID,
		ScanTimeout: c.Device.BLE.ScanTimeout,
		Timeout:     c.Device.Timeout,
	}
}
