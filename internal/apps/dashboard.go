package apps

import (
	"context"

	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

const (
	claDashboard = 0xb0
	claOpenApp   = 0xe0

	insGetAppAndVersion = 0x01
	insQuitApp          = 0xa7
	insOpenApp          = 0xd8

	// DashboardName is reported when no app is open.
	DashboardName = "BOLOS"
)

type AppInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Flags   []byte `json:"flags,omitempty"`
}

func (i *AppInfo) IsDashboard() bool {
	return i.Name == DashboardName
}

// Dashboard talks to the device OS. Its commands work whatever app is open.
type Dashboard struct {
	ex Exchanger
}

func NewDashboard(ex Exchanger) *Dashboard {
	return &Dashboard{ex: ex}
}

func (d *Dashboard) GetAppAndVersion(ctx context.Context) (*AppInfo, error) {
	resp, err := exchange(ctx, d.ex, claDashboard, insGetAppAndVersion, 0, 0, nil)
	if err != nil {
		return nil, err
	}
	return parseAppAndVersion(resp)
}

// OpenApp asks the device to launch the named app. The user may have to confirm.
func (d *Dashboard) OpenApp(ctx context.Context, name string) error {
	if name == "" {
		return errors.Wrap(signerr.ErrInvalidParameters, "empty app name")
	}
	_, err := exchange(ctx, d.ex, claOpenApp, insOpenApp, 0, 0, []byte(name))
	return err
}

// QuitApp returns the device to the dashboard.
func (d *Dashboard) QuitApp(ctx context.Context) error {
	_, err := exchange(ctx, d.ex, claDashboard, insQuitApp, 0, 0, nil)
	return err
}

func parseAppAndVersion(resp []byte) (*AppInfo, error) {
	r := newReader(resp)

	format, err := r.byte()
	if err != nil {
		return nil, err
	}
	if format != 0x01 {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "unknown app info format 0x%02x", format)
	}

	name, err := r.lengthPrefixed()
	if err != nil {
		return nil, err
	}
	version, err := r.lengthPrefixed()
	if err != nil {
		return nil, err
	}

	info := &AppInfo{Name: string(name), Version: string(version)}
	if r.remaining() > 0 {
		if info.Flags, err = r.lengthPrefixed(); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// EncodeAppInfo builds a GetAppAndVersion response body.
func EncodeAppInfo(info AppInfo) []byte {
	out := []byte{0x01, byte(len(info.Name))}
	out = append(out, info.Name...)
	out = append(out, byte(len(info.Version)))
	out = append(out, info.Version...)
	out = append(out, byte(len(info.Flags)))
	return append(out, info.Flags...)
}
