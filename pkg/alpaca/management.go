// Documentation: https://ascom-standards.org/api/?urls.primaryName=ASCOM+Alpaca+Management+API

package alpaca

import (
	"context"
	"fmt"
	"time"

	"astrobridge/pkg/device"
)

// ServerDescription describes an Alpaca server.
type ServerDescription struct {
	Name                string `json:"ServerName"`
	Manufacturer        string `json:"Manufacturer"`
	ManufacturerVersion string `json:"ManufacturerVersion"`
	Location            string `json:"Location"`
}

// DeviceInfo is one entry of the configured devices list.
type DeviceInfo struct {
	Name     string `json:"DeviceName"`
	Type     string `json:"DeviceType"`
	Number   int    `json:"DeviceNumber"`
	UniqueID string `json:"UniqueID"`
}

// Identity returns the identity of the device served by addr.
func (d DeviceInfo) Identity(addr string) (device.Identity, error) {
	typ, err := device.ParseType(d.Type)
	if err != nil {
		return device.Identity{}, err
	}
	return device.Identity{
		Transport: device.TransportAlpaca,
		Type:      typ,
		Name:      fmt.Sprintf("%s/%d", addr, d.Number),
	}, nil
}

// APIVersions returns the API versions supported by the server.
func (c *Client) APIVersions(ctx context.Context, timeout time.Duration) ([]int, error) {
	raw, err := c.Get(ctx, "/management/apiversions", timeout)
	if err != nil {
		return nil, err
	}
	return decodeValue[[]int](raw)
}

// Description returns the server description.
func (c *Client) Description(ctx context.Context, timeout time.Duration) (ServerDescription, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("/management/v%d/description", apiVersion), timeout)
	if err != nil {
		return ServerDescription{}, err
	}
	return decodeValue[ServerDescription](raw)
}

// ConfiguredDevices lists the devices served.
func (c *Client) ConfiguredDevices(ctx context.Context, timeout time.Duration) ([]DeviceInfo, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("/management/v%d/configureddevices", apiVersion), timeout)
	if err != nil {
		return nil, err
	}
	return decodeValue[[]DeviceInfo](raw)
}
