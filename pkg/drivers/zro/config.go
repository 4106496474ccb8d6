package zro

import (
	"fmt"
	"math"
)

// MQTTConfig holds the broker connection parameters.
type MQTTConfig struct {
	Host      string `json:"host"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TopicRoot string `json:"topic_root"`
}

// Config holds the dome controller parameters. Positions are in degrees,
// timeouts in seconds and speeds in controller units.
type Config struct {
	MQTTConfig

	TicksPerTurn   int     `json:"ticks_per_turn"`
	Tolerance      int     `json:"tolerance"`
	HomePosition   float64 `json:"home_position"`
	ParkPosition   float64 `json:"park_position"`
	AzimuthTimeout int     `json:"azimuth_timeout"`
	MaxSpeed       int     `json:"max_speed"`
	MinSpeed       int     `json:"min_speed"`
	BrakeSpeed     int     `json:"brake_speed"`
	VelTimeout     int     `json:"vel_timeout"`
	ShortDistance  int     `json:"short_distance"`
	ShutterTimeout int     `json:"shutter_timeout"`

	ParkOnShutter bool `json:"park_on_shutter"`
	UseShutter    bool `json:"use_shutter"`
}

var defaultConfig = Config{
	MQTTConfig: MQTTConfig{
		Host:      "tcp://localhost:1883",
		TopicRoot: "zro/dome",
	},
	TicksPerTurn:   10000,
	Tolerance:      10,
	HomePosition:   0,
	ParkPosition:   0,
	AzimuthTimeout: 120,
	MaxSpeed:       255,
	MinSpeed:       60,
	BrakeSpeed:     100,
	VelTimeout:     2,
	ShortDistance:  100,
	ShutterTimeout: 60,
	UseShutter:     true,
}

// DefaultConfig returns the configuration used when none is stored.
func DefaultConfig() Config {
	return defaultConfig
}

// Validate checks the parameters the driver depends on.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("missing MQTT broker")
	}
	if c.TopicRoot == "" {
		return fmt.Errorf("missing MQTT topic root")
	}
	if c.TicksPerTurn <= 0 {
		return fmt.Errorf("ticks per turn must be positive, got %d", c.TicksPerTurn)
	}
	return nil
}

// normalizeAngle maps any angle to [0, 360).
func normalizeAngle(degrees float64) float64 {
	a := math.Mod(degrees, 360)
	if a < 0 {
		a += 360
	}
	return a
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
