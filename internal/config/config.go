package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sensor sources selectable with SENSOR_SOURCE.
const (
	SensorSourceNone   = "none"
	SensorSourceMock   = "mock"
	SensorSourceMQTT   = "mqtt"
	SensorSourceSerial = "serial"
	SensorSourceIMU    = "imu"
)

// Display back-ends selectable with DISPLAY.
const (
	DisplayHeadless = "headless"
	DisplayWindow   = "window"
	DisplayOLED     = "oled"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDViewer   string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string

	// Topics
	TopicAccel   string
	TopicMag     string
	TopicHeading string

	// Scene
	Scene       string // catalog name: vehicle, drone, helmet, compass
	CatalogFile string // optional YAML file merged over the built-in catalog

	// Sensors
	SensorSource         string
	SensorSampleInterval int // milliseconds

	// Magnetometer calibration (hard-iron offset in µT, soft-iron scale)
	MagOffsetX, MagOffsetY, MagOffsetZ float64
	MagScaleX, MagScaleY, MagScaleZ    float64

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string

	// Serial NMEA XDR source
	SerialPort     string
	SerialBaudRate int

	// Display
	Display     string
	RefreshHz   int
	OLEDI2CBus  string
	OLEDI2CAddr uint16

	// Web Server (0 disables it)
	WebServerPort int

	// Timing
	HeadingPublishInterval int // milliseconds, 0 disables MQTT heading publishing
	ConsoleLogInterval     int // milliseconds

	// Logging: trace, debug, info, warn, error
	LogLevel string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through Get, so nothing modifies it
//     without the lock.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		MQTTBroker:             "tcp://localhost:1883",
		MQTTClientIDViewer:     "heading-viewer",
		MQTTClientIDProducer:   "heading-sensor-producer",
		MQTTClientIDConsole:    "heading-console",
		TopicAccel:             "heading/sensors/accel",
		TopicMag:               "heading/sensors/mag",
		TopicHeading:           "heading/orientation/heading",
		Scene:                  "vehicle",
		SensorSource:           SensorSourceMock,
		SensorSampleInterval:   20,
		MagScaleX:              1,
		MagScaleY:              1,
		MagScaleZ:              1,
		IMUSPIDevice:           "/dev/spidev0.0",
		IMUCSPin:               "GPIO8",
		SerialPort:             "/dev/ttyUSB0",
		SerialBaudRate:         115200,
		Display:                DisplayHeadless,
		RefreshHz:              60,
		OLEDI2CBus:             "",
		OLEDI2CAddr:            0x3C,
		WebServerPort:          8080,
		HeadingPublishInterval: 200,
		ConsoleLogInterval:     1000,
		LogLevel:               "info",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines over Default and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseNonNegative(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	return n, nil
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_VIEWER":
		c.MQTTClientIDViewer = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_ACCEL":
		c.TopicAccel = value
	case "TOPIC_MAG":
		c.TopicMag = value
	case "TOPIC_HEADING":
		c.TopicHeading = value

	// Scene
	case "SCENE":
		c.Scene = strings.ToLower(value)
	case "CATALOG_FILE":
		c.CatalogFile = value

	// Sensors
	case "SENSOR_SOURCE":
		switch v := strings.ToLower(value); v {
		case SensorSourceNone, SensorSourceMock, SensorSourceMQTT, SensorSourceSerial, SensorSourceIMU:
			c.SensorSource = v
		default:
			return fmt.Errorf("SENSOR_SOURCE must be one of none, mock, mqtt, serial, imu, got %q", value)
		}
	case "SENSOR_SAMPLE_INTERVAL":
		c.SensorSampleInterval, err = parseNonNegative(key, value)

	// Magnetometer calibration
	case "MAG_OFFSET_X":
		c.MagOffsetX, err = parseFloat(key, value)
	case "MAG_OFFSET_Y":
		c.MagOffsetY, err = parseFloat(key, value)
	case "MAG_OFFSET_Z":
		c.MagOffsetZ, err = parseFloat(key, value)
	case "MAG_SCALE_X":
		c.MagScaleX, err = parseFloat(key, value)
	case "MAG_SCALE_Y":
		c.MagScaleY, err = parseFloat(key, value)
	case "MAG_SCALE_Z":
		c.MagScaleZ, err = parseFloat(key, value)

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseNonNegative(key, value)

	// Display
	case "DISPLAY":
		switch v := strings.ToLower(value); v {
		case DisplayHeadless, DisplayWindow, DisplayOLED:
			c.Display = v
		default:
			return fmt.Errorf("DISPLAY must be one of headless, window, oled, got %q", value)
		}
	case "REFRESH_HZ":
		c.RefreshHz, err = parseNonNegative(key, value)
	case "OLED_I2C_BUS":
		c.OLEDI2CBus = value
	case "OLED_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid OLED_I2C_ADDR %q: %w", value, perr)
		}
		c.OLEDI2CAddr = uint16(addr)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseNonNegative(key, value)

	// Timing
	case "HEADING_PUBLISH_INTERVAL":
		c.HeadingPublishInterval, err = parseNonNegative(key, value)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseNonNegative(key, value)

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.Scene == "" {
		return fmt.Errorf("SCENE is required")
	}
	if c.RefreshHz == 0 || c.RefreshHz > 240 {
		return fmt.Errorf("REFRESH_HZ must be 1-240, got %d", c.RefreshHz)
	}
	if c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT out of range: %d", c.WebServerPort)
	}
	switch c.SensorSource {
	case SensorSourceMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required for SENSOR_SOURCE=mqtt")
		}
		if c.TopicAccel == "" || c.TopicMag == "" {
			return fmt.Errorf("TOPIC_ACCEL and TOPIC_MAG are required for SENSOR_SOURCE=mqtt")
		}
	case SensorSourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for SENSOR_SOURCE=serial")
		}
		if c.SerialBaudRate == 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE is required for SENSOR_SOURCE=serial")
		}
	case SensorSourceIMU:
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for SENSOR_SOURCE=imu")
		}
	case SensorSourceMock:
		if c.SensorSampleInterval == 0 {
			return fmt.Errorf("SENSOR_SAMPLE_INTERVAL is required for SENSOR_SOURCE=mock")
		}
	}
	if c.MagScaleX <= 0 || c.MagScaleY <= 0 || c.MagScaleZ <= 0 {
		return fmt.Errorf("MAG_SCALE_X/Y/Z must be positive")
	}
	if c.HeadingPublishInterval > 0 && c.TopicHeading == "" {
		return fmt.Errorf("TOPIC_HEADING is required when HEADING_PUBLISH_INTERVAL is set")
	}
	return nil
}

// SampleInterval returns SENSOR_SAMPLE_INTERVAL as a duration.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.SensorSampleInterval) * time.Millisecond
}

// PublishInterval returns HEADING_PUBLISH_INTERVAL as a duration.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.HeadingPublishInterval) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
// This is the only function that can set globalConfig.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
