package app

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/relabs-tech/heading_viewer/internal/config"
	"github.com/relabs-tech/heading_viewer/internal/sensors"
)

// newSensorManager builds the back-end named by cfg.SensorSource. It returns
// nil for SensorSourceNone. client is only used by the MQTT source.
func newSensorManager(cfg *config.Config, client mqtt.Client) (sensors.Manager, error) {
	switch cfg.SensorSource {
	case config.SensorSourceNone:
		return nil, nil
	case config.SensorSourceMock:
		m := sensors.NewMockManager(cfg.SampleInterval())
		m.Wobble = true
		return m, nil
	case config.SensorSourceMQTT:
		if client == nil {
			return nil, fmt.Errorf("sensor source %s needs an MQTT connection", cfg.SensorSource)
		}
		return sensors.NewMQTTManager(client, cfg.TopicAccel, cfg.TopicMag), nil
	case config.SensorSourceSerial:
		return sensors.NewSerialManager(cfg.SerialPort, uint(cfg.SerialBaudRate)), nil
	case config.SensorSourceIMU:
		return sensors.NewIMUManager(cfg.IMUSPIDevice, cfg.IMUCSPin, cfg.SampleInterval()), nil
	}
	return nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
}

// magCalibration returns the MAG_OFFSET_* / MAG_SCALE_* correction.
func magCalibration(cfg *config.Config) sensors.MagCalibration {
	return sensors.MagCalibration{
		Offset: mgl64.Vec3{cfg.MagOffsetX, cfg.MagOffsetY, cfg.MagOffsetZ},
		Scale:  mgl64.Vec3{cfg.MagScaleX, cfg.MagScaleY, cfg.MagScaleZ},
	}
}
