package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/config"
	"github.com/relabs-tech/heading_viewer/internal/display"
	"github.com/relabs-tech/heading_viewer/internal/frame"
	"github.com/relabs-tech/heading_viewer/internal/orientation"
	"github.com/relabs-tech/heading_viewer/internal/render"
	"github.com/relabs-tech/heading_viewer/internal/scene"
	"github.com/relabs-tech/heading_viewer/internal/sensors"
	"github.com/relabs-tech/heading_viewer/internal/viewer"
)

// Size of the raster served on /api/frame.png and of the window.
const (
	rasterWidth  = 320
	rasterHeight = 240
)

// loadCatalog returns the built-in catalog, merged with cfg.CatalogFile when
// one is set.
func loadCatalog(cfg *config.Config) (*scene.Catalog, error) {
	if cfg.CatalogFile == "" {
		return scene.DefaultCatalog(), nil
	}
	c, err := scene.LoadCatalogFile(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	log.Info().Str("file", cfg.CatalogFile).Strs("scenes", c.Names()).Msg("viewer: catalog loaded")
	return c, nil
}

// runner is the frame source driving the scheduler.
type runner interface {
	frame.Choreographer
	Run(ctx context.Context) error
}

// RunViewer loads the configured scene, wires sensors, estimator, policy and
// surface, and runs frames until SIGINT/SIGTERM or the window closes.
func RunViewer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	desc, err := catalog.Lookup(cfg.Scene)
	if err != nil {
		return fmt.Errorf("scene %q (known: %v): %w", cfg.Scene, catalog.Names(), err)
	}

	// MQTT is needed for the mqtt sensor source and for heading publishing.
	var client mqtt.Client
	if cfg.SensorSource == config.SensorSourceMQTT || cfg.HeadingPublishInterval > 0 {
		client, err = connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDViewer)
		if err != nil {
			if cfg.SensorSource == config.SensorSourceMQTT {
				return err
			}
			log.Warn().Err(err).Msg("viewer: heading publishing disabled")
		} else {
			defer client.Disconnect(250)
		}
	}

	est := orientation.NewEstimator(orientation.Options{})
	raw, err := newSensorManager(cfg, client)
	if err != nil {
		return err
	}
	var collector *sensors.MagCollector
	if raw != nil {
		cal := magCalibration(cfg)
		if !cal.IsIdentity() {
			log.Info().Interface("calibration", cal).Msg("viewer: magnetometer calibration applied")
		}
		est.RegisterListener(sensors.WithMagCalibration(raw, cal))
		defer est.UnregisterListener()

		// The collector sees raw samples so its result can go straight into
		// MAG_OFFSET_* / MAG_SCALE_*.
		if raw.DefaultSensor(sensors.Magnetometer) {
			collector = &sensors.MagCollector{}
			if raw.RegisterListener(collector, sensors.Magnetometer) {
				defer raw.UnregisterListener(collector)
			} else {
				collector = nil
			}
		}
	} else {
		log.Info().Msg("viewer: no sensor source, heading disabled")
	}

	raster := render.NewRasterSurface(rasterWidth, rasterHeight)
	surfaces := render.Multi{raster}
	var choreographer runner
	switch cfg.Display {
	case config.DisplayWindow:
		w := display.NewWindow("heading viewer: "+desc.Name, rasterWidth, rasterHeight, cfg.RefreshHz)
		surfaces = append(surfaces, w)
		choreographer = w
	case config.DisplayOLED:
		oled, err := render.OpenOLED(cfg.OLEDI2CBus, cfg.OLEDI2CAddr)
		if err != nil {
			return err
		}
		defer func() {
			if err := oled.Close(); err != nil {
				log.Warn().Err(err).Msg("viewer: oled close failed")
			}
		}()
		surfaces = append(surfaces, oled)
		choreographer = frame.NewTickerChoreographer(cfg.RefreshHz)
	default:
		every := uint64(cfg.RefreshHz * cfg.ConsoleLogInterval / 1000)
		surfaces = append(surfaces, render.NewLogSurface(every))
		choreographer = frame.NewTickerChoreographer(cfg.RefreshHz)
	}

	v := viewer.New(surfaces, est)
	asset, err := v.Load(desc, scene.BuiltinLibrary())
	if err != nil {
		return err
	}
	policy, err := scene.NewPolicy(desc.Policy, asset)
	if err != nil {
		return err
	}

	sched := frame.NewScheduler(frame.Config{
		Choreographer: choreographer,
		Policy:        policy,
		Renderer:      v,
		Heading:       est,
	})

	if cfg.WebServerPort > 0 {
		web := NewWebServer(est, v, sched, raster)
		if collector != nil {
			web.MagCalibration = collector
		}
		go func() {
			if err := web.ListenAndServe(ctx, ":"+strconv.Itoa(cfg.WebServerPort)); err != nil {
				log.Error().Err(err).Msg("viewer: web server failed")
			}
		}()
	}
	if client != nil && cfg.HeadingPublishInterval > 0 {
		pub := NewHeadingPublisher(client, cfg.TopicHeading, cfg.PublishInterval(), desc.Name, est)
		go pub.Run(ctx)
	}

	sched.Start()
	defer sched.Stop()
	log.Info().
		Str("scene", desc.Name).
		Str("policy", string(policy.Kind())).
		Str("display", cfg.Display).
		Str("sensors", cfg.SensorSource).
		Msg("viewer: running")

	// Window mode runs on the main goroutine; returning ends everything else.
	err = choreographer.Run(ctx)
	interrupted := ctx.Err() != nil
	stop()
	if err != nil && !interrupted {
		return err
	}
	log.Info().Uint64("frames", sched.Frames()).Uint64("render_errors", sched.RenderErrors()).Msg("viewer: shutting down")
	return nil
}
