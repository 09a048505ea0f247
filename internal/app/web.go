package app

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/frame"
	"github.com/relabs-tech/heading_viewer/internal/orientation"
	"github.com/relabs-tech/heading_viewer/internal/render"
	"github.com/relabs-tech/heading_viewer/internal/scene"
	"github.com/relabs-tech/heading_viewer/internal/sensors"
)

// HeadingFeed is what the web server needs from the estimator.
type HeadingFeed interface {
	StateSource
	Subscribe(buffer int) (<-chan float64, func())
}

// SceneSource reports the active scene descriptor.
type SceneSource interface {
	Descriptor() (scene.Descriptor, bool)
}

// FrameControl is the host lifecycle of the frame scheduler.
type FrameControl interface {
	Start()
	Stop()
	State() frame.State
	Frames() uint64
	RenderErrors() uint64
}

// MagCalibrationSource estimates magnetometer calibration from live samples.
type MagCalibrationSource interface {
	Result() sensors.MagCollectorResult
	Reset()
}

// WebServer serves the viewer's JSON API and the heading websocket.
type WebServer struct {
	Heading HeadingFeed
	Scene   SceneSource
	Frames  FrameControl
	// Raster is optional; /api/frame.png returns 404 without it.
	Raster *render.RasterSurface
	// MagCalibration is optional; the calibration endpoints answer 503
	// without it.
	MagCalibration MagCalibrationSource

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// HeadingResponse is the body of GET /api/heading.
type HeadingResponse struct {
	Heading float64            `json:"heading"`
	Pose    orientation.Pose   `json:"pose"`
	Angles  orientation.Angles `json:"angles"`
}

// FramesResponse is the body of the /api/frames endpoints.
type FramesResponse struct {
	State        string `json:"state"`
	Frames       uint64 `json:"frames"`
	RenderErrors uint64 `json:"render_errors"`
}

// NewWebServer creates a server; any source may be nil and its endpoints
// then answer 503.
func NewWebServer(heading HeadingFeed, sc SceneSource, frames FrameControl, raster *render.RasterSurface) *WebServer {
	return &WebServer{
		Heading: heading,
		Scene:   sc,
		Frames:  frames,
		Raster:  raster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.With().Str("component", "web").Logger(),
	}
}

// Handler returns the HTTP routes.
func (s *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/heading", s.handleHeading)
	mux.HandleFunc("GET /api/scene", s.handleScene)
	mux.HandleFunc("GET /api/frames", s.handleFrames)
	mux.HandleFunc("POST /api/frames/pause", s.handlePause)
	mux.HandleFunc("POST /api/frames/resume", s.handleResume)
	mux.HandleFunc("GET /api/frame.png", s.handleFramePNG)
	mux.HandleFunc("GET /api/calibration/mag", s.handleMagCalibration)
	mux.HandleFunc("POST /api/calibration/mag/reset", s.handleMagCalibrationReset)
	mux.HandleFunc("GET /ws/heading", s.handleHeadingWS)
	return mux
}

// ListenAndServe serves on addr until ctx is done.
func (s *WebServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("web: shutdown failed")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("web: server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("web: json encode error")
	}
}

func (s *WebServer) handleHeading(w http.ResponseWriter, _ *http.Request) {
	if s.Heading == nil {
		http.Error(w, "no heading source", http.StatusServiceUnavailable)
		return
	}
	st, ok := s.Heading.State()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, HeadingResponse{Heading: st.Heading, Pose: st.Pose(), Angles: st.Angles})
}

func (s *WebServer) handleScene(w http.ResponseWriter, _ *http.Request) {
	if s.Scene == nil {
		http.Error(w, "no scene", http.StatusServiceUnavailable)
		return
	}
	desc, ok := s.Scene.Descriptor()
	if !ok {
		http.Error(w, "no scene loaded", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, desc)
}

func (s *WebServer) framesResponse() FramesResponse {
	return FramesResponse{
		State:        s.Frames.State().String(),
		Frames:       s.Frames.Frames(),
		RenderErrors: s.Frames.RenderErrors(),
	}
}

func (s *WebServer) handleFrames(w http.ResponseWriter, _ *http.Request) {
	if s.Frames == nil {
		http.Error(w, "no scheduler", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.framesResponse())
}

func (s *WebServer) handlePause(w http.ResponseWriter, _ *http.Request) {
	if s.Frames == nil {
		http.Error(w, "no scheduler", http.StatusServiceUnavailable)
		return
	}
	s.Frames.Stop()
	s.log.Info().Msg("web: frames paused")
	s.writeJSON(w, s.framesResponse())
}

func (s *WebServer) handleResume(w http.ResponseWriter, _ *http.Request) {
	if s.Frames == nil {
		http.Error(w, "no scheduler", http.StatusServiceUnavailable)
		return
	}
	s.Frames.Start()
	s.log.Info().Msg("web: frames resumed")
	s.writeJSON(w, s.framesResponse())
}

func (s *WebServer) handleMagCalibration(w http.ResponseWriter, _ *http.Request) {
	if s.MagCalibration == nil {
		http.Error(w, "no magnetometer", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.MagCalibration.Result())
}

func (s *WebServer) handleMagCalibrationReset(w http.ResponseWriter, _ *http.Request) {
	if s.MagCalibration == nil {
		http.Error(w, "no magnetometer", http.StatusServiceUnavailable)
		return
	}
	s.MagCalibration.Reset()
	s.log.Info().Msg("web: magnetometer calibration reset")
	s.writeJSON(w, s.MagCalibration.Result())
}

func (s *WebServer) handleFramePNG(w http.ResponseWriter, r *http.Request) {
	if s.Raster == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, s.Raster.Snapshot()); err != nil {
		s.log.Warn().Err(err).Msg("web: png encode error")
	}
}

// handleHeadingWS streams every emitted heading as a HeadingMessage until the
// client goes away.
func (s *WebServer) handleHeadingWS(w http.ResponseWriter, r *http.Request) {
	if s.Heading == nil {
		http.Error(w, "no heading source", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("web: websocket upgrade failed")
		return
	}
	defer conn.Close()

	headings, cancel := s.Heading.Subscribe(16)
	defer cancel()

	// The read loop only notices the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("web: websocket client connected")
	for {
		select {
		case <-closed:
			s.log.Debug().Str("remote", r.RemoteAddr).Msg("web: websocket client gone")
			return
		case <-r.Context().Done():
			return
		case h := <-headings:
			st, _ := s.Heading.State()
			msg := NewHeadingMessage("", st, time.Now())
			msg.Heading = h
			if desc, ok := s.sceneDescriptor(); ok {
				msg.Scene = desc.Name
			}
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug().Err(err).Msg("web: websocket write failed")
				return
			}
		}
	}
}

func (s *WebServer) sceneDescriptor() (scene.Descriptor, bool) {
	if s.Scene == nil {
		return scene.Descriptor{}, false
	}
	return s.Scene.Descriptor()
}
