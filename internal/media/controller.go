package media

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"
)

var ErrNoScreenStream = errors.New("no active screen stream")

// DeviceOpener is the capture seam. The production opener drives
// mediadevices; tests substitute deterministic fakes.
type DeviceOpener interface {
	OpenCamera() (*Stream, error)
	OpenScreen() (*Stream, error)
}

// Controller owns the local capture state: the camera+microphone stream,
// the optional screen stream, and the camera/audio UI flags. Denied device
// access is logged and leaves the stream absent; the session keeps running
// without it.
type Controller struct {
	logger *slog.Logger
	opener DeviceOpener

	mu     sync.Mutex
	camera *Stream
	screen *Stream

	cameraOn *atomic.Bool
	audioOn  *atomic.Bool
}

type NewControllerParams struct {
	Logger *slog.Logger
	Opener DeviceOpener
}

func NewController(params NewControllerParams) *Controller {
	return &Controller{
		logger:   params.Logger,
		opener:   params.Opener,
		cameraOn: atomic.NewBool(true),
		audioOn:  atomic.NewBool(true),
	}
}

// AcquireCamera requests camera+microphone access. A fresh acquisition
// replaces (and closes) any previous camera stream, then applies the current
// toggle flags to the new tracks. Flags flipped while no stream existed
// are reconciled here.
func (c *Controller) AcquireCamera() (*Stream, error) {
	stream, err := c.opener.OpenCamera()
	if err != nil {
		c.logger.Warn("camera access denied", "err", err)
		return nil, fmt.Errorf("acquire camera: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.camera != nil {
		c.camera.Close()
	}
	c.camera = stream

	stream.SetKindEnabled(TrackKindVideo, c.cameraOn.Load())
	stream.SetKindEnabled(TrackKindAudio, c.audioOn.Load())

	return stream, nil
}

// AcquireScreen requests display capture. The camera stream is left
// untouched either way; cancellation or denial simply yields no screen
// stream.
func (c *Controller) AcquireScreen() (*Stream, error) {
	stream, err := c.opener.OpenScreen()
	if err != nil {
		c.logger.Warn("screen capture denied", "err", err)
		return nil, fmt.Errorf("acquire screen: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.screen != nil {
		c.screen.Close()
	}
	c.screen = stream

	return stream, nil
}

// ReleaseScreen closes and forgets the screen stream.
func (c *Controller) ReleaseScreen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.screen == nil {
		return ErrNoScreenStream
	}
	c.screen.Close()
	c.screen = nil
	return nil
}

// ToggleCamera flips the camera UI flag and, when a camera stream exists,
// every video track's enabled bit in lockstep. Without a stream only the
// flag flips.
func (c *Controller) ToggleCamera() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	on := !c.cameraOn.Load()
	c.cameraOn.Store(on)
	if c.camera != nil {
		c.camera.SetKindEnabled(TrackKindVideo, on)
	}
	return on
}

// ToggleAudio mirrors ToggleCamera for audio tracks.
func (c *Controller) ToggleAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	on := !c.audioOn.Load()
	c.audioOn.Store(on)
	if c.camera != nil {
		c.camera.SetKindEnabled(TrackKindAudio, on)
	}
	return on
}

func (c *Controller) Camera() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camera
}

func (c *Controller) Screen() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen
}

func (c *Controller) CameraOn() bool { return c.cameraOn.Load() }

func (c *Controller) AudioOn() bool { return c.audioOn.Load() }

type State struct {
	CameraOn  bool `json:"cameraOn"`
	AudioOn   bool `json:"audioOn"`
	HasCamera bool `json:"hasCamera"`
	HasScreen bool `json:"hasScreen"`
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		CameraOn:  c.cameraOn.Load(),
		AudioOn:   c.audioOn.Load(),
		HasCamera: c.camera != nil,
		HasScreen: c.screen != nil,
	}
}

// Close releases every device handle.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.camera != nil {
		c.camera.Close()
		c.camera = nil
	}
	if c.screen != nil {
		c.screen.Close()
		c.screen = nil
	}
}
