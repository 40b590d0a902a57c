package media

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"

	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

// MediaDevicesOpener captures through pion/mediadevices. It must share the
// codec selector that populated the webrtc API's media engine, otherwise
// captured tracks cannot negotiate onto the peer connections.
type MediaDevicesOpener struct {
	codec *mediadevices.CodecSelector
}

func NewMediaDevicesOpener(codec *mediadevices.CodecSelector) *MediaDevicesOpener {
	return &MediaDevicesOpener{codec: codec}
}

func (o *MediaDevicesOpener) OpenCamera() (*Stream, error) {
	source, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
			c.FrameRate = prop.Float(30)
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
		},
		Codec: o.codec,
	})
	if err != nil {
		return nil, fmt.Errorf("getUserMedia: %w", err)
	}
	return NewStreamOf(fmt.Sprintf("camera-%s", uuid.NewString()), source), nil
}

func (o *MediaDevicesOpener) OpenScreen() (*Stream, error) {
	source, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormat(frame.FormatI420)
			c.Width = prop.Int(1280)
			c.Height = prop.Int(720)
		},
		Codec: o.codec,
	})
	if err != nil {
		return nil, fmt.Errorf("getDisplayMedia: %w", err)
	}
	return NewStreamOf(fmt.Sprintf("screen-%s", uuid.NewString()), source), nil
}

var _ DeviceOpener = (*MediaDevicesOpener)(nil)
