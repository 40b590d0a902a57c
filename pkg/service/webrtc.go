package service

import (
	"log/slog"

	ice "github.com/pion/ice/v2"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/x264"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/fx"

	"github.com/Sergey-Ryabko-84/next-talk/pkg/rtpstats"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/variables"
)

// codecSelector is shared between the media engine and the capture layer:
// tracks captured with it negotiate onto connections built from the same
// API instance.
func codecSelector() (*mediadevices.CodecSelector, error) {
	x264Params, err := x264.NewParams()
	if err != nil {
		return nil, err
	}
	x264Params.Preset = x264.PresetUltrafast
	x264Params.BitRate = 500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&x264Params),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func flowRegistry() *rtpstats.Registry {
	return rtpstats.NewRegistry()
}

type webrtcAPI_Params struct {
	fx.In

	Codec *mediadevices.CodecSelector
	Flows *rtpstats.Registry
}

func webrtcAPI(params webrtcAPI_Params) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	params.Codec.Populate(mediaEngine)

	mediaSettings := webrtc.SettingEngine{}
	mediaSettings.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
	})

	udpPort, err := variables.ParseInt(variables.Env(
		variables.WEBRTC_UDP_PORT_NAME, variables.WEBRTC_UDP_PORT_DEFAULT))
	if err != nil {
		return nil, err
	}
	if udpPort > 0 {
		udpMux, err := ice.NewMultiUDPMuxFromPort(udpPort)
		if err != nil {
			return nil, err
		}
		mediaSettings.SetICEUDPMux(udpMux)
	}

	if natIP := variables.Env(variables.NAT_PUBLIC_IP_NAME, variables.NAT_PUBLIC_IP_DEFAULT); natIP != "" {
		mediaSettings.SetNAT1To1IPs([]string{natIP}, webrtc.ICECandidateTypeHost)
	}

	interceptorRegistry := &interceptor.Registry{}

	statsFactory, err := stats.NewInterceptor()
	if err != nil {
		return nil, err
	}
	statsFactory.OnNewPeerConnection(func(id string, getter stats.Getter) {
		params.Flows.RegisterGetter(id, getter)
	})
	interceptorRegistry.Add(statsFactory)

	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, err
	}
	interceptorRegistry.Add(pli)

	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(mediaSettings),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	), nil
}

var WebrtcModule = fx.Module("webrtc", fx.Provide(
	codecSelector,
	flowRegistry,
	webrtcAPI,
),
	fx.Invoke(func(log *slog.Logger, api *webrtc.API) {
		log.Debug("webrtc api ready")
	}),
)
