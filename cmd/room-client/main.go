package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	webrtc "github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Sergey-Ryabko-84/next-talk/internal/console"
	"github.com/Sergey-Ryabko-84/next-talk/internal/identity"
	"github.com/Sergey-Ryabko-84/next-talk/internal/media"
	"github.com/Sergey-Ryabko-84/next-talk/internal/rtc"
	"github.com/Sergey-Ryabko-84/next-talk/internal/session"
	"github.com/Sergey-Ryabko-84/next-talk/internal/signaling"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/rtpstats"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/service"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/variables"

	"github.com/pion/mediadevices"
)

var version = "dev"

const dialTimeout = 15 * time.Second

// flagEnv maps every CLI flag onto its environment variable. A flag the
// user set wins over the environment, which wins over the default.
var flagEnv = map[string]string{
	"signal-url":      variables.SIGNAL_URL_NAME,
	"rendezvous-url":  variables.RENDEZVOUS_URL_NAME,
	"http-port":       variables.HTTP_PORT_NAME,
	"log-level":       variables.LOG_LEVEL_NAME,
	"ice-servers":     variables.ICE_SERVERS_NAME,
	"turn-username":   variables.TURN_USERNAME_NAME,
	"turn-credential": variables.TURN_CREDENTIAL_NAME,
	"peer-id":         variables.PEER_ID_NAME,
	"name":            variables.DISPLAY_NAME_NAME,
	"room":            variables.ROOM_NAME,
	"udp-port":        variables.WEBRTC_UDP_PORT_NAME,
	"nat-public-ip":   variables.NAT_PUBLIC_IP_NAME,
}

func newLocalIdentity() identity.Local {
	return identity.NewLocal(identity.NewLocalParams{
		PeerID: variables.Env(variables.PEER_ID_NAME, variables.PEER_ID_DEFAULT),
		Name:   variables.Env(variables.DISPLAY_NAME_NAME, variables.DISPLAY_NAME_DEFAULT),
	})
}

func newDeviceOpener(codec *mediadevices.CodecSelector) media.DeviceOpener {
	return media.NewMediaDevicesOpener(codec)
}

func newMediaController(logger *slog.Logger, opener media.DeviceOpener) *media.Controller {
	return media.NewController(media.NewControllerParams{
		Logger: logger,
		Opener: opener,
	})
}

func newSignalingBus(logger *slog.Logger) (signaling.Bus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	return signaling.Dial(ctx, signaling.DialParams{
		Endpoint: variables.Env(variables.SIGNAL_URL_NAME, variables.SIGNAL_URL_DEFAULT),
		Logger:   logger,
	})
}

func iceServers() []webrtc.ICEServer {
	username := variables.Env(variables.TURN_USERNAME_NAME, variables.TURN_USERNAME_DEFAULT)
	credential := variables.Env(variables.TURN_CREDENTIAL_NAME, variables.TURN_CREDENTIAL_DEFAULT)

	var servers []webrtc.ICEServer
	raw := variables.Env(variables.ICE_SERVERS_NAME, variables.ICE_SERVERS_DEFAULT)
	for _, url := range strings.Split(raw, ",") {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}

		server := webrtc.ICEServer{URLs: []string{url}}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			server.Username = username
			server.Credential = credential
		}
		servers = append(servers, server)
	}
	return servers
}

func newConnector(logger *slog.Logger, api *webrtc.API, flows *rtpstats.Registry, local identity.Local) (session.Connector, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	return rtc.Dial(ctx, rtc.DialParams{
		Endpoint:   variables.Env(variables.RENDEZVOUS_URL_NAME, variables.RENDEZVOUS_URL_DEFAULT),
		Local:      local,
		API:        api,
		ICEServers: iceServers(),
		Flows:      flows,
		Logger:     logger,
	})
}

func newRoomSession(logger *slog.Logger, bus signaling.Bus, connector session.Connector, controller *media.Controller, local identity.Local) *session.Session {
	return session.NewSession(session.NewSessionParams{
		Logger:    logger,
		Bus:       bus,
		Connector: connector,
		Media:     controller,
		Local:     local,
		Config: session.Config{
			RoomID: variables.Env(variables.ROOM_NAME, variables.ROOM_DEFAULT),
		},
	})
}

type runSession_Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Session   *session.Session
	Logger    *slog.Logger
}

func runRoomSession(params runSession_Params) {
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// The session outlives fx startup; its calls hang off this
			// context, not the start deadline.
			if err := params.Session.Start(context.Background()); err != nil {
				return err
			}

			updates := params.Session.Notifier().Subscribe("room-adoption")
			go func() {
				defer params.Session.Notifier().Unsubscribe("room-adoption")
				for update := range updates {
					if update.Kind != session.UpdateRoom {
						continue
					}
					if room := params.Session.RoomID(); room != "" {
						fmt.Printf("room: %s\n", room)
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			return params.Session.Close()
		},
	})
}

func newApp() *fx.App {
	return fx.New(
		fx.Provide(
			newLocalIdentity,
			newDeviceOpener,
			newMediaController,
			newSignalingBus,
			newConnector,
			newRoomSession,

			protocol.AsHttpController(console.NewSessionController),
		),

		fx.Invoke(runRoomSession),

		service.LoggerModule,
		service.WebrtcModule,
		service.HttpModule,
	)
}

// overrideEnv pushes explicitly set flags into the environment, where the
// variables package resolves them.
func overrideEnv(cmd *cobra.Command) {
	for name, env := range flagEnv {
		flag := cmd.Flags().Lookup(name)
		if flag != nil && flag.Changed {
			os.Setenv(env, flag.Value.String())
		}
	}
}

func main() {
	root := &cobra.Command{
		Use:           "room-client",
		Short:         "Headless participant for a next-talk video room",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("signal-url", variables.SIGNAL_URL_DEFAULT, "signaling websocket endpoint")
	flags.String("rendezvous-url", variables.RENDEZVOUS_URL_DEFAULT, "media rendezvous websocket endpoint")
	flags.String("http-port", variables.HTTP_PORT_DEFAULT, "local console port")
	flags.String("log-level", variables.LOG_LEVEL_DEFAULT, "log level (debug, info, warn, error)")
	flags.String("ice-servers", variables.ICE_SERVERS_DEFAULT, "comma-separated STUN/TURN urls")
	flags.String("turn-username", variables.TURN_USERNAME_DEFAULT, "TURN username")
	flags.String("turn-credential", variables.TURN_CREDENTIAL_DEFAULT, "TURN credential")
	flags.String("peer-id", variables.PEER_ID_DEFAULT, "pin the local peer id")
	flags.String("name", variables.DISPLAY_NAME_DEFAULT, "display name shown to the room")
	flags.String("udp-port", variables.WEBRTC_UDP_PORT_DEFAULT, "pinned webrtc UDP mux port, 0 for ephemeral")
	flags.String("nat-public-ip", variables.NAT_PUBLIC_IP_DEFAULT, "public IP substituted into host candidates")

	join := &cobra.Command{
		Use:   "join",
		Short: "Join an existing room",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrideEnv(cmd)
			room, _ := cmd.Flags().GetString("room")
			if room == "" {
				room = variables.Env(variables.ROOM_NAME, variables.ROOM_DEFAULT)
			}
			if room == "" {
				return fmt.Errorf("join requires --room or %s", variables.ROOM_NAME)
			}
			os.Setenv(variables.ROOM_NAME, room)
			newApp().Run()
			return nil
		},
	}
	join.Flags().String("room", variables.ROOM_DEFAULT, "room id to join")

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a room and join it",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrideEnv(cmd)
			os.Unsetenv(variables.ROOM_NAME)
			newApp().Run()
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(join, create, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
