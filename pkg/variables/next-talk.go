package variables

import (
	"log"
	"os"
	"strconv"
)

const (
	HTTP_PORT_DEFAULT = "8086"
	HTTP_PORT_NAME    = "NEXT_TALK_HTTP_PORT"

	SIGNAL_URL_DEFAULT = "ws://localhost:5000/socket"
	SIGNAL_URL_NAME    = "NEXT_TALK_SIGNAL_URL"

	RENDEZVOUS_URL_DEFAULT = "ws://localhost:9000/rtc"
	RENDEZVOUS_URL_NAME    = "NEXT_TALK_RENDEZVOUS_URL"

	ICE_SERVERS_DEFAULT = "stun:stun.l.google.com:19302"
	ICE_SERVERS_NAME    = "NEXT_TALK_ICE_SERVERS"

	TURN_USERNAME_DEFAULT = ""
	TURN_USERNAME_NAME    = "NEXT_TALK_TURN_USERNAME"

	TURN_CREDENTIAL_DEFAULT = ""
	TURN_CREDENTIAL_NAME    = "NEXT_TALK_TURN_CREDENTIAL"

	PEER_ID_DEFAULT = ""
	PEER_ID_NAME    = "NEXT_TALK_PEER_ID"

	DISPLAY_NAME_DEFAULT = ""
	DISPLAY_NAME_NAME    = "NEXT_TALK_DISPLAY_NAME"

	ROOM_DEFAULT = ""
	ROOM_NAME    = "NEXT_TALK_ROOM"

	LOG_LEVEL_DEFAULT = "debug"
	LOG_LEVEL_NAME    = "NEXT_TALK_LOG_LEVEL"

	WEBRTC_UDP_PORT_DEFAULT = "0"
	WEBRTC_UDP_PORT_NAME    = "NEXT_TALK_WEBRTC_UDP_PORT"

	NAT_PUBLIC_IP_DEFAULT = ""
	NAT_PUBLIC_IP_NAME    = "NEXT_TALK_NAT_PUBLIC_IP"
)

func Env(variableName, defaultValue string) string {
	if variable := os.Getenv(variableName); variable != "" {
		log.Printf("[%s]: %s", variableName, variable)
		return variable
	}
	log.Printf("[%s_DEFAULT]: %s", variableName, defaultValue)
	return defaultValue
}

func ParseInt(value string) (int, error) {
	return strconv.Atoi(value)
}
