package rtc

import "errors"

var (
	ErrRendezvousClosed = errors.New("rendezvous connection is closed")
	ErrCallClosed       = errors.New("call is closed")
	ErrCallExists       = errors.New("call already exists")
	ErrNoVideoSender    = errors.New("call has no outbound video sender")
	ErrNoAudioSender    = errors.New("call has no outbound audio sender")
	ErrMissingOffer     = errors.New("incoming call carries no offer")
)
