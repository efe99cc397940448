package console

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 4 << 10

	// Max bytes of a POST /console/redeem body.
	maxBodyBytes = 1 << 10

	// Max length of a client-supplied envelope id.
	maxEnvelopeIDChars = 64

	maxPingFailures = 3
	closeGrace      = 1 * time.Second
)
