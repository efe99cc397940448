// Package console is the Evacom Service Console endpoint used by the game.
//
// The player types an ACCESS KEY into the in-game console; the game sends it
// here and receives the Evacom ID to paste back into chat. Two transports
// are offered: a one-shot JSON POST and a websocket speaking the
// evacom.console.v1 envelope protocol.
package console
