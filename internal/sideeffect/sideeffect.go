// Package sideeffect defines the boundary between session/trigger logic
// and the audible feedback a full client would give (sound effects for
// events like joins and status changes, and spoken text for the trigger
// engine's "say" action). Actual playback/TTS is out of scope; this
// package only declares the interfaces and a no-op default.
package sideeffect

// SoundPlayer plays a named sound from a server's configured sound pack
// (e.g. "join.wav", "status.wav"). It corresponds to the reference
// client's queued player.sendFile/soundpool.play_stationary_extended
// calls.
type SoundPlayer interface {
	Play(soundName string)
}

// Speaker speaks a line of text aloud, corresponding to the reference
// client's platform "say" helper used by the trigger engine's `say`
// action.
type Speaker interface {
	Say(text string)
}

// Silent is a SoundPlayer and Speaker that does nothing. It is the
// default wired into a Server when no sound/TTS backend is configured.
type Silent struct{}

func (Silent) Play(string) {}
func (Silent) Say(string)  {}
