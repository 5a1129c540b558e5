// Package effects plays the audio and vibration cues that accompany the
// phases of a call.
package effects

import (
	"fmt"
	"time"
)

// Kind names an effect.
type Kind int

const (
	// Ringtone plays while an incoming call rings.
	Ringtone Kind = iota
	// WaitingForContact plays while the server delivers an outgoing call.
	WaitingForContact
	// EncryptionHandshake plays while the call negotiates encryption.
	EncryptionHandshake
	// UnencryptedCall warns that the call is not encrypted.
	UnencryptedCall
	// NativeCallInterruption signals a competing native phone call.
	NativeCallInterruption
)

// Kinds lists every effect kind.
var Kinds = []Kind{Ringtone, WaitingForContact, EncryptionHandshake, UnencryptedCall, NativeCallInterruption}

// Vibration pattern shared by all effects. A clip is never replayed sooner
// than MinPlayTime after it started.
const (
	VibrateLength = 1 * time.Second
	VibratePause  = 1 * time.Second
	MinPlayTime   = VibrateLength + VibratePause
)

func (k Kind) String() string {
	switch k {
	case Ringtone:
		return "ringtone"
	case WaitingForContact:
		return "waiting_for_contact"
	case EncryptionHandshake:
		return "encryption_handshake"
	case UnencryptedCall:
		return "unencrypted_call"
	case NativeCallInterruption:
		return "native_call_interruption"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}
