package midimix

import "gitlab.com/gomidi/midi/v2/smf"

const (
	metaTrackName     = 0x03
	metaEndOfTrack    = 0x2F
	metaTempo         = 0x51
	metaTimeSignature = 0x58
)

func isMeta(m smf.Message, kind byte) bool {
	return len(m) >= 2 && m[0] == 0xFF && m[1] == kind
}

func isChannelMessage(m smf.Message) bool {
	return len(m) >= 1 && m[0] >= 0x80 && m[0] < 0xF0
}

func isNote(m smf.Message) bool {
	if len(m) < 1 {
		return false
	}
	status := m[0] & 0xF0
	return status == 0x80 || status == 0x90
}

// withChannel returns a copy of a channel message moved to channel.
func withChannel(m smf.Message, channel uint8) smf.Message {
	out := make(smf.Message, len(m))
	copy(out, m)
	out[0] = out[0]&0xF0 | channel&0x0F
	return out
}

// tempoMicros decodes a set-tempo meta event into microseconds per quarter.
func tempoMicros(m smf.Message) (uint32, bool) {
	if !isMeta(m, metaTempo) || len(m) < 6 {
		return 0, false
	}
	return uint32(m[3])<<16 | uint32(m[4])<<8 | uint32(m[5]), true
}
