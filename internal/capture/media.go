package capture

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tiger/mari-voice/api/voice"
)

// MediaTypeFromPath guesses the audio media type from a file extension.
func MediaTypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return voice.MediaTypeWAV
	case ".ogg", ".oga", ".opus":
		return voice.MediaTypeOGG
	case ".mp3":
		return voice.MediaTypeMP3
	case ".pcm", ".raw":
		return voice.MediaTypePCM
	default:
		return voice.MediaTypeWebM
	}
}

// IsPCM reports whether mediaType carries raw 16-bit PCM.
func IsPCM(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), strings.ToLower(voice.MediaTypePCM))
}

// PCMFormat reads the rate and channels parameters of an audio/L16 media
// type, falling back to 16 kHz mono.
func PCMFormat(mediaType string) (rate, channels int) {
	rate, channels = 16000, 1
	parts := strings.Split(mediaType, ";")
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			continue
		}
		switch strings.ToLower(key) {
		case "rate":
			rate = n
		case "channels":
			channels = n
		}
	}
	return rate, channels
}
