package capture

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/tiger/mari-voice/api/voice"
)

// EncodeWAV wraps little-endian 16-bit PCM samples in a WAV container.
// The encoder needs a seekable sink, so samples go through a temp file.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("pcm buffer is empty")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm buffer has odd length %d", len(pcm))
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format rate=%d channels=%d", sampleRate, channels)
	}

	path := filepath.Join(os.TempDir(), "mari-"+uuid.NewString()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav temp file: %w", err)
	}
	defer os.Remove(path)

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, len(pcm)/2),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// PCMToWAV converts a PCM payload into a WAV payload using the rate and
// channel parameters carried by its media type. Other payloads are returned
// unchanged.
func PCMToWAV(p voice.AudioPayload) (voice.AudioPayload, error) {
	if !IsPCM(p.MediaType) {
		return p, nil
	}
	rate, channels := PCMFormat(p.MediaType)
	data, err := EncodeWAV(p.Data, rate, channels)
	if err != nil {
		return p, err
	}
	p.Data = data
	p.MediaType = voice.MediaTypeWAV
	return p, nil
}
