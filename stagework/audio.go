package stagework

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/artifact"
	"github.com/obsidiantrove/sleepyfactory/job"
)

const (
	sampleRate = 44100
	toneHz     = 440.0
	toneSecs   = 1.0
)

// Audio synthesizes a short sine-wave tone into a 16-bit mono PCM WAV
// file. No audio-synthesis library appears anywhere in the retrieval
// pack, so this stage stays on the standard library: encoding/binary
// for the WAV container, math for the waveform.
func Audio(store *artifact.Store) func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
	return func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
		data := synthesizeTone(sampleRate, toneHz, toneSecs)
		if _, err := store.WriteBytes(jobID, stage, "audio.wav", data, "audio_tone"); err != nil {
			return err
		}
		return nil
	}
}

func synthesizeTone(rate int, hz, secs float64) []byte {
	n := int(float64(rate) * secs)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(rate)
		samples[i] = int16(math.Sin(2*math.Pi*hz*t) * 0.25 * math.MaxInt16)
	}

	var buf bytes.Buffer
	dataSize := len(samples) * 2
	writeWAVHeader(&buf, rate, dataSize)
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

func writeWAVHeader(buf *bytes.Buffer, rate, dataSize int) {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := rate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(rate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
}
