// Package probe validates assembled output independently of the decryption
// engine, by actually decoding it. The engine's guarantee stops at "bytes
// assembled from authenticated segments"; the probe answers whether those
// bytes are playable audio and what its real duration is.
//
// Only Vorbis output is probed for now, matching the codec HotAudio serves.
package probe

import (
	"fmt"
	"io"

	"github.com/xlab/vorbis-go/decoder"
)

// samplesPerChannel is the decode granularity handed to the Vorbis decoder.
const samplesPerChannel = 2048

// Info is what the probe learned about an assembled stream.
type Info struct {
	Channels   int32
	SampleRate float64
	DurationMs int64
}

// Vorbis decodes the entire stream and reports its parameters. A decode
// error means the assembled bytes are not valid Vorbis audio.
func Vorbis(r io.Reader) (*Info, error) {
	dec, err := decoder.New(r, samplesPerChannel)
	if err != nil {
		return nil, fmt.Errorf("hax: probe: %w", err)
	}

	streamInfo := dec.Info()

	go func() {
		dec.Decode()
		dec.Close()
	}()

	// Count decoded frames to measure the true duration.
	samples := int64(0)
	for frame := range dec.SamplesOut() {
		samples += int64(len(frame))
	}

	info := &Info{
		Channels:   streamInfo.Channels,
		SampleRate: streamInfo.SampleRate,
	}
	if streamInfo.SampleRate > 0 {
		info.DurationMs = int64(float64(samples) / streamInfo.SampleRate * 1000)
	}
	return info, nil
}
