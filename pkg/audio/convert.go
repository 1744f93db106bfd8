// Package audio provides PCM conversion and shaping helpers shared by the
// ingest and playback pipelines. All byte-oriented functions operate on
// signed 16-bit little-endian mono PCM.
package audio

import (
	"math"
	"time"
)

// Int16ToFloat32 converts little-endian int16 PCM bytes to float32 samples
// normalized to [-1, 1]. A trailing odd byte is ignored.
func Int16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts normalized float32 samples to little-endian int16
// PCM bytes, clamping values outside [-1, 1].
func Float32ToInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		s := int16(f * 32767)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// RMS returns the root-mean-square energy of normalized samples.
// An empty slice yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// FadeIn applies a linear gain ramp from 0 to 1 over d at the start of pcm,
// in place. The ramp is shortened to the buffer length when pcm is shorter
// than d. Used on the first block of a reply to avoid onset clicks.
func FadeIn(pcm []byte, sampleRate int, d time.Duration) {
	n := rampSamples(len(pcm), sampleRate, d)
	for i := range n {
		gain := float64(i) / float64(n)
		scaleSample(pcm, i, gain)
	}
}

// FadeOut applies a linear gain ramp from 1 to 0 over d at the end of pcm,
// in place. Used on the final block when playback is interrupted.
func FadeOut(pcm []byte, sampleRate int, d time.Duration) {
	total := len(pcm) / 2
	n := rampSamples(len(pcm), sampleRate, d)
	for i := range n {
		gain := float64(i) / float64(n)
		scaleSample(pcm, total-1-i, gain)
	}
}

// rampSamples returns the ramp length in samples, capped to the buffer.
func rampSamples(pcmLen, sampleRate int, d time.Duration) int {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if total := pcmLen / 2; n > total {
		n = total
	}
	return n
}

// scaleSample multiplies the int16 sample at index i by gain, clamping the
// result. Out-of-range indexes are ignored.
func scaleSample(pcm []byte, i int, gain float64) {
	if i < 0 || (i+1)*2 > len(pcm) {
		return
	}
	s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	v := float64(s) * gain
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	out := int16(v)
	pcm[i*2] = byte(out)
	pcm[i*2+1] = byte(out >> 8)
}
