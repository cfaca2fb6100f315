// Package audio conforms synthesized PCM audio to the rate the avatar
// provider expects.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

// FormatPCM16LE is 16-bit signed little-endian mono PCM.
const FormatPCM16LE = "pcm_s16le"

// IsPCM16LE reports whether format names raw 16-bit little-endian PCM.
func IsPCM16LE(format string) bool {
	f := strings.ToLower(strings.TrimSpace(format))
	return f == FormatPCM16LE || f == "pcm"
}

// BytesToSamples decodes little-endian 16-bit samples.
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// Resample converts samples between rates by linear interpolation.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(math.Round(float64(len(samples)) * ratio))
	if outputLength == 0 {
		outputLength = 1
	}
	output := make([]int16, outputLength)
	last := len(samples) - 1

	for i := range output {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		if idx0 > last {
			idx0 = last
		}
		idx1 := idx0 + 1
		if idx1 > last {
			idx1 = last
		}
		fraction := srcPos - float64(idx0)
		v := float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction
		output[i] = clamp16(v)
	}
	return output
}

// ResamplePCM16LE resamples raw little-endian PCM bytes.
func ResamplePCM16LE(data []byte, inputRate, outputRate int) ([]byte, error) {
	if inputRate == outputRate {
		return data, nil
	}
	samples, err := BytesToSamples(data)
	if err != nil {
		return nil, err
	}
	return SamplesToBytes(Resample(samples, inputRate, outputRate)), nil
}

// ConformBase64 resamples base64 PCM from inputRate to outputRate. Audio in
// other formats, or when either rate is unset, is returned unchanged along
// with inputRate.
func ConformBase64(audioBase64, format string, inputRate, outputRate int) (string, int, error) {
	if !IsPCM16LE(format) || inputRate <= 0 || outputRate <= 0 || inputRate == outputRate {
		return audioBase64, inputRate, nil
	}
	raw, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", 0, fmt.Errorf("decode audio: %w", err)
	}
	resampled, err := ResamplePCM16LE(raw, inputRate, outputRate)
	if err != nil {
		return "", 0, err
	}
	return base64.StdEncoding.EncodeToString(resampled), outputRate, nil
}

// Duration returns the playback length of PCM16 mono audio in milliseconds.
func Duration(byteLen, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return byteLen / 2 * 1000 / sampleRate
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
