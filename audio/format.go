package audio

import (
	"fmt"
	"mime"
	"strconv"
	"strings"
)

// Format describes raw PCM sample layout.
type Format struct {
	SampleRate    int `json:"sampleRate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bitsPerSample"`
}

// OutputFormat is what the Live API streams back when nothing else is declared.
var OutputFormat = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

// InputFormat is what the Live API expects for realtime microphone input.
var InputFormat = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func (f Format) IsZero() bool {
	return f == Format{}
}

// MimeType renders the format the way the Live API labels PCM blobs.
func (f Format) MimeType() string {
	return "audio/pcm;rate=" + strconv.Itoa(f.SampleRate)
}

// BytesPerSecond returns the data rate, or 0 for an incomplete format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}

// WithDefaults fills unset fields from def.
func (f Format) WithDefaults(def Format) Format {
	if f.SampleRate == 0 {
		f.SampleRate = def.SampleRate
	}
	if f.Channels == 0 {
		f.Channels = def.Channels
	}
	if f.BitsPerSample == 0 {
		f.BitsPerSample = def.BitsPerSample
	}
	return f
}

// IsAudioMIME reports whether a blob mime type carries audio.
func IsAudioMIME(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "audio/")
}

// ParseMIME extracts a PCM format from a mime type such as
// "audio/pcm;rate=24000". Missing parameters are left zero.
func ParseMIME(mimeType string) (Format, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return Format{}, fmt.Errorf("parse mime %q: %w", mimeType, err)
	}
	if !strings.HasPrefix(mediaType, "audio/") {
		return Format{}, fmt.Errorf("mime %q is not audio", mimeType)
	}

	var f Format
	for key, dst := range map[string]*int{
		"rate":     &f.SampleRate,
		"channels": &f.Channels,
		"bits":     &f.BitsPerSample,
	} {
		v, ok := params[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Format{}, fmt.Errorf("mime %q: invalid %s %q", mimeType, key, v)
		}
		*dst = n
	}
	if f.BitsPerSample == 0 && (mediaType == "audio/pcm" || mediaType == "audio/l16") {
		f.BitsPerSample = 16
	}
	return f, nil
}
