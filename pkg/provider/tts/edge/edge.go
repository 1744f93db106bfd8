// Package edge provides a TTS provider backed by the Microsoft Edge
// read-aloud WebSocket service. It needs no API key and emits MP3 audio at
// 24 kHz, 48 kbit/s mono.
//
// Each Synthesize call opens its own connection: the service closes streams
// after one turn, and per-request connections keep cancellation simple.
package edge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxtail/voxtail/pkg/provider/tts"
	"github.com/voxtail/voxtail/pkg/types"
)

const (
	wsEndpoint   = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	trustedToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	outputFormat = "audio-24khz-48kbitrate-mono-mp3"

	// SampleRate is the PCM rate the emitted MP3 decodes to.
	SampleRate = 24000
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider against the Edge read-aloud service.
type Provider struct {
	endpoint string
	rate     string
	pitch    string
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the service URL. Used in tests to point at a local
// fake.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = url
	}
}

// WithRate sets the speaking rate as a signed percentage, e.g. "+10%".
func WithRate(rate string) Option {
	return func(p *Provider) {
		p.rate = rate
	}
}

// WithPitch sets the voice pitch as a signed offset, e.g. "-5Hz".
func WithPitch(pitch string) Option {
	return func(p *Provider) {
		p.pitch = pitch
	}
}

// New creates a new Edge TTS Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		endpoint: wsEndpoint,
		rate:     "+0%",
		pitch:    "+0Hz",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Format implements tts.Provider.
func (p *Provider) Format() tts.Format {
	return tts.FormatMP3
}

// Synthesize implements tts.Provider. It dials the service, sends the audio
// configuration and the SSML request, and streams MP3 payloads until the
// service signals end of turn.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("edge: text must not be empty")
	}
	if voice.ID == "" {
		return nil, errors.New("edge: voice.ID must not be empty")
	}

	rate, pitch := p.rate, p.pitch
	if voice.Rate != "" {
		rate = voice.Rate
	}
	if voice.Pitch != "" {
		pitch = voice.Pitch
	}

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")
	dialURL := fmt.Sprintf("%s?TrustedClientToken=%s&ConnectionId=%s", p.endpoint, trustedToken, requestID)

	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		return nil, fmt.Errorf("edge: dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	ts := time.Now().UTC().Format(time.RFC1123)
	if err := conn.Write(ctx, websocket.MessageText, speechConfigMessage(ts)); err != nil {
		conn.Close(websocket.StatusInternalError, "config failed")
		return nil, fmt.Errorf("edge: send speech.config: %w", err)
	}
	ssml := buildSSML(text, voice.ID, rate, pitch)
	if err := conn.Write(ctx, websocket.MessageText, ssmlMessage(requestID, ts, ssml)); err != nil {
		conn.Close(websocket.StatusInternalError, "ssml failed")
		return nil, fmt.Errorf("edge: send ssml: %w", err)
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			msgType, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			switch msgType {
			case websocket.MessageText:
				if strings.Contains(string(msg), "Path:turn.end") {
					return
				}
			case websocket.MessageBinary:
				payload, ok := audioPayload(msg)
				if !ok || len(payload) == 0 {
					continue
				}
				select {
				case audioCh <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return audioCh, nil
}

// speechConfigMessage builds the Path:speech.config text frame that selects
// the output format for the connection.
func speechConfigMessage(timestamp string) []byte {
	var b strings.Builder
	b.WriteString("X-Timestamp:" + timestamp + "\r\n")
	b.WriteString("Content-Type:application/json; charset=utf-8\r\n")
	b.WriteString("Path:speech.config\r\n\r\n")
	b.WriteString(`{"context":{"synthesis":{"audio":{"metadataoptions":` +
		`{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},` +
		`"outputFormat":"` + outputFormat + `"}}}}`)
	return []byte(b.String())
}

// ssmlMessage builds the Path:ssml text frame carrying the synthesis request.
func ssmlMessage(requestID, timestamp, ssml string) []byte {
	var b strings.Builder
	b.WriteString("X-RequestId:" + requestID + "\r\n")
	b.WriteString("Content-Type:application/ssml+xml\r\n")
	b.WriteString("X-Timestamp:" + timestamp + "\r\n")
	b.WriteString("Path:ssml\r\n\r\n")
	b.WriteString(ssml)
	return []byte(b.String())
}

// buildSSML renders the SSML document for one chunk of text.
func buildSSML(text, voiceName, rate, pitch string) string {
	return fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>`+
			`<voice name='%s'><prosody pitch='%s' rate='%s' volume='+0%%'>%s</prosody></voice></speak>`,
		voiceName, pitch, rate, escapeText(text))
}

// escapeText escapes the XML special characters that may appear in speech
// text.
func escapeText(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// audioPayload extracts the MP3 bytes from a binary service frame. The frame
// starts with a big-endian uint16 header length, then the text headers, then
// the payload. Frames whose headers do not declare Path:audio are skipped.
func audioPayload(msg []byte) ([]byte, bool) {
	if len(msg) < 2 {
		return nil, false
	}
	headerLen := int(binary.BigEndian.Uint16(msg[:2]))
	if len(msg) < 2+headerLen {
		return nil, false
	}
	header := msg[2 : 2+headerLen]
	if !bytes.Contains(header, []byte("Path:audio")) {
		return nil, false
	}
	return msg[2+headerLen:], true
}
