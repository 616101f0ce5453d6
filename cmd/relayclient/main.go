// Command relayclient streams a PCM or WAV file (or a typed prompt) through a
// running livewire server and saves each spoken reply as a WAV file.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/livewire/audio"
	"github.com/room4-2/livewire/logx"
	"github.com/room4-2/livewire/messages"
)

type serverMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	audioFile := flag.String("file", "", "Audio file to send (16kHz PCM or WAV)")
	prompt := flag.String("text", "", "Text prompt to send instead of audio")
	outDir := flag.String("out", ".", "Directory for reply WAV files")
	wait := flag.Duration("wait", 30*time.Second, "How long to wait for replies")
	flag.Parse()

	log := logx.With("relayclient")
	if *audioFile == "" && *prompt == "" {
		log.Fatal().Msg("one of -file or -text is required")
	}

	log.Info().Str("server", *serverURL).Msg("connecting")
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	connected := make(chan struct{})
	done := make(chan struct{})
	replies := audio.NewReassembler(0, log)

	go func() {
		defer close(done)
		saved := 0
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Msg("read loop finished")
				return
			}
			var msg serverMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn().Err(err).Msg("unparseable server message")
				continue
			}

			switch msg.Type {
			case messages.TypeAudio:
				var p messages.AudioResponsePayload
				if err := json.Unmarshal(msg.Payload, &p); err != nil {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(p.Data)
				if err != nil {
					continue
				}
				f, err := audio.ParseMIME(p.MimeType)
				if err != nil {
					f = audio.OutputFormat
				}
				replies.OnChunk(audio.Chunk{Data: pcm, Format: f, MimeType: p.MimeType, ReceivedAt: time.Now()})

			case messages.TypeText:
				var p messages.TextResponsePayload
				if err := json.Unmarshal(msg.Payload, &p); err == nil {
					fmt.Printf("[%s] %s\n", p.Source, p.Text)
				}

			case messages.TypeStatus:
				var p messages.StatusPayload
				if err := json.Unmarshal(msg.Payload, &p); err != nil {
					continue
				}
				log.Info().Str("status", p.Status).Str("message", p.Message).Msg("status")
				switch p.Status {
				case messages.StatusConnected:
					select {
					case <-connected:
					default:
						close(connected)
					}
				case messages.StatusInterrupted:
					replies.OnInterrupted()
				case messages.StatusTurnComplete:
					if asset, ok := replies.OnTurnComplete(); ok {
						saved++
						path := filepath.Join(*outDir, fmt.Sprintf("reply-%s-%02d.wav", shortID(msg.SessionID), saved))
						if err := os.WriteFile(path, asset.WAV, 0o644); err != nil {
							log.Error().Err(err).Msg("failed to write reply")
						} else {
							log.Info().Str("file", path).Dur("duration", asset.Duration()).Msg("reply saved")
						}
					}
				}

			case messages.TypeError:
				log.Error().RawJSON("payload", msg.Payload).Msg("server error")
			}
		}
	}()

	select {
	case <-connected:
	case <-done:
		log.Fatal().Msg("connection closed before the session was ready")
	case <-time.After(15 * time.Second):
		log.Fatal().Msg("timed out waiting for the session")
	}

	if *prompt != "" {
		if err := sendJSON(conn, messages.ClientText, messages.TextPayload{Text: *prompt}); err != nil {
			log.Fatal().Err(err).Msg("send failed")
		}
	} else if err := streamFile(conn, *audioFile); err != nil {
		log.Fatal().Err(err).Msg("failed to stream audio")
	}
	log.Info().Msg("input sent, waiting for response")

	select {
	case <-done:
		log.Info().Msg("connection closed")
	case <-interrupt:
		log.Info().Msg("interrupted, closing")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(*wait):
		log.Info().Msg("done waiting")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

func sendJSON(conn *websocket.Conn, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(messages.ClientMessage{Type: typ, Payload: raw})
}

// streamFile sends the file in 100ms binary chunks at real-time pace, then
// ends the turn.
func streamFile(conn *websocket.Conn, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Skip a canonical WAV header
	if len(data) > audio.WAVHeaderSize && string(data[0:4]) == "RIFF" {
		data = data[audio.WAVHeaderSize:]
	}

	chunkSize := audio.InputFormat.BytesPerSecond() / 10
	for i := 0; i < len(data); i += chunkSize {
		end := min(i+chunkSize, len(data))
		if err := conn.WriteMessage(websocket.BinaryMessage, data[i:end]); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return sendJSON(conn, messages.ClientControl, messages.ControlPayload{Action: messages.ActionEndTurn})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
