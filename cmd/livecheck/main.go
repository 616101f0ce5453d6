// Command livecheck opens one live session against the Gemini Live API, sends
// a prompt and prints the reply. Spoken replies are written as WAV files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/room4-2/livewire/config"
	"github.com/room4-2/livewire/gemini"
	"github.com/room4-2/livewire/live"
	"github.com/room4-2/livewire/logx"
)

func main() {
	prompt := flag.String("prompt", "Hello! Say hi back in one sentence.", "text to send")
	outDir := flag.String("out", ".", "directory for reply WAV files")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for the reply")
	text := flag.Bool("text", false, "ask for a text reply instead of audio")
	flag.Parse()

	log := logx.With("livecheck")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logx.Configure(cfg.LogLevel)
	if *text {
		cfg.Live.ResponseModality = string(genai.ModalityText)
	}

	dialer := &gemini.Dialer{Endpoint: cfg.Live.Endpoint, APIKey: cfg.GeminiAPIKey, KeepAlive: cfg.KeepAlivePeriod}
	if cfg.GeminiAPIKey == "" {
		dialer.Auth = gemini.StaticToken(cfg.GoogleAccessToken)
	}

	sc := cfg.SessionConfig()
	if sc.SystemInstruction == nil {
		sc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: "You are a helpful assistant. Keep responses brief."}}}
	}
	sess, err := live.NewSession(dialer.Factory(), sc)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid session config")
	}

	content := sess.Events.ContentReceived.Subscribe()
	turns := sess.Events.AudioTurnCompleted.Subscribe()
	disc := sess.Events.Disconnected.Subscribe()
	defer content.Close()
	defer turns.Close()
	defer disc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := sess.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sess.Disconnect(dctx)
	}()
	log.Info().Str("session", sess.ID()).Msg("session active")

	if err := sess.SendText(ctx, *prompt, true); err != nil {
		log.Fatal().Err(err).Msg("send failed")
	}

	timeout := time.After(*wait)
	var reply strings.Builder
	saved := 0
	for {
		select {
		case c := <-content.C:
			if t := c.Text(); t != "" {
				reply.WriteString(t)
			}
			if c.OutputTranscription != nil {
				reply.WriteString(c.OutputTranscription.Text)
			}
			if c.TurnComplete {
				fmt.Println(reply.String())
				// The audio asset follows turnComplete on its own stream.
				select {
				case asset := <-turns.C:
					saved++
					writeWAV(*outDir, sess.ID(), saved, asset.WAV)
				case <-time.After(time.Second):
				}
				return
			}
		case d := <-disc.C:
			log.Error().Err(d.Err).Str("reason", string(d.Reason)).Msg("session ended")
			return
		case <-timeout:
			log.Error().Msg("timed out waiting for reply")
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeWAV(dir, id string, n int, wav []byte) {
	path := filepath.Join(dir, fmt.Sprintf("livecheck-%s-%02d.wav", id[:8], n))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		logx.Log.Error().Err(err).Msg("failed to write reply")
		return
	}
	logx.Log.Info().Str("file", path).Msg("reply saved")
}
