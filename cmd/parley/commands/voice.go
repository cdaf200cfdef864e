package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/voice"
	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/miniaudio"
	"github.com/parley-ai/parley/pkg/audio/playback"
	"github.com/parley-ai/parley/pkg/provider/live"
)

// connectTimeout bounds the provider handshake, not the session itself.
const connectTimeout = 30 * time.Second

var (
	voiceRecord string
	voiceModel  string
	voiceName   string
)

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Start a live voice conversation",
	Long: `Voice opens the microphone and holds a realtime conversation with the
configured backend. Speak; the model answers in audio, and both sides of
the exchange are transcribed to the terminal as they happen.

Ctrl+C hangs up. With --record, the whole conversation (your voice and
the model's) is mixed into a single WAV file on exit.`,
	Args: cobra.NoArgs,
	RunE: runVoice,
}

func init() {
	voiceCmd.Flags().StringVar(&voiceRecord, "record", "", "save the conversation to a WAV file")
	voiceCmd.Flags().StringVar(&voiceModel, "model", "", "override the configured realtime model")
	voiceCmd.Flags().StringVar(&voiceName, "voice", "", "override the configured synthesis voice")
	rootCmd.AddCommand(voiceCmd)
}

func runVoice(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	stopObs, err := startObservability(ctx)
	if err != nil {
		return err
	}
	defer stopObs()
	met := observe.DefaultMetrics()

	backend, err := buildLiveProvider()
	if err != nil {
		return err
	}

	audioCtx, err := miniaudio.NewContext(slog.Default())
	if err != nil {
		return err
	}
	defer audioCtx.Close()

	in, err := audioCtx.OpenInput(live.InputFormat)
	if err != nil {
		return err
	}
	out, err := audioCtx.OpenOutput(live.OutputFormat)
	if err != nil {
		return err
	}

	model := cfg.Voice.Model
	if voiceModel != "" {
		model = voiceModel
	}
	voiceOverride := cfg.Voice.Voice
	if voiceName != "" {
		voiceOverride = voiceName
	}

	opts := []voice.Option{
		voice.WithSession(live.SessionConfig{
			Model:        model,
			Voice:        voiceOverride,
			Instructions: cfg.Voice.Instructions,
		}),
		voice.WithFrameSize(cfg.Voice.FrameSize),
		voice.WithOnTranscript(printTranscript),
		voice.WithPlaybackObserver(func(d playback.Decision) {
			met.RecordPlayback(context.Background(), d.Lead, d.Resynced)
		}),
	}

	var rec *audio.Recorder
	if voiceRecord != "" {
		rec, err = audio.NewRecorder(live.InputFormat)
		if err != nil {
			return err
		}
		// Each tap runs on its own pump goroutine, so each side keeps its
		// own running offset into the mix.
		var userAt, modelAt time.Duration
		opts = append(opts,
			voice.WithUserAudioTap(func(b []byte) {
				rec.Write(userAt, b, live.InputFormat)
				userAt += live.InputFormat.Duration(len(b))
			}),
			voice.WithModelAudioTap(func(b []byte) {
				rec.Write(modelAt, b, live.OutputFormat)
				modelAt += live.OutputFormat.Duration(len(b))
			}),
		)
	}

	ctrl, err := voice.New(backend, in, out, opts...)
	if err != nil {
		return err
	}

	fmt.Printf("connecting to %s...\n", cfg.Voice.Backend)
	connectStart := time.Now()
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = ctrl.Start(connectCtx)
	cancel()
	if err != nil {
		return err
	}
	met.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds(),
		metric.WithAttributes(attribute.String("backend", string(cfg.Voice.Backend))))
	met.ActiveSessions.Add(ctx, 1)
	defer met.ActiveSessions.Add(context.Background(), -1)

	fmt.Println("session active - speak, Ctrl+C to hang up")

	select {
	case <-ctx.Done():
		_ = ctrl.Stop()
	case <-ctrl.Done():
	}

	captured, dropped := ctrl.CaptureStats()
	met.CaptureFrames.Add(context.Background(), int64(captured))
	met.CaptureDrops.Add(context.Background(), int64(dropped))
	slog.Info("voice session ended",
		"state", string(ctrl.State()),
		"frames_captured", captured,
		"frames_dropped", dropped,
	)

	if rec != nil {
		if err := writeRecording(rec, voiceRecord); err != nil {
			return err
		}
		fmt.Printf("recording saved to %s (%s)\n", voiceRecord, rec.Len().Round(time.Second))
	}

	if ctrl.State() == voice.StateError {
		return ctrl.Err()
	}
	return nil
}

func printTranscript(t live.Transcript) {
	who := "you"
	if t.Speaker == live.SpeakerModel {
		who = "model"
	}
	fmt.Printf("[%s] %s\n", who, t.Text)
}

func writeRecording(rec *audio.Recorder, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	if _, err := rec.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write recording: %w", err)
	}
	return f.Close()
}
