package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/disciplinecall/internal/voice"
)

// streamChunkSize stays below the per-request audio limit of StreamingRecognize.
const streamChunkSize = 15 * 1024

type GoogleSpeechRecognizer struct {
	client     *speech.Client
	recognizer string
	language   string
	model      string
	logger     *slog.Logger
}

func NewGoogleSpeechRecognizer(ctx context.Context, cfg GoogleConfig) (*GoogleSpeechRecognizer, error) {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	cfg.Location = location
	opts, err := googleClientOptions(cfg, "speech")
	if err != nil {
		return nil, err
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &GoogleSpeechRecognizer{
		client:     client,
		recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", cfg.ProjectID, location),
		language:   cfg.Language,
		model:      strings.TrimSpace(cfg.Model),
		logger:     slog.Default().With("component", "google_speech"),
	}, nil
}

func (r *GoogleSpeechRecognizer) Close() error {
	return r.client.Close()
}

// Transcribe streams one recorded utterance and joins the final results.
func (r *GoogleSpeechRecognizer) Transcribe(ctx context.Context, audio []byte, format voice.Format) (string, error) {
	if len(audio) == 0 {
		return "", voice.ErrUntranscribable
	}
	cfg, err := r.recognitionConfig(format)
	if err != nil {
		return "", err
	}

	stream, err := r.client.StreamingRecognize(ctx)
	if err != nil {
		return "", fmt.Errorf("open recognize stream: %w", err)
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: r.recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{Config: cfg},
		},
	}); err != nil {
		_ = stream.CloseSend()
		return "", classifySpeechError(err)
	}
	for start := 0; start < len(audio); start += streamChunkSize {
		end := min(start+streamChunkSize, len(audio))
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: audio[start:end]},
		}); err != nil {
			_ = stream.CloseSend()
			return "", classifySpeechError(err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return "", classifySpeechError(err)
	}

	var parts []string
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", classifySpeechError(err)
		}
		for _, result := range resp.GetResults() {
			if !result.GetIsFinal() || len(result.GetAlternatives()) == 0 {
				continue
			}
			if text := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript()); text != "" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) == 0 {
		return "", voice.ErrUntranscribable
	}
	text := strings.Join(parts, " ")
	r.logger.Debug("utterance transcribed", "format", format, "chars", len(text))
	return text, nil
}

func (r *GoogleSpeechRecognizer) recognitionConfig(format voice.Format) (*speechpb.RecognitionConfig, error) {
	cfg := &speechpb.RecognitionConfig{
		Model:         r.model,
		LanguageCodes: []string{r.language},
		Features:      &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
	}
	switch format {
	case voice.FormatPCM48kStereo:
		cfg.DecodingConfig = explicitLinear16(48000, 2)
	case voice.FormatPCM16kMono:
		cfg.DecodingConfig = explicitLinear16(16000, 1)
	case voice.FormatOggOpus, voice.FormatMP3:
		cfg.DecodingConfig = &speechpb.RecognitionConfig_AutoDecodingConfig{AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{}}
	default:
		return nil, fmt.Errorf("recognize %s: %w", format, voice.ErrNotSupported)
	}
	return cfg, nil
}

func explicitLinear16(rate, channels int32) *speechpb.RecognitionConfig_ExplicitDecodingConfig {
	return &speechpb.RecognitionConfig_ExplicitDecodingConfig{
		ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
			Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
			SampleRateHertz:   rate,
			AudioChannelCount: channels,
		},
	}
}

func classifySpeechError(err error) error {
	if isInvalidAudio(err) {
		return fmt.Errorf("%w: %v", voice.ErrUntranscribable, err)
	}
	if isTransient(err) {
		return fmt.Errorf("speech recognition temporarily unavailable: %w", err)
	}
	return fmt.Errorf("speech recognition failed: %w", err)
}
