package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/foxseedlab/disciplinecall/internal/audio"
	"github.com/foxseedlab/disciplinecall/internal/voice"
	"github.com/sashabaranov/go-openai"
)

// openAIPCMRate is the sample rate of OpenAI's raw pcm speech output (mono, 16-bit).
const openAIPCMRate = 24000

var openAIVoices = map[string]openai.SpeechVoice{
	"energetic":  openai.VoiceNova,
	"commanding": openai.VoiceOnyx,
	"wry":        openai.VoiceFable,
	"warm":       openai.VoiceShimmer,
	"calm":       openai.VoiceEcho,
}

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Language string
}

func newOpenAIClient(cfg OpenAIConfig) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}

type OpenAISynthesizer struct {
	client *openai.Client
}

func NewOpenAISynthesizer(cfg OpenAIConfig) *OpenAISynthesizer {
	return &OpenAISynthesizer{client: newOpenAIClient(cfg)}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string, style voice.Style, format voice.Format) ([]byte, error) {
	var responseFormat openai.SpeechResponseFormat
	switch format {
	case voice.FormatOggOpus:
		responseFormat = openai.SpeechResponseFormatOpus
	case voice.FormatMP3:
		responseFormat = openai.SpeechResponseFormatMp3
	case voice.FormatPCM48kStereo, voice.FormatPCM16kMono:
		responseFormat = openai.SpeechResponseFormatPcm
	default:
		return nil, fmt.Errorf("synthesize %s: %w", format, voice.ErrNotSupported)
	}
	v, ok := openAIVoices[style.Voice]
	if !ok {
		v = openai.VoiceAlloy
	}
	speed := style.Rate
	if speed <= 0 {
		speed = 1.0
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          v,
		ResponseFormat: responseFormat,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech failed: %w", err)
	}
	defer func() {
		_ = resp.Close()
	}()
	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read openai speech: %w", err)
	}

	switch format {
	case voice.FormatPCM48kStereo:
		return audio.SamplesToBytes(audio.ToStereo48k(audio.BytesToSamples(body), openAIPCMRate, 1)), nil
	case voice.FormatPCM16kMono:
		stereo := audio.ToStereo48k(audio.BytesToSamples(body), openAIPCMRate, 1)
		return audio.SamplesToBytes(audio.ToMono16k(stereo)), nil
	default:
		return body, nil
	}
}

type OpenAIRecognizer struct {
	client   *openai.Client
	language string
}

func NewOpenAIRecognizer(cfg OpenAIConfig) *OpenAIRecognizer {
	lang, _, _ := strings.Cut(cfg.Language, "-")
	return &OpenAIRecognizer{client: newOpenAIClient(cfg), language: strings.ToLower(lang)}
}

func (r *OpenAIRecognizer) Transcribe(ctx context.Context, data []byte, format voice.Format) (string, error) {
	if len(data) == 0 {
		return "", voice.ErrUntranscribable
	}
	var filename string
	switch format {
	case voice.FormatOggOpus:
		filename = "reply.ogg"
	case voice.FormatMP3:
		filename = "reply.mp3"
	case voice.FormatPCM48kStereo:
		filename = "reply.wav"
		data = audio.EncodeWAV(audio.BytesToSamples(data), audio.SampleRate, audio.Channels)
	case voice.FormatPCM16kMono:
		filename = "reply.wav"
		data = audio.EncodeWAV(audio.BytesToSamples(data), 16000, 1)
	default:
		return "", fmt.Errorf("recognize %s: %w", format, voice.ErrNotSupported)
	}

	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filename,
		Reader:   bytes.NewReader(data),
		Language: r.language,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", voice.ErrUntranscribable
	}
	return text, nil
}
