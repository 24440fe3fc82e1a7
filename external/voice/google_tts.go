package voice

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/foxseedlab/disciplinecall/internal/audio"
	"github.com/foxseedlab/disciplinecall/internal/voice"
)

// googleVoiceNames maps personality voice styles to en-US neural voices. Other
// languages fall back to the default voice for the language.
var googleVoiceNames = map[string]string{
	"energetic":  "en-US-Neural2-F",
	"commanding": "en-US-Neural2-D",
	"wry":        "en-US-Neural2-A",
	"warm":       "en-US-Neural2-C",
	"calm":       "en-US-Neural2-J",
}

type GoogleSynthesizer struct {
	client   *texttospeech.Client
	language string
}

func NewGoogleSynthesizer(ctx context.Context, cfg GoogleConfig) (*GoogleSynthesizer, error) {
	opts, err := googleClientOptions(cfg, "")
	if err != nil {
		return nil, err
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create text-to-speech client: %w", err)
	}
	return &GoogleSynthesizer{client: client, language: cfg.Language}, nil
}

func (s *GoogleSynthesizer) Close() error {
	return s.client.Close()
}

func (s *GoogleSynthesizer) Synthesize(ctx context.Context, text string, style voice.Style, format voice.Format) ([]byte, error) {
	audioCfg, err := googleAudioConfig(style, format)
	if err != nil {
		return nil, err
	}
	params := &texttospeechpb.VoiceSelectionParams{LanguageCode: s.language}
	if s.language == "en-US" {
		params.Name = googleVoiceNames[style.Voice]
	}
	resp, err := s.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input:       &texttospeechpb.SynthesisInput{InputSource: &texttospeechpb.SynthesisInput_Text{Text: text}},
		Voice:       params,
		AudioConfig: audioCfg,
	})
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("text-to-speech temporarily unavailable: %w", err)
		}
		return nil, fmt.Errorf("text-to-speech failed: %w", err)
	}
	return googleAudioContent(resp.GetAudioContent(), format), nil
}

func googleAudioConfig(style voice.Style, format voice.Format) (*texttospeechpb.AudioConfig, error) {
	cfg := &texttospeechpb.AudioConfig{
		SpeakingRate: style.Rate,
		Pitch:        style.Pitch,
	}
	switch format {
	case voice.FormatOggOpus:
		cfg.AudioEncoding = texttospeechpb.AudioEncoding_OGG_OPUS
	case voice.FormatMP3:
		cfg.AudioEncoding = texttospeechpb.AudioEncoding_MP3
	case voice.FormatPCM48kStereo:
		cfg.AudioEncoding = texttospeechpb.AudioEncoding_LINEAR16
		cfg.SampleRateHertz = audio.SampleRate
	case voice.FormatPCM16kMono:
		cfg.AudioEncoding = texttospeechpb.AudioEncoding_LINEAR16
		cfg.SampleRateHertz = 16000
	default:
		return nil, fmt.Errorf("synthesize %s: %w", format, voice.ErrNotSupported)
	}
	return cfg, nil
}

// googleAudioContent strips the WAV header Google adds to LINEAR16 output and widens
// mono to the stereo layout voice channels expect.
func googleAudioContent(content []byte, format voice.Format) []byte {
	switch format {
	case voice.FormatPCM48kStereo:
		mono := audio.BytesToSamples(audio.StripWAVHeader(content))
		return audio.SamplesToBytes(audio.ToStereo48k(mono, audio.SampleRate, 1))
	case voice.FormatPCM16kMono:
		return audio.StripWAVHeader(content)
	default:
		return content
	}
}
