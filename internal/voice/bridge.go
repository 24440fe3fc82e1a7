package voice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/foxseedlab/disciplinecall/internal/call"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Bridge fronts the configured synthesizer and recognizer. Synthesized audio is cached
// because daily closings and fixed fallback lines repeat verbatim.
type Bridge struct {
	synth  Synthesizer
	recog  Recognizer
	cache  *lru.Cache[string, []byte]
	logger *slog.Logger
}

func NewBridge(synth Synthesizer, recog Recognizer, cacheSize int, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{synth: synth, recog: recog, logger: logger}
	if cacheSize > 0 {
		cache, err := lru.New[string, []byte](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create synthesis cache: %w", err)
		}
		b.cache = cache
	}
	return b, nil
}

// Synthesize renders text in the personality's voice style. Returns ErrNotSupported
// when no synthesizer is configured.
func (b *Bridge) Synthesize(ctx context.Context, text string, personality call.Personality, format Format) ([]byte, error) {
	if b.synth == nil {
		return nil, ErrNotSupported
	}
	style := StyleFor(personality)
	key := cacheKey(text, style, format)
	if b.cache != nil {
		if audio, ok := b.cache.Get(key); ok {
			return audio, nil
		}
	}
	audio, err := b.synth.Synthesize(ctx, text, style, format)
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		b.cache.Add(key, audio)
	}
	return audio, nil
}

// Transcribe converts a user's audio reply to text. ErrUntranscribable is returned as
// is so the caller can treat it as an empty utterance.
func (b *Bridge) Transcribe(ctx context.Context, audio []byte, format Format) (string, error) {
	if b.recog == nil {
		return "", ErrNotSupported
	}
	if len(audio) == 0 {
		return "", ErrUntranscribable
	}
	text, err := b.recog.Transcribe(ctx, audio, format)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (b *Bridge) CanSynthesize() bool {
	return b.synth != nil
}

func cacheKey(text string, style Style, format Format) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.2f|%.2f|%s", format, style.Voice, style.Rate, style.Pitch, text)))
	return hex.EncodeToString(sum[:])
}
