package audio

import (
	"github.com/foxseedlab/disciplinecall/internal/audio"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (audio.Codec, error) {
		return NewOpusCodec(), nil
	})
}
