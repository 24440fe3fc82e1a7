package conversation

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"gopkg.in/yaml.v3"
)

// PersonalityPrompt is the coaching persona handed to the generator as its system
// prompt, plus the fixed line used when a closing message cannot be generated.
type PersonalityPrompt struct {
	System  string `yaml:"system"`
	Closing string `yaml:"closing"`
}

// CallTemplate describes what a call of one kind should cover.
type CallTemplate struct {
	DurationSec int      `yaml:"duration_sec"`
	Topics      []string `yaml:"topics"`
	Tone        string   `yaml:"tone"`
}

type Prompts struct {
	personalities map[call.Personality]PersonalityPrompt
	templates     map[call.Kind]CallTemplate
}

func DefaultPrompts() *Prompts {
	return &Prompts{
		personalities: map[call.Personality]PersonalityPrompt{
			call.PersonalityMotivator: {
				System: "You are an upbeat personal coach on a short phone call. Be warm and encouraging, " +
					"celebrate small wins and keep the user moving toward their goals.",
				Closing: "You've got this. Go make today count, talk soon!",
			},
			call.PersonalityDrillSergeant: {
				System: "You are a strict drill sergeant coach on a short phone call. Demand specifics, " +
					"accept no excuses and push the user hard, but stay fair.",
				Closing: "That's all for now. No excuses, get it done. Dismissed!",
			},
			call.PersonalityAbuser: {
				System: "You are a sarcastic, brutally honest coach on a short phone call. Tease the user " +
					"about their excuses with humor, then always finish with real encouragement.",
				Closing: "Alright, I've roasted you enough. Now go prove me wrong.",
			},
			call.PersonalityFriend: {
				System: "You are a caring friend keeping the user accountable on a short phone call. " +
					"Listen, be patient and offer gentle support.",
				Closing: "Thanks for talking with me. I'm proud of you, take care!",
			},
			call.PersonalityMentor: {
				System: "You are an experienced mentor on a short phone call. Ask probing questions " +
					"and help the user find their own answers.",
				Closing: "Think about what we discussed. I'll check in with you again soon.",
			},
		},
		templates: map[call.Kind]CallTemplate{
			call.KindMorning:  {DurationSec: 120, Topics: []string{"goals", "energy", "priorities", "mood"}, Tone: "energetic"},
			call.KindMidday:   {DurationSec: 90, Topics: []string{"progress", "focus", "nutrition", "challenges"}, Tone: "supportive"},
			call.KindEvening:  {DurationSec: 150, Topics: []string{"reflection", "wins", "lessons", "tomorrow"}, Tone: "calming"},
			call.KindUrgent:   {DurationSec: 90, Topics: []string{"what is happening right now", "next action"}, Tone: "focused"},
			call.KindFollowup: {DurationSec: 90, Topics: []string{"open commitments", "blockers"}, Tone: "supportive"},
		},
	}
}

type promptsFile struct {
	Personalities map[string]PersonalityPrompt `yaml:"personalities"`
	Templates     map[string]CallTemplate      `yaml:"templates"`
}

// LoadPrompts returns the built-in prompts overlaid with the entries of a YAML file.
// An empty path yields the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, call.NewConfigurationError("load prompts", fmt.Errorf("read %s: %w", path, err))
	}
	if err := p.Overlay(data); err != nil {
		return nil, call.NewConfigurationError("load prompts", fmt.Errorf("%s: %w", path, err))
	}
	return p, nil
}

// Overlay replaces the non-empty fields of the personalities and templates listed in data.
func (p *Prompts) Overlay(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var file promptsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode prompts: %w", err)
	}
	for name, override := range file.Personalities {
		personality := call.Personality(name)
		if !personality.Valid() {
			return fmt.Errorf("unknown personality %q", name)
		}
		cur := p.personalities[personality]
		if override.System != "" {
			cur.System = strings.TrimSpace(override.System)
		}
		if override.Closing != "" {
			cur.Closing = strings.TrimSpace(override.Closing)
		}
		p.personalities[personality] = cur
	}
	for name, override := range file.Templates {
		kind, err := call.ParseKind(name)
		if err != nil {
			return fmt.Errorf("unknown call kind %q", name)
		}
		cur := p.templates[kind]
		if override.DurationSec > 0 {
			cur.DurationSec = override.DurationSec
		}
		if len(override.Topics) > 0 {
			cur.Topics = override.Topics
		}
		if override.Tone != "" {
			cur.Tone = override.Tone
		}
		p.templates[kind] = cur
	}
	return nil
}

func (p *Prompts) Personality(personality call.Personality) PersonalityPrompt {
	if pp, ok := p.personalities[personality]; ok {
		return pp
	}
	return p.personalities[call.PersonalityMotivator]
}

func (p *Prompts) Template(kind call.Kind) CallTemplate {
	return p.templates[kind]
}

// SystemPrompt combines the persona with the call template into the instruction block
// sent ahead of the conversation history.
func (p *Prompts) SystemPrompt(personality call.Personality, kind call.Kind, reason string) string {
	pp := p.Personality(personality)
	tmpl := p.Template(kind)

	var b strings.Builder
	b.WriteString(pp.System)
	fmt.Fprintf(&b, "\n\nThis is the user's %s call. Keep the tone %s", kind, tmpl.Tone)
	if len(tmpl.Topics) > 0 {
		fmt.Fprintf(&b, " and cover: %s", strings.Join(tmpl.Topics, ", "))
	}
	b.WriteString(".")
	if tmpl.DurationSec > 0 {
		fmt.Fprintf(&b, " The whole call should fit in about %d seconds, so keep every message to one or two spoken sentences.", tmpl.DurationSec)
	}
	if reason != "" {
		fmt.Fprintf(&b, "\nContext for this call: %s", reason)
	}
	fmt.Fprintf(&b, "\nWhen the conversation has reached a natural end, append %s to your final message.", EndMarker)
	return b.String()
}
