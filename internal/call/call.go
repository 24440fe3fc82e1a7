// Package call holds the domain vocabulary shared by the scheduler, the session
// machine and the providers: call kinds, plans, transcripts and outcomes.
package call

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindMorning  Kind = "morning"
	KindMidday   Kind = "midday"
	KindEvening  Kind = "evening"
	KindUrgent   Kind = "urgent"
	KindFollowup Kind = "followup"
)

var DailyKinds = []Kind{KindMorning, KindMidday, KindEvening}

func (k Kind) Daily() bool {
	return k == KindMorning || k == KindMidday || k == KindEvening
}

func (k Kind) Valid() bool {
	return k.Daily() || k == KindUrgent || k == KindFollowup
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", NewConfigurationError("parse call kind", fmt.Errorf("unknown call kind %q", s))
	}
	return k, nil
}

type Personality string

const (
	PersonalityMotivator     Personality = "motivator"
	PersonalityDrillSergeant Personality = "drill_sergeant"
	PersonalityAbuser        Personality = "abuser"
	PersonalityFriend        Personality = "friend"
	PersonalityMentor        Personality = "mentor"
)

var Personalities = []Personality{
	PersonalityMotivator,
	PersonalityDrillSergeant,
	PersonalityAbuser,
	PersonalityFriend,
	PersonalityMentor,
}

func (p Personality) Valid() bool {
	return slices.Contains(Personalities, p)
}

// ChannelID names a concrete transport.
type ChannelID string

const (
	ChannelTelephony ChannelID = "telephony"
	ChannelTelegram  ChannelID = "telegram"
	ChannelWhatsApp  ChannelID = "whatsapp"
	ChannelDiscord   ChannelID = "discord"
)

// ChannelPreference is one entry of a plan's ordered fallback list. Address is the
// recipient reference understood by that channel (phone number, chat id, voice channel).
type ChannelPreference struct {
	Channel ChannelID `json:"channel"`
	Address string    `json:"address"`
}

type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("time of day %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("time of day %q has invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q has invalid minute", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant of this wall-clock time on the given calendar day in loc.
// Times that fall into a daylight-saving gap are normalized forward by time.Date.
func (t TimeOfDay) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour, t.Minute, 0, 0, loc)
}

// Plan is a user's recurring call schedule. The core never mutates it.
type Plan struct {
	UserID      string
	Morning     TimeOfDay
	Midday      TimeOfDay
	Evening     TimeOfDay
	TimeZone    string
	Channels    []ChannelPreference
	Personality Personality
}

func (p Plan) Slot(kind Kind) (TimeOfDay, bool) {
	switch kind {
	case KindMorning:
		return p.Morning, true
	case KindMidday:
		return p.Midday, true
	case KindEvening:
		return p.Evening, true
	default:
		return TimeOfDay{}, false
	}
}

func (p Plan) Location() (*time.Location, error) {
	if p.TimeZone == "" || p.TimeZone == "UTC" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.TimeZone)
}

func (p Plan) Equal(o Plan) bool {
	return p.UserID == o.UserID &&
		p.Morning == o.Morning &&
		p.Midday == o.Midday &&
		p.Evening == o.Evening &&
		p.TimeZone == o.TimeZone &&
		p.Personality == o.Personality &&
		slices.Equal(p.Channels, o.Channels)
}

func (p Plan) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return NewConfigurationError("validate plan", fmt.Errorf("user id is required"))
	}
	if _, err := p.Location(); err != nil {
		return NewConfigurationError("validate plan", fmt.Errorf("time zone %q is invalid: %w", p.TimeZone, err))
	}
	if len(p.Channels) == 0 {
		return NewConfigurationError("validate plan", fmt.Errorf("at least one channel preference is required"))
	}
	seen := make(map[ChannelID]struct{}, len(p.Channels))
	for _, c := range p.Channels {
		if c.Channel == "" || strings.TrimSpace(c.Address) == "" {
			return NewConfigurationError("validate plan", fmt.Errorf("channel preference %+v is incomplete", c))
		}
		if _, dup := seen[c.Channel]; dup {
			return NewConfigurationError("validate plan", fmt.Errorf("channel %s listed twice", c.Channel))
		}
		seen[c.Channel] = struct{}{}
	}
	if !p.Personality.Valid() {
		return NewConfigurationError("validate plan", fmt.Errorf("unknown personality %q", p.Personality))
	}
	return nil
}

func (p Plan) Clone() Plan {
	p.Channels = slices.Clone(p.Channels)
	return p
}

type Speaker string

const (
	SpeakerSystem Speaker = "system"
	SpeakerUser   Speaker = "user"
)

type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Status is a Call Session lifecycle state.
type Status string

const (
	StatusCreated          Status = "created"
	StatusDispatching      Status = "dispatching"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusProcessing       Status = "processing"
	StatusEnding           Status = "ending"
	StatusCompleted        Status = "completed"
	StatusMissed           Status = "missed"
	StatusFailed           Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusMissed || s == StatusFailed
}

type Classification string

const (
	ClassCompleted Classification = "completed"
	ClassMissed    Classification = "missed"
	ClassFailed    Classification = "failed"
)

// Reason refines a failed or missed classification.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonTimeout            Reason = "timeout"
	ReasonChannelError       Reason = "channel_error"
	ReasonGenerationError    Reason = "generation_error"
	ReasonCancelled          Reason = "cancelled"
	ReasonInvariantViolation Reason = "invariant_violation"
	ReasonLaunchError        Reason = "launch_error"
	ReasonConfiguration      Reason = "configuration_error"
)

// Retryable reports whether the scheduler may enqueue another attempt after an
// outcome with this reason.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonCancelled, ReasonInvariantViolation, ReasonLaunchError, ReasonConfiguration:
		return false
	default:
		return true
	}
}

// Outcome is the immutable summary emitted once a session terminates.
type Outcome struct {
	SessionID      string
	UserID         string
	Kind           Kind
	CycleID        string
	Attempt        int
	Status         Status
	Classification Classification
	Reason         Reason
	Channel        ChannelID
	Personality    Personality
	TurnCount      int
	StartedAt      time.Time
	EndedAt        time.Time
	Transcript     []Turn
	Detail         string
}

func (o Outcome) Duration() time.Duration {
	d := o.EndedAt.Sub(o.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

func ClassificationFor(s Status) Classification {
	switch s {
	case StatusCompleted:
		return ClassCompleted
	case StatusMissed:
		return ClassMissed
	default:
		return ClassFailed
	}
}

// CycleExhaustion records that a scheduling cycle used up all of its attempts.
type CycleExhaustion struct {
	UserID             string
	Kind               Kind
	CycleID            string
	Attempts           int
	LastClassification Classification
	At                 time.Time
}

type HistoryStats struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Missed      int     `json:"missed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

type History struct {
	UserID   string
	Outcomes []Outcome
	Stats    HistoryStats
}

func SummarizeHistory(userID string, outcomes []Outcome) History {
	h := History{UserID: userID, Outcomes: outcomes}
	for _, o := range outcomes {
		h.Stats.Total++
		switch o.Classification {
		case ClassCompleted:
			h.Stats.Completed++
		case ClassMissed:
			h.Stats.Missed++
		default:
			h.Stats.Failed++
		}
	}
	if h.Stats.Total > 0 {
		h.Stats.SuccessRate = float64(h.Stats.Completed) / float64(h.Stats.Total)
	}
	return h
}
