package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/disciplinecall/internal/audio"
	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/foxseedlab/disciplinecall/internal/voice"
)

const (
	discordSilenceGap   = 1200 * time.Millisecond
	discordMinUtterance = 300 * time.Millisecond
	discordDrainEvery   = audio.FrameMs * time.Millisecond
	discordSendTimeout  = 2 * time.Second
)

// DiscordTransport coaches a user inside Discord. When the user sits in a voice
// channel the bot joins it, speaks the message and listens until the user pauses;
// otherwise the message goes out as a direct message and the text reply comes back.
// Recipients are addressed as "guildID/userID".
type DiscordTransport struct {
	token  string
	codec  audio.Codec
	convs  *conversations
	logger *slog.Logger

	session   *discordgo.Session
	botUserID string

	mu     sync.Mutex
	voices map[string]*discordVoice
	dms    map[string]string
}

type discordVoice struct {
	vc        *discordgo.VoiceConnection
	channelID string
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewDiscordTransport(token string, codec audio.Codec, logger *slog.Logger) *DiscordTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordTransport{
		token:  token,
		codec:  codec,
		convs:  newConversations(logger),
		logger: logger,
		voices: make(map[string]*discordVoice),
		dms:    make(map[string]string),
	}
}

func (d *DiscordTransport) Connect(ctx context.Context) error {
	_ = ctx
	s, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return err
	}
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent)
	s.State.TrackVoice = true
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(m)
	})
	if err := s.Open(); err != nil {
		return err
	}
	d.session = s
	if s.State != nil && s.State.User != nil {
		d.botUserID = s.State.User.ID
	}
	d.logger.Info("discord gateway connected", "bot_user_id", d.botUserID)
	return nil
}

// Disconnect leaves every voice channel and closes the gateway session.
func (d *DiscordTransport) Disconnect() error {
	d.mu.Lock()
	ids := make([]string, 0, len(d.voices))
	for id := range d.voices {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	for _, id := range ids {
		d.leaveVoice(id)
	}
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func (d *DiscordTransport) ID() call.ChannelID {
	return call.ChannelDiscord
}

func (d *DiscordTransport) Capabilities() channel.Capabilities {
	voiceReady := d.codec != nil && d.codec.Available()
	return channel.Capabilities{
		VoiceOut:    voiceReady,
		TextOut:     true,
		VoiceIn:     voiceReady,
		TextIn:      true,
		AudioFormat: voice.FormatPCM48kStereo,
	}
}

func (d *DiscordTransport) Send(ctx context.Context, recipient string, payload channel.Payload) (channel.Handle, error) {
	guildID, userID, err := parseDiscordAddress(recipient)
	if err != nil {
		return channel.Handle{}, call.NewConfigurationError("discord send", err)
	}
	if d.session == nil {
		return channel.Handle{}, errors.New("discord session is not connected")
	}
	id, fresh, err := d.convs.open(userID, payload.Conversation)
	if err != nil {
		return channel.Handle{}, err
	}
	h := channel.Handle{Channel: call.ChannelDiscord, ID: id, Recipient: recipient}

	if payload.HasAudio() && d.Capabilities().VoiceOut {
		voiceChannelID, err := d.userVoiceChannelID(guildID, userID)
		if err != nil {
			d.logger.Warn("failed to resolve user voice channel", "guild_id", guildID, "user_id", userID, "error", err)
		}
		if voiceChannelID != "" {
			err := d.speak(ctx, id, guildID, voiceChannelID, userID, payload.Audio)
			if err == nil {
				d.postText(voiceChannelID, payload.Text)
				return h, nil
			}
			d.logger.Warn("discord voice delivery failed, sending a direct message", "handle", id, "error", err)
		}
	}

	if err := d.sendDirect(userID, payload.Text); err != nil {
		if fresh {
			d.convs.close(id)
		}
		return channel.Handle{}, err
	}
	return h, nil
}

func (d *DiscordTransport) AwaitReply(ctx context.Context, h channel.Handle, timeout time.Duration) (channel.Reply, error) {
	return d.convs.wait(ctx, h.ID, timeout)
}

func (d *DiscordTransport) Close(_ context.Context, h channel.Handle) error {
	d.leaveVoice(h.ID)
	d.convs.close(h.ID)
	return nil
}

func (d *DiscordTransport) sendDirect(userID, text string) error {
	d.mu.Lock()
	dmID, ok := d.dms[userID]
	d.mu.Unlock()
	if !ok {
		ch, err := d.session.UserChannelCreate(userID)
		if err != nil {
			return fmt.Errorf("open discord dm: %w", err)
		}
		dmID = ch.ID
		d.mu.Lock()
		d.dms[userID] = dmID
		d.mu.Unlock()
	}
	if _, err := d.session.ChannelMessageSend(dmID, text); err != nil {
		return fmt.Errorf("send discord dm: %w", err)
	}
	return nil
}

func (d *DiscordTransport) postText(channelID, text string) {
	if text == "" {
		return
	}
	if _, err := d.session.ChannelMessageSend(channelID, text); err != nil {
		d.logger.Debug("failed to post caption to voice channel chat", "channel_id", channelID, "error", err)
	}
}

func (d *DiscordTransport) handleMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == d.botUserID {
		return
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}
	if d.convs.deliverTo(m.Author.ID, channel.Reply{Text: text, ReceivedAt: time.Now()}) {
		d.logger.Debug("discord text reply received", "user_id", m.Author.ID)
	}
}

// speak joins the user's voice channel once per conversation and plays pcm into it.
func (d *DiscordTransport) speak(ctx context.Context, handle, guildID, channelID, userID string, pcm []byte) error {
	v, err := d.ensureVoice(handle, guildID, channelID, userID)
	if err != nil {
		return err
	}
	enc, err := d.codec.NewEncoder()
	if err != nil {
		return err
	}
	if err := v.vc.Speaking(true); err != nil {
		d.logger.Debug("failed to set speaking state", "error", err)
	}
	defer func() {
		_ = v.vc.Speaking(false)
	}()
	for _, frame := range audio.SplitFrames(audio.BytesToSamples(pcm)) {
		packet, err := enc.Encode(frame)
		if err != nil {
			return fmt.Errorf("encode opus frame: %w", err)
		}
		select {
		case v.vc.OpusSend <- packet:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(discordSendTimeout):
			return errors.New("discord voice send stalled")
		}
	}
	return nil
}

func (d *DiscordTransport) ensureVoice(handle, guildID, channelID, userID string) (*discordVoice, error) {
	d.mu.Lock()
	v, ok := d.voices[handle]
	d.mu.Unlock()
	if ok && v.channelID == channelID {
		return v, nil
	}
	if ok {
		d.leaveVoice(handle)
	}

	vc, err := d.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("join discord voice channel: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	v = &discordVoice{vc: vc, channelID: channelID, cancel: cancel, done: make(chan struct{})}
	d.mu.Lock()
	d.voices[handle] = v
	d.mu.Unlock()

	go d.listen(ctx, handle, userID, v)
	d.logger.Info("joined discord voice channel", "handle", handle, "guild_id", guildID, "channel_id", channelID)
	return v, nil
}

func (d *DiscordTransport) leaveVoice(handle string) {
	d.mu.Lock()
	v, ok := d.voices[handle]
	delete(d.voices, handle)
	d.mu.Unlock()
	if !ok {
		return
	}
	v.cancel()
	if err := v.vc.Disconnect(); err != nil {
		d.logger.Warn("failed to leave discord voice channel", "handle", handle, "error", err)
	}
	<-v.done
}

// listen decodes the target user's packets and delivers one reply per utterance,
// an utterance ending after discordSilenceGap without packets.
func (d *DiscordTransport) listen(ctx context.Context, handle, userID string, v *discordVoice) {
	defer close(v.done)
	mixer := d.codec.NewMixer()
	defer mixer.Close()

	var (
		mu         sync.Mutex
		lastPacket time.Time
		ssrcToUser = make(map[uint32]string)
	)
	v.vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		mu.Lock()
		defer mu.Unlock()
		if vs.Speaking {
			ssrcToUser[uint32(vs.SSRC)] = vs.UserID
		}
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-v.vc.OpusRecv:
				if !ok {
					return
				}
				if p == nil || len(p.Opus) == 0 {
					continue
				}
				mu.Lock()
				speaker := ssrcToUser[p.SSRC]
				if speaker == userID {
					lastPacket = time.Now()
				}
				mu.Unlock()
				if speaker == userID {
					mixer.WriteOpusPacket(speaker, p.Opus)
				}
			}
		}
	}()

	u := newUtterance(discordSilenceGap, discordMinUtterance)
	buf := make([]byte, audio.FrameSamples*2)
	ticker := time.NewTicker(discordDrainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for {
				n, err := mixer.ReadMixedPCM(buf)
				if err != nil || n == 0 {
					break
				}
				u.add(buf[:n])
			}
			mu.Lock()
			last := lastPacket
			mu.Unlock()
			if pcm, ok := u.flush(last, now); ok {
				d.convs.deliver(handle, channel.Reply{Audio: pcm, Format: voice.FormatPCM48kStereo, ReceivedAt: now})
			}
		}
	}
}

func (d *DiscordTransport) userVoiceChannelID(guildID, userID string) (string, error) {
	if d.session.State != nil {
		vs, err := d.session.State.VoiceState(guildID, userID)
		if err == nil && vs != nil {
			return vs.ChannelID, nil
		}
	}
	// The state cache is cold right after startup.
	vs, err := d.session.UserVoiceState(guildID, userID)
	if err != nil {
		if isRESTNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if vs == nil {
		return "", nil
	}
	return vs.ChannelID, nil
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}

func parseDiscordAddress(addr string) (string, string, error) {
	guildID, userID, ok := strings.Cut(strings.TrimSpace(addr), "/")
	if !ok || guildID == "" || userID == "" || strings.Contains(userID, "/") {
		return "", "", fmt.Errorf("discord address %q must be guildID/userID", addr)
	}
	return guildID, userID, nil
}

// utterance accumulates decoded PCM until the speaker has been silent long enough.
type utterance struct {
	pcm      []byte
	gap      time.Duration
	minBytes int
}

func newUtterance(gap, minDuration time.Duration) *utterance {
	bytesPerMs := audio.SampleRate * audio.Channels * 2 / 1000
	return &utterance{gap: gap, minBytes: int(minDuration.Milliseconds()) * bytesPerMs}
}

func (u *utterance) add(pcm []byte) {
	u.pcm = append(u.pcm, pcm...)
}

// flush returns the buffered speech once lastPacket is older than the silence gap.
// Buffers shorter than the minimum duration are discarded as noise.
func (u *utterance) flush(lastPacket, now time.Time) ([]byte, bool) {
	if len(u.pcm) == 0 || now.Sub(lastPacket) < u.gap {
		return nil, false
	}
	pcm := u.pcm
	u.pcm = nil
	if len(pcm) < u.minBytes {
		return nil, false
	}
	return pcm, true
}
