package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/channel"
	"github.com/foxseedlab/disciplinecall/internal/voice"
	"github.com/go-resty/resty/v2"
)

const (
	telegramAPIBase       = "https://api.telegram.org"
	telegramPollTimeout   = 25 * time.Second
	telegramPollBackoff   = 3 * time.Second
	telegramCaptionLimit  = 1024
	telegramClientTimeout = telegramPollTimeout + 10*time.Second
)

type telegramResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      T      `json:"result"`
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text  string `json:"text"`
	Voice *struct {
		FileID   string `json:"file_id"`
		Duration int    `json:"duration"`
	} `json:"voice"`
}

type telegramFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// TelegramTransport talks to users through a Telegram bot: voice notes and text out,
// voice notes and text back. Replies are collected by long-polling getUpdates.
type TelegramTransport struct {
	token  string
	client *resty.Client
	convs  *conversations
	logger *slog.Logger
}

func NewTelegramTransport(token string, logger *slog.Logger) *TelegramTransport {
	return newTelegramTransport(telegramAPIBase, token, logger)
}

func newTelegramTransport(apiBase, token string, logger *slog.Logger) *TelegramTransport {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiBase, "/")).
		SetTimeout(telegramClientTimeout)
	return &TelegramTransport{
		token:  token,
		client: client,
		convs:  newConversations(logger),
		logger: logger,
	}
}

func (t *TelegramTransport) ID() call.ChannelID {
	return call.ChannelTelegram
}

func (t *TelegramTransport) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		VoiceOut:    true,
		TextOut:     true,
		VoiceIn:     true,
		TextIn:      true,
		AudioFormat: voice.FormatOggOpus,
	}
}

func (t *TelegramTransport) Send(ctx context.Context, recipient string, payload channel.Payload) (channel.Handle, error) {
	if _, err := strconv.ParseInt(recipient, 10, 64); err != nil {
		return channel.Handle{}, call.NewConfigurationError("telegram send", fmt.Errorf("chat id %q is not numeric", recipient))
	}
	id, fresh, err := t.convs.open(recipient, payload.Conversation)
	if err != nil {
		return channel.Handle{}, err
	}
	if err := t.send(ctx, recipient, payload); err != nil {
		if fresh {
			t.convs.close(id)
		}
		return channel.Handle{}, err
	}
	if fresh {
		t.logger.Debug("telegram conversation opened", "handle", id, "chat_id", recipient)
	}
	return channel.Handle{Channel: call.ChannelTelegram, ID: id, Recipient: recipient}, nil
}

func (t *TelegramTransport) send(ctx context.Context, chatID string, payload channel.Payload) error {
	if !payload.HasAudio() {
		return t.sendMessage(ctx, chatID, payload.Text)
	}
	caption := ""
	if len(payload.Text) <= telegramCaptionLimit {
		caption = payload.Text
	}
	var out telegramResponse[telegramMessage]
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"chat_id": chatID, "caption": caption}).
		SetFileReader("voice", "message.ogg", bytes.NewReader(payload.Audio)).
		SetResult(&out).
		SetError(&out).
		Post(t.method("sendVoice"))
	if err := telegramError("sendVoice", resp, err, out.OK, out.Description); err != nil {
		return err
	}
	if caption == "" && payload.Text != "" {
		return t.sendMessage(ctx, chatID, payload.Text)
	}
	return nil
}

func (t *TelegramTransport) sendMessage(ctx context.Context, chatID, text string) error {
	var out telegramResponse[telegramMessage]
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": chatID, "text": text}).
		SetResult(&out).
		SetError(&out).
		Post(t.method("sendMessage"))
	return telegramError("sendMessage", resp, err, out.OK, out.Description)
}

func (t *TelegramTransport) AwaitReply(ctx context.Context, h channel.Handle, timeout time.Duration) (channel.Reply, error) {
	return t.convs.wait(ctx, h.ID, timeout)
}

func (t *TelegramTransport) Close(_ context.Context, h channel.Handle) error {
	t.convs.close(h.ID)
	return nil
}

// Run long-polls getUpdates until ctx is cancelled, routing each message to the open
// conversation of its chat.
func (t *TelegramTransport) Run(ctx context.Context) error {
	t.logger.Info("telegram poller started")
	var offset int64
	for {
		updates, err := t.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				t.logger.Info("telegram poller stopped")
				return nil
			}
			t.logger.Warn("telegram getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(telegramPollBackoff):
			}
			continue
		}
		for _, u := range updates {
			offset = max(offset, u.UpdateID+1)
			if u.Message != nil {
				t.handleMessage(ctx, u.Message)
			}
		}
	}
}

func (t *TelegramTransport) getUpdates(ctx context.Context, offset int64) ([]telegramUpdate, error) {
	var out telegramResponse[[]telegramUpdate]
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset":          strconv.FormatInt(offset, 10),
			"timeout":         strconv.Itoa(int(telegramPollTimeout.Seconds())),
			"allowed_updates": `["message"]`,
		}).
		SetResult(&out).
		SetError(&out).
		Get(t.method("getUpdates"))
	if err := telegramError("getUpdates", resp, err, out.OK, out.Description); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (t *TelegramTransport) handleMessage(ctx context.Context, msg *telegramMessage) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if _, ok := t.convs.handleFor(chatID); !ok {
		t.logger.Debug("ignoring telegram message outside a call", "chat_id", chatID)
		return
	}
	reply := channel.Reply{Text: strings.TrimSpace(msg.Text), ReceivedAt: time.Now()}
	if msg.Voice != nil {
		data, err := t.downloadFile(ctx, msg.Voice.FileID)
		if err != nil {
			t.logger.Warn("failed to download telegram voice note", "chat_id", chatID, "error", err)
			return
		}
		reply.Audio = data
		reply.Format = voice.FormatOggOpus
	}
	if reply.Text == "" && !reply.IsAudio() {
		return
	}
	t.convs.deliverTo(chatID, reply)
}

func (t *TelegramTransport) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var out telegramResponse[telegramFile]
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParam("file_id", fileID).
		SetResult(&out).
		SetError(&out).
		Get(t.method("getFile"))
	if err := telegramError("getFile", resp, err, out.OK, out.Description); err != nil {
		return nil, err
	}
	if out.Result.FilePath == "" {
		return nil, errors.New("telegram getFile returned no file path")
	}
	file, err := t.client.R().
		SetContext(ctx).
		Get("/file/bot" + t.token + "/" + out.Result.FilePath)
	if err != nil {
		return nil, fmt.Errorf("download telegram file: %w", err)
	}
	if file.IsError() {
		return nil, fmt.Errorf("download telegram file: status %d", file.StatusCode())
	}
	return file.Body(), nil
}

func (t *TelegramTransport) method(name string) string {
	return "/bot" + t.token + "/" + name
}

func telegramError(method string, resp *resty.Response, err error, ok bool, description string) error {
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if resp.IsError() || !ok {
		if description == "" {
			description = resp.Status()
		}
		return fmt.Errorf("telegram %s failed (status %d): %s", method, resp.StatusCode(), description)
	}
	return nil
}
