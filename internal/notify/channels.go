package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"resortwala/internal/config"
	"resortwala/internal/domain"
	"resortwala/internal/models"
)

// Message is one rendered notification for one recipient.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Channel delivers rendered messages.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

var ErrDelivery = errors.New("notification delivery failed")

// EmailChannel sends plain SMTP mail.
type EmailChannel struct {
	cfg      config.SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(cfg config.SMTPConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

func (c *EmailChannel) Name() string { return models.ChannelEmail }

func (c *EmailChannel) Send(_ context.Context, msg Message) error {
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	if err := c.sendMail(addr, auth, c.cfg.From, []string{msg.Recipient}, buildMail(c.cfg.From, msg)); err != nil {
		return fmt.Errorf("%w: smtp: %v", ErrDelivery, err)
	}
	return nil
}

func buildMail(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.Recipient + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

var nonDigits = regexp.MustCompile(`\D`)

// NormalizeMobile strips formatting and prefixes 10-digit Indian numbers
// with 91.
func NormalizeMobile(mobile string) string {
	digits := nonDigits.ReplaceAllString(mobile, "")
	if len(digits) == 10 {
		return "91" + digits
	}
	return digits
}

// SMSChannel calls a DLT SMS gateway over HTTP GET.
type SMSChannel struct {
	cfg  config.SMSConfig
	http *http.Client
}

func NewSMSChannel(cfg config.SMSConfig) *SMSChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SMSChannel{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

func (c *SMSChannel) Name() string { return models.ChannelSMS }

func (c *SMSChannel) Send(ctx context.Context, msg Message) error {
	params := url.Values{}
	params.Set("username", c.cfg.Username)
	params.Set("message", msg.Body)
	params.Set("sendername", c.cfg.SenderName)
	params.Set("smstype", "TRANS")
	params.Set("numbers", NormalizeMobile(msg.Recipient))
	params.Set("apikey", c.cfg.APIKey)
	params.Set("templateid", c.cfg.TemplateID)
	params.Set("peid", c.cfg.PEID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sms: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: sms: status %d", ErrDelivery, resp.StatusCode)
	}
	// шлюз отвечает 200 даже на логические ошибки
	upper := strings.ToUpper(string(body))
	if strings.Contains(upper, "INVALID") || strings.Contains(upper, "ERROR") {
		return fmt.Errorf("%w: sms: %s", ErrDelivery, strings.TrimSpace(string(body)))
	}
	return nil
}

// TelegramChannel posts to a chat; the recipient is the numeric chat id.
type TelegramChannel struct {
	bot domain.TelegramSender
}

func NewTelegramChannel(bot domain.TelegramSender) *TelegramChannel {
	return &TelegramChannel{bot: bot}
}

func (c *TelegramChannel) Name() string { return models.ChannelTelegram }

func (c *TelegramChannel) Send(_ context.Context, msg Message) error {
	chatID, err := strconv.ParseInt(msg.Recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: telegram: bad chat id %q", ErrDelivery, msg.Recipient)
	}
	text := msg.Body
	if msg.Subject != "" {
		text = "*" + tgbotapi.EscapeText(tgbotapi.ModeMarkdown, msg.Subject) + "*\n" + text
	}
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeMarkdown
	if _, err := c.bot.Send(m); err != nil {
		return fmt.Errorf("%w: telegram: %v", ErrDelivery, err)
	}
	return nil
}

// NewTelegramBot connects the bot API client.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// ChannelsFromConfig builds every enabled delivery channel. telegram may be
// nil; a client is created from the config when the channel is enabled.
func ChannelsFromConfig(nc config.NotificationConfig, telegram domain.TelegramSender) ([]Channel, error) {
	var channels []Channel
	if nc.SMTP.Enabled {
		channels = append(channels, NewEmailChannel(nc.SMTP))
	}
	if nc.SMS.Enabled {
		channels = append(channels, NewSMSChannel(nc.SMS))
	}
	if nc.Telegram.Enabled {
		if telegram == nil {
			bot, err := NewTelegramBot(nc.Telegram)
			if err != nil {
				return nil, err
			}
			telegram = bot
		}
		channels = append(channels, NewTelegramChannel(telegram))
	}
	return channels, nil
}

// OptionsFromConfig maps the notification section to dispatcher options.
func OptionsFromConfig(nc config.NotificationConfig) Options {
	return Options{
		AdminEmail:  nc.AdminEmail,
		AdminChatID: nc.Telegram.AdminChatID,
		Async:       nc.Async,
		QueueSize:   nc.QueueSize,
	}
}
