package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownProvider = errors.New("unknown email provider")
	ErrNoSMTPHost      = errors.New("smtp host is required for the custom provider")
)

type SMTPConfig struct {
	Provider    string
	Host        string
	Port        int
	Secure      bool
	User        string
	Password    string
	FromName    string
	FrontendURL string
	// LinkTTL and PinTTL are only rendered into message bodies.
	LinkTTL time.Duration
	PinTTL  time.Duration
}

type smtpPreset struct {
	host   string
	port   int
	secure bool
}

var providerPresets = map[string]smtpPreset{
	"gmail":  {host: "smtp.gmail.com", port: 465, secure: true},
	"yandex": {host: "smtp.yandex.ru", port: 465, secure: true},
	"mailru": {host: "smtp.mail.ru", port: 465, secure: true},
}

// ResolveSMTP applies the provider preset, if any, over the raw settings.
func ResolveSMTP(cfg SMTPConfig) (SMTPConfig, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "custom"
	}
	cfg.Provider = provider

	if provider == "custom" {
		if cfg.Host == "" {
			return SMTPConfig{}, ErrNoSMTPHost
		}
		if cfg.Port <= 0 {
			cfg.Port = 587
		}
	} else {
		p, ok := providerPresets[provider]
		if !ok {
			return SMTPConfig{}, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
		}
		cfg.Host, cfg.Port, cfg.Secure = p.host, p.port, p.secure
	}

	if cfg.FromName == "" {
		cfg.FromName = "Newsklad"
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "http://localhost:3000"
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 24 * time.Hour
	}
	if cfg.PinTTL <= 0 {
		cfg.PinTTL = 10 * time.Minute
	}
	return cfg, nil
}

// SMTPNotifier delivers account mail over SMTP. Port 465 style
// providers get implicit TLS; everything else upgrades with STARTTLS when the
// server offers it.
type SMTPNotifier struct {
	cfg  SMTPConfig
	log  *slog.Logger
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewSMTPNotifier(cfg SMTPConfig, log *slog.Logger) (*SMTPNotifier, error) {
	resolved, err := ResolveSMTP(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	d := &net.Dialer{}
	return &SMTPNotifier{cfg: resolved, log: log, dial: d.DialContext}, nil
}

func (n *SMTPNotifier) SendVerification(ctx context.Context, msg VerificationMessage) (Delivery, error) {
	messageID := n.newMessageID()

	body, err := n.buildVerificationMessage(msg, messageID, time.Now())
	if err != nil {
		return Delivery{Reason: ReasonSendFailed}, err
	}
	return n.deliver(ctx, "verification", msg.Email, messageID, body)
}

func (n *SMTPNotifier) SendPinCode(ctx context.Context, msg PinMessage) (Delivery, error) {
	messageID := n.newMessageID()

	body, err := n.buildPinMessage(msg, messageID, time.Now())
	if err != nil {
		return Delivery{Reason: ReasonSendFailed}, err
	}
	return n.deliver(ctx, "pin", msg.Email, messageID, body)
}

func (n *SMTPNotifier) newMessageID() string {
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), n.cfg.Host)
}

func (n *SMTPNotifier) deliver(ctx context.Context, kind, to, messageID string, body []byte) (Delivery, error) {
	err := n.withClient(ctx, func(c *smtp.Client) error {
		if err := c.Mail(n.cfg.User); err != nil {
			return fmt.Errorf("mail from: %w", err)
		}
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("rcpt to: %w", err)
		}
		w, err := c.Data()
		if err != nil {
			return fmt.Errorf("data: %w", err)
		}
		if _, err := w.Write(body); err != nil {
			_ = w.Close()
			return fmt.Errorf("write body: %w", err)
		}
		return w.Close()
	})
	if err != nil {
		n.log.WarnContext(ctx, "email failed", "kind", kind, "email", to, "err", err)
		return Delivery{Reason: ReasonSendFailed}, err
	}

	n.log.InfoContext(ctx, "email sent", "kind", kind, "email", to, "message_id", messageID)
	return Delivery{Delivered: true, MessageID: messageID}, nil
}

// Ready connects and authenticates without sending anything.
func (n *SMTPNotifier) Ready(ctx context.Context) error {
	return n.withClient(ctx, func(*smtp.Client) error { return nil })
}

func (n *SMTPNotifier) withClient(ctx context.Context, fn func(c *smtp.Client) error) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	conn, err := n.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsCfg := &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}
	if n.cfg.Secure {
		conn = tls.Client(conn, tlsCfg)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if !n.cfg.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if ok, _ := c.Extension("AUTH"); ok && n.cfg.User != "" {
		if err := c.Auth(smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := fn(c); err != nil {
		return err
	}
	return c.Quit()
}

const verificationSubject = "Подтверждение регистрации в Newsklad"

var verificationTmpl = template.Must(template.New("verification").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #2c3e50;">Добро пожаловать в Newsklad!</h2>
  <p>Здравствуйте, <strong>{{.Name}}</strong>!</p>
  <p>Спасибо за регистрацию в системе управления складом Newsklad. Для завершения регистрации подтвердите ваш email адрес.</p>
  <div style="text-align: center; margin: 30px 0;">
    <a href="{{.Link}}" style="background-color: #3498db; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Подтвердить email</a>
  </div>
  <p>Если кнопка не работает, скопируйте эту ссылку в адресную строку браузера:</p>
  <p style="background-color: #f8f9fa; padding: 10px; border-radius: 3px; word-break: break-all;">{{.Link}}</p>
  <hr style="margin: 30px 0;">
  <p style="color: #7f8c8d; font-size: 14px;"><strong>Важно:</strong> Эта ссылка действительна в течение {{.Hours}} часов.<br>
  Если вы не регистрировались в Newsklad, просто проигнорируйте это письмо.</p>
  <p style="color: #7f8c8d; font-size: 12px;">С уважением,<br>Команда Newsklad</p>
</div>
`))

func (n *SMTPNotifier) verificationLink(code string) string {
	base := strings.TrimRight(n.cfg.FrontendURL, "/")
	return base + "/verify?code=" + url.QueryEscape(code)
}

const pinSubject = "Код подтверждения входа - Newsklad"

var pinTmpl = template.Must(template.New("pin").Parse(`<div style="font-family: Arial, sans-serif; max-width: 500px; margin: 0 auto;">
  <h2 style="color: #e74c3c;">Код подтверждения</h2>
  <p>Здравствуйте, <strong>{{.Name}}</strong>!</p>
  <p>Для входа в ваш аккаунт Newsklad введите код подтверждения:</p>
  <div style="text-align: center; margin: 30px 0;">
    <div style="background-color: #f8f9fa; border: 2px solid #e74c3c; padding: 20px; border-radius: 8px; display: inline-block;">
      <span style="font-size: 32px; font-weight: bold; color: #e74c3c; letter-spacing: 5px;">{{.Pin}}</span>
    </div>
  </div>
  <p style="color: #7f8c8d; font-size: 14px;"><strong>Важно:</strong> Код действителен в течение {{.Minutes}} минут.<br>
  Никому не сообщайте этот код. Если вы не пытались войти в систему, немедленно свяжитесь с поддержкой.</p>
</div>
`))

func (n *SMTPNotifier) buildVerificationMessage(msg VerificationMessage, messageID string, now time.Time) ([]byte, error) {
	var html bytes.Buffer
	err := verificationTmpl.Execute(&html, map[string]any{
		"Name":  msg.Name,
		"Link":  n.verificationLink(msg.Code),
		"Hours": int(n.cfg.LinkTTL.Hours()),
	})
	if err != nil {
		return nil, fmt.Errorf("render verification email: %w", err)
	}
	return n.compose(msg.Email, n.cfg.FromName, verificationSubject, messageID, now, html.String()), nil
}

func (n *SMTPNotifier) buildPinMessage(msg PinMessage, messageID string, now time.Time) ([]byte, error) {
	var html bytes.Buffer
	err := pinTmpl.Execute(&html, map[string]any{
		"Name":    msg.Name,
		"Pin":     msg.Pin,
		"Minutes": int(n.cfg.PinTTL.Minutes()),
	})
	if err != nil {
		return nil, fmt.Errorf("render pin email: %w", err)
	}
	return n.compose(msg.Email, n.cfg.FromName+" Security", pinSubject, messageID, now, html.String()), nil
}

func (n *SMTPNotifier) compose(to, fromName, subject, messageID string, now time.Time, html string) []byte {
	var b bytes.Buffer
	from := fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", fromName), n.cfg.User)
	headers := [][2]string{
		{"From", from},
		{"To", to},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"Date", now.Format(time.RFC1123Z)},
		{"Message-ID", messageID},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/html; charset="UTF-8"`},
		{"Content-Transfer-Encoding", "8bit"},
	}
	for _, h := range headers {
		b.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(html, "\n", "\r\n"))
	return b.Bytes()
}
