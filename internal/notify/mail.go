package notify

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// SMTPConfig описывает подключение к почтовому серверу.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailNotifier отправляет письма через SMTP.
type MailNotifier struct {
	dialer dialer
	from   string
	logger *log.Entry
}

// NewMailNotifier создаёт SMTP-отправителя.
func NewMailNotifier(cfg SMTPConfig, logger *log.Entry) (*MailNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	if from == "" {
		return nil, fmt.Errorf("smtp sender address is required")
	}
	return newMailNotifier(gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password), from, logger), nil
}

func newMailNotifier(d dialer, from string, logger *log.Entry) *MailNotifier {
	if logger == nil {
		logger = log.WithField("component", "mail-notifier")
	}
	return &MailNotifier{dialer: d, from: from, logger: logger}
}

func (n *MailNotifier) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	n.logger.WithFields(log.Fields{"to": to, "subject": subject}).Debug("mail sent")
	return nil
}

// LogNotifier пишет письма в лог вместо отправки. Используется без SMTP.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "log-notifier")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, to, subject, body string) error {
	n.logger.WithFields(log.Fields{
		"to":      to,
		"subject": subject,
	}).Info(body)
	return nil
}

var (
	_ domain.Notifier = (*MailNotifier)(nil)
	_ domain.Notifier = (*LogNotifier)(nil)
)
