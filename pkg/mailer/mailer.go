package mailer

import (
	"fmt"
	"watchpost/config"

	"gopkg.in/gomail.v2"
)

type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

func New(cfg *config.MailConfig) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *Mailer) SendDownAlert(to, url string, latencyMS int64) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", fmt.Sprintf("Watchpost alert: %s is down", url))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Your monitored site %s failed its latest uptime check (latency %dms).\n\n"+
			"You will not receive another alert for this site until the cooldown window elapses.\n",
		url, latencyMS,
	))

	return m.dialer.DialAndSend(msg)
}
