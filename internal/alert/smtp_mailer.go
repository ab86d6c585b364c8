// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alert

import (
	"fmt"
	"net/smtp"
)

// SMTPMailer sends plain-text mail through a STARTTLS relay, mirroring the
// reference notifier's use of smtplib with starttls() and no further
// authentication. No third-party mail library appears anywhere in the
// example corpus, so net/smtp is used directly here rather than
// introduced speculatively.
type SMTPMailer struct {
	Host string
	Port int
	From string

	Enabled bool
}

func (m *SMTPMailer) Send(subject, body, to string) error {
	if !m.Enabled {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [Sensor] %s\r\n\r\n%s\r\n",
		m.From, to, subject, body)

	return smtp.SendMail(addr, nil, m.From, []string{to}, []byte(msg))
}
