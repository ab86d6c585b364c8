// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alert

// Mailer is the narrow send-one-email interface the Alerter needs. A real
// implementation wraps net/smtp against the configured relay; tests
// substitute a fake that records what would have been sent.
type Mailer interface {
	Send(subject, body, to string) error
}
