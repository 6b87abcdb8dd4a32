// Package smtp sends the completion e-mail that points a requester at their
// data.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/couchcryptid/nasa-access-etl/internal/config"
	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// Subject is the subject line of every completion e-mail.
const Subject = "Your nasaaccess data is ready"

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

var body = template.Must(template.New("completion").Parse(`<html>
<body>
<p>Hello,</p>
<p>Your nasaaccess data is ready. Visit <a href="{{.Link}}">{{.Link}}</a> and use the code <b>{{.RunID}}</b> to download it.</p>
{{- if .Failed}}
<p>Some functions did not finish:</p>
<ul>
{{- range .Failed}}
<li>{{.Mode}}: {{.Status}}{{if .Error}} ({{.Error}}){{end}}</li>
{{- end}}
</ul>
{{- end}}
<p>The nasaaccess team</p>
</body>
</html>
`))

// Notifier e-mails the requester when a run completes.
// It implements pipeline.Notifier.
type Notifier struct {
	addr   string
	auth   smtp.Auth
	from   string
	link   string
	send   SendFunc
	logger *slog.Logger
}

// NewNotifier creates a Notifier for the configured SMTP relay. A nil send
// uses smtp.SendMail.
func NewNotifier(cfg *config.Config, send SendFunc, logger *slog.Logger) *Notifier {
	if send == nil {
		send = smtp.SendMail
	}
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &Notifier{
		addr:   net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		auth:   auth,
		from:   cfg.SMTPFrom,
		link:   cfg.DownloadPageURL,
		send:   send,
		logger: logger,
	}
}

// Notify sends the completion e-mail. Runs without an address are skipped.
func (n *Notifier) Notify(_ context.Context, c domain.Completion) error {
	if c.Email == "" {
		n.logger.Debug("no recipient, skipping e-mail", "run_id", c.RunID)
		return nil
	}
	if strings.ContainsAny(c.Email, "\r\n") {
		return errors.New("invalid recipient address")
	}
	msg, err := n.message(c)
	if err != nil {
		return err
	}
	if err := n.send(n.addr, n.auth, n.from, []string{c.Email}, msg); err != nil {
		return fmt.Errorf("send completion e-mail: %w", err)
	}
	n.logger.Info("completion e-mail sent", "run_id", c.RunID)
	return nil
}

func (n *Notifier) message(c domain.Completion) ([]byte, error) {
	var failed []domain.FunctionOutcome
	for _, f := range c.Functions {
		if f.Status != domain.StatusCompleted {
			failed = append(failed, f)
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", n.from)
	fmt.Fprintf(&buf, "To: %s\r\n", c.Email)
	fmt.Fprintf(&buf, "Subject: %s\r\n", Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	err := body.Execute(&buf, struct {
		Link   string
		RunID  string
		Failed []domain.FunctionOutcome
	}{n.link, c.RunID, failed})
	if err != nil {
		return nil, fmt.Errorf("render completion e-mail: %w", err)
	}
	return buf.Bytes(), nil
}
