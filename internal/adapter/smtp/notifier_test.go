package smtp

import (
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nasa-access-etl/internal/config"
	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

type sent struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func recorder(out *[]sent, err error) SendFunc {
	return func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*out = append(*out, sent{addr, a, from, to, string(msg)})
		return err
	}
}

func testConfig() *config.Config {
	return &config.Config{
		SMTPHost:        "mail.example.test",
		SMTPPort:        587,
		SMTPFrom:        "nasaaccess@example.test",
		DownloadPageURL: "https://nasaaccess.example.test/download",
	}
}

func TestNotifier_SendsCompletion(t *testing.T) {
	var out []sent
	n := NewNotifier(testConfig(), recorder(&out, nil), slog.Default())

	err := n.Notify(context.Background(), domain.Completion{
		RunID: "3f1c9a",
		Email: "user@example.test",
		Functions: []domain.FunctionOutcome{
			{Mode: domain.ModePointPrecipitation, Status: domain.StatusCompleted},
			{Mode: domain.ModePointTemperature, Status: domain.StatusSkipped, Error: "start is out of coverage"},
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	m := out[0]
	assert.Equal(t, "mail.example.test:587", m.addr)
	assert.Nil(t, m.auth)
	assert.Equal(t, "nasaaccess@example.test", m.from)
	assert.Equal(t, []string{"user@example.test"}, m.to)
	assert.Contains(t, m.msg, "Subject: Your nasaaccess data is ready\r\n")
	assert.Contains(t, m.msg, "Content-Type: text/html")
	assert.Contains(t, m.msg, `<a href="https://nasaaccess.example.test/download">`)
	assert.Contains(t, m.msg, "<b>3f1c9a</b>")
	assert.Contains(t, m.msg, "<li>GLDASwat: skipped (start is out of coverage)</li>")
	assert.NotContains(t, m.msg, "GPMswat")
}

func TestNotifier_UsesAuthWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.SMTPUsername = "relay"
	cfg.SMTPPassword = "secret"
	var out []sent
	n := NewNotifier(cfg, recorder(&out, nil), slog.Default())

	require.NoError(t, n.Notify(context.Background(), domain.Completion{RunID: "r", Email: "user@example.test"}))
	require.Len(t, out, 1)
	assert.NotNil(t, out[0].auth)
}

func TestNotifier_SkipsWithoutRecipient(t *testing.T) {
	var out []sent
	n := NewNotifier(testConfig(), recorder(&out, nil), slog.Default())
	require.NoError(t, n.Notify(context.Background(), domain.Completion{RunID: "r"}))
	assert.Empty(t, out)
}

func TestNotifier_Errors(t *testing.T) {
	var out []sent
	n := NewNotifier(testConfig(), recorder(&out, errors.New("connection refused")), slog.Default())

	err := n.Notify(context.Background(), domain.Completion{RunID: "r", Email: "user@example.test"})
	require.ErrorContains(t, err, "connection refused")

	err = n.Notify(context.Background(), domain.Completion{RunID: "r", Email: "user@example.test\r\nBcc: x@example.test"})
	require.Error(t, err)
	assert.Len(t, out, 1)
}
