package commands

import (
	"context"
	"errors"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/config"
	"ireps-scraper/internal/notify"
	"ireps-scraper/internal/otp"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T) app {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	clock, err := chrono.NewStandardImpl("Asia/Kolkata")
	require.NoError(t, err)
	return app{cfg: cfg, clock: clock, tel: telemetry.NewRecorder()}
}

func TestNotifierOnlyForConfiguredChannels(t *testing.T) {
	a := testApp(t)
	require.Nil(t, a.notifier())

	a.cfg.Notify.HealthWebhookUrl = "http://localhost:9/health"
	notifiers, ok := a.notifier().(notify.Multi)
	require.True(t, ok)
	require.Len(t, notifiers, 1)

	a.cfg.Notify.Email.SmtpHost = "smtp.example.com"
	a.cfg.Notify.Email.To = []string{"ops@example.com"}
	notifiers = a.notifier().(notify.Multi)
	require.Len(t, notifiers, 2)
}

func TestWithWebhookSurvivesBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	a := testApp(t)
	a.cfg.Webhook.Port = busy.Addr().(*net.TCPAddr).Port

	failure := errors.New("run failed")
	called := false
	err = a.withWebhook(context.Background(), func(ctx context.Context, mailbox *otp.Mailbox) error {
		called = true
		require.NotNil(t, mailbox)
		return failure
	})
	require.True(t, called)
	require.ErrorIs(t, err, failure)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
