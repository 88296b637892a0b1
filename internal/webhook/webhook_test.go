package webhook

import (
	"context"
	"encoding/json"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/otp"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMailbox struct {
	mu       sync.Mutex
	messages []otp.Message
}

func (f *fakeMailbox) Deliver(msg otp.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func do(t *testing.T, handler http.Handler, req *http.Request) (int, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestSmsWebhook(t *testing.T) {
	testCases := []struct {
		name       string
		req        func() *http.Request
		expectCode string
		expectText string
		expectFrom string
	}{
		{
			name: "query parameter",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/sms-webhook?msg="+url.QueryEscape("IREPS OTP 482913 valid for 24 hrs"), nil)
			},
			expectCode: "482913",
			expectText: "IREPS OTP 482913 valid for 24 hrs",
		},
		{
			name: "json object",
			req: func() *http.Request {
				body := `{"from":"VK-IREPS","timestamp":"2024-03-01 10:00","message":"Your OTP is 551122"}`
				req := httptest.NewRequest(http.MethodPost, "/sms-webhook", strings.NewReader(body))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			expectCode: "551122",
			expectText: "Your OTP is 551122",
			expectFrom: "VK-IREPS",
		},
		{
			name: "json string",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/sms-webhook", strings.NewReader(`"code 7788"`))
			},
			expectCode: "7788",
			expectText: "code 7788",
		},
		{
			name: "form",
			req: func() *http.Request {
				form := url.Values{"sender": {"IREPS"}, "text": {"OTP: 135790"}}
				req := httptest.NewRequest(http.MethodPost, "/sms-webhook", strings.NewReader(form.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			expectCode: "135790",
			expectText: "OTP: 135790",
			expectFrom: "IREPS",
		},
		{
			name: "raw body",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/sms-webhook", strings.NewReader("Dear user, 246810 is your OTP"))
			},
			expectCode: "246810",
			expectText: "Dear user, 246810 is your OTP",
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			mailbox := &fakeMailbox{}
			server := NewServer(mailbox, "", telemetry.NewRecorder())

			status, body := do(t, server.Handler(), test.req())
			require.Equal(t, http.StatusOK, status)
			require.Equal(t, "ok", body["status"])
			require.Equal(t, test.expectCode, body["otp_received"])

			require.Len(t, mailbox.messages, 1)
			require.Equal(t, test.expectText, mailbox.messages[0].Text)
			require.Equal(t, test.expectFrom, mailbox.messages[0].From)
		})
	}
}

func TestSmsWebhookWithoutCode(t *testing.T) {
	mailbox := &fakeMailbox{}
	tel := telemetry.NewRecorder()
	server := NewServer(mailbox, "", tel)

	body := `{"from":"+919876543210","timestamp":"2024-03-01 10:00","message":"hello there"}`
	status, res := do(t, server.Handler(), httptest.NewRequest(http.MethodPost, "/sms-webhook", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "error", res["status"])
	require.Empty(t, mailbox.messages)
	require.True(t, tel.Has(telemetry.KIND_WARNING, report_server_sms))
}

func TestSmsWebhookSecret(t *testing.T) {
	mailbox := &fakeMailbox{}
	server := NewServer(mailbox, "s3cret", telemetry.NewRecorder())
	handler := server.Handler()

	status, _ := do(t, handler, httptest.NewRequest(http.MethodGet, "/sms-webhook?msg=123456", nil))
	require.Equal(t, http.StatusUnauthorized, status)
	require.Empty(t, mailbox.messages)

	status, res := do(t, handler, httptest.NewRequest(http.MethodGet, "/sms-webhook?secret=s3cret&msg=123456", nil))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "123456", res["otp_received"])

	req := httptest.NewRequest(http.MethodGet, "/sms-webhook?msg=654321", nil)
	req.Header.Set("X-Webhook-Secret", "s3cret")
	status, _ = do(t, handler, req)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, mailbox.messages, 2)

	// health stays open
	status, res = do(t, handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "running", res["status"])
}

func TestUnknownRoutes(t *testing.T) {
	server := NewServer(&fakeMailbox{}, "", telemetry.NewRecorder())
	status, _ := do(t, server.Handler(), httptest.NewRequest(http.MethodGet, "/get-otp", nil))
	require.Equal(t, http.StatusNotFound, status)
	status, _ = do(t, server.Handler(), httptest.NewRequest(http.MethodDelete, "/sms-webhook", nil))
	require.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestServeDeliversToMailbox(t *testing.T) {
	mailbox := &fakeMailbox{}
	server := NewServer(mailbox, "", telemetry.NewRecorder())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, listener)
	}()

	res, err := http.Post("http://"+listener.Addr().String()+"/sms-webhook", "text/plain", strings.NewReader("OTP 908070"))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	cancel()
	require.NoError(t, <-done)

	mailbox.mu.Lock()
	defer mailbox.mu.Unlock()
	require.Len(t, mailbox.messages, 1)
}
