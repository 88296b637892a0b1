// Package webhook receives forwarded SMS messages over HTTP and hands the ones
// carrying a one-time code to the mailbox.
package webhook

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/otp"
	"ireps-scraper/lib/serviceutil"
	"net"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	report_server_sms    = "server.sms-webhook"
	report_server_listen = "server.listen"
)

const maxBodySize = 64 << 10

// textKeys are checked first, forwarder apps put the sms body under one of them.
var textKeys = []string{"msg", "message", "text", "body", "sms"}

// senderKeys name the sender, their values never carry the code.
var senderKeys = []string{"from", "sender", "phone"}

// ignoredKeys are never searched for a code, a timestamp easily passes for one.
var ignoredKeys = []string{"secret", "timestamp", "time", "sent_at", "received_at"}

type Mailbox interface {
	Deliver(msg otp.Message)
}

type Server struct {
	mailbox Mailbox
	secret  string
	tel     telemetry.API
}

// NewServer creates the webhook. An empty secret accepts every request,
// otherwise the secret must be passed as the `secret` query parameter or the
// X-Webhook-Secret header.
func NewServer(mailbox Mailbox, secret string, tel telemetry.API) *Server {
	assert.NotNil(mailbox)
	assert.NotNil(tel)
	return &Server{
		mailbox: mailbox,
		secret:  secret,
		tel:     telemetry.NewScopedAPI("webhook", tel),
	}
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, map[string]string{"status": "running"})
	})
	router.Group(func(r chi.Router) {
		r.Use(s.requireSecret)
		r.Get("/sms-webhook", s.handleSms)
		r.Post("/sms-webhook", s.handleSms)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return router
}

func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		given := r.Header.Get("X-Webhook-Secret")
		if given == "" {
			given = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(s.secret)) != 1 {
			s.tel.ReportWarning(report_server_sms, "rejected request with a bad secret", r.RemoteAddr)
			writeJson(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// textParts collects the candidate texts of a request in the order they are
// searched for a code, without duplicates.
type textParts struct {
	parts  []string
	sender string
}

func (t *textParts) add(value string) {
	value = strings.TrimSpace(value)
	if value == "" || slices.Contains(t.parts, value) {
		return
	}
	t.parts = append(t.parts, value)
}

// addFields adds the values of a key/value source, known text keys first and
// the rest in key order.
func (t *textParts) addFields(fields map[string]string) {
	for _, key := range senderKeys {
		if value := fields[key]; value != "" && t.sender == "" {
			t.sender = value
		}
	}
	for _, key := range textKeys {
		t.add(fields[key])
	}
	rest := make([]string, 0, len(fields))
	for key := range fields {
		lower := strings.ToLower(key)
		if slices.Contains(textKeys, lower) || slices.Contains(senderKeys, lower) || slices.Contains(ignoredKeys, lower) {
			continue
		}
		rest = append(rest, key)
	}
	sort.Strings(rest)
	for _, key := range rest {
		t.add(fields[key])
	}
}

func flatten(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			out[strings.ToLower(key)] = vals[0]
		}
	}
	return out
}

func collectParts(r *http.Request) (textParts, error) {
	var parts textParts
	parts.addFields(flatten(r.URL.Query()))
	if r.Method != http.MethodPost {
		return parts, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return parts, err
	}

	// the raw body is only searched when it is not a structured payload
	structured := false
	var decoded any
	if json.Unmarshal(raw, &decoded) == nil {
		switch value := decoded.(type) {
		case map[string]any:
			structured = true
			fields := map[string]string{}
			for key, v := range value {
				if text, ok := v.(string); ok {
					fields[strings.ToLower(key)] = text
				}
			}
			parts.addFields(fields)
		case string:
			parts.add(value)
		}
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if r.ParseForm() == nil {
			structured = true
			parts.addFields(flatten(r.PostForm))
		}
	}

	if !structured {
		parts.add(string(raw))
	}
	return parts, nil
}

func (s *Server) handleSms(w http.ResponseWriter, r *http.Request) {
	parts, err := collectParts(r)
	if err != nil {
		writeJson(w, http.StatusBadRequest, map[string]string{"status": "error", "detail": "unreadable body"})
		return
	}
	s.tel.ReportDebug("sms webhook received", r.Method, truncate(strings.Join(parts.parts, " | "), 500))

	for _, part := range parts.parts {
		code, ok := otp.ExtractCode(part)
		if !ok {
			continue
		}
		s.mailbox.Deliver(otp.Message{From: parts.sender, Text: part})
		writeJson(w, http.StatusOK, map[string]string{"status": "ok", "otp_received": code})
		return
	}

	s.tel.ReportWarning(report_server_sms, "no otp found in message", truncate(strings.Join(parts.parts, " | "), 500))
	writeJson(w, http.StatusOK, map[string]string{"status": "error", "detail": "no OTP found in message"})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ListenAndServe serves the webhook on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.tel.ReportBroken(report_server_listen, err, addr)
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := serviceutil.NewHttpServer(listener.Addr().String(), s.Handler())
	return serviceutil.ServeUntilDone(ctx, server, listener)
}
