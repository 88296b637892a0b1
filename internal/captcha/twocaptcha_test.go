package captcha

import (
	"context"
	"encoding/base64"
	"ireps-scraper/internal/components/telemetry"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeService struct {
	submits   atomic.Int32
	polls     atomic.Int32
	notReady  int32
	submitErr string
	answer    string
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain")
	switch r.URL.Path {
	case "/in.php":
		f.submits.Add(1)
		if r.FormValue("key") != "secret" || r.FormValue("method") != "base64" {
			w.Write([]byte(`{"status":0,"request":"ERROR_WRONG_USER_KEY"}`))
			return
		}
		image, err := base64.StdEncoding.DecodeString(r.FormValue("body"))
		if err != nil || string(image) != "png-bytes" {
			w.Write([]byte(`{"status":0,"request":"ERROR_IMAGE_TYPE_NOT_SUPPORTED"}`))
			return
		}
		if f.submitErr != "" {
			w.Write([]byte(`{"status":0,"request":"` + f.submitErr + `"}`))
			return
		}
		w.Write([]byte(`{"status":1,"request":"4242"}`))
	case "/res.php":
		n := f.polls.Add(1)
		if r.URL.Query().Get("id") != "4242" || r.URL.Query().Get("action") != "get" {
			w.Write([]byte(`{"status":0,"request":"ERROR_WRONG_CAPTCHA_ID"}`))
			return
		}
		if n <= f.notReady {
			w.Write([]byte(`{"status":0,"request":"CAPCHA_NOT_READY"}`))
			return
		}
		w.Write([]byte(`{"status":1,"request":"` + f.answer + `"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, service *fakeService) (*Client, *telemetry.Recorder) {
	server := httptest.NewServer(service)
	t.Cleanup(server.Close)
	recorder := telemetry.NewRecorder()
	client := NewClient(Options{
		BaseUrl:      server.URL,
		ApiKey:       "secret",
		InitialWait:  time.Millisecond,
		PollInterval: time.Millisecond,
		Timeout:      5 * time.Second,
	}, recorder)
	return client, recorder
}

func TestSolveAfterPolling(t *testing.T) {
	service := &fakeService{notReady: 2, answer: " x7Kp2 "}
	client, _ := newTestClient(t, service)

	text, err := client.Solve(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, "x7Kp2", text)
	require.EqualValues(t, 1, service.submits.Load())
	require.EqualValues(t, 3, service.polls.Load())
}

func TestSolveGivesUpAfterAttempts(t *testing.T) {
	service := &fakeService{submitErr: "ERROR_ZERO_BALANCE"}
	client, recorder := newTestClient(t, service)

	_, err := client.Solve(context.Background(), []byte("png-bytes"))
	require.Error(t, err)
	require.ErrorIs(t, err, ServiceError{Code: "ERROR_ZERO_BALANCE"})
	require.EqualValues(t, 3, service.submits.Load())
	require.True(t, recorder.Has(telemetry.KIND_BROKEN, report_client_solve))
}

func TestSolveRejectsEmptyImage(t *testing.T) {
	client, _ := newTestClient(t, &fakeService{})
	_, err := client.Solve(context.Background(), nil)
	require.Error(t, err)
}

func TestSolveHonoursContext(t *testing.T) {
	service := &fakeService{notReady: 1 << 20}
	client, _ := newTestClient(t, service)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Solve(ctx, []byte("png-bytes"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
