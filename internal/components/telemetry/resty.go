package telemetry

import (
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
)

// InstrumentResty reports every request made through client. Responses with an
// error status are reported as warnings, transport failures as broken.
func InstrumentResty(client *resty.Client, tel API) {
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		tel.ReportDebug(report_resty_request, req.Method, req.URL)
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		if res.IsError() {
			tel.ReportWarning(report_resty_response, res.Request.Method, res.Request.URL, res.Status())
			return nil
		}
		tel.ReportDebug(report_resty_response, res.Request.Method, res.Request.URL, res.Status(), res.Time().String())
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		var elapsed time.Duration
		if !req.Time.IsZero() {
			elapsed = time.Since(req.Time)
		}
		tel.ReportBroken(report_resty_response, err, req.Method, req.URL, elapsed.String())
	})
}
