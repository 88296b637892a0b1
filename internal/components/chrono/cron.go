package chrono

import (
	"context"
	"fmt"
	"ireps-scraper/internal/components/telemetry"

	"github.com/robfig/cron/v3"
)

// CronAPI is the interface that anything depending on things to happen on a cron job should use.
type CronAPI interface {
	Cron(spec string, callback func()) error
}

// StandardCron is the standard implementation of CronAPI using `github.com/robfig/cron/v3`.
//
// Jobs never overlap: a tick that fires while the previous invocation of the same
// job is still running is skipped.
type StandardCron struct {
	cron *cron.Cron
}

// NewStandardCron is the constructor of StandardCron, jobs are evaluated in the clock's location.
func NewStandardCron(clock API, tel telemetry.API) StandardCron {
	logger := cronLogger{tel: tel}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(clock.Location()),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
	cronner.Start()

	return StandardCron{
		cron: cronner,
	}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	_, err := s.Schedule(spec, callback)
	return err
}

// Schedule registers callback like Cron and returns a trigger that runs it
// right away on the calling goroutine. The trigger goes through the same
// wrapped job as the scheduled ticks, so it is skipped while a tick is still
// running and a tick is skipped while it runs.
func (s StandardCron) Schedule(spec string, callback func()) (func(), error) {
	id, err := s.cron.AddFunc(spec, callback)
	if err != nil {
		return nil, err
	}
	wrapped := s.cron.Entry(id).WrappedJob
	return wrapped.Run, nil
}

// Stop stops scheduling new jobs and waits for running jobs until ctx is done.
func (s StandardCron) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// DailyAt builds a cron spec firing at minute 0 of every listed hour.
func DailyAt(hours []int) (string, error) {
	if len(hours) == 0 {
		return "", fmt.Errorf("no schedule hours given")
	}
	spec := "0 "
	for i, h := range hours {
		if h < 0 || h > 23 {
			return "", fmt.Errorf("invalid schedule hour %d", h)
		}
		if i > 0 {
			spec += ","
		}
		spec += fmt.Sprint(h)
	}
	return spec + " * * *", nil
}

type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) formatParams(keysAndValues []any) []any {
	params := []any{}
	for i := 0; i < len(keysAndValues)/2; i++ {
		idx := i * 2
		key := keysAndValues[idx]
		value := keysAndValues[idx+1]
		params = append(params, fmt.Sprintf("%v: %v", key, value))
	}
	return params
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug(
		fmt.Sprintf("cron: %s", msg),
		l.formatParams(keysAndValues)...,
	)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(
		"cron",
		append([]any{fmt.Errorf("%s: %w", msg, err)}, l.formatParams(keysAndValues)...)...,
	)
}
