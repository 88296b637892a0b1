package commands

import (
	"context"
	"database/sql"
	"fmt"
	"ireps-scraper/internal/captcha"
	"ireps-scraper/internal/changes"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/config"
	"ireps-scraper/internal/history"
	"ireps-scraper/internal/ireps"
	"ireps-scraper/internal/login"
	"ireps-scraper/internal/memory"
	"ireps-scraper/internal/notify"
	"ireps-scraper/internal/otp"
	"ireps-scraper/internal/scrape"
	"ireps-scraper/internal/session"
	"ireps-scraper/internal/webhook"
	"ireps-scraper/lib/serviceutil"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// app holds what every command builds from the configuration.
type app struct {
	cfg   config.Config
	clock chrono.StandardImpl
	tel   telemetry.API
}

func loadApp() app {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		serviceutil.Fatal("failed to load config", err)
	}
	clock, err := chrono.NewStandardImpl(cfg.Schedule.Timezone)
	if err != nil {
		serviceutil.Fatal("failed to load schedule timezone", err)
	}
	var tel telemetry.API = telemetry.SlogAPI{}
	metered, err := telemetry.NewMeteredAPI(tel, otel.Meter("ireps-scraper"))
	if err != nil {
		slog.Warn("report metrics disabled", "err", err)
	} else {
		tel = metered
	}
	return app{cfg: cfg, clock: clock, tel: tel}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func (a app) sessions() *session.Store {
	return session.NewStore(a.cfg.SessionFile, a.cfg.Login.SessionMaxAge.Std(), a.clock, a.tel)
}

func (a app) otpCache() *otp.Cache {
	return otp.NewCache(a.cfg.OtpCacheFile, otp.CacheOptions{
		ReuseWindow: a.cfg.Login.OtpReuseWindow.Std(),
		QuotaWindow: a.cfg.Login.QuotaWindow.Std(),
		QuotaLimit:  a.cfg.Login.QuotaLimit,
	}, a.clock, a.tel)
}

func (a app) memory() *memory.Store {
	return memory.NewStore(a.cfg.MemoryFile, a.tel)
}

func (a app) openHistory(ctx context.Context) (*history.Ledger, *sql.DB, error) {
	database, err := a.cfg.History.OpenDB()
	if err != nil {
		return nil, nil, fmt.Errorf("open history db: %w", err)
	}
	ledger, err := history.NewLedger(ctx, database, a.tel)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return ledger, database, nil
}

func (a app) driver() (*ireps.Driver, error) {
	opts := ireps.Options{
		BaseUrl:           a.cfg.Scrape.BaseUrl,
		RequestsPerSecond: a.cfg.Scrape.RequestsPerSecond,
	}
	if verbose {
		opts.DumpDir = filepath.Join(a.cfg.DataDir, "http_dump")
	}
	return ireps.NewDriver(opts, a.tel)
}

func (a app) notifier() notify.Notifier {
	var notifiers notify.Multi
	if a.cfg.Notify.HealthWebhookUrl != "" {
		notifiers = append(notifiers, notify.NewWebhook(a.cfg.Notify.HealthWebhookUrl, a.tel))
	}
	email := a.cfg.Notify.Email
	if email.SmtpHost != "" && len(email.To) > 0 {
		notifiers = append(notifiers, notify.NewEmail(notify.SmtpConfig{
			Server:   email.SmtpHost,
			Port:     email.SmtpPort,
			Username: email.Username,
			Password: email.Password,
			From:     email.From,
			To:       email.To,
		}, a.tel))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notifiers
}

func (a app) orchestrator(driver *ireps.Driver, mailbox *otp.Mailbox) *login.Orchestrator {
	solver := captcha.NewClient(captcha.Options{
		BaseUrl: a.cfg.Login.CaptchaBaseUrl,
		ApiKey:  a.cfg.Login.CaptchaApiKey,
	}, a.tel)
	return login.NewOrchestrator(login.Options{
		Mobile:         a.cfg.Login.Mobile,
		MaxAttempts:    a.cfg.Login.MaxAttempts,
		CaptchaRetries: a.cfg.Login.CaptchaRetries,
		OtpTimeout:     a.cfg.Login.OtpTimeout.Std(),
	}, login.Dependencies{
		Driver:   driver,
		Solver:   solver,
		Sessions: a.sessions(),
		Otp:      a.otpCache(),
		Mailbox:  mailbox,
		Clock:    a.clock,
		Tel:      a.tel,
	})
}

// runOnce wires a fresh driver into a coordinator and runs it, history is
// skipped with a warning when its database cannot be opened.
func (a app) runOnce(ctx context.Context, mailbox *otp.Mailbox) (scrape.Outcome, error) {
	driver, err := a.driver()
	if err != nil {
		return scrape.Outcome{}, err
	}

	deps := scrape.CoordinatorDependencies{
		Login: a.orchestrator(driver, mailbox),
		Scraper: scrape.NewScraper(driver, scrape.Options{
			MinDelay:   a.cfg.Scrape.MinDelay.Std(),
			MaxDelay:   a.cfg.Scrape.MaxDelay.Std(),
			MaxRetries: a.cfg.Scrape.MaxRetries,
			WorkArea:   a.cfg.Scrape.WorkArea,
			MaxTenders: a.cfg.Scrape.MaxTenders,
		}, a.tel),
		Sessions: a.sessions(),
		Memory:   a.memory(),
		Detector: changes.NewDetector(a.tel),
		Clock:    a.clock,
		Tel:      a.tel,
	}
	if notifier := a.notifier(); notifier != nil {
		deps.Notifier = notifier
	}

	ledger, database, err := a.openHistory(ctx)
	if err != nil {
		slog.Warn("run history disabled", "err", err)
	} else {
		defer database.Close()
		deps.History = ledger
	}

	coordinator, err := scrape.NewCoordinator(deps)
	if err != nil {
		return scrape.Outcome{}, err
	}
	return coordinator.Run(ctx)
}

// withWebhook runs fn while the otp webhook listens. A listener that cannot
// start only loses incoming codes, fn still runs.
func (a app) withWebhook(ctx context.Context, fn func(ctx context.Context, mailbox *otp.Mailbox) error) error {
	mailbox := otp.NewMailbox(otp.DefaultMailboxCapacity, otp.DefaultMailboxRetention, a.clock, a.tel)
	server := webhook.NewServer(mailbox, a.cfg.Webhook.Secret, a.tel)

	listenerCtx, stopListener := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := server.ListenAndServe(listenerCtx, fmt.Sprintf(":%d", a.cfg.Webhook.Port))
		if err != nil {
			slog.Warn("otp webhook is not listening, only a cached otp can be used", "err", err)
		}
		return nil
	})
	group.Go(func() error {
		defer stopListener()
		return fn(groupCtx, mailbox)
	})
	return group.Wait()
}

func printOutcome(outcome scrape.Outcome) {
	t := newTable()
	t.AppendHeader(table.Row{"Run", "Status", "Scraped", "New", "Updated", "Status changed", "Unchanged", "Detail failures"})
	t.AppendRow(table.Row{
		outcome.Run.Id,
		outcome.Run.Status,
		outcome.Run.Summary.TotalScraped,
		outcome.Run.Summary.New,
		outcome.Run.Summary.Updated,
		outcome.Run.Summary.StatusChanged,
		outcome.Run.Summary.Unchanged,
		outcome.Stats.Failed,
	})
	t.Render()

	if len(outcome.Run.Changes) == 0 {
		return
	}
	changesTable := newTable()
	changesTable.AppendHeader(table.Row{"Tender", "Classification", "Changed fields"})
	for _, change := range outcome.Run.Changes {
		changesTable.AppendRow(table.Row{change.TenderNo, change.Classification, fmt.Sprint(change.ChangedFields)})
	}
	changesTable.Render()
}
