package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/inlinesoft/whatsdesk/config"
	"github.com/inlinesoft/whatsdesk/internal/accounts"
	"github.com/inlinesoft/whatsdesk/internal/adminapi"
	"github.com/inlinesoft/whatsdesk/internal/app"
	"github.com/inlinesoft/whatsdesk/internal/backend"
	"github.com/inlinesoft/whatsdesk/internal/notify"
	"github.com/inlinesoft/whatsdesk/internal/realtime"
	"github.com/inlinesoft/whatsdesk/internal/store"
	"github.com/inlinesoft/whatsdesk/internal/webserver"
	"github.com/inlinesoft/whatsdesk/pkg/metrics"
)

var (
	conffile = flag.String("c", "/etc/whatsdesk.yml", "config file")
	initdb   = flag.Bool("initdb", false, "drop and recreate all tables")
	showver  = flag.Bool("v", false, "print version")
)

var version = "dev"

func main() {
	flag.Parse()
	if *showver {
		fmt.Println("whatsdesk", version)
		return
	}

	cfg := config.LoadConfig(*conffile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	if cfg.Backend.UserID == "" {
		zap.L().Fatal("backend.user_id is required")
	}

	client := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		UserID:         cfg.Backend.UserID,
		OrganizationID: cfg.Backend.OrganizationID,
		Timeout:        time.Duration(cfg.Backend.Timeout) * time.Second,
	}, backend.StaticToken(cfg.Backend.Token))

	svc := accounts.NewService(accounts.ConfigFromSettings(
		cfg.Backend.UserID,
		cfg.Backend.OrganizationID,
		application.GetSettingsInt64Value("accounts", "ReconnectCooldownSecs"),
		application.GetSettingsInt64Value("accounts", "QRWindowSecs"),
		application.GetSettingsInt64Value("accounts", "ReconcileIntervalSecs"),
	), client)
	svc.SetRecorder(app.NewGormRecorder(application.DB()))

	bus := EventBus.New()
	_ = bus.Subscribe(accounts.TopicAccountState, func(a accounts.Account) {
		metrics.IncrCounter("whatsdesk_account_transitions", 1)
	})
	svc.SetBus(bus)

	snapshots, err := store.NewBoltStore(path.Join(cfg.System.Workdir, "data"))
	if err != nil {
		zap.L().Warn("snapshot store unavailable", zap.Error(err))
	} else {
		defer snapshots.Close()
		svc.SetSnapshotStore(snapshots)
		svc.WarmStart()
	}

	if cfg.Mail.SmtpHost != "" {
		mailer, err := notify.NewMailer(notify.Config{
			SmtpHost: cfg.Mail.SmtpHost,
			SmtpPort: cfg.Mail.SmtpPort,
			SmtpUser: cfg.Mail.SmtpUser,
			SmtpPwd:  cfg.Mail.SmtpPass,
			From:     cfg.Mail.From,
			To:       cfg.Mail.To,
		}, 4)
		if err != nil {
			zap.L().Warn("mailer disabled", zap.Error(err))
		} else {
			defer mailer.Release()
			svc.SetNotifier(mailer)
		}
	}

	application.BindAccountService(svc)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application.StartBackgroundJobs(ctx)

	listener := realtime.NewListener(realtime.Config{
		ReconnectMin: time.Duration(cfg.Realtime.ReconnectMinSecs) * time.Second,
		ReconnectMax: time.Duration(cfg.Realtime.ReconnectMaxSecs) * time.Second,
	}, &realtime.HTTPDialer{
		URL:    cfg.Realtime.URL,
		Token:  cfg.Backend.Token,
		UserID: cfg.Backend.UserID,
	}, svc)
	go listener.Run(ctx)

	// first fetch in background so startup never blocks on the backend
	go func() {
		if _, err := svc.Fetch(ctx, true, true); err != nil {
			zap.L().Warn("initial account fetch failed", zap.Error(err))
		}
	}()

	ws := webserver.Init(application)
	webserver.RegisterHealth()
	adminapi.RegisterRoutes()

	errCh := make(chan error, 1)
	go func() {
		errCh <- ws.Listen()
	}()

	select {
	case err := <-errCh:
		zap.L().Fatal("web server stopped", zap.Error(err))
	case <-ctx.Done():
		zap.L().Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = ws.Echo().Shutdown(shutdownCtx)
	}
}
