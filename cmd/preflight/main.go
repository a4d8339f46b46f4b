// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/repo/seed"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg, err := config.Load(os.Getenv("SITEWATCH_CONFIG"))
	if err != nil {
		fail("config: " + err.Error())
	}
	ok("config loaded")

	if len(cfg.AdminAPIKeys) == 0 {
		fail("auth.admin_keys is empty (admin routes would be open).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		warn("auth.public_keys is empty; read routes accept admin keys only.")
	}
	for _, k := range append(append([]string{}, cfg.AdminAPIKeys...), cfg.PublicAPIKeys...) {
		if len(k) < 16 {
			warn("an API key is shorter than 16 characters")
			break
		}
	}

	if strings.HasPrefix(cfg.Addr, "0.0.0.0") || strings.HasPrefix(cfg.Addr, ":") {
		warn("server.addr=" + cfg.Addr + " listens on every interface.")
	} else {
		ok("server.addr=" + cfg.Addr)
	}

	switch cfg.DBDriver {
	case config.DriverMemory:
		warn("database.driver=memory; history and certificates are lost on restart.")
	case config.DriverPostgres:
		if !strings.HasPrefix(cfg.DBDSN, "postgres://") && !strings.HasPrefix(cfg.DBDSN, "postgresql://") {
			warn("database.dsn does not look like a postgres URL.")
		}
		ok("database.driver=postgres")
	default:
		ok("database.driver=" + cfg.DBDriver + " dsn=" + cfg.DBDSN)
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("server.allowed_origins empty; CORS allows every origin.")
	} else {
		ok("server.allowed_origins=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if cfg.MonitorFile == "" {
		warn("monitor.file empty; targets come from the database and the API only.")
	} else {
		m, err := seed.Load(cfg.MonitorFile)
		if err != nil {
			fail("monitor file: " + err.Error())
		}
		ok(fmt.Sprintf("monitor file: %d targets, %d subscriptions", len(m.Targets), len(m.Subscriptions)))
		if m.Settings != nil {
			s := *m.Settings
			if s.NotificationMethod.Email() && !s.Email.Configured() {
				warn("email notifications enabled but SMTP host/user/password incomplete.")
			}
			if s.NotificationMethod.Webhook() && len(m.Subscriptions) == 0 {
				warn("webhook notifications enabled but no subscriptions configured.")
			}
		}
	}

	if cfg.SlackWebhook != "" {
		ok("slack webhook configured")
	}

	ok("preflight passed")
}
