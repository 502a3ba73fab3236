package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tgmirror/internal/config"
	"tgmirror/internal/registry"
	"tgmirror/internal/relay"
	"tgmirror/internal/store"

	"github.com/spf13/cobra"
)

const relayCheckPath = "/.tgmirror-check"

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your tgmirror installation",
		Long: `Verifies that the configuration, channel registry, document store,
media relay and bot token are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("tgmirror doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'tgmirror init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			token := strings.TrimSpace(cfg.Telegram.Token)
			switch {
			case token == "":
				r.fail("Bot token", "telegram.token is empty")
			case strings.HasPrefix(token, "${"):
				r.fail("Bot token", token+" is not set in the environment")
			default:
				r.pass("Bot token", "present")
			}

			reg, err := registry.FromConfig(cfg)
			if err != nil {
				r.fail("Channel registry", err.Error())
			} else {
				r.pass("Channel registry", fmt.Sprintf("%d channel(s)", reg.Len()))
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			if st, err := store.Open(ctx, cfg.Store.DSN, cfg.Store.Database, logger); err != nil {
				r.fail("Document store", err.Error())
			} else {
				if err := st.Ping(ctx); err != nil {
					r.fail("Document store", err.Error())
				} else {
					r.pass("Document store", st.Backend()+" (migrated)")
				}
				st.Close()
			}

			if cfg.Relay.URL == "" {
				r.warn("Media relay", "relay.url not set, media will not be relayed")
			} else if err := checkRelay(ctx, cfg); err != nil {
				r.fail("Media relay", err.Error())
			} else {
				r.pass("Media relay", config.Sanitize(cfg).Relay.URL)
			}

			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					r.warn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
				} else {
					r.pass("Metrics listen", cfg.Metrics.Listen+" available")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

// checkRelay asks the relay host for the size of a check path, which
// needs a working login but no write access.
func checkRelay(ctx context.Context, cfg *config.Config) error {
	host, err := relay.Open(cfg.Relay.URL, cfg.Relay.BaseURL, cfg.Relay.Timeout(), logger)
	if err != nil {
		return err
	}
	_, _, err = host.Size(ctx, relayCheckPath)
	return err
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running tgmirror.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\ntgmirror should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! tgmirror is ready to run.\n")
	}
	return nil
}
