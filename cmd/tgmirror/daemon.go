package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"tgmirror/internal/config"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.tgmirror.sync"
	systemdUnit  = "tgmirror.service"
)

// unitParams feed the service templates.
type unitParams struct {
	Exec    string
	Config  string
	WorkDir string
	Label   string
	Log     string
	ErrLog  string
}

// serviceUnit is a rendered per-user service definition for one init system.
type serviceUnit struct {
	Path  string
	Body  string
	Hints []string
}

var (
	launchdTmpl = template.Must(template.New("launchd").Parse(launchdTemplate))
	systemdTmpl = template.Must(template.New("systemd").Parse(systemdTemplate))
)

// planUnit renders the unit for goos without touching the filesystem.
func planUnit(goos, home string, p unitParams) (serviceUnit, error) {
	var (
		u    serviceUnit
		tmpl *template.Template
	)
	switch goos {
	case "darwin":
		p.Label = launchdLabel
		u.Path = filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		u.Hints = []string{
			"launchctl load " + u.Path,
			"launchctl unload " + u.Path,
		}
		tmpl = launchdTmpl
	case "linux":
		u.Path = filepath.Join(home, ".config", "systemd", "user", systemdUnit)
		u.Hints = []string{
			"systemctl --user daemon-reload",
			"systemctl --user enable --now tgmirror",
			"journalctl --user -u tgmirror -f",
		}
		tmpl = systemdTmpl
	default:
		return u, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, p); err != nil {
		return u, fmt.Errorf("render %s unit: %w", goos, err)
	}
	u.Body = b.String()
	return u, nil
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install 'tgmirror run' as a user service (launchd/systemd)",
		Long:  "Writes a per-user launchd agent or systemd unit that keeps the sync loop running with the current config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			logDir := filepath.Join(config.DefaultConfigDir(), "logs")

			unit, err := planUnit(runtime.GOOS, home, unitParams{
				Exec:    execPath,
				Config:  cfgPath,
				WorkDir: filepath.Dir(cfgPath),
				Log:     filepath.Join(logDir, "tgmirror.log"),
				ErrLog:  filepath.Join(logDir, "tgmirror-error.log"),
			})
			if err != nil {
				return err
			}
			for _, dir := range []string{logDir, filepath.Dir(unit.Path)} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(unit.Path, []byte(unit.Body), 0o644); err != nil {
				return fmt.Errorf("write service file: %w", err)
			}

			logger.Info("service installed", "path", unit.Path, "config", cfgPath)
			for _, h := range unit.Hints {
				fmt.Println("  " + h)
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the tgmirror user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			unit, err := planUnit(runtime.GOOS, home, unitParams{})
			if err != nil {
				return err
			}
			if err := os.Remove(unit.Path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			logger.Info("service removed", "path", unit.Path)
			return nil
		},
	}
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>WorkingDirectory</key>
    <string>{{.WorkDir}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>
`

// The working directory holds the optional .env with credentials.
const systemdTemplate = `[Unit]
Description=tgmirror Telegram channel mirror
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
ExecStart={{.Exec}} run --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
