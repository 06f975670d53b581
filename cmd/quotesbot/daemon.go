package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "org.quotesbot.bot"
	systemdUnit  = "quotesbot.service"
)

// service describes the installed user service.
type service struct {
	Label   string
	Exec    string
	Config  string
	Log     string
	ErrLog  string
	Path    string // where the service file is written
	Start   []string
	Cleanup string
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install quotesbot as a user service (launchd/systemd)",
		Long:  "Writes a service file that runs 'quotesbot run' in the background at login and restarts it on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			svc, tmpl, err := serviceFor(runtime.GOOS, home, execPath, resolveConfigPath())
			if err != nil {
				return err
			}

			unit, err := renderService(tmpl, svc)
			if err != nil {
				return err
			}
			if svc.Log != "" {
				if err := os.MkdirAll(filepath.Dir(svc.Log), 0o755); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(svc.Path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(svc.Path, unit, 0o644); err != nil {
				return err
			}

			fmt.Printf("Service installed: %s\n", svc.Path)
			for _, line := range svc.Start {
				fmt.Println(line)
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the quotesbot user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			svc, _, err := serviceFor(runtime.GOOS, home, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(svc.Path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", svc.Path)
			if svc.Cleanup != "" {
				fmt.Println(svc.Cleanup)
			}
			return nil
		},
	}
}

// serviceFor returns the service description and file template for goos.
func serviceFor(goos, home, execPath, cfgPath string) (service, *template.Template, error) {
	switch goos {
	case "darwin":
		path := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		return service{
			Label:  launchdLabel,
			Exec:   execPath,
			Config: cfgPath,
			Log:    filepath.Join(home, ".quotesbot", "logs", "quotesbot.log"),
			ErrLog: filepath.Join(home, ".quotesbot", "logs", "quotesbot-error.log"),
			Path:   path,
			Start: []string{
				"To start: launchctl load " + path,
				"To stop:  launchctl unload " + path,
			},
			Cleanup: "If it is still loaded: launchctl remove " + launchdLabel,
		}, launchdTemplate, nil
	case "linux":
		return service{
			Label:  systemdUnit,
			Exec:   execPath,
			Config: cfgPath,
			Path:   filepath.Join(home, ".config", "systemd", "user", systemdUnit),
			Start: []string{
				"To start:  systemctl --user start quotesbot",
				"To enable: systemctl --user enable quotesbot",
				"To follow: journalctl --user -u quotesbot -f",
			},
			Cleanup: "Run: systemctl --user daemon-reload",
		}, systemdTemplate, nil
	}
	return service{}, nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
}

func renderService(tmpl *template.Template, svc service) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, svc); err != nil {
		return nil, fmt.Errorf("render %s: %w", svc.Label, err)
	}
	return buf.Bytes(), nil
}

var launchdTemplate = template.Must(template.New("launchd").Parse(`<?xml version="1.0" encoding="UTF-8"?>
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
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>
`))

// The die command exits cleanly, so Restart=on-failure leaves the bot down.
var systemdTemplate = template.Must(template.New("systemd").Parse(`[Unit]
Description=quotesbot image quote bot
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} run --config {{.Config}}
Restart=on-failure
RestartSec=10

[Install]
WantedBy=default.target
`))
