package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeus-ia/zeus/internal/alert"
	"github.com/zeus-ia/zeus/internal/model"
)

// THALOS handler names.
const (
	ThalosSecurityScan = "THALOS_SECURITY_SCAN"
	ThalosAlertMonitor = "THALOS_ALERT_MONITOR"
	ThalosBackup       = "THALOS_BACKUP"
)

const thalosAgent = "THALOS"

// report writes a THALOS payload as a deliverable and as an automation log.
func report(out *output, a model.Activity, payload map[string]any) (string, error) {
	id := out.artifactID(a)
	path, err := out.writeJSON(thalosAgent, id, payload)
	if err != nil {
		return "", err
	}
	if _, err := out.writeLog(thalosAgent, id, payload); err != nil {
		return "", err
	}
	return path, nil
}

func deliverable(path string) map[string]any {
	return map[string]any{"automation": map[string]any{"deliverables": map[string]any{"json": path}}}
}

// securityScan checks that the credentials the service depends on are set.
// Any missing variable fails the activity.
type securityScan struct {
	out      *output
	required []string
	getenv   func(string) string
}

func (s *securityScan) Name() string { return ThalosSecurityScan }

func (s *securityScan) Execute(ctx context.Context, a model.Activity) (model.HandlerResult, error) {
	if err := ctx.Err(); err != nil {
		return model.HandlerResult{}, err
	}
	checks := make(map[string]bool, len(s.required))
	missing := []string{}
	for _, key := range s.required {
		ok := strings.TrimSpace(s.getenv(key)) != ""
		checks[key] = ok
		if !ok {
			missing = append(missing, key)
		}
	}
	recommendation := "Todas las variables críticas configuradas."
	if len(missing) > 0 {
		recommendation = "Configurar las credenciales faltantes y rotar las críticas."
	}

	path, err := report(s.out, a, map[string]any{
		"executed_at":     s.out.now().UTC().Format(time.RFC3339),
		"checks":          checks,
		"missing":         missing,
		"recommendations": recommendation,
	})
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("handlers: %s: %w", ThalosSecurityScan, err)
	}

	status := model.HandlerStatusCompleted
	if len(missing) > 0 {
		status = string(model.ActivityFailed)
	}
	return model.HandlerResult{
		Status:        status,
		DetailsUpdate: deliverable(path),
		MetricsUpdate: map[string]any{"missing_credentials": len(missing)},
		Notes:         "Auditoría ejecutada automáticamente. Informe: " + path,
	}, nil
}

// alertMonitor verifies the alerting configuration and sends a test alert
// when a notifier is configured.
type alertMonitor struct {
	out      *output
	notifier alert.Notifier
	getenv   func(string) string
	logger   *slog.Logger
}

func (m *alertMonitor) Name() string { return ThalosAlertMonitor }

func (m *alertMonitor) Execute(ctx context.Context, a model.Activity) (model.HandlerResult, error) {
	if err := ctx.Err(); err != nil {
		return model.HandlerResult{}, err
	}
	logLevel := m.getenv("ZEUS_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	configuration := map[string]any{
		"log_level":     logLevel,
		"slack_enabled": m.notifier.Enabled(),
		"otel_enabled":  m.getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
	}
	actions := []string{
		"Verificación de destinos de logs",
		"Verificación del canal de alertas",
		"Simulación de evento crítico",
	}

	sent := 0
	var alertErr string
	if m.notifier.Enabled() {
		text := fmt.Sprintf("THALOS: monitor de alertas verificado (actividad %d: %s)", a.ID, a.ActionDescription)
		if err := m.notifier.Notify(ctx, text); err != nil {
			m.logger.Warn("handlers: test alert failed", "activity_id", a.ID, "error", err)
			alertErr = err.Error()
		} else {
			sent = 1
		}
	}

	payload := map[string]any{
		"executed_at":       m.out.now().UTC().Format(time.RFC3339),
		"configuration":     configuration,
		"actions_performed": actions,
		"alert_sent":        sent == 1,
		"result":            "Monitor de alertas activo y validado.",
	}
	if alertErr != "" {
		payload["alert_error"] = alertErr
	}
	path, err := report(m.out, a, payload)
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("handlers: %s: %w", ThalosAlertMonitor, err)
	}

	return model.HandlerResult{
		Status:        model.HandlerStatusCompleted,
		DetailsUpdate: deliverable(path),
		MetricsUpdate: map[string]any{"alerts_verified": len(actions), "alerts_sent": sent},
		Notes:         "Alertas verificadas automáticamente. Informe en " + path,
	}, nil
}

// backup copies the configured source file into the backup directory. A
// missing source fails the activity.
type backup struct {
	out    *output
	source string
	dir    string
}

func (b *backup) Name() string { return ThalosBackup }

func (b *backup) Execute(ctx context.Context, a model.Activity) (model.HandlerResult, error) {
	if err := ctx.Err(); err != nil {
		return model.HandlerResult{}, err
	}

	sourceExists := false
	if info, err := os.Stat(b.source); err == nil && info.Mode().IsRegular() {
		sourceExists = true
	}

	var backupPath string
	if sourceExists {
		target := filepath.Join(b.dir, "zeus_backup_"+b.out.stamp()+filepath.Ext(b.source))
		if err := copyFile(b.source, target); err != nil {
			return model.HandlerResult{}, fmt.Errorf("handlers: %s: %w", ThalosBackup, err)
		}
		if abs, err := filepath.Abs(target); err == nil {
			target = abs
		}
		backupPath = target
	}

	payload := map[string]any{
		"executed_at":    b.out.now().UTC().Format(time.RFC3339),
		"source":         b.source,
		"source_exists":  sourceExists,
		"backup_created": backupPath != "",
		"backup_path":    backupPath,
	}
	path, err := report(b.out, a, payload)
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("handlers: %s: %w", ThalosBackup, err)
	}

	if backupPath == "" {
		return model.HandlerResult{
			Status:        string(model.ActivityFailed),
			DetailsUpdate: deliverable(path),
			MetricsUpdate: map[string]any{"backup_created": 0},
			Notes:         "No se encontró el origen del backup (" + b.source + "); revisar configuración.",
		}, nil
	}
	return model.HandlerResult{
		Status:        model.HandlerStatusCompleted,
		DetailsUpdate: deliverable(path),
		MetricsUpdate: map[string]any{"backup_created": 1},
		Notes:         "Backup generado automáticamente en " + backupPath + ".",
	}, nil
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close backup: %w", cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
