// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/watchtower/screenlog/internal/logging"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `json:"enabled"`

	// LogLevel filters events by minimum severity.
	LogLevel Severity `json:"log_level"`

	// RetentionDays is how long to keep audit logs.
	RetentionDays int `json:"retention_days"`

	// CleanupInterval is how often to run retention cleanup.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size"`

	// LogToStdout also writes events to stdout.
	LogToStdout bool `json:"log_to_stdout"`

	// IncludeDebug includes debug-level events.
	IncludeDebug bool `json:"include_debug"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		LogLevel:        SeverityInfo,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
		LogToStdout:     false,
		IncludeDebug:    false,
	}
}

// Logger is the main audit logging service.
type Logger struct {
	config    *Config
	store     Store
	eventChan chan *Event
	mu        sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewLogger creates a new audit logger.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	// Start async writer
	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

// asyncWriter processes events from the buffer.
func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			// Drain remaining events
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

// writeEvent persists an event to the store.
func (l *Logger) writeEvent(event *Event) {
	l.mu.RLock()
	config := l.config
	l.mu.RUnlock()

	if config.LogToStdout {
		l.logToStdout(event)
	}

	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.store.Save(ctx, event); err != nil {
			logging.Error().Err(err).Msg("Failed to save audit event")
		}
	}
}

// logToStdout writes an event to stdout in JSON format.
func (l *Logger) logToStdout(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal audit event")
		return
	}
	logging.Info().RawJSON("event", data).Msg("Audit event")
}

// Log records an audit event.
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	config := l.config
	l.mu.RUnlock()

	if !config.Enabled {
		return
	}

	// Filter by severity
	if !l.shouldLog(event.Severity, config) {
		return
	}

	// Generate ID if not set
	if event.ID == "" {
		event.ID = generateEventID()
	}

	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Send to async writer
	select {
	case l.eventChan <- event:
	default:
		logging.Warn().Str("event_id", event.ID).Msg("Audit event buffer full, dropping event")
	}
}

// shouldLog returns true if the event severity meets the minimum level.
func (l *Logger) shouldLog(severity Severity, config *Config) bool {
	if severity == SeverityDebug && !config.IncludeDebug {
		return false
	}

	severityOrder := map[Severity]int{
		SeverityDebug:    0,
		SeverityInfo:     1,
		SeverityWarning:  2,
		SeverityError:    3,
		SeverityCritical: 4,
	}

	return severityOrder[severity] >= severityOrder[config.LogLevel]
}

// Close shuts down the logger gracefully.
func (l *Logger) Close() error {
	close(l.stopChan)
	l.wg.Wait()
	return nil
}

// StartCleanupRoutine starts the retention cleanup routine.
func (l *Logger) StartCleanupRoutine(ctx context.Context) {
	l.mu.RLock()
	interval := l.config.CleanupInterval
	retention := l.config.RetentionDays
	l.mu.RUnlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retention)
				count, err := l.store.Delete(ctx, cutoff)
				if err != nil {
					logging.Error().Err(err).Msg("Audit cleanup error")
				} else if count > 0 {
					logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
				}
			}
		}
	}()
}

// Query retrieves events matching the filter.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// Count returns the number of events matching the filter.
func (l *Logger) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return l.store.Count(ctx, filter)
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Enabled = enabled
}

// Enabled returns whether audit logging is enabled.
func (l *Logger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Enabled
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}

// Helper methods for common audit events

// LogControlAction logs a pause, privacy-mode, or emergency-stop
// transition, including the hotkey-to-status latency the 100ms
// contract is measured on.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogControlAction(ctx context.Context, actor Actor, source Source, control string, engaged bool, latency time.Duration) {
	eventType := EventTypePauseToggled
	severity := SeverityInfo
	switch control {
	case "privacy_mode":
		eventType = EventTypePrivacyModeToggled
	case "emergency_stop":
		eventType = EventTypeEmergencyStop
		severity = SeverityWarning
	}
	l.Log(&Event{
		Type:     eventType,
		Severity: severity,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "toggle",
		Target: &Target{
			ID:   control,
			Type: "control",
		},
		Description: "Control " + control + " transitioned",
		Metadata: mustJSON(map[string]interface{}{
			"engaged":    engaged,
			"latency_ms": latency.Milliseconds(),
		}),
		RequestID: getRequestID(ctx),
	})
}

// LogPauseExpired logs an automatic resume after the pause timeout.
func (l *Logger) LogPauseExpired(ctx context.Context, timeout time.Duration) {
	l.Log(&Event{
		Type:        EventTypePauseExpired,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       SystemActor(),
		Action:      "auto_resume",
		Description: "Pause expired, capture resumed automatically",
		Metadata:    mustJSON(map[string]interface{}{"timeout_seconds": timeout.Seconds()}),
		RequestID:   getRequestID(ctx),
	})
}

// LogAllowlistChange logs a privacy rule-set update.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogAllowlistChange(ctx context.Context, actor Actor, source Source, scope string, ruleCount int) {
	l.Log(&Event{
		Type:     EventTypeAllowlistChanged,
		Severity: SeverityWarning,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "update",
		Target: &Target{
			ID:   scope,
			Type: "allowlist",
		},
		Description: "Allowlist rules replaced for scope " + scope,
		Metadata:    mustJSON(map[string]interface{}{"rule_count": ruleCount}),
		RequestID:   getRequestID(ctx),
	})
}

// LogPIIPatternChange logs a redaction-pattern registration.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogPIIPatternChange(ctx context.Context, actor Actor, source Source, name string, version int) {
	l.Log(&Event{
		Type:     EventTypePIIPatternChanged,
		Severity: SeverityWarning,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "register",
		Target: &Target{
			ID:   name,
			Type: "pii_pattern",
		},
		Description: "PII redaction pattern registered: " + name,
		Metadata:    mustJSON(map[string]interface{}{"version": version}),
		RequestID:   getRequestID(ctx),
	})
}

// LogPrivacyViolation logs a frame or row that reached a stage it
// should have been blocked or masked before.
func (l *Logger) LogPrivacyViolation(ctx context.Context, appBundleID, displayID, reason string) {
	l.Log(&Event{
		Type:     EventTypePrivacyViolation,
		Severity: SeverityError,
		Outcome:  OutcomeFailure,
		Actor:    SystemActor(),
		Action:   "drop",
		Target: &Target{
			ID:   appBundleID,
			Type: "application",
		},
		Description: "Privacy violation handled: " + reason,
		Metadata: mustJSON(map[string]string{
			"display_id": displayID,
			"reason":     reason,
		}),
		RequestID: getRequestID(ctx),
	})
}

// LogTamperDetected logs an AEAD authentication failure on read.
func (l *Logger) LogTamperDetected(ctx context.Context, path string, readErr error) {
	l.Log(&Event{
		Type:     EventTypeTamperDetected,
		Severity: SeverityCritical,
		Outcome:  OutcomeFailure,
		Actor:    SystemActor(),
		Action:   "verify",
		Target: &Target{
			ID:   path,
			Type: "file",
		},
		Description: "Stored file failed AEAD authentication",
		Metadata:    mustJSON(map[string]string{"error": readErr.Error()}),
		RequestID:   getRequestID(ctx),
	})
}

// LogFileQuarantined logs a corrupt file moved aside instead of
// deleted.
func (l *Logger) LogFileQuarantined(ctx context.Context, path, reason string) {
	l.Log(&Event{
		Type:     EventTypeFileQuarantined,
		Severity: SeverityError,
		Outcome:  OutcomeSuccess,
		Actor:    SystemActor(),
		Action:   "quarantine",
		Target: &Target{
			ID:   path,
			Type: "file",
		},
		Description: "File quarantined: " + reason,
		RequestID:   getRequestID(ctx),
	})
}

// LogKeyRotation logs a storage root-key rotation.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogKeyRotation(ctx context.Context, actor Actor, source Source, filesRewritten int, outcome Outcome) {
	severity := SeverityWarning
	if outcome == OutcomeFailure {
		severity = SeverityCritical
	}
	l.Log(&Event{
		Type:        EventTypeKeyRotated,
		Severity:    severity,
		Outcome:     outcome,
		Actor:       actor,
		Source:      source,
		Action:      "rotate",
		Description: "Storage root key rotated",
		Metadata:    mustJSON(map[string]interface{}{"files_rewritten": filesRewritten}),
		RequestID:   getRequestID(ctx),
	})
}

// LogRetentionSweep logs one completed sweep pass.
func (l *Logger) LogRetentionSweep(ctx context.Context, deleted int, bytesFreed int64, errorCount int) {
	outcome := OutcomeSuccess
	severity := SeverityInfo
	if errorCount > 0 {
		outcome = OutcomeUnknown
		severity = SeverityWarning
	}
	l.Log(&Event{
		Type:        EventTypeRetentionSweep,
		Severity:    severity,
		Outcome:     outcome,
		Actor:       SystemActor(),
		Action:      "sweep",
		Description: "Retention sweep completed",
		Metadata: mustJSON(map[string]interface{}{
			"deleted":     deleted,
			"bytes_freed": bytesFreed,
			"errors":      errorCount,
		}),
		RequestID: getRequestID(ctx),
	})
}

// LogPluginFailure logs a plugin killed for timeout, over-memory, or
// panic.
func (l *Logger) LogPluginFailure(ctx context.Context, pluginID, reason string) {
	l.Log(&Event{
		Type:     EventTypePluginFailure,
		Severity: SeverityWarning,
		Outcome:  OutcomeFailure,
		Actor:    SystemActor(),
		Action:   "kill",
		Target: &Target{
			ID:   pluginID,
			Type: "plugin",
		},
		Description: "Plugin call failed: " + reason,
		RequestID:   getRequestID(ctx),
	})
}

// LogConfigChange logs a configuration change.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogConfigChange(ctx context.Context, actor Actor, source Source, configKey, oldValue, newValue string) {
	l.Log(&Event{
		Type:     EventTypeConfigChanged,
		Severity: SeverityWarning,
		Outcome:  OutcomeSuccess,
		Actor:    actor,
		Source:   source,
		Action:   "update",
		Target: &Target{
			ID:   configKey,
			Type: "config",
		},
		Description: "Configuration changed: " + configKey,
		Metadata: mustJSON(map[string]string{
			"key":       configKey,
			"old_value": oldValue,
			"new_value": newValue,
		}),
		RequestID: getRequestID(ctx),
	})
}

// LogDataExport logs a summary or report export.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogDataExport(ctx context.Context, actor Actor, source Source, format string, recordCount int) {
	l.Log(&Event{
		Type:        EventTypeDataExport,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Source:      source,
		Action:      "export",
		Description: "Data exported",
		Metadata: mustJSON(map[string]interface{}{
			"format":       format,
			"record_count": recordCount,
		}),
		RequestID: getRequestID(ctx),
	})
}

// LogAdminAction logs an administrative action.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogAdminAction(ctx context.Context, actor Actor, source Source, action, description string, metadata map[string]interface{}) {
	l.Log(&Event{
		Type:        EventTypeAdminAction,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Source:      source,
		Action:      action,
		Description: description,
		Metadata:    mustJSON(metadata),
		RequestID:   getRequestID(ctx),
	})
}

// mustJSON converts a value to JSON, returning empty object on error.
func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// Context keys
type contextKey string

// RequestIDKey is the context key for request ID.
const RequestIDKey contextKey = "request_id"

// SourceFromRequest creates a Source from a control API request.
func SourceFromRequest(r *http.Request) Source {
	ip := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = xff
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = xri
	}

	return Source{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Hostname:  r.Host,
	}
}

// HotkeySource is the Source for actions originating from the global
// hotkey handler rather than the HTTP surface.
func HotkeySource() Source {
	return Source{IPAddress: "local", Hostname: "hotkey"}
}

// UserActor creates an Actor for the desktop user.
func UserActor(name string) Actor {
	return Actor{
		ID:   name,
		Type: "user",
		Name: name,
	}
}

// SystemActor returns an Actor representing the recorder itself.
func SystemActor() Actor {
	return Actor{
		ID:   "recorder",
		Type: "system",
		Name: "screenlog recorder",
	}
}
