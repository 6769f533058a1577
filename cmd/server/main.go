// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/watchtower/screenlog/internal/api"
	"github.com/watchtower/screenlog/internal/audit"
	"github.com/watchtower/screenlog/internal/capture"
	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/detection"
	"github.com/watchtower/screenlog/internal/indexer"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/metrics"
	"github.com/watchtower/screenlog/internal/perception"
	"github.com/watchtower/screenlog/internal/pipeline"
	"github.com/watchtower/screenlog/internal/plugin"
	"github.com/watchtower/screenlog/internal/privacy"
	"github.com/watchtower/screenlog/internal/retention"
	"github.com/watchtower/screenlog/internal/storage"
	"github.com/watchtower/screenlog/internal/supervisor"
	"github.com/watchtower/screenlog/internal/supervisor/services"
	"github.com/watchtower/screenlog/internal/wal"
	ws "github.com/watchtower/screenlog/internal/websocket"
)

// newCaptureSource is the platform capture binding. External
// collaborator builds register a factory here from a build-tagged
// init file; without one, capture stays disabled and the rest of the
// pipeline still serves historical data.
var newCaptureSource func(displayID string, cfg config.CaptureConfig) (capture.Source, error)

// newOCREngine is the platform text-recognition binding, resolved by
// engine name from PerceptionConfig. Nil means no recognition: the
// pipeline indexes and stores frames but produces no OCR rows.
var newOCREngine func(name string) (perception.Engine, error)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting screenlog recorder with supervisor tree")

	// === STORAGE SUBSTRATE ===

	// The root key gates everything else: a credential-load failure is
	// one of the two fatal error classes (the other is config above).
	var rootKey []byte
	var vault *storage.FileVault
	if cfg.Storage.EncryptAtRest {
		creds := storage.NewCredentialStore(cfg.Storage.CredentialPath)
		rootKey, err = creds.LoadOrCreate(cfg.Storage.Passphrase)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to load storage root key")
		}
		vault, err = storage.NewFileVault(rootKey, "segment")
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to construct file vault")
		}
		logging.Info().Msg("At-rest envelope encryption enabled")
	} else {
		logging.Warn().Msg("At-rest encryption disabled (STORAGE_ENCRYPT_AT_REST=false)")
	}

	columnar, err := storage.OpenColumnarFromAppConfig(&cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open columnar store")
	}
	defer func() {
		if err := columnar.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing columnar store")
		}
	}()

	rowStore, err := storage.OpenRowStore(storage.RowStoreConfig{
		Path:    filepath.Join(cfg.Storage.DataDir, "rows.duckdb"),
		Threads: cfg.Storage.Threads,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open row store")
	}
	defer func() {
		if err := rowStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing row store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rowStore.MigrateUp(ctx); err != nil {
		// Schema/migration failure aborts open of the store: fatal.
		logging.Fatal().Err(err).Msg("Row store migration failed")
	}
	version, _ := rowStore.CurrentSchemaVersion(ctx)
	logging.Info().Int("schema_version", version).Msg("Storage substrate ready")

	// === WAL (build tag "wal"; no-op otherwise) ===

	walCfg := wal.DefaultConfig()
	walCfg.Path = filepath.Join(cfg.Storage.DataDir, "wal")
	stage, err := wal.Open(&walCfg)
	if err != nil {
		logging.Warn().Err(err).Msg("WAL unavailable, events commit without durable staging")
		stage = nil
	}
	if stage != nil {
		defer func() {
			if err := stage.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing WAL")
			}
		}()
	}

	// === SUPERVISOR TREE ===

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// === STATUS HUB ===

	wsHub := ws.NewHub()
	tree.AddAPIService(services.NewWebSocketHubService(wsHub))

	// === PRIVACY GATE ===

	gate := privacy.NewGate(cfg.Privacy)

	// Hot-reload: a config file edit republishes the allowlist
	// snapshot; running capture sessions pick it up on the next frame.
	if path := config.FindConfigFile(); path != "" {
		err := config.WatchConfigFile(path, func() {
			fresh, err := config.LoadWithKoanf()
			if err != nil {
				logging.Warn().Err(err).Msg("Config reload failed, keeping previous snapshot")
				return
			}
			gate.Publish(fresh.Privacy)
			logging.Info().Msg("Privacy rules republished from config change")
		})
		if err != nil {
			logging.Warn().Err(err).Msg("Config watcher unavailable, hot-reload disabled")
		}
	}

	// === PERCEPTION ===

	masker, err := perception.NewMasker(nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to compile PII redactors")
	}
	primary := resolveOCREngine(cfg.Perception.PrimaryEngine)
	fallback := resolveOCREngine(cfg.Perception.FallbackEngine)
	ocrPipe := perception.NewPipeline(primary, fallback, nil, masker, cfg.Perception)

	// === EVENT DETECTOR ===

	engine := detection.NewEngine(cfg.Detection)
	tracker := detection.NewTargetTracker()
	engine.RegisterDetector(detection.NewFieldChangeDetector(cfg.Detection.MinIoU, cfg.Detection.MaxTextSimilarity, tracker))
	engine.RegisterDetector(detection.NewDataEntryDetector(cfg.Detection.MinIoU))
	engine.RegisterDetector(detection.NewErrorDisplayDetector())
	engine.RegisterDetector(detection.NewModalAppearanceDetector(modalFrameBounds(cfg.Capture)))
	engine.RegisterDetector(detection.NewAppSwitchDetector())
	engine.RegisterDetector(detection.NewNavigationDetector())
	engine.RegisterDetector(detection.NewFormSubmissionDetector())
	if cfg.Detection.ClickEnabled {
		engine.RegisterDetector(detection.NewClickDetector(12, 5))
		logging.Info().Msg("Click detection enabled (cursor telemetry required)")
	}

	// === PLUGIN HOST ===

	var plugins *plugin.Host
	if cfg.Plugin.Enabled {
		plugins = plugin.NewHost(cfg.Plugin)
		logging.Info().Msg("Plugin host enabled")
	}

	// === CAPTURE ===

	// Quarantine any segment a previous crash left broken before new
	// sessions start writing into the same directory.
	var opener capture.SegmentOpener
	if vault != nil {
		opener = vault
	}
	if res, err := capture.RecoverSegments(cfg.Capture.SegmentDir, opener); err != nil {
		logging.Warn().Err(err).Msg("Segment recovery scan failed")
	} else if res.Quarantined > 0 {
		logging.Warn().Int("quarantined", res.Quarantined).Int("checked", res.Checked).Msg("Segment recovery quarantined broken files")
	}

	sink := capture.NewChannelSegmentSink(64)
	displaySup, err := supervisor.NewDisplaySupervisor(tree, cfg.Capture, func(displayID string) (suture.Service, error) {
		return buildCaptureSession(cfg, displayID, gate, vault, sink, wsHub)
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create display supervisor")
	}

	if newCaptureSource == nil {
		logging.Warn().Msg("No platform capture backend linked, capture disabled")
	} else {
		for _, displayID := range enabledDisplays(cfg.Capture) {
			if err := displaySup.AddDisplay(ctx, displayID); err != nil {
				logging.Warn().Err(err).Str("display_id", displayID).Msg("Failed to start capture session")
			}
		}
	}

	// === IMMEDIATE CONTROLS ===

	controls := privacy.NewControls(displaySup, cfg.Privacy.ResumeTimeout)
	tree.AddAPIService(services.NewControlsService(controls))

	// Forward control-state transitions to the status hub and the
	// pause gauge; the handler path must stay non-blocking.
	go func() {
		for state := range controls.StatusCh() {
			metrics.SetPaused(state.Paused || state.PrivacyMode || state.EmergencyHit)
			wsHub.BroadcastJSON(ws.MessageTypePrivacyState, state)
		}
	}()

	// === PIPELINE ===

	ix := indexer.New(cfg.Indexer, indexer.NewRingFocusCache(4096))
	consumer := pipeline.NewConsumer(sink.Segments(), pipeline.StillsDirExtractor{}, ix, ocrPipe, engine, columnar)
	if plugins != nil {
		consumer.SetPlugins(plugins)
	}
	if stage != nil {
		consumer.SetStage(stage)
	}
	consumer.SetBroadcaster(wsHub)
	consumer.SetFramesDir(filepath.Join(cfg.Storage.DataDir, "frames"))
	initBus(cfg, consumer)
	tree.AddPipelineService(services.NewPipelineService(consumer))

	sumLoop := pipeline.NewSummarizeLoop(cfg.Summarizer, columnar, rowStore)
	tree.AddPipelineService(sumLoop)

	// === RETENTION ===

	lister := capture.NewFileSegmentLister(cfg.Capture.SegmentDir)
	sweeper := retention.New(cfg.Retention, columnar.Conn(), rowStore.Conn(),
		segmentListerAdapter{lister}, filepath.Join(cfg.Storage.DataDir, "quarantine"))
	if vault != nil {
		sweeper.SetVerifier(vault)
	}
	sweeper.SetFramesDir(filepath.Join(cfg.Storage.DataDir, "frames"))
	tree.AddPipelineService(sweeper)

	// === AUDIT TRAIL ===

	auditStore := audit.NewDuckDBStore(rowStore.Conn())
	var auditLogger *audit.Logger
	if err := auditStore.CreateTable(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to create audit table, audit trail disabled")
	} else {
		auditLogger = audit.NewLogger(auditStore, audit.DefaultConfig())
		defer func() {
			if err := auditLogger.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing audit logger")
			}
		}()
		auditLogger.StartCleanupRoutine(ctx)
		logging.Info().Msg("Audit trail initialized")
	}

	// === CONTROL SURFACE ===

	handler := api.NewHandler(cfg, controls, gate, rowStore, sumLoop)
	handler.SetDisplayReporter(displaySup)
	if auditLogger != nil {
		handler.SetAuditLogger(auditLogger)
	}
	router := api.NewRouter(handler, api.NewWSHandler(wsHub))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("Control surface service added")

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Recorder stopped gracefully")
}

// buildCaptureSession assembles one display's capture service from
// the platform source factory plus the in-repo encoder, gate, vault,
// and stats plumbing.
func buildCaptureSession(cfg *config.Config, displayID string, gate *privacy.Gate,
	vault *storage.FileVault, sink capture.SegmentSink, hub *ws.Hub) (suture.Service, error) {
	if newCaptureSource == nil {
		return nil, fmt.Errorf("no platform capture backend for display %s", displayID)
	}
	source, err := newCaptureSource(displayID, cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("open capture source for display %s: %w", displayID, err)
	}

	encoder := capture.NewReferenceEncoder(capture.EncoderConfig{
		BitrateKbps: cfg.Capture.BitrateKbps,
		FPS:         cfg.Capture.FPS,
	})

	session := capture.NewCaptureSession(cfg.Capture, source, encoder, sink)
	session.SetPrivacyGate(gate)
	if vault != nil {
		session.SetSealer(vault)
	}
	session.SetStats(capture.NewStats(displayID, hub))
	return session, nil
}

// resolveOCREngine maps a configured engine name to its platform
// binding, or nil when none is linked into this build.
func resolveOCREngine(name string) perception.Engine {
	if name == "" || newOCREngine == nil {
		return nil
	}
	engine, err := newOCREngine(name)
	if err != nil {
		logging.Warn().Err(err).Str("engine", name).Msg("OCR engine unavailable")
		return nil
	}
	return engine
}

// segmentListerAdapter bridges the capture package's file lister onto
// the retention sweep's interface; the two stages stay decoupled and
// compose only here.
type segmentListerAdapter struct {
	inner *capture.FileSegmentLister
}

func (a segmentListerAdapter) SegmentsOlderThan(cutoff time.Time) ([]retention.SegmentHandle, error) {
	handles, err := a.inner.SegmentsOlderThan(cutoff)
	if err != nil {
		return nil, err
	}
	out := make([]retention.SegmentHandle, len(handles))
	for i, h := range handles {
		out[i] = retention.SegmentHandle{ID: h.ID, Path: h.Path}
	}
	return out, nil
}

func (a segmentListerAdapter) MarkDeleted(ctx context.Context, segmentID string) error {
	return a.inner.MarkDeleted(ctx, segmentID)
}

// modalFrameBounds derives the detector's frame dimensions from the
// configured capture bounds, defaulting to 1440p.
func modalFrameBounds(cfg config.CaptureConfig) (float32, float32) {
	w, h := float32(2560), float32(1440)
	if cfg.MaxWidth > 0 {
		w = float32(cfg.MaxWidth)
	}
	if cfg.MaxHeight > 0 {
		h = float32(cfg.MaxHeight)
	}
	return w, h
}

// enabledDisplays enumerates the displays to capture. Display
// discovery is itself a platform concern; the portable default is the
// primary display, or every display id the platform layer reports via
// SCREENLOG_DISPLAYS.
func enabledDisplays(cfg config.CaptureConfig) []string {
	if v := os.Getenv("SCREENLOG_DISPLAYS"); v != "" {
		var out []string
		for _, id := range filepath.SplitList(v) {
			if id != "" {
				out = append(out, id)
			}
		}
		return out
	}
	if cfg.MultiDisplay {
		logging.Warn().Msg("multi_display enabled but no display enumeration backend linked, capturing primary only")
	}
	return []string{"display-0"}
}
