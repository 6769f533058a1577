// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchtower/screenlog/internal/config"
	"github.com/watchtower/screenlog/internal/privacy"
)

func testServer(t *testing.T) (*httptest.Server, *privacy.Controls) {
	t.Helper()
	controls := privacy.NewControls(nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go controls.Run(ctx)
	t.Cleanup(cancel)

	handler := NewHandler(&config.Config{}, controls, privacy.NewGate(config.PrivacyConfig{Mode: "blocklist"}), nil, nil)
	router := NewRouter(handler, nil)
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return srv, controls
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"), "request id middleware runs on every route")
}

func TestStatusReflectsControlState(t *testing.T) {
	srv, controls := testServer(t)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["paused"])

	controls.TogglePause()
	waitFor(t, func() bool { return controls.Snapshot().Paused })

	resp2, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var body2 map[string]interface{}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body2))
	assert.Equal(t, true, body2["paused"])
}

func TestControlEndpoints(t *testing.T) {
	srv, controls := testServer(t)

	resp, err := http.Post(srv.URL+"/controls/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	waitFor(t, func() bool { return controls.Snapshot().Paused })

	resp2, err := http.Post(srv.URL+"/controls/emergency-stop", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	waitFor(t, func() bool { return controls.Snapshot().EmergencyHit })

	resp3, err := http.Post(srv.URL+"/controls/reset", "application/json", nil)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	waitFor(t, func() bool { return !controls.Snapshot().EmergencyHit })
}

func TestPrivacyCheck(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/privacy/check?app=com.example.editor&display=display-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["should_capture"], "blocklist mode admits unlisted apps")

	missing, err := http.Get(srv.URL + "/privacy/check")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

func TestUnknownControlRejected(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/controls/self-destruct", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}

func waitFor(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached within 1s")
}
