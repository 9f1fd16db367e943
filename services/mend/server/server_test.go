// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMend/services/mend/metrics"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	m.PollCycles.Inc()

	srv, err := New(":0", registry, func() Status {
		return Status{
			Project:   "BUG",
			Model:     "gpt-4o-mini",
			Workspace: "/srv/repo",
			StartedAt: time.Now().Add(-time.Minute),
		}
	}, nil)
	require.NoError(t, err)
	return srv
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Status(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "BUG", status.Project)
	assert.Equal(t, "gpt-4o-mini", status.Model)
	assert.GreaterOrEqual(t, status.UptimeSec, int64(59))
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mend_poll_cycles_total 1")
}

func TestNew_Validation(t *testing.T) {
	registry := prometheus.NewRegistry()
	status := func() Status { return Status{} }

	_, err := New("", registry, status, nil)
	assert.Error(t, err)

	_, err = New(":0", nil, status, nil)
	assert.Error(t, err)

	_, err = New(":0", registry, nil, nil)
	assert.Error(t, err)
}
