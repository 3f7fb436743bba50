package compute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/santiagomed/carbo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitReturnsJobID(t *testing.T) {
	var gotBody core.WorkingSet
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/jobs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-42"})
	}))
	defer srv.Close()

	ws := core.NewWorkingSet()
	ws.SelectedProduct = "steel-bottle"

	svc := NewHTTPService(srv.URL, nil)
	jobID, err := svc.Submit(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
	assert.Equal(t, "steel-bottle", gotBody.SelectedProduct)
}

func TestSubmitNon2xxIsImmediateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "overloaded", "message": "try again later"},
		})
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, nil)
	_, err := svc.Submit(context.Background(), core.NewWorkingSet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "try again later")
}

func TestStatusDecodesReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/jobs/job-42", r.URL.Path)
		json.NewEncoder(w).Encode(core.StatusReport{
			Status: core.StatusCompleted,
			Result: &core.CalculationResult{TotalKgCO2e: 17.25},
		})
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, nil)
	report, err := svc.Status(context.Background(), "job-42")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, report.Status)
	require.NotNil(t, report.Result)
	assert.Equal(t, 17.25, report.Result.TotalKgCO2e)
}

func TestStatusPassesErrorMessageThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(core.StatusReport{
			Status:       core.StatusFailed,
			ErrorMessage: "factor db offline: code=E_DB_503",
		})
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, nil)
	report, err := svc.Status(context.Background(), "job-42")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, report.Status)
	assert.Equal(t, "factor db offline: code=E_DB_503", report.ErrorMessage)
}

func TestStatusTransportErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	svc := NewHTTPService(srv.URL, nil)
	_, err := svc.Status(context.Background(), "job-42")
	assert.Error(t, err)
}
