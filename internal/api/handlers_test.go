package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/terraflow/internal/history"
	"github.com/mattjoyce/terraflow/internal/lifecycle"
	"github.com/mattjoyce/terraflow/internal/reconcile"
	"github.com/mattjoyce/terraflow/internal/registry"
	"github.com/mattjoyce/terraflow/internal/runner"
)

// fakeLifecycle scripts coordinator outcomes per method.
type fakeLifecycle struct {
	records []registry.Record

	initRes, applyRes, destroyRes *lifecycle.OpResult
	initErr, applyErr, destroyErr error

	cleanupReport reconcile.SweepReport
	cleanupErr    error

	calls []string
}

func (f *fakeLifecycle) Status() []registry.Record { return f.records }

func (f *fakeLifecycle) Init(_ context.Context, name string) (*lifecycle.OpResult, error) {
	f.calls = append(f.calls, "init:"+name)
	return f.initRes, f.initErr
}

func (f *fakeLifecycle) Apply(_ context.Context, name string) (*lifecycle.OpResult, error) {
	f.calls = append(f.calls, "apply:"+name)
	return f.applyRes, f.applyErr
}

func (f *fakeLifecycle) Destroy(_ context.Context, name string) (*lifecycle.OpResult, error) {
	f.calls = append(f.calls, "destroy:"+name)
	return f.destroyRes, f.destroyErr
}

func (f *fakeLifecycle) CleanupAll(_ context.Context) (reconcile.SweepReport, error) {
	f.calls = append(f.calls, "cleanup")
	return f.cleanupReport, f.cleanupErr
}

type fakeRunLister struct {
	runs     []history.Run
	err      error
	gotLimit int
}

func (f *fakeRunLister) Recent(_ context.Context, limit int) ([]history.Run, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func newTestServer(lc Lifecycle, runs RunLister) *Server {
	return New(Config{Service: "terraflow", Version: "test"}, lc, runs, nil, nil,
		slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError})))
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealthReportsActiveTemplates(t *testing.T) {
	lc := &fakeLifecycle{records: []registry.Record{{Name: "a"}, {Name: "b"}}}
	rr := doJSON(t, newTestServer(lc, nil), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[HealthResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.ActiveTemplates)
}

func TestRootListsEndpoints(t *testing.T) {
	rr := doJSON(t, newTestServer(&fakeLifecycle{}, nil), http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[RootResponse](t, rr)
	assert.Equal(t, "terraflow", resp.Service)
	assert.Contains(t, resp.Endpoints, "POST /terraform/init")
}

func TestStatusReturnsAllRecords(t *testing.T) {
	lc := &fakeLifecycle{records: []registry.Record{{
		Name: "demo", BucketID: "terraflow-tmp-demo-1", Status: registry.StatusApplied,
	}}}
	rr := doJSON(t, newTestServer(lc, nil), http.MethodGet, "/terraform/status", "")

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[StatusResponse](t, rr)
	require.Len(t, resp.ActiveTemplates, 1)
	assert.Equal(t, "demo", resp.ActiveTemplates[0].Name)
	assert.Contains(t, rr.Body.String(), `"activeTemplates"`)
}

func TestMissingTemplateNameIsRejectedBeforeDispatch(t *testing.T) {
	lc := &fakeLifecycle{}
	s := newTestServer(lc, nil)

	for _, path := range []string{"/terraform/init", "/terraform/apply", "/terraform/destroy"} {
		rr := doJSON(t, s, http.MethodPost, path, `{}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
		resp := decodeBody[ErrorResponse](t, rr)
		assert.Equal(t, "template_name is required", resp.Error)
	}
	assert.Empty(t, lc.calls, "validation failures must not reach the coordinator")
}

func TestInvalidJSONBodyIsBadRequest(t *testing.T) {
	rr := doJSON(t, newTestServer(&fakeLifecycle{}, nil), http.MethodPost, "/terraform/init", `{"template_name":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInitSuccessEnvelope(t *testing.T) {
	rec := registry.Record{
		Name: "demo", BucketID: "terraflow-tmp-demo-1", Status: registry.StatusInitialized, CreatedAt: time.Now(),
	}
	lc := &fakeLifecycle{initRes: &lifecycle.OpResult{Record: rec, Output: "Initialized!\n"}}

	rr := doJSON(t, newTestServer(lc, nil), http.MethodPost, "/terraform/init", `{"template_name":"demo"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[OperationResponse](t, rr)
	assert.Equal(t, "demo", resp.TemplateName)
	require.NotNil(t, resp.Status)
	assert.Equal(t, registry.StatusInitialized, resp.Status.Status)
	assert.Equal(t, "Initialized!\n", resp.Output)
	assert.Equal(t, []string{"init:demo"}, lc.calls)
}

func TestApplyUnknownTemplateIs404(t *testing.T) {
	lc := &fakeLifecycle{applyErr: lifecycle.ErrTemplateNotFound}
	rr := doJSON(t, newTestServer(lc, nil), http.MethodPost, "/terraform/apply", `{"template_name":"ghost"}`)

	require.Equal(t, http.StatusNotFound, rr.Code)
	resp := decodeBody[ErrorResponse](t, rr)
	assert.Equal(t, "template not found", resp.Error)
}

func TestSubprocessFailureIs500WithRedactedDetails(t *testing.T) {
	lc := &fakeLifecycle{
		applyErr: &runner.ExitError{Command: "terraform apply", ExitCode: 1},
		applyRes: &lifecycle.OpResult{
			Output: "Error: aws_secret_access_key = wJalrXUtnFEMI provider auth failed",
		},
	}
	rr := doJSON(t, newTestServer(lc, nil), http.MethodPost, "/terraform/apply", `{"template_name":"demo"}`)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decodeBody[ErrorResponse](t, rr)
	assert.Equal(t, "terraform apply failed", resp.Error)
	assert.Contains(t, resp.Details, "[REDACTED]")
	assert.NotContains(t, resp.Details, "wJalrXUtnFEMI")
}

func TestDestroySuccessOmitsStatus(t *testing.T) {
	lc := &fakeLifecycle{destroyRes: &lifecycle.OpResult{Output: "Destroy complete!\n"}}
	rr := doJSON(t, newTestServer(lc, nil), http.MethodPost, "/terraform/destroy", `{"template_name":"demo"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), `"status"`)
}

func TestCleanupReturnsSweepReport(t *testing.T) {
	lc := &fakeLifecycle{cleanupReport: reconcile.SweepReport{
		Succeeded: []string{"terraflow-tmp-a-1"},
		Failed:    []reconcile.SweepFailure{{Bucket: "terraflow-tmp-b-2", Error: "access denied"}},
	}}
	rr := doJSON(t, newTestServer(lc, nil), http.MethodPost, "/terraform/cleanup", "")

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[CleanupResponse](t, rr)
	assert.Equal(t, []string{"terraflow-tmp-a-1"}, resp.Report.Succeeded)
	require.Len(t, resp.Report.Failed, 1)
	assert.Equal(t, "terraflow-tmp-b-2", resp.Report.Failed[0].Bucket)
}

func TestCleanupSweepListingFailureIs500(t *testing.T) {
	lc := &fakeLifecycle{cleanupErr: assert.AnError}
	rr := doJSON(t, newTestServer(lc, nil), http.MethodPost, "/terraform/cleanup", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRunsEndpoint(t *testing.T) {
	runs := &fakeRunLister{runs: []history.Run{
		{Template: "demo", Operation: "apply", Status: history.RunSucceeded},
		{Template: "demo", Operation: "init", Status: history.RunSucceeded},
	}}
	s := newTestServer(&fakeLifecycle{}, runs)

	rr := doJSON(t, s, http.MethodGet, "/terraform/runs?limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[map[string][]history.Run](t, rr)
	assert.Len(t, resp["runs"], 1)

	rr = doJSON(t, s, http.MethodGet, "/terraform/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRunsLimitIsClamped(t *testing.T) {
	runs := &fakeRunLister{}
	s := newTestServer(&fakeLifecycle{}, runs)

	rr := doJSON(t, s, http.MethodGet, "/terraform/runs?limit=1000000000", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 500, runs.gotLimit)
}

func TestRunsUnavailableWithoutHistory(t *testing.T) {
	rr := doJSON(t, newTestServer(&fakeLifecycle{}, nil), http.MethodGet, "/terraform/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
