package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finworks/reportd/internal/engine"
	"github.com/finworks/reportd/internal/model"
)

func postJSON(t *testing.T, url, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func submitJob(t *testing.T, baseURL, body string) submitJobResponse {
	t.Helper()
	code, data := postJSON(t, baseURL+"/v1/jobs", body)
	require.Equal(t, http.StatusAccepted, code, "submit response: %s", data)
	var out submitJobResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestSubmitJob(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	out := submitJob(t, ts.URL, `{
		"name": "monthly-revenue",
		"job_definition_uri": "test://reports/revenue",
		"arguments": {"month": "2025-01"},
		"submitted_by": "alice@example.com"
	}`)

	require.Len(t, out.ID, 26)
	assert.Equal(t, model.StatusQueued, out.Status)
	assert.Equal(t, "/v1/jobs/"+out.ID, out.PollingURL)

	job := waitForJobStatus(t, ts.URL, "", out.ID, model.StatusCompleted, 3*time.Second)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "alice@example.com", job.SubmittedBy)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	require.Len(t, job.OutputFiles, 1)
	assert.Equal(t, "report.csv", job.OutputFiles[0].Filename)
}

func TestSubmitJobValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"job_definition_uri": "test://r"}`},
		{"missing definition uri", `{"name": "r"}`},
		{"unknown scheme", `{"name": "r", "job_definition_uri": "nope://r"}`},
		{"negative timeout", `{"name": "r", "job_definition_uri": "test://r", "timeout_s": -1}`},
		{"malformed json", `{"name": `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, data := postJSON(t, ts.URL+"/v1/jobs", tc.body)
			assert.Equal(t, http.StatusBadRequest, code, "body: %s", data)
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/01K00000000000000000000000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobs(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var ids []string
	for i := 0; i < 3; i++ {
		out := submitJob(t, ts.URL, `{"name": "r", "job_definition_uri": "test://r"}`)
		ids = append(ids, out.ID)
	}
	for _, id := range ids {
		waitForJobStatus(t, ts.URL, "", id, model.StatusCompleted, 3*time.Second)
	}

	get := func(query string) listJobsResponse {
		resp, err := http.Get(ts.URL + "/v1/jobs" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out listJobsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	all := get("")
	assert.Equal(t, 3, all.Total)
	assert.Len(t, all.Jobs, 3)

	page := get("?limit=2")
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Jobs, 2)

	rest := get("?limit=2&offset=2")
	assert.Len(t, rest.Jobs, 1)

	completed := get("?status=" + model.StatusCompleted)
	assert.Equal(t, 3, completed.Total)

	cancelled := get("?status=" + model.StatusCancelled)
	assert.Equal(t, 0, cancelled.Total)
	require.NotNil(t, cancelled.Jobs, "empty listing must serialize as [], not null")
}

func TestCancelJob(t *testing.T) {
	srv := newTestServerWith(t, Config{}, engine.Config{Workers: 1},
		&stubExecutor{delay: 2 * time.Second})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	running := submitJob(t, ts.URL, `{"name": "blocker", "job_definition_uri": "test://r"}`)
	waitForJobStatus(t, ts.URL, "", running.ID, model.StatusRunning, 3*time.Second)

	queued := submitJob(t, ts.URL, `{"name": "waiting", "job_definition_uri": "test://r"}`)

	del := func(id string) (int, *model.Job) {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/jobs/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, nil
		}
		var job model.Job
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
		return resp.StatusCode, &job
	}

	code, job := del(queued.ID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.StatusCancelled, job.Status)
	assert.Nil(t, job.StartedAt, "a job cancelled before start never ran")

	// Cancelling a terminal job is idempotent.
	code, job = del(queued.ID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.StatusCancelled, job.Status)

	// A running job settles within the cancel grace period.
	code, _ = del(running.ID)
	require.Equal(t, http.StatusOK, code)
	final := waitForJobStatus(t, ts.URL, "", running.ID, model.StatusCancelled, 3*time.Second)
	assert.NotNil(t, final.CompletedAt)
}

func TestCancelJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/jobs/01K00000000000000000000000", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobFilesAndDownload(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	out := submitJob(t, ts.URL, `{"name": "r", "job_definition_uri": "test://r"}`)
	waitForJobStatus(t, ts.URL, "", out.ID, model.StatusCompleted, 3*time.Second)

	resp, err := http.Get(ts.URL + "/v1/jobs/" + out.ID + "/files")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var files listFilesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	require.Len(t, files.Files, 1)
	assert.Equal(t, "report.csv", files.Files[0].Filename)
	assert.Equal(t, "text/csv", files.Files[0].ContentType)
	assert.Equal(t, int64(len("period,revenue\n2025-01,100\n")), files.Files[0].Size)

	dl, err := http.Get(ts.URL + "/v1/jobs/" + out.ID + "/files/report.csv")
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "text/csv", dl.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="report.csv"`, dl.Header.Get("Content-Disposition"))

	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "period,revenue\n2025-01,100\n", string(data))
}

func TestFilesBeforeCompletionEmpty(t *testing.T) {
	srv := newTestServerWith(t, Config{}, engine.Config{Workers: 1},
		&stubExecutor{delay: 2 * time.Second})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	out := submitJob(t, ts.URL, `{"name": "slow", "job_definition_uri": "test://r"}`)

	resp, err := http.Get(ts.URL + "/v1/jobs/" + out.ID + "/files")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var files listFilesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	require.NotNil(t, files.Files)
	assert.Len(t, files.Files, 0)
}

func TestDownloadNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	out := submitJob(t, ts.URL, `{"name": "r", "job_definition_uri": "test://r"}`)
	waitForJobStatus(t, ts.URL, "", out.ID, model.StatusCompleted, 3*time.Second)

	for _, filename := range []string{"missing.csv", "..%2Freport.csv"} {
		resp, err := http.Get(ts.URL + "/v1/jobs/" + out.ID + "/files/" + filename)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "filename %q", filename)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	srv := newTestServerWith(t, Config{}, engine.Config{Workers: 1, QueueSize: 1},
		&stubExecutor{delay: 2 * time.Second})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	blocker := submitJob(t, ts.URL, `{"name": "blocker", "job_definition_uri": "test://r"}`)
	waitForJobStatus(t, ts.URL, "", blocker.ID, model.StatusRunning, 3*time.Second)
	submitJob(t, ts.URL, `{"name": "filler", "job_definition_uri": "test://r"}`)

	code, data := postJSON(t, ts.URL+"/v1/jobs", `{"name": "overflow", "job_definition_uri": "test://r"}`)
	require.Equal(t, http.StatusServiceUnavailable, code, "body: %s", data)

	var rejected map[string]string
	require.NoError(t, json.Unmarshal(data, &rejected))
	require.NotEmpty(t, rejected["id"])
	assert.Equal(t, "/v1/jobs/"+rejected["id"], rejected["polling_url"])

	// The rejected submission stays pollable as a failed job.
	job := waitForJobStatus(t, ts.URL, "", rejected["id"], model.StatusFailed, time.Second)
	require.NotNil(t, job.Error)
	assert.Equal(t, model.CauseCapacityExceeded, job.Error.Cause)
}
