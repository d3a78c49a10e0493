package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/genjob-api/internal/config"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/notify"
	"github.com/phrazzld/genjob-api/internal/platform/filestore"
	"github.com/phrazzld/genjob-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setTestEnv points every writable location at a temporary directory and
// clears provider keys inherited from the environment.
func setTestEnv(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()

	t.Setenv("GENJOB_STORE_BACKEND", backend)
	t.Setenv("GENJOB_STORE_FILE_PATH", filepath.Join(dir, "jobs.json"))
	t.Setenv("GENJOB_GENERATION_OUTPUT_DIR", filepath.Join(dir, "results"))
	t.Setenv("GENJOB_TASK_STAGE_DIR", filepath.Join(dir, "stage"))
	t.Setenv("GENJOB_GENERATION_DASHSCOPE_API_KEY", "")
	t.Setenv("GENJOB_GENERATION_GEMINI_API_KEY", "")
	t.Setenv("DASHSCOPE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	return dir
}

func newTestApplication(t *testing.T, backend string) (*application, string) {
	t.Helper()
	dir := setTestEnv(t, backend)

	cfg, err := config.LoadWithOptions(config.Options{})
	require.NoError(t, err)

	log, _ := logger.GetTestLogger(t)
	app, err := newApplication(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app, dir
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestApplication_JobFailsWithoutProviderKey(t *testing.T) {
	app, _ := newTestApplication(t, config.StoreMemory)
	require.NoError(t, app.start(context.Background()))

	srv := httptest.NewServer(app.setupRouter())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	var msg notify.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, notify.TypeConnected, msg.Type)

	body := `{"prompt":"a red fox in the snow","session_id":"session-1"}`
	resp, err := http.Post(srv.URL+"/api/generation/text-to-image", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	var created struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "pending", created.Status)

	// No DashScope key is configured, so the worker records an error.
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.JobID == created.JobID && msg.Type == notify.TypeFailed {
			break
		}
	}

	status, jobBody := getBody(t, srv.URL+"/api/generation/jobs/"+created.JobID)
	require.Equal(t, http.StatusOK, status)
	var job struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Error    string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(jobBody), &job))
	assert.Equal(t, "error", job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotEmpty(t, job.Error)

	status, metricsBody := getBody(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, metricsBody, "genjob_jobs_submitted_total")
}

func TestApplication_HealthModelsAndResults(t *testing.T) {
	app, _ := newTestApplication(t, config.StoreMemory)
	srv := httptest.NewServer(app.setupRouter())
	defer srv.Close()

	status, body := getBody(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"store":"memory"`)

	status, body = getBody(t, srv.URL+"/api/generation/models?kind=text-to-video")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "wan2.5-t2v-preview")
	assert.NotContains(t, body, "wanx-v1")

	outputDir := app.config.Generation.OutputDir
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "fox.png"), []byte("png-bytes"), 0o644))

	status, body = getBody(t, srv.URL+"/api/results/fox.png")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "png-bytes", body)

	status, _ = getBody(t, srv.URL+"/api/results/")
	assert.Equal(t, http.StatusNotFound, status)

	resp, err := http.Post(srv.URL+"/api/generation/text-to-image", "application/json", bytes.NewBufferString(`{"prompt":""}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// recordingChannel is a notify.Channel keeping every message.
type recordingChannel struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *recordingChannel) Send(msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingChannel) Close() {}

func (c *recordingChannel) jobIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		ids = append(ids, m.JobID)
	}
	return ids
}

func TestApplication_BridgePushesJobsFromOtherProcesses(t *testing.T) {
	app, _ := newTestApplication(t, config.StoreFile)
	require.NotNil(t, app.bridge)
	require.NoError(t, app.start(context.Background()))

	ch := &recordingChannel{}
	app.hub.Register("shared", ch)

	// A second store on the same file stands in for another server process.
	log, _ := logger.GetTestLogger(t)
	other, err := filestore.New(filestore.Options{Path: app.config.Store.FilePath}, log)
	require.NoError(t, err)
	defer func() { _ = other.Close() }()

	ctx := context.Background()
	params := domain.Params{Prompt: "lighthouse", Model: "wan2.5-t2i-preview", Count: 1, Size: "1024*1024"}
	job, err := other.Create(ctx, domain.KindTextToImage, params, "shared")
	require.NoError(t, err)
	_, err = other.Update(ctx, job.ID, domain.Running(40))
	require.NoError(t, err)

	app.bridge.Wake()
	assert.Eventually(t, func() bool {
		for _, id := range ch.jobIDs() {
			if id == job.ID.String() {
				return true
			}
		}
		return false
	}, 10*time.Second, 50*time.Millisecond)
}

func TestApplication_CleanupIsIdempotent(t *testing.T) {
	app, _ := newTestApplication(t, config.StoreMemory)
	require.NoError(t, app.start(context.Background()))

	app.cleanup()
	app.cleanup()
	assert.Zero(t, app.hub.Sessions())
}
