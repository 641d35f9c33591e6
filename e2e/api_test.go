//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"trainhub/internal/api"
	"trainhub/internal/broadcast"
	"trainhub/internal/dispatcher"
	"trainhub/internal/health"
	"trainhub/internal/job"
	"trainhub/internal/queue"
	"trainhub/internal/testutil"
	"trainhub/internal/worker"
	"trainhub/pkg/webhook"
)

// getTestURL returns the base URL for e2e tests.
// If E2E_API_URL is set, tests run against that instance.
// Otherwise, an in-process test server is created.
func getTestURL(t *testing.T) (string, func()) {
	if url := os.Getenv("E2E_API_URL"); url != "" {
		t.Logf("Using external API: %s", url)
		return url, func() {}
	}

	server, cleanup := createTestServer(t)
	return server.URL, cleanup
}

func createTestServer(t *testing.T) (*httptest.Server, func()) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := job.NewStore()
	eventDispatcher := dispatcher.NewMemory(dispatcher.MemoryConfig{
		Workers:   2,
		QueueSize: 100,
	}, nil, store.MarkCallbackExhausted)

	executor := worker.NewLocal(&worker.SimTrainer{StepDuration: 5 * time.Millisecond},
		worker.LocalConfig{CancelGrace: 200 * time.Millisecond}, logger)

	broadcaster := broadcast.New(broadcast.Config{Heartbeat: time.Second}, func(jobID string) (job.Job, bool) {
		j, err := store.Get(jobID)
		return j, err == nil
	})

	manager := queue.New(queue.Config{MaxConcurrentJobs: 2},
		store, executor, eventDispatcher, broadcaster, nil)

	router := api.NewRouter(api.RouterConfig{
		Manager:       manager,
		Broadcaster:   broadcaster,
		HealthChecker: health.NewChecker(executor),
	})

	server := httptest.NewServer(router)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Close(ctx)
		executor.Close(ctx)
		// Drain dispatcher before closing server so pending callbacks can be delivered
		eventDispatcher.Close(ctx)
		broadcaster.Close()
		server.Close()
	}

	return server, cleanup
}

func submitJob(t *testing.T, baseURL string, req map[string]any) job.Job {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(baseURL+"/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 202, got %d: %s", resp.StatusCode, data)
	}

	var j job.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("Failed to decode job: %v", err)
	}
	return j
}

func getJob(t *testing.T, baseURL, jobID string) job.Job {
	t.Helper()
	resp, err := http.Get(baseURL + "/v1/jobs/" + jobID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	var j job.Job
	json.NewDecoder(resp.Body).Decode(&j)
	return j
}

func TestAPI_Livez(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/livez")
	if err != nil {
		t.Fatalf("Liveness check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestAPI_Readyz(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	resp, err := http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result health.Response
	json.NewDecoder(resp.Body).Decode(&result)

	if result.Status != health.StatusHealthy {
		t.Errorf("Expected healthy status, got %s", result.Status)
	}
}

func TestAPI_JobLifecycle(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	jobID := fmt.Sprintf("e2e-lifecycle-%d", time.Now().UnixNano())
	submitJob(t, baseURL, map[string]any{
		"id":      jobID,
		"dataset": "s3://bucket/coco128",
		"training": map[string]any{
			"model":  "yolov8n",
			"epochs": 10,
		},
	})

	testutil.MustWaitFor(t, func() bool {
		return getJob(t, baseURL, jobID).Status == job.StatusCompleted
	})

	final := getJob(t, baseURL, jobID)
	if final.Progress.Percentage != 100 {
		t.Errorf("Expected 100%% progress, got %v", final.Progress.Percentage)
	}
	if final.Artifacts["weights"] == "" {
		t.Error("Expected weights artifact on completed job")
	}
	if final.CompletedAt == nil {
		t.Error("Expected completedAt to be set")
	}
}

func TestAPI_CancelTrainingJob(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	jobID := fmt.Sprintf("e2e-cancel-%d", time.Now().UnixNano())
	submitJob(t, baseURL, map[string]any{
		"id":      jobID,
		"dataset": "s3://bucket/coco128",
		"training": map[string]any{
			"model":  "yolov8n",
			"epochs": 1000,
		},
	})

	testutil.MustWaitFor(t, func() bool {
		return getJob(t, baseURL, jobID).Status == job.StatusTraining
	})

	req, _ := http.NewRequest(http.MethodDelete, baseURL+"/v1/jobs/"+jobID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}

	testutil.MustWaitFor(t, func() bool {
		return getJob(t, baseURL, jobID).Status == job.StatusCancelled
	})
}

func TestAPI_EventStream(t *testing.T) {
	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	jobID := fmt.Sprintf("e2e-stream-%d", time.Now().UnixNano())
	submitJob(t, baseURL, map[string]any{
		"id":      jobID,
		"dataset": "s3://bucket/coco128",
		"training": map[string]any{
			"model":  "yolov8n",
			"epochs": 10,
		},
	})

	resp, err := http.Get(baseURL + "/v1/jobs/" + jobID + "/events")
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected text/event-stream, got %q", ct)
	}

	// Collect event types until the server closes the stream at the
	// terminal event.
	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}

	if len(types) == 0 {
		t.Fatal("Expected events on the stream")
	}
	if types[0] != string(job.EventSnapshot) {
		t.Errorf("Expected snapshot first, got %s", types[0])
	}
	if last := types[len(types)-1]; last != string(job.EventCompleted) {
		t.Errorf("Expected completed last, got %s", last)
	}
}

func TestAPI_WebhookCallbacks(t *testing.T) {
	if os.Getenv("E2E_API_URL") != "" {
		t.Skip("callback receiver requires the in-process server")
	}

	const secret = "e2e-secret"

	var mu sync.Mutex
	var received []job.Notification
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		if got, want := r.Header.Get("X-Signature-256"), webhook.Sign(body, secret); got != want {
			t.Errorf("Signature mismatch: got %s want %s", got, want)
		}

		var n job.Notification
		if err := json.Unmarshal(body, &n); err != nil {
			t.Errorf("Invalid callback body: %v", err)
		}
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	jobID := fmt.Sprintf("e2e-callback-%d", time.Now().UnixNano())
	submitJob(t, baseURL, map[string]any{
		"id":      jobID,
		"dataset": "s3://bucket/coco128",
		"training": map[string]any{
			"model":  "yolov8n",
			"epochs": 10,
		},
		"callback": map[string]any{
			"url":    receiver.URL,
			"secret": secret,
		},
	})

	testutil.MustWaitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0 && received[len(received)-1].Kind == job.CallbackCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	for i, n := range received {
		if n.JobID != jobID {
			t.Errorf("Callback %d carries wrong job ID %s", i, n.JobID)
		}
		if i < len(received)-1 && n.Kind != job.CallbackProgress {
			t.Errorf("Expected only progress callbacks before terminal, got %s at %d", n.Kind, i)
		}
	}
}

func TestAPI_ConcurrencyCeiling(t *testing.T) {
	if os.Getenv("E2E_API_URL") != "" {
		t.Skip("relies on the in-process server's MAX_CONCURRENT_JOBS=2")
	}

	baseURL, cleanup := getTestURL(t)
	defer cleanup()

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = fmt.Sprintf("e2e-ceiling-%d-%d", i, time.Now().UnixNano())
		submitJob(t, baseURL, map[string]any{
			"id":      ids[i],
			"dataset": "s3://bucket/coco128",
			"training": map[string]any{
				"model":  "yolov8n",
				"epochs": 1000,
			},
		})
	}

	// Two slots; the third job must wait queued.
	testutil.MustWaitFor(t, func() bool {
		return getJob(t, baseURL, ids[0]).Status == job.StatusTraining &&
			getJob(t, baseURL, ids[1]).Status == job.StatusTraining
	})

	if got := getJob(t, baseURL, ids[2]).Status; got != job.StatusQueued {
		t.Errorf("Expected third job queued, got %s", got)
	}

	// Freeing a slot admits the waiter.
	req, _ := http.NewRequest(http.MethodDelete, baseURL+"/v1/jobs/"+ids[0], nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	resp.Body.Close()

	testutil.MustWaitFor(t, func() bool {
		return getJob(t, baseURL, ids[2]).Status == job.StatusTraining
	})
}
