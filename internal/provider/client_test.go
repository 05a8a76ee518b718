package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/conversionflow/internal/models"
)

// fakeProvider emulates the remote conversion API: job creation with a task
// graph, per-task uploads, status polling, and result export.
type fakeProvider struct {
	t *testing.T

	polls       atomic.Int32
	pollsNeeded int32  // polls before the job turns terminal
	finalStatus string // "finished" or "error"
	taskMessage string
	resultBody  []byte
	uploads     atomic.Int32
}

func (f *fakeProvider) server() *httptest.Server {
	mux := http.NewServeMux()
	var baseURL string

	mux.HandleFunc("POST /v2/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tasks map[string]map[string]any `json:"tasks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("bad job config: %v", err)
		}
		tasks := []map[string]any{}
		for name, task := range req.Tasks {
			tasks = append(tasks, map[string]any{
				"id":        "task-" + name,
				"name":      name,
				"operation": task["operation"],
				"status":    "waiting",
			})
		}
		writeJSON(w, map[string]any{"data": map[string]any{"id": "job-1", "status": "waiting", "tasks": tasks}})
	})

	mux.HandleFunc("POST /v2/tasks/{id}/upload", func(w http.ResponseWriter, r *http.Request) {
		f.uploads.Add(1)
		writeJSON(w, map[string]any{"data": map[string]any{}})
	})

	mux.HandleFunc("GET /v2/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		status := "processing"
		tasks := []map[string]any{}
		if n >= f.pollsNeeded {
			status = f.finalStatus
			if status == "error" {
				tasks = append(tasks, map[string]any{
					"id": "task-process", "name": "process", "operation": "convert",
					"status": "error", "message": f.taskMessage,
				})
			} else {
				tasks = append(tasks, map[string]any{
					"id": "task-export", "name": "export", "operation": "export/url",
					"status": "finished",
					"result": map[string]any{
						"files": []map[string]any{{"filename": "result.docx", "url": baseURL + "/download/result.docx"}},
					},
				})
			}
		}
		writeJSON(w, map[string]any{"data": map[string]any{"id": "job-1", "status": status, "tasks": tasks}})
	})

	mux.HandleFunc("GET /download/{name}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(f.resultBody)
	})

	srv := httptest.NewServer(mux)
	baseURL = srv.URL
	return srv
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testClient(url string, attempts int) *Client {
	return NewClient(url, "test-key",
		WithPolling(time.Millisecond, attempts),
		WithSleeper(noSleep))
}

func TestConvertFinishesAfterTwoPolls(t *testing.T) {
	fake := &fakeProvider{t: t, pollsNeeded: 2, finalStatus: "finished", resultBody: make([]byte, 10*1024)}
	srv := fake.server()
	defer srv.Close()

	client := testClient(srv.URL, 60)
	result, err := client.Convert(context.Background(), models.OpPDFToWord,
		[]File{{Name: "report.pdf", Data: []byte("%PDF-fake")}}, models.Parameters{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if result.Name != "result.docx" {
		t.Errorf("result name = %q, want result.docx", result.Name)
	}
	if len(result.Data) != 10*1024 {
		t.Errorf("result size = %d, want 10240", len(result.Data))
	}
	if !strings.Contains(result.MIMEType, "officedocument") && result.MIMEType != "application/octet-stream" {
		t.Errorf("unexpected mime type %q", result.MIMEType)
	}
	if got := fake.polls.Load(); got != 2 {
		t.Errorf("polled %d times, want 2", got)
	}
	if got := fake.uploads.Load(); got != 1 {
		t.Errorf("uploaded %d files, want 1", got)
	}
}

func TestConvertUploadsEveryBatchInput(t *testing.T) {
	fake := &fakeProvider{t: t, pollsNeeded: 1, finalStatus: "finished", resultBody: []byte("merged")}
	srv := fake.server()
	defer srv.Close()

	files := []File{
		{Name: "a.pdf", Data: []byte("a")},
		{Name: "b.pdf", Data: []byte("b")},
		{Name: "c.pdf", Data: []byte("c")},
	}
	client := testClient(srv.URL, 60)
	if _, err := client.Convert(context.Background(), models.OpMergePDF, files, models.Parameters{}); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got := fake.uploads.Load(); got != 3 {
		t.Errorf("uploaded %d files, want 3", got)
	}
}

func TestConvertTimesOutAtAttemptCeiling(t *testing.T) {
	fake := &fakeProvider{t: t, pollsNeeded: 1 << 30, finalStatus: "finished"}
	srv := fake.server()
	defer srv.Close()

	client := testClient(srv.URL, 60)
	_, err := client.Convert(context.Background(), models.OpPDFToWord,
		[]File{{Name: "report.pdf", Data: []byte("x")}}, models.Parameters{})
	if !errors.Is(err, models.ErrProviderTimeout) {
		t.Fatalf("err = %v, want ErrProviderTimeout", err)
	}
	if got := fake.polls.Load(); got != 60 {
		t.Errorf("polled %d times, want exactly 60", got)
	}
}

func TestConvertSurfacesProviderError(t *testing.T) {
	fake := &fakeProvider{t: t, pollsNeeded: 1, finalStatus: "error", taskMessage: "corrupt stream"}
	srv := fake.server()
	defer srv.Close()

	client := testClient(srv.URL, 60)
	_, err := client.Convert(context.Background(), models.OpCompressPDF,
		[]File{{Name: "big.pdf", Data: []byte("x")}}, models.Parameters{CompressionLevel: 3})
	var perr *models.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if perr.Message != "corrupt stream" {
		t.Errorf("message = %q, want %q", perr.Message, "corrupt stream")
	}
}

func TestConvertRejectsEmptyResult(t *testing.T) {
	fake := &fakeProvider{t: t, pollsNeeded: 1, finalStatus: "finished", resultBody: nil}
	srv := fake.server()
	defer srv.Close()

	client := testClient(srv.URL, 60)
	_, err := client.Convert(context.Background(), models.OpPDFToWord,
		[]File{{Name: "report.pdf", Data: []byte("x")}}, models.Parameters{})
	if !errors.Is(err, models.ErrEmptyResult) {
		t.Fatalf("err = %v, want ErrEmptyResult", err)
	}
}

func TestConvertFailsFastOnUnsupportedKind(t *testing.T) {
	client := testClient("http://127.0.0.1:1", 60) // nothing listening; no call may happen
	_, err := client.Convert(context.Background(), models.OperationKind("pdf_to_powerpoint"),
		[]File{{Name: "deck.pdf", Data: []byte("x")}}, models.Parameters{})
	if !errors.Is(err, models.ErrUnsupportedOperation) {
		t.Fatalf("err = %v, want ErrUnsupportedOperation", err)
	}
}

func TestConvertCancellationStopsPolling(t *testing.T) {
	fake := &fakeProvider{t: t, pollsNeeded: 1 << 30, finalStatus: "finished"}
	srv := fake.server()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(srv.URL, "test-key",
		WithPolling(time.Millisecond, 60),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))
	_, err := client.Convert(ctx, models.OpPDFToWord,
		[]File{{Name: "report.pdf", Data: []byte("x")}}, models.Parameters{})
	if !errors.Is(err, models.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if got := fake.polls.Load(); got != 0 {
		t.Errorf("polled %d times after cancellation, want 0", got)
	}
}

func TestConvertSubmissionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := testClient(srv.URL, 60)
	_, err := client.Convert(context.Background(), models.OpPDFToWord,
		[]File{{Name: "report.pdf", Data: []byte("x")}}, models.Parameters{})
	if !errors.Is(err, models.ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestConvertRejectsNoFiles(t *testing.T) {
	client := testClient("http://127.0.0.1:1", 60)
	_, err := client.Convert(context.Background(), models.OpPDFToWord, nil, models.Parameters{})
	if !errors.Is(err, models.ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
}
