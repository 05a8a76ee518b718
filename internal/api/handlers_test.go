package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lllllllleong/conversionflow/internal/artifact"
	"github.com/Lllllllleong/conversionflow/internal/auth"
	"github.com/Lllllllleong/conversionflow/internal/jobstore"
	"github.com/Lllllllleong/conversionflow/internal/models"
	"github.com/Lllllllleong/conversionflow/internal/notify"
	"github.com/Lllllllleong/conversionflow/internal/orchestrator"
	"github.com/Lllllllleong/conversionflow/internal/provider"
)

type stubConverter struct{}

func (stubConverter) Convert(ctx context.Context, kind models.OperationKind, files []provider.File, params models.Parameters) (provider.Result, error) {
	return provider.Result{Name: "out.pdf", MIMEType: "application/pdf", Data: []byte("converted")}, nil
}

func testHandler(t *testing.T) (http.Handler, *jobstore.MemRepository, *artifact.MemStore) {
	t.Helper()
	store := artifact.NewMemStore()
	repo := jobstore.NewMemRepository()
	orch := orchestrator.New(store, repo, stubConverter{})
	handler := NewServer(orch, repo, store, notify.NewHub()).Routes(auth.StaticVerifier{"token-1": "user-1"})
	return handler, repo, store
}

// multipartBody builds a convert request with one .docx upload, a kind that
// needs no pdf preflight.
func multipartBody(t *testing.T, operation string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("operation", operation); err != nil {
		t.Fatal(err)
	}
	part, err := writer.CreateFormFile("files", "doc.docx")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("fake docx bytes")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, writer.FormDataContentType()
}

func TestConvertRequiresAuth(t *testing.T) {
	handler, _, _ := testHandler(t)
	body, contentType := multipartBody(t, "word_to_pdf")

	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestConvertSuccess(t *testing.T) {
	handler, repo, _ := testHandler(t)
	body, contentType := multipartBody(t, "word_to_pdf")

	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp models.SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Succeeded != 1 || len(resp.Jobs) != 1 {
		t.Errorf("response = %+v, want one succeeded job", resp)
	}

	jobs, err := repo.ListByOwner(context.Background(), "user-1")
	if err != nil || len(jobs) != 1 {
		t.Fatalf("jobs = %v (%v), want 1 row", jobs, err)
	}
	if jobs[0].Status != models.StatusCompleted {
		t.Errorf("job status = %s, want completed", jobs[0].Status)
	}
}

func TestConvertUnsupportedOperation(t *testing.T) {
	handler, repo, _ := testHandler(t)
	body, contentType := multipartBody(t, "pdf_to_powerpoint")

	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	jobs, _ := repo.ListByOwner(context.Background(), "user-1")
	if len(jobs) != 0 {
		t.Error("unsupported operation must create no jobs")
	}
}

func TestGetJobHidesForeignRows(t *testing.T) {
	handler, repo, _ := testHandler(t)
	job := &models.ConversionJob{
		OwnerID:       "user-2",
		OperationKind: models.OpPDFToWord,
		InputPaths:    []string{"user-2/pdf-to-word/a.pdf"},
		Status:        models.StatusProcessing,
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for a foreign job", rec.Code)
	}
}

func TestDownloadCompletedJob(t *testing.T) {
	handler, repo, store := testHandler(t)
	ctx := context.Background()
	if err := store.Put(ctx, "user-1/converted/out.pdf", []byte("result bytes"), "application/pdf"); err != nil {
		t.Fatal(err)
	}
	job := &models.ConversionJob{
		OwnerID:       "user-1",
		OperationKind: models.OpWordToPDF,
		InputPaths:    []string{"user-1/word-to-pdf/doc.docx"},
		Status:        models.StatusProcessing,
	}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateStatus(ctx, job.ID, models.StatusCompleted, "user-1/converted/out.pdf", ""); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/download", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	data, _ := io.ReadAll(rec.Body)
	if string(data) != "result bytes" {
		t.Errorf("downloaded %q", data)
	}
}

func TestListJobsProjectsProgress(t *testing.T) {
	handler, repo, _ := testHandler(t)
	job := &models.ConversionJob{
		OwnerID:       "user-1",
		OperationKind: models.OpPDFToWord,
		InputPaths:    []string{"user-1/pdf-to-word/a.pdf"},
		Status:        models.StatusProcessing,
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var views []models.JobView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d views, want 1", len(views))
	}
	if views[0].Percent < 0 || views[0].Percent > 95 {
		t.Errorf("processing percent = %d, want within 0-95", views[0].Percent)
	}
	if views[0].ProgressLabel == "" {
		t.Error("expected a progress label for a processing job")
	}
}
