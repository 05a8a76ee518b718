// Package provider drives the remote conversion service. The remote contract
// is asynchronous: create a job from a task graph, upload each input file to
// its import task, poll the job until it reaches a terminal status, then
// fetch the exported result. Convert hides that lifecycle behind one
// blocking, context-cancellable call.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/conversionflow/internal/models"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultPollAttempts = 60 // 5 minute ceiling at the default interval
)

// File is one named input handed to the provider.
type File struct {
	Name string
	Data []byte
}

// Result is the converted output returned by the provider.
type Result struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Client talks to the conversion provider. The zero value is not usable;
// construct with NewClient.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client

	pollInterval time.Duration
	pollAttempts int

	// sleep is overridable so tests can run the attempt ceiling without
	// real time passing.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) { p.httpc = c }
}

// WithPolling overrides the poll interval and attempt ceiling.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(p *Client) {
		p.pollInterval = interval
		p.pollAttempts = attempts
	}
}

// WithSleeper replaces the inter-poll sleep. Tests inject a no-op sleeper.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Client) { p.sleep = sleep }
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpc:        &http.Client{Timeout: 2 * time.Minute},
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Convert runs one conversion end to end. It is synchronous from the
// caller's perspective and returns once the remote job reaches a terminal
// status, the attempt ceiling is exceeded, or ctx is cancelled. No step is
// retried: a resubmission is the caller's decision, since retrying here
// would duplicate billable provider work.
func (c *Client) Convert(ctx context.Context, kind models.OperationKind, files []File, params models.Parameters) (Result, error) {
	desc, err := models.Lookup(kind)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{}, fmt.Errorf("%w: no input files", models.ErrSubmissionFailed)
	}

	job, err := c.createJob(ctx, desc, files, params)
	if err != nil {
		return Result{}, err
	}

	if err := c.uploadInputs(ctx, job, files); err != nil {
		return Result{}, err
	}

	final, err := c.awaitJob(ctx, job.ID)
	if err != nil {
		return Result{}, err
	}

	return c.fetchResult(ctx, final)
}

type remoteTask struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Result    struct {
		Files []struct {
			Filename string `json:"filename"`
			URL      string `json:"url"`
		} `json:"files"`
	} `json:"result"`
}

type remoteJob struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Tasks  []remoteTask `json:"tasks"`
}

type jobEnvelope struct {
	Data remoteJob `json:"data"`
}

func (c *Client) createJob(ctx context.Context, desc models.Descriptor, files []File, params models.Parameters) (remoteJob, error) {
	body, err := json.Marshal(map[string]any{"tasks": buildTasks(desc, files, params)})
	if err != nil {
		return remoteJob{}, fmt.Errorf("%w: failed to marshal job config: %v", models.ErrSubmissionFailed, err)
	}

	var envelope jobEnvelope
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/jobs", body, &envelope); err != nil {
		return remoteJob{}, fmt.Errorf("%w: job creation: %v", models.ErrSubmissionFailed, err)
	}
	return envelope.Data, nil
}

// uploadInputs pushes each file's bytes to its import task as a discrete
// step. Import tasks are named import-1..import-n in input order.
func (c *Client) uploadInputs(ctx context.Context, job remoteJob, files []File) error {
	imports := make(map[string]string, len(files))
	for _, task := range job.Tasks {
		if task.Operation == "import/base64" {
			imports[task.Name] = task.ID
		}
	}

	for i, file := range files {
		taskID, ok := imports[importName(i)]
		if !ok {
			return fmt.Errorf("%w: job %s has no import task for input %d", models.ErrSubmissionFailed, job.ID, i+1)
		}
		body, err := json.Marshal(map[string]string{
			"file":     base64.StdEncoding.EncodeToString(file.Data),
			"filename": file.Name,
		})
		if err != nil {
			return fmt.Errorf("%w: failed to marshal upload for %s: %v", models.ErrSubmissionFailed, file.Name, err)
		}
		url := fmt.Sprintf("%s/v2/tasks/%s/upload", c.baseURL, taskID)
		if err := c.do(ctx, http.MethodPost, url, body, nil); err != nil {
			return fmt.Errorf("%w: upload of %s: %v", models.ErrSubmissionFailed, file.Name, err)
		}
	}
	return nil
}

// awaitJob polls the job on a fixed interval until it is terminal, the
// attempt ceiling is hit, or ctx is cancelled.
func (c *Client) awaitJob(ctx context.Context, jobID string) (remoteJob, error) {
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return remoteJob{}, fmt.Errorf("%w: %v", models.ErrCancelled, err)
		}

		var envelope jobEnvelope
		url := fmt.Sprintf("%s/v2/jobs/%s", c.baseURL, jobID)
		if err := c.do(ctx, http.MethodGet, url, nil, &envelope); err != nil {
			if ctx.Err() != nil {
				return remoteJob{}, fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
			}
			return remoteJob{}, fmt.Errorf("status poll for job %s: %w", jobID, err)
		}

		switch envelope.Data.Status {
		case "finished":
			return envelope.Data, nil
		case "error":
			return remoteJob{}, &models.ProviderError{Message: jobErrorMessage(envelope.Data)}
		}
	}
	return remoteJob{}, fmt.Errorf("%w: job %s not terminal after %d attempts", models.ErrProviderTimeout, jobID, c.pollAttempts)
}

func jobErrorMessage(job remoteJob) string {
	for _, task := range job.Tasks {
		if task.Status == "error" && task.Message != "" {
			return task.Message
		}
	}
	return "conversion failed"
}

// fetchResult downloads the exported file of a finished job. A zero-length
// body fails even though the provider reported success; an empty artifact is
// never a usable result.
func (c *Client) fetchResult(ctx context.Context, job remoteJob) (Result, error) {
	var exported *remoteTask
	for i := range job.Tasks {
		if job.Tasks[i].Operation == "export/url" {
			exported = &job.Tasks[i]
			break
		}
	}
	if exported == nil || len(exported.Result.Files) == 0 || exported.Result.Files[0].URL == "" {
		return Result{}, fmt.Errorf("%w: job %s finished without an exported file", models.ErrEmptyResult, job.ID)
	}

	file := exported.Result.Files[0]
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("result fetch for job %s: %w", job.ID, err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("result fetch for job %s: %w", job.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("result fetch for job %s: unexpected status %s", job.ID, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("result fetch for job %s: %w", job.ID, err)
	}
	if len(data) == 0 {
		return Result{}, fmt.Errorf("%w: job %s exported a zero-length file", models.ErrEmptyResult, job.ID)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(file.Filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return Result{Name: file.Filename, MIMEType: mimeType, Data: data}, nil
}

// do performs one authenticated JSON round trip against the provider API.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider returned %s: %s", resp.Status, bytes.TrimSpace(detail))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
