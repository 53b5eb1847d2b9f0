package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/insightflow/insightflow/internal/selector"
	"github.com/insightflow/insightflow/pkg/requestid"
	"go.uber.org/zap"
)

const (
	// FormField is the multipart field carrying the file.
	FormField = "file"

	maxErrorBody = 4 * 1024
)

// JobID identifies one server side analysis run.
type JobID string

func (id JobID) String() string {
	return string(id)
}

// Response is the body returned by the upload endpoint.
type Response struct {
	Status   string `json:"status"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

// UploadError is returned when the server answered but did not accept the file.
type UploadError struct {
	StatusCode int
	Status     string
	Body       string
	Reason     string
}

func (e *UploadError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("upload failed: %s", e.Reason)
	}
	if e.Body != "" {
		return fmt.Sprintf("upload failed: server returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upload failed: server returned %s", e.Status)
}

// NetworkError is returned when the request could not be sent or completed.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Client posts files to the upload endpoint. It never retries.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(uploadURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		url:        uploadURL,
		httpClient: httpClient,
	}
}

func (c *Client) Upload(ctx context.Context, file selector.SelectedFile) (JobID, error) {
	body, contentType, err := multipartBody(file)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	requestID := requestid.FromContextOrNew(ctx)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	requestid.SetHeader(httpReq, requestID)

	zap.S().Named("upload").Debugw("uploading file", "file", file.Name, "size", file.SizeBytes, "request_id", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &UploadError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       errorDetail(b),
		}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	var uploadResp Response
	if err := json.Unmarshal(bodyBytes, &uploadResp); err != nil {
		return "", &UploadError{StatusCode: resp.StatusCode, Status: resp.Status, Reason: fmt.Sprintf("failed to decode response: %v", err)}
	}
	if uploadResp.FileID == "" {
		return "", &UploadError{StatusCode: resp.StatusCode, Status: resp.Status, Reason: "response has no file_id"}
	}

	return JobID(uploadResp.FileID), nil
}

func multipartBody(file selector.SelectedFile) (io.Reader, string, error) {
	f, err := file.Open()
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", file.Name, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(FormField, file.Name)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copying file into multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}

	return &buf, mw.FormDataContentType(), nil
}

// errorDetail extracts the "detail" of a JSON error body, or returns the trimmed text.
func errorDetail(b []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(b))
}
