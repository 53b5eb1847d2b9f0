package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/insightflow/insightflow/internal/leadtemplate"
	"github.com/insightflow/insightflow/pkg/metrics"
	"github.com/insightflow/insightflow/pkg/requestid"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

const (
	// multipart framing allowance on top of the file size limit
	formOverhead = 1 << 20
	writeWait    = 10 * time.Second

	LineNotFound       = "Error: File not found or expired."
	LineStarting       = "Starting analysis process..."
	LineDone           = "Analysis complete."
	LineUploading      = "Uploading processed file to Drive..."
	LinePublishFailed  = "Error: Failed to upload to Drive."
	lineExitedTemplate = "Error: Process exited with code %d"
)

type UploadResponse struct {
	Status   string `json:"status"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

// CompletedMessage is the final message of a successful analysis.
type CompletedMessage struct {
	Type      string `json:"type"`
	DriveLink string `json:"drive_link"`
	Filename  string `json:"filename"`
}

type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	Detail         string `json:"detail"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errBadRequest(detail string) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusBadRequest, Detail: detail}
}

func errTooLarge(detail string) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusRequestEntityTooLarge, Detail: detail}
}

func errInternal(detail string) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusInternalServerError, Detail: detail}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) template(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", leadtemplate.FileName))
	if err := leadtemplate.Write(w); err != nil {
		s.log.Errorw("failed to write template", "error", err)
	}
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+formOverhead)
	}

	file, header, err := r.FormFile(FormField)
	if err != nil {
		metrics.IncreaseUploadsTotalMetric("rejected", 0)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			_ = render.Render(w, r, errTooLarge("File too large"))
			return
		}
		_ = render.Render(w, r, errBadRequest("No file provided"))
		return
	}
	defer file.Close()

	if header.Filename == "" {
		metrics.IncreaseUploadsTotalMetric("rejected", 0)
		_ = render.Render(w, r, errBadRequest("No filename provided"))
		return
	}

	id, stored, err := s.uploads.Save(header.Filename, file)
	if err != nil {
		metrics.IncreaseUploadsTotalMetric("failed", 0)
		if errors.Is(err, ErrFileTooLarge) {
			_ = render.Render(w, r, errTooLarge("File too large"))
			return
		}
		s.log.Errorw("failed to store upload", "file", header.Filename, "error", err, "request_id", requestid.FromRequest(r))
		_ = render.Render(w, r, errInternal(fmt.Sprintf("Upload failed: %s", err)))
		return
	}

	metrics.IncreaseUploadsTotalMetric("accepted", stored.size)
	s.log.Infow("file uploaded", "file_id", id, "file", stored.name, "size", stored.size, "request_id", requestid.FromRequest(r))
	render.JSON(w, r, UploadResponse{Status: "success", FileID: id, Filename: stored.name})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		s.log.Warnw("websocket upgrade failed", "file_id", fileID, "error", err)
		return
	}
	defer conn.Close()
	defer metrics.TrackAnalysis()()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer utilruntime.HandleCrash()
		defer cancel()
		// drains control frames; fails once the peer goes away
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	sess := &session{conn: conn}
	outcome := s.stream(ctx, sess, fileID)
	metrics.IncreaseAnalysesTotalMetric(outcome)
	s.log.Infow("analysis finished", "file_id", fileID, "outcome", outcome)
	sess.close()
}

// stream runs the analysis of fileID on sess and returns its outcome.
func (s *Server) stream(ctx context.Context, sess *session, fileID string) string {
	stored, ok := s.uploads.Take(fileID)
	if !ok {
		_ = sess.send(LineNotFound)
		return metrics.OutcomeNotFound
	}
	defer func() {
		_ = os.Remove(stored.path)
	}()

	if err := sess.send(LineStarting); err != nil {
		return metrics.OutcomeAborted
	}

	data, err := s.script.Run(ctx, stored.path, stored.name, sess.send)
	if err != nil {
		if ctx.Err() != nil || !errors.Is(err, ErrInvalidFormat) {
			s.log.Debugw("analysis interrupted", "file_id", fileID, "error", err)
			return metrics.OutcomeAborted
		}
		_ = sess.send(fmt.Sprintf(lineExitedTemplate, 1))
		return metrics.OutcomeFailed
	}

	if err := sess.send(LineDone); err != nil {
		return metrics.OutcomeAborted
	}
	if err := sess.send(LineUploading); err != nil {
		return metrics.OutcomeAborted
	}

	name := ProcessedName(stored.name)
	link, err := s.store.Publish(ctx, name, data)
	if err != nil {
		s.log.Errorw("failed to publish result", "file_id", fileID, "store", s.store.Type(), "error", err)
		_ = sess.send(LinePublishFailed)
		return metrics.OutcomeFailed
	}

	if err := sess.sendJSON(CompletedMessage{Type: "COMPLETED", DriveLink: link, Filename: name}); err != nil {
		return metrics.OutcomeAborted
	}
	return metrics.OutcomeCompleted
}

type session struct {
	conn *websocket.Conn
}

func (s *session) send(text string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (s *session) sendJSON(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *session) close() {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}
