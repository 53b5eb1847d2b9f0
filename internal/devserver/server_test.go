package devserver_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/insightflow/insightflow/internal/devserver"
	"github.com/insightflow/insightflow/internal/leadtemplate"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
)

const leadsCSV = "name,email\nJohn,john@acme.com\nJane,jane@tech.io\n"

var _ = Describe("devserver", func() {
	var (
		server  *httptest.Server
		handler http.Handler
		opts    devserver.Options
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(w, r)
		}))
		opts = devserver.Options{
			BaseURL:     server.URL,
			UploadDir:   GinkgoT().TempDir(),
			MaxFileSize: 1 << 20,
			LogLevel:    "info",
		}
	})

	JustBeforeEach(func() {
		s, err := devserver.New(opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.StoreType()).To(Equal("local"))
		handler = s.Handler()
	})

	AfterEach(func() {
		server.Close()
	})

	postFile := func(name string, content []byte) *http.Response {
		GinkgoHelper()
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile(devserver.FormField, name)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())

		resp, err := http.Post(server.URL+"/upload", mw.FormDataContentType(), &body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	uploadFile := func(name string, content []byte) string {
		GinkgoHelper()
		resp := postFile(name, content)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var payload devserver.UploadResponse
		Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
		Expect(payload.Status).To(Equal("success"))
		Expect(payload.Filename).To(Equal(name))
		Expect(payload.FileID).NotTo(BeEmpty())
		return payload.FileID
	}

	// stream reads every frame of the analysis of fileID until the server closes.
	stream := func(fileID string) ([]string, error) {
		GinkgoHelper()
		addr := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/analyze/" + fileID
		conn, resp, err := websocket.DefaultDialer.Dial(addr, nil)
		Expect(err).NotTo(HaveOccurred())
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		defer conn.Close()

		var frames []string
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return frames, err
			}
			frames = append(frames, string(data))
		}
	}

	It("reports its health", func() {
		resp, err := http.Get(server.URL + "/health")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("X-Request-Id")).NotTo(BeEmpty())

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(MatchJSON(`{"status":"ok"}`))
	})

	It("streams the analysis of an upload and publishes the result", func() {
		fileID := uploadFile("leads.csv", []byte(leadsCSV))

		frames, err := stream(fileID)
		Expect(websocket.IsCloseError(err, websocket.CloseNormalClosure)).To(BeTrue())
		Expect(frames).To(HaveLen(13))
		Expect(frames[:12]).To(Equal([]string{
			"Starting analysis process...",
			"Starting analysis for: leads.csv",
			"Adding missing column: STATUS with default: NEW",
			"Adding missing column: LEAD_SCORE with default: 0",
			"Adding missing column: QUALIFIED with default: NO",
			"Loaded 2 records.",
			"Initializing automation graph...",
			"Processing lead 1/2: John",
			"Processing lead 2/2: Jane",
			"Analysis complete. Generating output...",
			"Analysis complete.",
			"Uploading processed file to Drive...",
		}))

		var completed devserver.CompletedMessage
		Expect(json.Unmarshal([]byte(frames[12]), &completed)).To(Succeed())
		Expect(completed.Type).To(Equal("COMPLETED"))
		Expect(completed.Filename).To(Equal("Processed_leads.xlsx"))
		Expect(completed.DriveLink).To(HavePrefix(server.URL + devserver.ResultsRoute + "/"))

		resp, err := http.Get(completed.DriveLink)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		f, err := excelize.OpenReader(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(Equal([][]string{
			{"NAME", "EMAIL", "STATUS", "LEAD_SCORE", "QUALIFIED"},
			{"John", "john@acme.com", "NEW", "0", "NO"},
			{"Jane", "jane@tech.io", "NEW", "0", "NO"},
		}))
	})

	It("analyzes a file only once", func() {
		fileID := uploadFile("leads.csv", []byte(leadsCSV))
		_, _ = stream(fileID)

		frames, err := stream(fileID)
		Expect(websocket.IsCloseError(err, websocket.CloseNormalClosure)).To(BeTrue())
		Expect(frames).To(Equal([]string{devserver.LineNotFound}))
	})

	It("closes after a notice for an unknown file", func() {
		frames, err := stream("does-not-exist")
		Expect(websocket.IsCloseError(err, websocket.CloseNormalClosure)).To(BeTrue())
		Expect(frames).To(Equal([]string{"Error: File not found or expired."}))
	})

	It("fails on a legacy workbook", func() {
		fileID := uploadFile("old.xls", []byte{0xd0, 0xcf, 0x11, 0xe0})

		frames, err := stream(fileID)
		Expect(websocket.IsCloseError(err, websocket.CloseNormalClosure)).To(BeTrue())
		Expect(frames).To(Equal([]string{
			"Starting analysis process...",
			"Starting analysis for: old.xls",
			"Error: Invalid file format",
			"Error: Process exited with code 1",
		}))
	})

	It("rejects a request without file", func() {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		Expect(mw.WriteField("note", "hello")).To(Succeed())
		Expect(mw.Close()).To(Succeed())

		resp, err := http.Post(server.URL+"/upload", mw.FormDataContentType(), &body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

		content, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(content).To(MatchJSON(`{"detail":"No file provided"}`))
	})

	Context("with a small size limit", func() {
		BeforeEach(func() {
			opts.MaxFileSize = 10
		})

		It("rejects large files", func() {
			resp := postFile("leads.csv", []byte(leadsCSV))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
		})
	})

	It("serves the data template", func() {
		resp, err := http.Get(server.URL + "/" + leadtemplate.FileName)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		f, err := excelize.OpenReader(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		rows, err := f.GetRows(leadtemplate.SheetName)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows[0]).To(Equal(leadtemplate.Columns))
	})

	It("exposes metrics", func() {
		fileID := uploadFile("leads.csv", []byte(leadsCSV))
		_, _ = stream(fileID)

		resp, err := http.Get(server.URL + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		content, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		Expect(string(content)).To(ContainSubstring("insightflow_uploads_total"))
		Expect(string(content)).To(ContainSubstring("insightflow_analyses_in_flight"))
		Expect(string(content)).To(ContainSubstring(`http_requests_total{code="200",method="POST",path="/upload",service="devserver"}`))
	})

	It("needs an upload directory", func() {
		_, err := devserver.New(devserver.Options{})
		Expect(err).To(MatchError(ContainSubstring("upload directory")))
	})
})
