package channel_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/insightflow/insightflow/internal/channel"
	"github.com/insightflow/insightflow/internal/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recorder struct {
	mu     sync.Mutex
	events []channel.Event
}

func (r *recorder) sink(ev channel.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []channel.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]channel.Event(nil), r.events...)
}

func (r *recorder) Kinds() []channel.EventKind {
	var kinds []channel.EventKind
	for _, ev := range r.Events() {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

var _ = Describe("status channel", func() {
	var (
		server   *httptest.Server
		script   func(conn *websocket.Conn)
		upgrader websocket.Upgrader
		rec      *recorder
		ch       *channel.Channel
		ctx      context.Context
		path     chan string
	)

	BeforeEach(func() {
		ctx = context.Background()
		rec = &recorder{}
		path = make(chan string, 1)
		script = func(conn *websocket.Conn) {}

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			select {
			case path <- r.URL.Path:
			default:
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			script(conn)
		}))

		service := client.Service{Server: server.URL}
		ch = channel.New(service.ChannelURL, nil)
	})

	AfterEach(func() {
		server.Close()
	})

	send := func(conn *websocket.Conn, lines ...string) {
		for _, line := range lines {
			// the client may already be gone
			_ = conn.WriteMessage(websocket.TextMessage, []byte(line))
		}
	}

	It("dials the job endpoint and delivers logs in order then the result", func() {
		script = func(conn *websocket.Conn) {
			send(conn,
				"Starting analysis process...",
				"Loaded 2 records.",
				`{"type":"COMPLETED","drive_link":"https://drive.example/f/1","filename":"out.xlsx"}`,
				"never delivered",
			)
			// wait for the client to go away
			_, _, _ = conn.ReadMessage()
		}

		handle, err := ch.Open(ctx, "job-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(handle.JobID()).To(Equal("job-1"))
		Expect(<-path).To(Equal("/ws/analyze/job-1"))

		handle.Listen(rec.sink)
		Eventually(handle.Done()).Should(BeClosed())

		events := rec.Events()
		Expect(rec.Kinds()).To(Equal([]channel.EventKind{channel.EventLog, channel.EventLog, channel.EventResult}))
		Expect(events[0].Text).To(Equal("Starting analysis process..."))
		Expect(events[1].Text).To(Equal("Loaded 2 records."))
		Expect(events[2].Completion).NotTo(BeNil())
		Expect(events[2].Completion.DriveLink).To(Equal("https://drive.example/f/1"))
		for _, ev := range events {
			Expect(ev.JobID).To(Equal("job-1"))
		}

		// closing again is harmless
		Expect(handle.Close()).To(Succeed())
	})

	It("reports a closure without result", func() {
		script = func(conn *websocket.Conn) {
			send(conn, "Error: File not found or expired.")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		}

		handle, err := ch.Open(ctx, "gone")
		Expect(err).NotTo(HaveOccurred())
		handle.Listen(rec.sink)
		Eventually(handle.Done()).Should(BeClosed())

		Expect(rec.Kinds()).To(Equal([]channel.EventKind{channel.EventLog, channel.EventClosed}))
		Expect(rec.Events()[0].Text).To(Equal("Error: File not found or expired."))
	})

	It("reports a dropped connection as a closure", func() {
		script = func(conn *websocket.Conn) {
			send(conn, "Loaded 1 records.")
			_ = conn.UnderlyingConn().Close()
		}

		handle, err := ch.Open(ctx, "job-2")
		Expect(err).NotTo(HaveOccurred())
		handle.Listen(rec.sink)
		Eventually(handle.Done()).Should(BeClosed())

		Expect(rec.Kinds()).To(Equal([]channel.EventKind{channel.EventLog, channel.EventClosed}))
	})

	It("reports a protocol failure as an error", func() {
		script = func(conn *websocket.Conn) {
			// final frame with a reserved opcode
			_, _ = conn.UnderlyingConn().Write([]byte{0x83, 0x00})
			_, _, _ = conn.ReadMessage()
		}

		handle, err := ch.Open(ctx, "job-3")
		Expect(err).NotTo(HaveOccurred())
		handle.Listen(rec.sink)
		Eventually(handle.Done()).Should(BeClosed())

		events := rec.Events()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(channel.EventError))
		var channelErr *channel.ChannelError
		Expect(errors.As(events[0].Err, &channelErr)).To(BeTrue())
		Expect(channelErr.JobID).To(Equal("job-3"))
	})

	It("ignores binary frames", func() {
		script = func(conn *websocket.Conn) {
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
			send(conn, "Processing lead 1/1", `{"type":"COMPLETED"}`)
			_, _, _ = conn.ReadMessage()
		}

		handle, err := ch.Open(ctx, "job-4")
		Expect(err).NotTo(HaveOccurred())
		handle.Listen(rec.sink)
		Eventually(handle.Done()).Should(BeClosed())

		Expect(rec.Kinds()).To(Equal([]channel.EventKind{channel.EventLog, channel.EventResult}))
	})

	It("stays silent after a local close", func() {
		release := make(chan struct{})
		script = func(conn *websocket.Conn) {
			send(conn, "Initializing automation graph...")
			<-release
			_ = conn.WriteMessage(websocket.TextMessage, []byte("Processing lead 1/5"))
		}
		defer close(release)

		handle, err := ch.Open(ctx, "job-5")
		Expect(err).NotTo(HaveOccurred())
		handle.Listen(rec.sink)
		Eventually(rec.Kinds).Should(HaveLen(1))

		Expect(handle.Close()).To(Succeed())
		Eventually(handle.Done()).Should(BeClosed())
		Consistently(rec.Kinds, 200*time.Millisecond).Should(HaveLen(1))
	})

	It("listens only once", func() {
		script = func(conn *websocket.Conn) {
			send(conn, "Loaded 1 records.", `{"type":"COMPLETED"}`)
			_, _, _ = conn.ReadMessage()
		}

		handle, err := ch.Open(ctx, "job-6")
		Expect(err).NotTo(HaveOccurred())
		other := &recorder{}
		handle.Listen(rec.sink)
		handle.Listen(other.sink)
		Eventually(handle.Done()).Should(BeClosed())

		Expect(rec.Kinds()).To(HaveLen(2))
		Expect(other.Events()).To(BeEmpty())
	})

	It("fails to open when the server refuses the upgrade", func() {
		refusing := httptest.NewServer(http.NotFoundHandler())
		defer refusing.Close()

		service := client.Service{Server: refusing.URL}
		_, err := channel.New(service.ChannelURL, nil).Open(ctx, "job-7")
		Expect(err).To(HaveOccurred())

		var channelErr *channel.ChannelError
		Expect(errors.As(err, &channelErr)).To(BeTrue())
		Expect(channelErr.JobID).To(Equal("job-7"))
		Expect(err.Error()).To(ContainSubstring("404"))
	})

	It("fails to open when the address cannot be built", func() {
		broken := channel.New(func(string) (string, error) {
			return "", errors.New("no server")
		}, nil)

		_, err := broken.Open(ctx, "job-8")
		var channelErr *channel.ChannelError
		Expect(errors.As(err, &channelErr)).To(BeTrue())
		Expect(channelErr.Err).To(MatchError("no server"))
	})
})
