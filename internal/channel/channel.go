package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

const (
	closeGracePeriod = time.Second
)

type EventKind int

const (
	EventLog EventKind = iota
	EventResult
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventLog:
		return "log"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is delivered to the sink in arrival order. Every event is tagged with the job
// it belongs to.
type Event struct {
	JobID      string
	Kind       EventKind
	Text       string
	Completion *Completion
	Err        error
}

// Sink receives the events of one handle, from the handle's reader goroutine.
type Sink func(Event)

// ChannelError is reported when the channel cannot be opened or fails while reading.
type ChannelError struct {
	JobID string
	Err   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("status channel of job %s: %v", e.JobID, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// URLFunc returns the channel address of a job.
type URLFunc func(jobID string) (string, error)

// Channel opens push channels. A Channel holds no connection itself: each job gets
// its own Handle.
type Channel struct {
	urlFor URLFunc
	dialer *websocket.Dialer
}

func New(urlFor URLFunc, dialer *websocket.Dialer) *Channel {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 30 * time.Second,
		}
	}
	return &Channel{
		urlFor: urlFor,
		dialer: dialer,
	}
}

// Open dials the channel of jobID. Nothing is read until Listen is called.
func (c *Channel) Open(ctx context.Context, jobID string) (*Handle, error) {
	addr, err := c.urlFor(jobID)
	if err != nil {
		return nil, &ChannelError{JobID: jobID, Err: err}
	}

	conn, resp, err := c.dialer.DialContext(ctx, addr, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return nil, &ChannelError{JobID: jobID, Err: err}
	}

	zap.S().Named("channel").Debugw("channel opened", "job_id", jobID, "url", addr)

	return &Handle{
		jobID: jobID,
		conn:  conn,
		done:  make(chan struct{}),
	}, nil
}

// Handle owns the connection of one job. It is closed exactly once: by Close, or by
// the reader itself after the terminal result or a failure.
type Handle struct {
	jobID string
	conn  *websocket.Conn

	listenOnce sync.Once
	closeOnce  sync.Once
	closing    atomic.Bool
	done       chan struct{}
}

func (h *Handle) JobID() string {
	return h.jobID
}

// Done is closed when the reader goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Listen starts the reader goroutine. Calling it more than once has no effect.
func (h *Handle) Listen(sink Sink) {
	h.listenOnce.Do(func() {
		go h.listen(sink)
	})
}

// Close releases the connection. It is safe to call from any goroutine, any number of
// times. After Close no further event reaches the sink, except one already in flight.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		_ = h.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		err = h.conn.Close()
		zap.S().Named("channel").Debugw("channel closed", "job_id", h.jobID)
	})
	return err
}

func (h *Handle) listen(sink Sink) {
	defer utilruntime.HandleCrash()
	defer close(h.done)

	for {
		messageType, data, err := h.conn.ReadMessage()
		if err != nil {
			if h.closing.Load() {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				sink(Event{JobID: h.jobID, Kind: EventClosed, Err: closeErr})
			} else {
				sink(Event{JobID: h.jobID, Kind: EventError, Err: &ChannelError{JobID: h.jobID, Err: err}})
			}
			_ = h.Close()
			return
		}
		if messageType != websocket.TextMessage {
			zap.S().Named("channel").Debugw("ignoring non text frame", "job_id", h.jobID, "type", messageType)
			continue
		}

		msg := Classify(string(data))
		if msg.Kind == MessageTerminal {
			sink(Event{JobID: h.jobID, Kind: EventResult, Text: msg.Text, Completion: msg.Completion})
			_ = h.Close()
			return
		}
		sink(Event{JobID: h.jobID, Kind: EventLog, Text: msg.Text})
	}
}
