package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/insightflow/insightflow/internal/channel"
	"github.com/insightflow/insightflow/internal/progress"
	"github.com/insightflow/insightflow/internal/selector"
	"github.com/insightflow/insightflow/internal/upload"
	"go.uber.org/zap"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

// Uploader sends the selected file and returns the job identifier.
type Uploader interface {
	Upload(ctx context.Context, file selector.SelectedFile) (upload.JobID, error)
}

// Conn is an open status channel of one job.
type Conn interface {
	Listen(sink channel.Sink)
	Close() error
}

// Opener opens the status channel of a job.
type Opener interface {
	Open(ctx context.Context, jobID string) (Conn, error)
}

type channelOpener struct {
	c *channel.Channel
}

func (o channelOpener) Open(ctx context.Context, jobID string) (Conn, error) {
	h, err := o.c.Open(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// NewChannelOpener adapts a websocket status channel.
func NewChannelOpener(c *channel.Channel) Opener {
	return channelOpener{c: c}
}

type Option func(*Orchestrator)

// WithClock overrides the time source of log entries.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithEstimator overrides the progress estimator.
func WithEstimator(e *progress.Estimator) Option {
	return func(o *Orchestrator) {
		o.estimator = e
	}
}

// Orchestrator drives one file through upload and analysis. Every transition runs
// under mu, so handlers never interleave. Events of superseded jobs are recognised by
// their ticket and dropped.
type Orchestrator struct {
	uploader  Uploader
	opener    Opener
	estimator *progress.Estimator
	now       func() time.Time
	log       *zap.SugaredLogger

	mu         sync.Mutex
	phase      phase
	file       *selector.SelectedFile
	entries    []LogEntry
	percent    int
	generation uint64
	closed     bool
	listeners  []func(View)
	changed    chan struct{}
}

func New(uploader Uploader, opener Opener, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		uploader:  uploader,
		opener:    opener,
		estimator: progress.NewEstimator(),
		now:       time.Now,
		log:       zap.S().Named("analysis"),
		phase:     idle{},
		changed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Watch registers fn to be called with a snapshot after every applied transition, in
// order. fn runs while the orchestrator is locked and must not call back into it.
func (o *Orchestrator) Watch(fn func(View)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

// WaitTerminal blocks until the job succeeded or failed, or ctx is done.
func (o *Orchestrator) WaitTerminal(ctx context.Context) (View, error) {
	for {
		o.mu.Lock()
		v := o.snapshot()
		changed := o.changed
		closed := o.closed
		o.mu.Unlock()

		if v.Status.Terminal() {
			return v, nil
		}
		if closed {
			return v, ErrClosed
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-changed:
		}
	}
}

// Select validates the candidate and makes it the current file. Any job of the
// previous file is abandoned. An invalid candidate leaves the state untouched.
func (o *Orchestrator) Select(c selector.Candidate) error {
	file, err := selector.Select(c)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	o.abandon()
	o.file = &file
	o.clearJob()
	o.notify()
	return nil
}

// Start uploads the current file. The upload and the analysis continue in the
// background until ctx is cancelled or the job is superseded.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.file == nil {
		return ErrNoFile
	}
	if st := o.phase.status(); st != StatusIdle {
		return fmt.Errorf("%w: status is %s", ErrBusy, st)
	}

	o.generation++
	t := ticket{generation: o.generation}
	jobCtx, cancel := context.WithCancel(ctx)
	o.phase = &uploading{ticket: t, cancel: cancel}
	o.appendLog(LineInitializing)
	o.percent = progress.Initial
	o.notify()

	go o.run(jobCtx, t, *o.file)
	return nil
}

// TryAgain returns a failed job to idle. The selected file is kept.
func (o *Orchestrator) TryAgain() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if _, ok := o.phase.(*failed); !ok {
		return fmt.Errorf("%w: try again from %s", ErrInvalidTransition, o.phase.status())
	}

	o.abandon()
	o.clearJob()
	o.notify()
	return nil
}

// AnalyzeAnother returns a succeeded job to idle and discards the file.
func (o *Orchestrator) AnalyzeAnother() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if _, ok := o.phase.(*succeeded); !ok {
		return fmt.Errorf("%w: analyze another from %s", ErrInvalidTransition, o.phase.status())
	}

	o.abandon()
	o.file = nil
	o.clearJob()
	o.notify()
	return nil
}

// Reset cancels whatever is running and forgets the file.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	o.abandon()
	o.file = nil
	o.clearJob()
	o.notify()
}

// Close tears the orchestrator down. The open channel, if any, is closed and every
// later event is ignored. A finished job keeps its snapshot; a job in flight is
// abandoned and cleared.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	if o.phase.status().Busy() {
		o.abandon()
		o.clearJob()
	}
	o.closed = true
	o.notify()
}

func (o *Orchestrator) run(ctx context.Context, t ticket, file selector.SelectedFile) {
	defer utilruntime.HandleCrash()

	jobID, err := o.uploader.Upload(ctx, file)
	if !o.uploaded(t, jobID, err) {
		return
	}
	t.jobID = string(jobID)

	conn, err := o.opener.Open(ctx, t.jobID)
	o.opened(t, conn, err)
}

// uploaded applies the upload outcome and reports whether the channel must be opened.
func (o *Orchestrator) uploaded(t ticket, jobID upload.JobID, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.phase.(*uploading)
	if !ok || !o.current(t) {
		o.log.Debugw("discarding stale upload result", "generation", t.generation, "job_id", jobID)
		return false
	}

	if err != nil {
		p.cancel()
		o.log.Errorw("upload failed", "file", o.file.Name, "error", err)
		o.phase = &failed{cause: err}
		o.appendLog("Error: " + err.Error())
		o.notify()
		return false
	}

	o.log.Infow("file uploaded", "file", o.file.Name, "job_id", jobID)
	t.jobID = string(jobID)
	o.phase = &analyzing{ticket: t, cancel: p.cancel}
	o.appendLog(LineUploaded)
	o.percent = progress.Uploaded
	o.notify()
	return true
}

func (o *Orchestrator) opened(t ticket, conn Conn, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.phase.(*analyzing)
	if !ok || !o.current(t) || p.ticket.jobID != t.jobID {
		if conn != nil {
			_ = conn.Close()
		}
		o.log.Debugw("discarding stale channel", "generation", t.generation, "job_id", t.jobID)
		return
	}

	if err != nil {
		p.cancel()
		o.log.Errorw("cannot open status channel", "job_id", t.jobID, "error", err)
		o.phase = &failed{jobID: t.jobID, cause: err}
		o.appendLog(LineConnectionError)
		o.notify()
		return
	}

	p.conn = conn
	o.appendLog(LineConnected)
	o.notify()

	conn.Listen(func(ev channel.Event) {
		o.handle(t, ev)
	})
}

func (o *Orchestrator) handle(t ticket, ev channel.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.phase.(*analyzing)
	if !ok || !o.current(t) || ev.JobID != t.jobID {
		// includes the close that follows a terminal result
		o.log.Debugw("discarding channel event", "kind", ev.Kind, "job_id", ev.JobID)
		return
	}

	switch ev.Kind {
	case channel.EventLog:
		o.appendLog(ev.Text)
		if percent, ok := o.estimator.Estimate(ev.Text); ok {
			o.percent = percent
		}
	case channel.EventResult:
		o.release(p)
		result := Result{JobID: t.jobID, Raw: ev.Text}
		if ev.Completion != nil {
			result.Completion = *ev.Completion
			result.ResultLink = ev.Completion.DriveLink
		}
		o.log.Infow("analysis completed", "job_id", t.jobID, "link", result.ResultLink)
		o.phase = &succeeded{result: result}
		o.percent = progress.Complete
		o.appendLog(LineCompleted)
	case channel.EventError:
		o.release(p)
		o.log.Errorw("status channel failed", "job_id", t.jobID, "error", ev.Err)
		o.phase = &failed{jobID: t.jobID, cause: ev.Err}
		o.appendLog(LineConnectionError)
	case channel.EventClosed:
		o.release(p)
		o.log.Warnw("status channel closed before completion", "job_id", t.jobID)
		o.phase = &failed{jobID: t.jobID, cause: ErrUnexpectedClosure}
		o.appendLog(LineClosed)
	default:
		return
	}
	o.notify()
}

func (o *Orchestrator) current(t ticket) bool {
	return !o.closed && t.generation == o.generation
}

func (o *Orchestrator) release(p *analyzing) {
	p.cancel()
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// abandon supersedes the current job: its ticket stops matching and its resources are
// released. The phase itself is reset to idle.
func (o *Orchestrator) abandon() {
	o.generation++
	switch p := o.phase.(type) {
	case *uploading:
		p.cancel()
	case *analyzing:
		o.release(p)
	}
	o.phase = idle{}
}

func (o *Orchestrator) clearJob() {
	o.entries = nil
	o.percent = 0
}

func (o *Orchestrator) appendLog(text string) {
	o.entries = append(o.entries, LogEntry{Timestamp: o.now(), Text: text})
}

func (o *Orchestrator) snapshot() View {
	v := View{
		Status:  o.phase.status(),
		Percent: o.percent,
		Log:     append([]LogEntry(nil), o.entries...),
	}
	if o.file != nil {
		f := *o.file
		v.File = &f
	}
	switch p := o.phase.(type) {
	case *analyzing:
		v.JobID = p.ticket.jobID
	case *succeeded:
		r := p.result
		v.Result = &r
		v.JobID = r.JobID
	case *failed:
		v.JobID = p.jobID
		v.Err = p.cause
	}
	return v
}

func (o *Orchestrator) notify() {
	close(o.changed)
	o.changed = make(chan struct{})
	if len(o.listeners) == 0 {
		return
	}
	v := o.snapshot()
	for _, fn := range o.listeners {
		fn(v)
	}
}
