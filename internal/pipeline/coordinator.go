package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/config"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/machine"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/metrics"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/transport"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

const (
	msgGreeting = "Hi! Send me the job profile as a text message, then upload the candidate's resume (PDF or DOCX, up to 5 MB) and I will score it."
	msgHelp     = "Commands:\n/status - show your current session\n/cancel - cancel the current session\n/retry - resend a result that failed to deliver\n\nSend the job profile as plain text, then upload a resume file."

	msgBusy         = "I'm still working on your previous document. Use /status to check on it or /cancel to abort."
	msgNeedProfile  = "Please send the job profile as a text message before uploading a resume."
	msgRateLimited  = "You're sending messages too quickly. Give me a second."
	msgProfileSaved = "Job profile saved (%d characters). Now upload the resume as a PDF or DOCX file."
	msgInternal     = "Something went wrong on my side. Please try again."

	msgNothingToCancel = "There is no active session to cancel."
	msgNothingToRetry  = "There is no failed delivery to retry."
)

// SessionDriver is the slice of the state machine the coordinator dispatches
// into.
type SessionDriver interface {
	StartSession(ctx context.Context, userId int64, jobProfile string) (sessionModel.Session, error)
	HandleUpload(ctx context.Context, userId int64, raw commonModels.RawDocument) error
	Cancel(ctx context.Context, userId int64) error
	RetryDelivery(ctx context.Context, userId int64) error
	Status(ctx context.Context, userId int64) (sessionModel.Session, bool, error)
	ExpireStale(ctx context.Context, cutoff time.Time) error
}

type Config struct {
	MaxProfileChars int
	SessionTimeout  time.Duration
}

// Coordinator fans chat events into the worker pool and serializes
// per-user session creation so one user can never race two sessions into
// existence.
type Coordinator struct {
	EventChannel      chan transport.Event
	DispatcherChannel chan bool

	driver  SessionDriver
	sender  transport.Sender
	limiter *UserRateLimiter
	cfg     Config
	logger  *logger_i.Logger

	requestCount int64

	lockMu    sync.Mutex
	userLocks map[int64]*sync.Mutex

	stopWorkerChannel  chan bool
	workerWaitGroup    *sync.WaitGroup
	currentWorkerCount int64
}

func NewCoordinator(driver SessionDriver, sender transport.Sender, cfg Config) *Coordinator {
	if cfg.MaxProfileChars <= 0 {
		cfg.MaxProfileChars = config.MaxProfileChars
	}
	return &Coordinator{
		EventChannel:      make(chan transport.Event, config.BufferLimit),
		DispatcherChannel: make(chan bool, config.BufferLimit),
		driver:            driver,
		sender:            sender,
		limiter:           NewUserRateLimiter(rate.Limit(config.RATE_LIMIT_PER_SECOND), config.BURST_RATE_LIMIT_PER_SECOND),
		cfg:               cfg,
		logger:            logger_i.NewLogger("Coordinator"),
		userLocks:         make(map[int64]*sync.Mutex),
	}
}

// Enqueue hands one event to the pool. The send blocks when the buffer is
// full to keep backpressure on the transport poller.
func (c *Coordinator) Enqueue(ev transport.Event) {
	metrics.IncrementEventsInQueue()
	c.EventChannel <- ev

	// a new worker every N requests, and always for a document since
	// extraction plus scoring can occupy a worker for a while
	accurateCount := atomic.AddInt64(&c.requestCount, 1)
	if accurateCount%config.RequestsPerNewWorkerCount == 0 || ev.Kind == transport.EventDocument {
		metrics.StartDispatcherSignalCount()
		c.DispatcherChannel <- true
	}
}

func (c *Coordinator) handle(ev transport.Event) {
	ctxTrace := context.WithValue(context.Background(), config.TRACE_ID_KEY, ev.TraceId)
	ctx, cancel := context.WithTimeout(ctxTrace, c.cfg.SessionTimeout)
	defer cancel()

	log := c.logger.With("traceId", ev.TraceId, "user Id", ev.UserId)

	if !c.limiter.Allow(ev.UserId) {
		log.Warn("rate limited")
		c.reply(ctx, ev.UserId, msgRateLimited)
		return
	}

	switch ev.Kind {
	case transport.EventDocument:
		c.handleDocument(ctx, ev)
	case transport.EventCommand:
		c.handleCommand(ctx, ev)
	case transport.EventText:
		c.handleProfileText(ctx, ev)
	default:
		log.Warn("dropping event of unknown kind", "kind", ev.Kind)
	}
}

func (c *Coordinator) handleDocument(ctx context.Context, ev transport.Event) {
	log := c.logger.With("traceId", ev.TraceId, "user Id", ev.UserId)
	log.Info("document received", "file", ev.Document.FileName, "size", ev.Document.Size)

	// No per-user lock here: the pipeline run can take the whole session
	// timeout, and a concurrent upload must be rejected as busy by the
	// machine, not queued behind the lock.
	err := c.driver.HandleUpload(ctx, ev.UserId, ev.Document)

	switch {
	case errors.Is(err, machine.ErrSessionBusy):
		c.reply(ctx, ev.UserId, msgBusy)
	case errors.Is(err, machine.ErrNoJobProfile):
		c.reply(ctx, ev.UserId, msgNeedProfile)
	case err != nil:
		log.Error("upload handling failed", "error", err)
		c.reply(ctx, ev.UserId, msgInternal)
	}
}

func (c *Coordinator) handleProfileText(ctx context.Context, ev transport.Event) {
	profile := strings.TrimSpace(ev.Text)
	if profile == "" {
		return
	}
	if len(profile) > c.cfg.MaxProfileChars {
		c.reply(ctx, ev.UserId, fmt.Sprintf("That job profile is too long (%d characters, limit %d).", len(profile), c.cfg.MaxProfileChars))
		return
	}

	unlock := c.lockUser(ev.UserId)
	_, err := c.driver.StartSession(ctx, ev.UserId, profile)
	unlock()

	switch {
	case errors.Is(err, machine.ErrSessionBusy):
		c.reply(ctx, ev.UserId, msgBusy)
	case err != nil:
		c.logger.Error("starting session failed", "traceId", ev.TraceId, "error", err)
		c.reply(ctx, ev.UserId, msgInternal)
	default:
		c.reply(ctx, ev.UserId, fmt.Sprintf(msgProfileSaved, len(profile)))
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, ev transport.Event) {
	command := strings.ToLower(strings.TrimPrefix(ev.Command, "/"))
	switch command {
	case "start":
		c.reply(ctx, ev.UserId, msgGreeting)
	case "help":
		c.reply(ctx, ev.UserId, msgHelp)
	case "status":
		c.replyStatus(ctx, ev.UserId)
	case "cancel":
		if err := c.driver.Cancel(ctx, ev.UserId); errors.Is(err, machine.ErrNoActiveSession) {
			c.reply(ctx, ev.UserId, msgNothingToCancel)
		} else if err != nil {
			c.logger.Error("cancel failed", "traceId", ev.TraceId, "error", err)
			c.reply(ctx, ev.UserId, msgInternal)
		}
	case "retry":
		err := c.driver.RetryDelivery(ctx, ev.UserId)
		switch {
		case errors.Is(err, machine.ErrNoActiveSession), errors.Is(err, machine.ErrNotAwaitingRetry):
			c.reply(ctx, ev.UserId, msgNothingToRetry)
		case err != nil:
			c.logger.Error("delivery retry failed", "traceId", ev.TraceId, "error", err)
			c.reply(ctx, ev.UserId, msgInternal)
		}
	default:
		c.reply(ctx, ev.UserId, msgHelp)
	}
}

func (c *Coordinator) replyStatus(ctx context.Context, userId int64) {
	session, found, err := c.driver.Status(ctx, userId)
	if err != nil {
		c.logger.Error("status lookup failed", "user Id", userId, "error", err)
		c.reply(ctx, userId, msgInternal)
		return
	}
	if !found {
		c.reply(ctx, userId, "No active session. Send a job profile to start one.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session state: %s", session.State)
	fmt.Fprintf(&b, "\nJob profile: %d characters", len(session.JobProfile))
	if session.ExtractAttempts > 0 {
		fmt.Fprintf(&b, "\nUpload attempts used: %d", session.ExtractAttempts)
	}
	if session.LastError.Kind != sessionModel.ErrNone {
		fmt.Fprintf(&b, "\nLast error: %s", session.LastError.Kind)
	}
	c.reply(ctx, userId, b.String())
}

// lockUser serializes operations that may create a session for one user.
func (c *Coordinator) lockUser(userId int64) func() {
	c.lockMu.Lock()
	lock, exists := c.userLocks[userId]
	if !exists {
		lock = &sync.Mutex{}
		c.userLocks[userId] = lock
	}
	c.lockMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (c *Coordinator) reply(ctx context.Context, userId int64, text string) {
	if err := c.sender.Send(ctx, userId, text); err != nil {
		c.logger.Error("sending reply failed", "user Id", userId, "error", err)
	}
}
