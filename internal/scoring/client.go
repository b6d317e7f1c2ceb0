package scoring

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/metrics"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

const systemPrompt = "You are an HR expert. Evaluate the resume against the job profile. " +
	"Respond with a single JSON object only, no prose and no markdown fences, with fields: " +
	"full_name (string, empty if not found), score (integer 0 to 100), " +
	"breakdown (object mapping criterion name to {score: integer 0 to 100, comment: string})."

type ClientConfig struct {
	Timeout      time.Duration
	QueueTimeout time.Duration
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Concurrency  int
}

// Client admits calls to the scoring provider through a counting semaphore,
// bounds each call with a timeout, and classifies failures. It performs one
// network call per Score invocation; the state machine drives the retry loop
// so each attempt is visible as a session transition.
type Client struct {
	provider Provider
	cfg      ClientConfig
	slots    chan struct{}
	logger   *logger_i.Logger
}

func NewClient(provider Provider, cfg ClientConfig) *Client {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Client{
		provider: provider,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.Concurrency),
		logger:   logger_i.NewLogger("ScoringClient"),
	}
}

func (c *Client) MaxAttempts() int { return c.cfg.MaxAttempts }

// Score performs one scoring call for the given resume text and job profile.
func (c *Client) Score(ctx context.Context, text string, jobProfile string) (commonModels.ScoreResult, error) {
	var result commonModels.ScoreResult

	if err := c.acquire(ctx); err != nil {
		return result, err
	}
	defer c.release()

	metrics.IncrementScoringInFlight()
	defer metrics.DecrementScoringInFlight()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	user := fmt.Sprintf("Job profile:\n%s\n\nResume:\n%s", jobProfile, text)

	start := time.Now()
	content, err := c.provider.Generate(callCtx, systemPrompt, user)
	metrics.CaptureDependencyLatency("scoring", time.Since(start))
	if err != nil {
		return result, fmt.Errorf("scoring call: %w", err)
	}

	result, err = parseScoreResult(content)
	if err != nil {
		c.logger.Error("unparseable scoring reply", "error", err)
		return result, err
	}
	result.Model = c.provider.Model()
	result.CreatedAt = time.Now()

	return result, nil
}

// acquire waits for a free slot in FIFO order, failing with ErrOverloaded
// once the queueing timeout elapses.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(c.cfg.QueueTimeout)
	defer timer.Stop()

	select {
	case c.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrOverloaded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.slots
}

// Retryable classifies a scoring failure. Timeouts, connection errors, 5xx
// and 429 may succeed on a later attempt; everything else escalates
// immediately without consuming retry budget.
func (c *Client) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOverloaded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrBadResponse) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 429 || statusErr.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// Backoff returns the delay before the given retry attempt (0-based):
// base * 2^attempt, capped, with up to 25% jitter.
func (c *Client) Backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay << uint(attempt)
	if delay > c.cfg.MaxDelay || delay <= 0 {
		delay = c.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
