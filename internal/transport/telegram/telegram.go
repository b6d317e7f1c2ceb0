package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/customHttpClient"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/transport"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

// Queue is where normalized events go; the coordinator implements it.
type Queue interface {
	Enqueue(ev transport.Event)
}

// Poller long-polls the Telegram Bot API, normalizes updates into transport
// events and doubles as the outbound Sender.
type Poller struct {
	bot         *tgbotapi.BotAPI
	queue       Queue
	httpClient  *http.Client
	maxFileSize int64
	logger      *logger_i.Logger
}

func NewPoller(token string, queue Queue, maxFileSize int64) (*Poller, error) {
	client := customHttpClient.GetPooledClient()
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	logger := logger_i.NewLogger("TelegramPoller")
	logger.Info("Authorized on telegram", "account", bot.Self.UserName)

	return &Poller{
		bot:         bot,
		queue:       queue,
		httpClient:  client,
		maxFileSize: maxFileSize,
		logger:      logger,
	}, nil
}

// AttachQueue wires the event sink. The machine needs the poller as its
// Sender before the coordinator exists, so the queue is attached last,
// before Run.
func (p *Poller) AttachQueue(queue Queue) {
	p.queue = queue
}

// Run consumes updates until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := p.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping telegram poller")
			p.bot.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			p.handleMessage(ctx, update.Message)
		}
	}
}

func (p *Poller) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userId := msg.Chat.ID
	traceId := uuid.NewString()
	log := p.logger.With("traceId", traceId, "user Id", userId)

	switch {
	case msg.IsCommand():
		p.queue.Enqueue(transport.Event{
			Kind:    transport.EventCommand,
			UserId:  userId,
			TraceId: traceId,
			Command: "/" + msg.Command(),
			Args:    msg.CommandArguments(),
		})

	case msg.Document != nil:
		raw, err := p.fetchDocument(ctx, msg.Document)
		if err != nil {
			log.Error("document download failed", "error", err)
			p.Send(ctx, userId, "I could not download that file. Please try uploading it again.")
			return
		}
		p.queue.Enqueue(transport.Event{
			Kind:     transport.EventDocument,
			UserId:   userId,
			TraceId:  traceId,
			Document: raw,
		})

	case msg.Text != "":
		p.queue.Enqueue(transport.Event{
			Kind:    transport.EventText,
			UserId:  userId,
			TraceId: traceId,
			Text:    msg.Text,
		})
	}
}

// fetchDocument downloads the uploaded file. Files whose declared size
// already exceeds the limit are not downloaded at all; the state machine
// still sees the oversized RawDocument and rejects it with guidance.
func (p *Poller) fetchDocument(ctx context.Context, doc *tgbotapi.Document) (commonModels.RawDocument, error) {
	raw := commonModels.RawDocument{
		FileName: doc.FileName,
		Format:   declaredFormat(doc.FileName, doc.MimeType),
		Size:     int64(doc.FileSize),
	}
	if raw.Size > p.maxFileSize {
		return raw, nil
	}

	url, err := p.bot.GetFileDirectURL(doc.FileID)
	if err != nil {
		return raw, fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return raw, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return raw, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return raw, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	// the declared size is client-supplied, cap the read regardless
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxFileSize+1))
	if err != nil {
		return raw, fmt.Errorf("read file body: %w", err)
	}
	raw.Bytes = data
	raw.Size = int64(len(data))
	return raw, nil
}

func declaredFormat(fileName string, mimeType string) commonModels.DocFormat {
	switch {
	case mimeType == "application/pdf":
		return commonModels.PDF
	case strings.Contains(mimeType, "officedocument.wordprocessingml"):
		return commonModels.DOCX
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return commonModels.PDF
	case ".docx", ".doc":
		return commonModels.DOCX
	default:
		return commonModels.ERR
	}
}

// Send implements the outbound side of the transport.
func (p *Poller) Send(ctx context.Context, userId int64, text string) error {
	reply := tgbotapi.NewMessage(userId, text)
	if _, err := p.bot.Send(reply); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
