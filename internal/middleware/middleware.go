package middleware

import (
	"net/http"
	"strconv"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/handlers"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/metrics"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

type requestResponseStruct struct {
	writer     http.ResponseWriter
	req        *http.Request
	badRequest failureStruct
	logger     *logger_i.Logger
}

type failureStruct struct {
	isBadRequest bool
	httpCode     int
	errorMessage string
}

var authToken string

// Init sets the bearer token the ops endpoints require. An empty token
// leaves them open, which is the expected mode behind a private network.
func Init(token string) {
	authToken = token
}

var GetSessionHandler = Wrap(handlers.GetSessionHandler)
var HealthHandler = Wrap(handlers.HealthHandler)

func Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &metrics.HttpStatusRecorder{ResponseWriter: w, Status: 200} //metrics
		re := processRequest(requestResponseStruct{req: r, writer: rec})

		if re.badRequest.isBadRequest {
			handleBadRequest(re)
			return
		}
		next(rec, re.req)

		metrics.HttpRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rec.Status)).Inc() //metrics
	}
}

func processRequest(re requestResponseStruct) requestResponseStruct {
	re.logger = logger_i.NewLogger("middleware")
	re.logger.Debug("New request received")

	re = injectTrace(re)
	re = rateLimiter(re)
	if re.badRequest.isBadRequest {
		return re //stop here if rate limit fails
	}
	re = authenticate(re)

	return re
}
