package customHttpClient

import (
	"net/http"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/config"
)

var customTransport = &http.Transport{
	MaxIdleConns:        config.MaxIdleConns,
	MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
	IdleConnTimeout:     config.IdleConnTimeout,
}

var pooledClient = &http.Client{
	Transport: customTransport,
	Timeout:   config.FileDownloadTimeout,
}

// GetPooledClient returns the shared client used for chat platform API calls
// and document downloads, so repeated polls reuse connections.
func GetPooledClient() *http.Client {
	return pooledClient
}
