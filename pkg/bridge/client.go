package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"chatmon/pkg/logger"
)

// sendTimeout bounds one outbound delivery attempt.
const sendTimeout = 15 * time.Second

// ErrRateLimited reports a send dropped by the per-recipient limiter.
var ErrRateLimited = fmt.Errorf("send rate limited")

// Client delivers outbound messages through the bridge's send endpoint.
// Delivery is best effort: failures are returned to the caller and logged,
// never retried here.
type Client struct {
	url      string
	limiters *limiterPool
	http     *fasthttp.Client
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

func New(sendURL string, rc RateConfig) *Client {
	return &Client{
		url:      sendURL,
		limiters: &limiterPool{cfg: rc},
		http: &fasthttp.Client{
			ReadTimeout:  sendTimeout,
			WriteTimeout: sendTimeout,
		},
	}
}

// Send posts {recipient, message} to the bridge. A recipient over its rate
// budget gets ErrRateLimited without any network call.
func (c *Client) Send(ctx context.Context, recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.limiters.Allow(recipient) {
		logger.Warn("send_rate_limited", "recipient", recipient)
		return ErrRateLimited
	}

	body, err := json.Marshal(sendRequest{Recipient: recipient, Message: text})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := c.http.DoTimeout(req, resp, sendTimeout); err != nil {
		logger.Error("send_failed", "recipient", recipient, "error", err)
		return fmt.Errorf("bridge send: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		logger.Error("send_rejected", "recipient", recipient, "status", resp.StatusCode())
		return fmt.Errorf("bridge send: HTTP %d", resp.StatusCode())
	}
	logger.Debug("message_sent", "recipient", recipient, "bytes", len(text))
	return nil
}
