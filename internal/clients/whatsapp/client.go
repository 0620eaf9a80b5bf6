package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/zapdesk/zapdesk-backend/internal/platform/envutil"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

// Client talks to the WhatsApp gateway instance. Sends are never retried
// here: the dispatcher treats any failure as DeliveryFailed and the
// operator decides whether to resend.
type Client interface {
	SendText(ctx context.Context, number string, text string) (*SendResult, error)
	ConnectionState(ctx context.Context) (*ConnectionState, error)
	Logout(ctx context.Context) error
}

type Config struct {
	BaseURL  string
	APIKey   string
	Instance string
	Timeout  time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:  strings.TrimSpace(os.Getenv("WA_BASE_URL")),
		APIKey:   strings.TrimSpace(os.Getenv("WA_API_KEY")),
		Instance: strings.TrimSpace(os.Getenv("WA_INSTANCE")),
		Timeout:  envutil.Seconds("WA_TIMEOUT_SECONDS", 15*time.Second),
	}
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing WA_BASE_URL")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing WA_API_KEY")
	}
	if strings.TrimSpace(cfg.Instance) == "" {
		return nil, fmt.Errorf("missing WA_INSTANCE")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &client{
		log:        log.With("client", "WhatsAppClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

// SendResult carries the provider-assigned message id. The webhook echo
// of this send arrives with the same id in key.id, which is how the
// store recognizes it as already recorded.
type SendResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status,omitempty"`
}

type ConnectionState struct {
	State string `json:"state"` // open | connecting | close
	QR    string `json:"qr,omitempty"`
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "whatsapp: <nil error>"
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}
	return fmt.Sprintf("whatsapp http %d: %s", e.StatusCode, msg)
}

type sendTextRequest struct {
	Number      string `json:"number"`
	TextMessage struct {
		Text string `json:"text"`
	} `json:"textMessage"`
}

type sendTextResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	Status string `json:"status"`
}

func (c *client) SendText(ctx context.Context, number string, text string) (*SendResult, error) {
	number = strings.TrimSpace(number)
	text = strings.TrimSpace(text)
	if number == "" {
		return nil, fmt.Errorf("whatsapp: number required")
	}
	if text == "" {
		return nil, fmt.Errorf("whatsapp: text required")
	}

	var body sendTextRequest
	body.Number = number
	body.TextMessage.Text = text

	endpoint := fmt.Sprintf("%s/message/sendText/%s", c.cfg.BaseURL, c.cfg.Instance)
	var resp sendTextResponse
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	return &SendResult{MessageID: resp.Key.ID, Status: resp.Status}, nil
}

type connectionStateResponse struct {
	Instance struct {
		State string `json:"state"`
	} `json:"instance"`
	State string `json:"state"`
	QR    struct {
		Base64 string `json:"base64"`
	} `json:"qrcode"`
}

func (c *client) ConnectionState(ctx context.Context) (*ConnectionState, error) {
	endpoint := fmt.Sprintf("%s/instance/connectionState/%s", c.cfg.BaseURL, c.cfg.Instance)
	var resp connectionStateResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	state := resp.Instance.State
	if state == "" {
		state = resp.State
	}
	return &ConnectionState{State: state, QR: resp.QR.Base64}, nil
}

func (c *client) Logout(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/instance/logout/%s", c.cfg.BaseURL, c.cfg.Instance)
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *client) do(ctx context.Context, method, endpoint string, in any, out any) error {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("whatsapp: decode response: %w", err)
	}
	return nil
}
