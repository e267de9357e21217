package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/constants"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/metrics"
)

type AlertType string

const (
	AlertTypeGivenUp         AlertType = "GIVEN_UP"
	AlertTypeBootstrapFailed AlertType = "BOOTSTRAP_FAILED"
)

type Alert struct {
	Type    AlertType
	Chain   string
	Title   string
	Message string
	Fields  map[string]string
}

type Alerter interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// MultiAlerter fans alerts out to every channel and suppresses repeats of
// the same type and chain within the cooldown window.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	wg       sync.WaitGroup
}

func NewMultiAlerter(cooldown time.Duration, log logger.Logger, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   log.With("component", "alerter"),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// FromConfig wires the webhook and email channels that are configured.
func FromConfig(cfg config.AlertConfig, log logger.Logger) *MultiAlerter {
	var alerters []Alerter
	if cfg.WebhookURL != "" {
		alerters = append(alerters, NewWebhookAlerter(cfg.WebhookURL))
	}
	if cfg.Email.Enabled() {
		alerters = append(alerters, NewEmailAlerter(cfg.Email))
	}
	return NewMultiAlerter(cfg.Cooldown, log, alerters...)
}

func (m *MultiAlerter) Channels() int {
	return len(m.alerters)
}

func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s:%s", a.Type, a.Chain)
}

func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	key := cooldownKey(alert)

	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && m.now().Sub(last) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debugw("Alert suppressed by cooldown", "key", key)
		for _, a := range m.alerters {
			metrics.IncAlertSent(a.Name(), "suppressed")
		}
		return nil
	}
	m.lastSent[key] = m.now()
	m.mu.Unlock()

	var firstErr error
	for _, a := range m.alerters {
		if err := a.Send(ctx, alert); err != nil {
			m.logger.WarnwCtx(ctx, "Alert send failed",
				"channel", a.Name(),
				"type", alert.Type,
				"error", err,
			)
			metrics.IncAlertSent(a.Name(), "error")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.IncAlertSent(a.Name(), "sent")
	}
	return firstErr
}

// Notify sends in the background; failures are only logged.
func (m *MultiAlerter) Notify(alert Alert) {
	if len(m.alerters) == 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultHTTPTimeout)
		defer cancel()
		_ = m.Send(ctx, alert)
	}()
}

// Wait blocks until background notifications finish.
func (m *MultiAlerter) Wait() {
	m.wg.Wait()
}

type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: constants.DefaultHTTPTimeout},
	}
}

func (w *WebhookAlerter) Name() string {
	return "webhook"
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload := map[string]any{
		"type":    string(alert.Type),
		"chain":   alert.Chain,
		"title":   alert.Title,
		"message": alert.Message,
		"fields":  alert.Fields,
		"service": constants.ServiceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", constants.ContentTypeJSON)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailAlerter struct {
	cfg      config.EmailConfig
	sendMail sendMailFunc
}

func NewEmailAlerter(cfg config.EmailConfig) *EmailAlerter {
	return &EmailAlerter{cfg: cfg, sendMail: smtp.SendMail}
}

func (e *EmailAlerter) Name() string {
	return "email"
}

func (e *EmailAlerter) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.sendMail(addr, auth, e.cfg.From, e.cfg.To, e.message(alert)); err != nil {
		return fmt.Errorf("send email alert: %w", err)
	}
	return nil
}

func (e *EmailAlerter) message(alert Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s %s\r\n", constants.ServiceName, alert.Type, alert.Title)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "chain: %s\r\n\r\n%s\r\n", alert.Chain, alert.Message)

	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, alert.Fields[k])
	}
	return []byte(b.String())
}
