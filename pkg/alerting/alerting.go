// Package alerting notifies operators when the service degrades: a circuit
// breaker tripping open, a model backend going degraded, or the whole
// strategy chain failing. Alerts are keyed by component so repeated
// triggers update the existing alert instead of flooding the channels.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/resilience"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator-facing notification
type Alert struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Severity    Severity          `json:"severity"`
	Component   string            `json:"component"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels,omitempty"`
	Resolved    bool              `json:"resolved"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// NotificationChannel delivers alerts to one destination
type NotificationChannel interface {
	Send(ctx context.Context, alert *Alert) error
	Name() string
}

// Config holds alerting configuration
type Config struct {
	Enabled bool `json:"enabled"`
}

// Service tracks active alerts and fans them out to channels
type Service struct {
	mu       sync.RWMutex
	channels []NotificationChannel
	active   map[string]*Alert
	logger   *logging.Logger
	config   *Config
}

// NewService creates an alerting service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = &Config{Enabled: true}
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Service{
		channels: make([]NotificationChannel, 0),
		active:   make(map[string]*Alert),
		logger:   logger,
		config:   config,
	}
}

// AddChannel adds a notification channel
func (s *Service) AddChannel(channel NotificationChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
}

// Trigger raises or refreshes the alert for a component
func (s *Service) Trigger(ctx context.Context, alert *Alert) {
	if !s.config.Enabled {
		return
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	s.mu.Lock()
	existing, firing := s.active[alert.Component]
	if firing {
		existing.Timestamp = alert.Timestamp
		existing.Description = alert.Description
		alert = existing
	} else {
		s.active[alert.Component] = alert
	}
	s.mu.Unlock()

	s.logger.Warn("alert triggered",
		"alert_id", alert.ID,
		"component", alert.Component,
		"severity", string(alert.Severity),
		"title", alert.Title)

	if !firing {
		s.notify(ctx, alert)
	}
}

// Resolve marks the component's alert resolved and notifies the channels
func (s *Service) Resolve(ctx context.Context, component string) {
	s.mu.Lock()
	alert, ok := s.active[component]
	if ok {
		now := time.Now()
		alert.Resolved = true
		alert.ResolvedAt = &now
		delete(s.active, component)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	s.logger.Info("alert resolved",
		"alert_id", alert.ID,
		"component", alert.Component)
	s.notify(ctx, alert)
}

// ActiveAlerts returns a snapshot of unresolved alerts
func (s *Service) ActiveAlerts() []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]*Alert, 0, len(s.active))
	for _, alert := range s.active {
		copied := *alert
		alerts = append(alerts, &copied)
	}
	return alerts
}

func (s *Service) notify(ctx context.Context, alert *Alert) {
	s.mu.RLock()
	channels := make([]NotificationChannel, len(s.channels))
	copy(channels, s.channels)
	s.mu.RUnlock()

	for _, channel := range channels {
		go func(ch NotificationChannel) {
			if err := ch.Send(ctx, alert); err != nil {
				s.logger.Error("failed to send alert notification",
					"channel", ch.Name(),
					"alert_id", alert.ID,
					"error", err.Error())
			}
		}(channel)
	}
}

// BreakerStateChange returns a callback for the breaker registry that raises
// an alert when a circuit opens and resolves it when the circuit closes.
func (s *Service) BreakerStateChange() func(name string, from, to resilience.CircuitState) {
	return func(name string, from, to resilience.CircuitState) {
		ctx := context.Background()
		switch to {
		case resilience.StateOpen:
			s.Trigger(ctx, &Alert{
				Title:       fmt.Sprintf("circuit breaker %s opened", name),
				Description: fmt.Sprintf("breaker %s transitioned %s -> %s, calls are being rejected", name, from, to),
				Severity:    SeverityCritical,
				Component:   "breaker:" + name,
				Labels:      map[string]string{"breaker": name},
			})
		case resilience.StateClosed:
			s.Resolve(ctx, "breaker:"+name)
		}
	}
}

// StrategyDegraded raises an alert for a backend reporting degraded output
func (s *Service) StrategyDegraded(ctx context.Context, strategyName, reason string) {
	s.Trigger(ctx, &Alert{
		Title:       fmt.Sprintf("strategy %s degraded", strategyName),
		Description: reason,
		Severity:    SeverityWarning,
		Component:   "strategy:" + strategyName,
		Labels:      map[string]string{"strategy": strategyName},
	})
}

// WebhookChannel posts alerts as JSON to an HTTP endpoint
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a webhook notification channel
func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name
func (wc *WebhookChannel) Name() string {
	return "webhook"
}

// Send posts the alert to the configured endpoint
func (wc *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel posts alerts to a Slack incoming webhook
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a Slack notification channel
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name
func (sc *SlackChannel) Name() string {
	return "slack"
}

// Send posts the alert as a Slack attachment
func (sc *SlackChannel) Send(ctx context.Context, alert *Alert) error {
	color := "warning"
	if alert.Severity == SeverityCritical {
		color = "danger"
	}
	status := "FIRING"
	if alert.Resolved {
		status = "RESOLVED"
		color = "good"
	}

	fields := []map[string]interface{}{
		{"title": "Severity", "value": string(alert.Severity), "short": true},
		{"title": "Component", "value": alert.Component, "short": true},
	}
	for key, value := range alert.Labels {
		fields = append(fields, map[string]interface{}{"title": key, "value": value, "short": true})
	}

	payload := map[string]interface{}{
		"channel":  sc.channel,
		"username": sc.username,
		"attachments": []map[string]interface{}{
			{
				"color":     color,
				"title":     fmt.Sprintf("[%s] %s", status, alert.Title),
				"text":      alert.Description,
				"timestamp": alert.Timestamp.Unix(),
				"fields":    fields,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
