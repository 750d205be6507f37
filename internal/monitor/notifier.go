// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package monitor

import "context"

// Notifier is the external collaborator interface the Monitor invokes (§6).
// For every alert it creates, the Monitor calls CreateInApp and
// PostWebhook, and each call that returns nil adds its channel name
// ("in_app", "webhook") to the Alert's NotificationChannels field.
// SendEmail is called only for the alert digest.
type Notifier interface {
	CreateInApp(ctx context.Context, title, body string) error
	SendEmail(ctx context.Context, subject, body string) error
	PostWebhook(ctx context.Context, payload map[string]any) error
}

// WebhookNotifier posts every alert to a single configured webhook URL,
// the minimal deployment-friendly Notifier, leaving email/in-app as
// best-effort no-ops when unconfigured.
type WebhookNotifier struct {
	WebhookURL string
	poster     func(ctx context.Context, url string, payload map[string]any) error
}

// NewWebhookNotifier builds a WebhookNotifier posting to url via post.
// Passing a nil post uses httpPost (a real HTTP POST of the JSON body).
func NewWebhookNotifier(url string, post func(ctx context.Context, url string, payload map[string]any) error) *WebhookNotifier {
	if post == nil {
		post = httpPost
	}
	return &WebhookNotifier{WebhookURL: url, poster: post}
}

func (n *WebhookNotifier) CreateInApp(_ context.Context, _, _ string) error { return nil }
func (n *WebhookNotifier) SendEmail(_ context.Context, _, _ string) error   { return nil }

func (n *WebhookNotifier) PostWebhook(ctx context.Context, payload map[string]any) error {
	if n.WebhookURL == "" {
		return nil
	}
	return n.poster(ctx, n.WebhookURL, payload)
}
