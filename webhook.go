package shepherd

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/FlockTeam/Shepherd-Daemon/structs"
	"github.com/valyala/fasthttp"
)

// Embed colours for webhooks.
const (
	EmbedColourShepherd = 10181046
	EmbedColourWarning  = 16760839
	EmbedColourDanger   = 14431557

	WebhookRateLimitDuration = 5 * time.Second
	WebhookRateLimitLimit    = 5

	WebhookTimeout = 5 * time.Second
)

// PublishSimpleWebhook is a helper function for creating quicker webhook messages.
func (sd *Shepherd) PublishSimpleWebhook(title string, description string, footer string, colour int32) {
	sd.PublishWebhook(structs.WebhookMessage{
		Embeds: []structs.Embed{
			{
				Title:       title,
				Description: description,
				Color:       colour,
				Timestamp:   time.Now().UTC().Format(time.RFC3339),
				Footer: &structs.EmbedFooter{
					Text: footer,
				},
			},
		},
	})
}

// PublishWebhook sends a webhook message to all webhooks in the configuration.
func (sd *Shepherd) PublishWebhook(message structs.WebhookMessage) {
	for _, webhook := range sd.Configuration.Webhooks {
		err := sd.SendWebhook(webhook, message)
		if err != nil {
			sd.Logger.Warn().Err(err).Str("url", webhook).Msg("Failed to send webhook")
		}
	}
}

func (sd *Shepherd) SendWebhook(webhookURL string, message structs.WebhookMessage) error {
	webhookURL = strings.TrimSpace(webhookURL)

	_, err := url.Parse(webhookURL)
	if err != nil {
		return fmt.Errorf("failed to parse webhook URL: %w", err)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	_ = sd.webhookBuckets.CreateWaitForBucket(webhookURL, WebhookRateLimitLimit, WebhookRateLimitDuration)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(webhookURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	err = fasthttp.DoTimeout(req, resp, WebhookTimeout)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}

	if resp.StatusCode() >= fasthttp.StatusBadRequest {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	return nil
}
