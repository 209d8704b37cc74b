package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"scheduler-post-bot/internal/channels"
	"scheduler-post-bot/internal/metrics"
	"scheduler-post-bot/internal/post"
	"scheduler-post-bot/internal/ratelimit"
	"scheduler-post-bot/internal/storage"
)

const (
	// MaxCaptionLength is Telegram's limit for photo captions.
	MaxCaptionLength = 1024
	// MaxMessageLength is Telegram's limit for text messages.
	MaxMessageLength = 4096
)

type Transport interface {
	channels.AdminChecker
	SendText(ctx context.Context, dest post.Destination, text string) error
	SendPhoto(ctx context.Context, dest post.Destination, image []byte, caption string) error
}

type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

type Journal interface {
	RecordDelivery(ctx context.Context, d storage.Delivery) error
}

type Messages interface {
	GetMessage(lang, key string) string
}

// Dispatcher turns a finalized post request into exactly one message at the
// destination and exactly one status message in the origin chat.
type Dispatcher struct {
	transport Transport
	bindings  *channels.Registry
	text      TextGenerator
	images    ImageGenerator
	limiter   *ratelimit.Limiter
	journal   Journal
	metrics   *metrics.Metrics
	messages  Messages
	lang      string
	clock     clockwork.Clock
	log       logrus.FieldLogger
}

type Config struct {
	Transport Transport
	Bindings  *channels.Registry
	Text      TextGenerator
	// Images may be nil when no image provider is configured.
	Images   ImageGenerator
	Limiter  *ratelimit.Limiter
	Journal  Journal
	Metrics  *metrics.Metrics
	Messages Messages
	Language string
	Clock    clockwork.Clock
}

func New(cfg Config, log logrus.FieldLogger) *Dispatcher {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		transport: cfg.Transport,
		bindings:  cfg.Bindings,
		text:      cfg.Text,
		images:    cfg.Images,
		limiter:   cfg.Limiter,
		journal:   cfg.Journal,
		metrics:   cfg.Metrics,
		messages:  cfg.Messages,
		lang:      cfg.Language,
		clock:     clock,
		log:       log.WithField("component", "dispatcher"),
	}
}

// Deliver resolves the destination, produces the content if needed and sends
// it. It never returns an error to the caller: failures are reported to the
// origin chat and carried in the Outcome.
func (d *Dispatcher) Deliver(ctx context.Context, req post.Request) post.Outcome {
	log := d.log.WithFields(logrus.Fields{
		"owner_id": req.OwnerID,
		"chat_id":  req.OriginChatID,
		"type":     req.ContentType,
	})

	outcome := d.deliver(ctx, req)
	if outcome.Delivered() {
		log.WithField("destination", outcome.Destination).Info("Post delivered")
	} else {
		log.Warnf("Post was not delivered: %v", outcome.Err)
		if req.QuotaDay != "" && d.limiter != nil {
			d.limiter.Release(req.QuotaDay)
		}
	}

	d.report(ctx, req, outcome)
	d.record(ctx, req, outcome)
	d.metrics.ObserveDelivery(string(req.ContentType), outcomeLabel(outcome.Err))
	return outcome
}

func (d *Dispatcher) deliver(ctx context.Context, req post.Request) post.Outcome {
	if err := req.Validate(); err != nil {
		return post.Outcome{Destination: post.ChatDestination(req.OriginChatID), Err: err}
	}

	dest, toChannel, err := d.ResolveDestination(ctx, req.OwnerID, req.OriginChatID)
	outcome := post.Outcome{Destination: dest, ToChannel: toChannel}
	if err != nil {
		outcome.Err = err
		return outcome
	}

	switch req.ContentType {
	case post.AIText:
		text := req.Text
		if req.NeedsGeneration() {
			if text, err = d.generateText(ctx, req.Prompt); err != nil {
				outcome.Err = err
				return outcome
			}
		}
		outcome.Err = d.sendText(ctx, dest, text)
	case post.AIImage:
		image := req.Image
		if req.NeedsGeneration() {
			if image, err = d.generateImage(ctx, req.Prompt); err != nil {
				outcome.Err = err
				return outcome
			}
		}
		outcome.Err = d.sendPhoto(ctx, dest, image, req.Prompt)
	case post.Custom:
		outcome.Err = d.sendText(ctx, dest, req.Content)
	case post.Combined:
		outcome.Err = d.sendPhoto(ctx, dest, req.Image, req.Text)
	}
	return outcome
}

// ResolveDestination returns the owner's bound channel after re-checking the
// bot's admin rights, or the origin chat when no channel is bound.
func (d *Dispatcher) ResolveDestination(ctx context.Context, ownerID, originChatID int64) (post.Destination, bool, error) {
	binding, ok := d.bindings.Get(ownerID)
	if !ok {
		return post.ChatDestination(originChatID), false, nil
	}
	if err := channels.VerifyAdmin(ctx, d.transport, binding.Destination); err != nil {
		return binding.Destination, true, err
	}
	return binding.Destination, true, nil
}

func (d *Dispatcher) generateText(ctx context.Context, prompt string) (string, error) {
	if d.text == nil {
		return "", fmt.Errorf("%w: text generation is not configured", post.ErrProvider)
	}
	text, err := d.text.Generate(ctx, prompt)
	if err != nil {
		d.metrics.ProviderFailed("text")
		return "", fmt.Errorf("%w: %v", post.ErrProvider, err)
	}
	return text, nil
}

func (d *Dispatcher) generateImage(ctx context.Context, prompt string) ([]byte, error) {
	if d.images == nil {
		return nil, fmt.Errorf("%w: image generation is not configured", post.ErrProvider)
	}
	image, err := d.images.Generate(ctx, prompt)
	if err != nil {
		d.metrics.ProviderFailed("image")
		return nil, fmt.Errorf("%w: %v", post.ErrProvider, err)
	}
	return image, nil
}

func (d *Dispatcher) sendText(ctx context.Context, dest post.Destination, text string) error {
	text = post.Truncate(text, MaxMessageLength)
	if err := d.transport.SendText(ctx, dest, text); err != nil {
		return fmt.Errorf("%w: %v", post.ErrDelivery, err)
	}
	return nil
}

func (d *Dispatcher) sendPhoto(ctx context.Context, dest post.Destination, image []byte, caption string) error {
	caption = post.Truncate(caption, MaxCaptionLength)
	if err := d.transport.SendPhoto(ctx, dest, image, caption); err != nil {
		return fmt.Errorf("%w: %v", post.ErrDelivery, err)
	}
	return nil
}

func (d *Dispatcher) report(ctx context.Context, req post.Request, outcome post.Outcome) {
	var text string
	switch {
	case outcome.Delivered() && outcome.ToChannel:
		text = fmt.Sprintf(d.msg("post_sent_channel"), outcome.Destination)
	case outcome.Delivered():
		text = d.msg("post_sent_chat")
	case errors.Is(outcome.Err, post.ErrAuthorization):
		text = fmt.Sprintf(d.msg("post_failed_not_admin"), outcome.Destination)
	case errors.Is(outcome.Err, post.ErrProvider):
		text = fmt.Sprintf(d.msg("post_failed_provider"), outcome.Err)
	default:
		text = fmt.Sprintf(d.msg("post_failed"), outcome.Err)
	}
	if err := d.transport.SendText(ctx, post.ChatDestination(req.OriginChatID), text); err != nil {
		d.log.WithField("chat_id", req.OriginChatID).Errorf("Failed to send delivery status: %v", err)
	}
}

func (d *Dispatcher) record(ctx context.Context, req post.Request, outcome post.Outcome) {
	if d.journal == nil {
		return
	}
	entry := storage.Delivery{
		OwnerID:      req.OwnerID,
		OriginChatID: req.OriginChatID,
		Destination:  outcome.Destination.String(),
		ContentType:  string(req.ContentType),
		Summary:      req.Summary(60),
		Status:       outcomeLabel(outcome.Err),
		DeliveredAt:  d.clock.Now(),
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
	}
	if err := d.journal.RecordDelivery(ctx, entry); err != nil {
		d.log.Errorf("Could not record delivery in journal: %v", err)
	}
}

func (d *Dispatcher) msg(key string) string {
	return d.messages.GetMessage(d.lang, key)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "delivered"
	case errors.Is(err, post.ErrValidation):
		return "validation_error"
	case errors.Is(err, post.ErrAuthorization):
		return "authorization_error"
	case errors.Is(err, post.ErrProvider):
		return "provider_error"
	default:
		return "delivery_error"
	}
}
