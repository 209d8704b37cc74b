package dialogue

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"scheduler-post-bot/internal/dispatch"
	"scheduler-post-bot/internal/post"
)

// handleStatefulMessage feeds the message to the chat's armed stage. Each
// stage either advances the state, keeps it for a retry, or tears it down.
func (e *Engine) handleStatefulMessage(ctx context.Context, in Inbound, state State) {
	text := strings.TrimSpace(in.Text)

	switch state.Stage {
	case AwaitingChannel:
		e.configureChannel(ctx, in.ChatID, state, text, true)
	case AwaitingContentKind:
		e.handleContentKind(ctx, in.ChatID, state, text)
	case AwaitingTopicOrContent:
		e.handleTopicOrContent(ctx, in.ChatID, state, text)
	case AwaitingImageChoice:
		e.handleImageChoice(ctx, in.ChatID, state, text)
	case AwaitingImageDescription:
		if text == "" {
			e.reply(ctx, in.ChatID, e.msg("empty_image_description"))
			return
		}
		e.attachImage(ctx, in.ChatID, state, text)
	case AwaitingPublishChoice:
		e.handlePublishChoice(ctx, in.ChatID, state, text)
	case AwaitingScheduleDelay:
		e.handleScheduleDelay(ctx, in.ChatID, state, text)
	case AwaitingCancelSelection:
		e.cancelSelection(ctx, in.ChatID, state, text, true)
	case AwaitingPostConfirmation:
		e.handlePostConfirmation(ctx, in.ChatID, state, text)
	default:
		e.clearUserState(in.ChatID)
	}
}

func (e *Engine) handleContentKind(ctx context.Context, chatID int64, state State, choice string) {
	var prompt string
	switch choice {
	case "1":
		state.Draft.ContentType = post.AIText
		prompt = "ask_text_prompt"
	case "2":
		if e.images == nil {
			e.clearUserState(chatID)
			e.reply(ctx, chatID, e.msg("image_provider_missing"))
			return
		}
		state.Draft.ContentType = post.AIImage
		prompt = "ask_image_prompt"
	case "3":
		state.Draft.ContentType = post.Custom
		prompt = "ask_custom_content"
	default:
		e.clearUserState(chatID)
		e.reply(ctx, chatID, e.msg("invalid_content_kind"))
		return
	}
	state.Stage = AwaitingTopicOrContent
	e.setUserState(chatID, state)
	e.reply(ctx, chatID, e.msg(prompt))
}

func (e *Engine) handleTopicOrContent(ctx context.Context, chatID int64, state State, text string) {
	if text == "" {
		e.reply(ctx, chatID, e.msg("empty_topic"))
		return
	}

	if state.flow == flowQuick {
		e.previewQuickPost(ctx, chatID, state, text)
		return
	}

	if state.flow == flowSchedule {
		if state.Draft.ContentType == post.Custom {
			state.Draft.Content = text
		} else {
			state.Draft.Topic = text
		}
		e.askScheduleDelay(ctx, chatID, state)
		return
	}

	state.Draft.Topic = text
	e.reply(ctx, chatID, e.msg("generating_text"))
	generated, err := e.text.Generate(ctx, text)
	if err != nil {
		e.log.WithField("chat_id", chatID).Warnf("Text generation failed: %v", err)
		e.metrics.ProviderFailed("text")
		e.clearUserState(chatID)
		e.releaseQuota(state)
		e.reply(ctx, chatID, e.msgf("text_generation_failed", err))
		return
	}
	state.Draft.Text = generated
	e.reply(ctx, chatID, generated)

	if e.images == nil {
		e.reply(ctx, chatID, e.msg("images_disabled_text_only"))
		e.askPublishChoice(ctx, chatID, state)
		return
	}
	state.Stage = AwaitingImageChoice
	e.setUserState(chatID, state)
	e.reply(ctx, chatID, e.msg("ask_image_choice"))
}

// handleImageChoice never re-prompts: anything but 1, 2 or 3 continues as a
// text-only post after a warning.
func (e *Engine) handleImageChoice(ctx context.Context, chatID int64, state State, choice string) {
	switch choice {
	case "1":
		e.attachImage(ctx, chatID, state, state.Draft.Topic)
	case "2":
		state.Stage = AwaitingImageDescription
		e.setUserState(chatID, state)
		e.reply(ctx, chatID, e.msg("ask_image_description"))
	case "3":
		e.reply(ctx, chatID, e.msg("text_only_preview"))
		e.askPublishChoice(ctx, chatID, state)
	default:
		e.reply(ctx, chatID, e.msg("invalid_image_choice"))
		e.askPublishChoice(ctx, chatID, state)
	}
}

// attachImage generates the image for the draft and previews the complete
// post. A failed generation falls back to the text-only post.
func (e *Engine) attachImage(ctx context.Context, chatID int64, state State, prompt string) {
	log := e.log.WithField("chat_id", chatID)
	e.reply(ctx, chatID, e.msg("generating_image"))
	image, err := e.images.Generate(ctx, prompt)
	if err != nil {
		log.Warnf("Image generation failed, continuing text-only: %v", err)
		e.metrics.ProviderFailed("image")
		e.reply(ctx, chatID, e.msgf("image_generation_failed", err))
		e.reply(ctx, chatID, e.msg("text_only_preview"))
		e.askPublishChoice(ctx, chatID, state)
		return
	}
	state.Draft.Image = image

	e.reply(ctx, chatID, e.msg("complete_post_preview"))
	caption := post.Truncate(state.Draft.Text, dispatch.MaxCaptionLength)
	if err := e.transport.SendPhoto(ctx, post.ChatDestination(chatID), image, caption); err != nil {
		log.Errorf("Failed to send post preview: %v", err)
	}
	e.askPublishChoice(ctx, chatID, state)
}

// previewQuickPost generates the single text or image requested by
// /generate_text or /generate_image and asks whether to post it.
func (e *Engine) previewQuickPost(ctx context.Context, chatID int64, state State, prompt string) {
	log := e.log.WithField("chat_id", chatID)
	state.Draft.Topic = prompt

	if state.Draft.ContentType == post.AIImage {
		e.reply(ctx, chatID, e.msg("generating_image"))
		image, err := e.images.Generate(ctx, prompt)
		if err != nil {
			log.Warnf("Image generation failed: %v", err)
			e.metrics.ProviderFailed("image")
			e.clearUserState(chatID)
			e.reply(ctx, chatID, e.msgf("image_generation_failed", err))
			return
		}
		state.Draft.Image = image
		caption := post.Truncate(e.msgf("image_preview_caption", prompt), dispatch.MaxCaptionLength)
		if err := e.transport.SendPhoto(ctx, post.ChatDestination(chatID), image, caption); err != nil {
			log.Errorf("Failed to send image preview: %v", err)
		}
	} else {
		e.reply(ctx, chatID, e.msg("generating_text"))
		text, err := e.text.Generate(ctx, prompt)
		if err != nil {
			log.Warnf("Text generation failed: %v", err)
			e.metrics.ProviderFailed("text")
			e.clearUserState(chatID)
			e.reply(ctx, chatID, e.msgf("text_generation_failed", err))
			return
		}
		state.Draft.Text = text
		e.reply(ctx, chatID, text)
	}

	destination := e.msg("confirm_target_chat")
	if binding, ok := e.bindings.Get(state.OwnerID); ok {
		destination = binding.Destination.String()
	}
	state.Stage = AwaitingPostConfirmation
	e.setUserState(chatID, state)
	e.reply(ctx, chatID, e.msgf("ask_post_confirmation", destination))
}

// handlePostConfirmation posts the previewed content on "yes" and drops it on
// anything else.
func (e *Engine) handlePostConfirmation(ctx context.Context, chatID int64, state State, answer string) {
	e.clearUserState(chatID)
	switch strings.ToLower(answer) {
	case "yes", "y", "1":
		e.dispatcher.Deliver(ctx, state.request(chatID, e.clock.Now()))
	default:
		e.reply(ctx, chatID, e.msg("post_cancelled"))
	}
}

func (e *Engine) askPublishChoice(ctx context.Context, chatID int64, state State) {
	option := e.msg("publish_option_chat")
	if binding, ok := e.bindings.Get(state.OwnerID); ok {
		option = e.msgf("publish_option_channel", binding.Destination)
	}
	state.Stage = AwaitingPublishChoice
	e.setUserState(chatID, state)
	e.reply(ctx, chatID, e.msgf("ask_publish_choice", option))
}

func (e *Engine) handlePublishChoice(ctx context.Context, chatID int64, state State, choice string) {
	switch choice {
	case "1":
		e.clearUserState(chatID)
		req := state.request(chatID, e.clock.Now())
		e.dispatcher.Deliver(ctx, req)
	case "2":
		e.askScheduleDelay(ctx, chatID, state)
	default:
		e.clearUserState(chatID)
		e.releaseQuota(state)
		e.reply(ctx, chatID, e.msg("post_cancelled"))
	}
}

func (e *Engine) askScheduleDelay(ctx context.Context, chatID int64, state State) {
	state.Stage = AwaitingScheduleDelay
	e.setUserState(chatID, state)
	e.reply(ctx, chatID, e.msg("ask_schedule_delay"))
}

func (e *Engine) handleScheduleDelay(ctx context.Context, chatID int64, state State, text string) {
	minutes, err := strconv.Atoi(text)
	if err != nil || minutes < 1 || minutes > maxDelayMinutes {
		e.reply(ctx, chatID, e.msg("invalid_minutes"))
		return
	}
	e.clearUserState(chatID)

	dueAt := e.clock.Now().Add(time.Duration(minutes) * time.Minute)
	req := state.request(chatID, dueAt)
	id, err := e.scheduler.Schedule(req)
	if err != nil {
		e.log.WithField("chat_id", chatID).Errorf("Could not schedule post: %v", err)
		e.releaseQuota(state)
		e.reply(ctx, chatID, e.msgf("schedule_failed", err))
		return
	}
	e.log.WithFields(logrus.Fields{
		"chat_id":  chatID,
		"entry_id": id,
		"minutes":  minutes,
	}).Info("Post scheduled by operator")
	e.reply(ctx, chatID, e.msgf("post_scheduled", e.formatTime(dueAt), minutes))
}
