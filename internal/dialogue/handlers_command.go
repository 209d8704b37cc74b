package dialogue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"scheduler-post-bot/internal/channels"
	"scheduler-post-bot/internal/post"
)

func (e *Engine) handleCommand(ctx context.Context, in Inbound) {
	switch in.Command {
	case "start":
		e.reply(ctx, in.ChatID, e.msg("welcome_message"))
	case "help":
		e.reply(ctx, in.ChatID, e.msg("help_message"))
	case "test":
		e.reply(ctx, in.ChatID, e.msg("bot_working"))
	case "info":
		e.handleInfoCommand(ctx, in)
	case "apis":
		e.handleAPIsCommand(ctx, in)
	case "set_channel":
		e.handleSetChannelCommand(ctx, in)
	case "unset_channel":
		e.handleUnsetChannelCommand(ctx, in)
	case "channel":
		e.handleChannelCommand(ctx, in)
	case "generate_post":
		e.handleGeneratePostCommand(ctx, in)
	case "generate_text":
		e.handleGenerateTextCommand(ctx, in)
	case "generate_image":
		e.handleGenerateImageCommand(ctx, in)
	case "schedule":
		e.handleScheduleCommand(ctx, in)
	case "list_scheduled":
		e.handleListScheduledCommand(ctx, in)
	case "cancel_scheduled":
		e.handleCancelScheduledCommand(ctx, in)
	case "history":
		e.handleHistoryCommand(ctx, in)
	default:
		return
	}
}

func (e *Engine) handleCancelCommand(ctx context.Context, in Inbound) {
	state, inState := e.getState(in.ChatID)
	if !inState {
		e.reply(ctx, in.ChatID, e.msg("nothing_to_cancel"))
		return
	}
	e.clearUserState(in.ChatID)
	e.releaseQuota(state)
	e.reply(ctx, in.ChatID, e.msg("dialogue_cancelled"))
}

func (e *Engine) handleSetChannelCommand(ctx context.Context, in Inbound) {
	state := State{Stage: AwaitingChannel, OwnerID: in.SenderID}
	if arg := strings.TrimSpace(in.Args); arg != "" {
		e.configureChannel(ctx, in.ChatID, state, arg, false)
		return
	}
	e.setUserState(in.ChatID, state)
	e.reply(ctx, in.ChatID, e.msg("ask_channel"))
}

// configureChannel verifies and binds dest for the state's owner. With
// stayOnInvalid the chat keeps waiting for a well-formed destination.
func (e *Engine) configureChannel(ctx context.Context, chatID int64, state State, input string, stayOnInvalid bool) {
	log := e.log.WithFields(logrus.Fields{"chat_id": chatID, "owner_id": state.OwnerID})
	dest, err := channels.ParseDestination(input)
	if err != nil {
		e.reply(ctx, chatID, e.msg("invalid_channel_format"))
		if !stayOnInvalid {
			e.clearUserState(chatID)
		}
		return
	}
	e.clearUserState(chatID)

	if err := channels.VerifyAdmin(ctx, e.transport, dest); err != nil {
		log.Warnf("Channel verification failed: %v", err)
		e.reply(ctx, chatID, e.msgf("channel_not_admin", dest))
		return
	}
	if err := e.transport.SendText(ctx, dest, e.msg("channel_test_message")); err != nil {
		log.Warnf("Test message to %s failed: %v", dest, err)
		e.reply(ctx, chatID, e.msgf("channel_setup_failed", err))
		return
	}
	e.bindings.Bind(state.OwnerID, dest, e.clock.Now())
	log.WithField("destination", dest).Info("Channel bound")
	e.reply(ctx, chatID, e.msgf("channel_setup_success", dest))
}

func (e *Engine) handleChannelCommand(ctx context.Context, in Inbound) {
	binding, ok := e.bindings.Get(in.SenderID)
	if !ok {
		e.reply(ctx, in.ChatID, e.msg("no_channel_configured"))
		return
	}
	if err := channels.VerifyAdmin(ctx, e.transport, binding.Destination); err != nil {
		e.reply(ctx, in.ChatID, e.msgf("channel_not_admin", binding.Destination))
		return
	}
	if err := e.transport.SendText(ctx, binding.Destination, e.msg("channel_test_message")); err != nil {
		e.reply(ctx, in.ChatID, e.msgf("channel_access_failed", err))
		return
	}
	e.reply(ctx, in.ChatID, e.msgf("channel_access_ok", binding.Destination))
}

func (e *Engine) handleUnsetChannelCommand(ctx context.Context, in Inbound) {
	if !e.bindings.Unbind(in.SenderID) {
		e.reply(ctx, in.ChatID, e.msg("no_channel_configured"))
		return
	}
	e.log.WithField("owner_id", in.SenderID).Info("Channel unbound")
	e.reply(ctx, in.ChatID, e.msg("channel_unset"))
}

func (e *Engine) handleInfoCommand(ctx context.Context, in Inbound) {
	channel := e.msg("channel_not_set")
	if binding, ok := e.bindings.Get(in.SenderID); ok {
		channel = binding.Destination.String()
	}
	id := e.identity
	e.reply(ctx, in.ChatID, e.msgf("bot_info",
		id.FirstName, id.Username, id.ID, id.CanJoinGroups, id.CanReadAllGroupMessages, channel))
}

// handleAPIsCommand checks every configured content provider once.
func (e *Engine) handleAPIsCommand(ctx context.Context, in Inbound) {
	var builder strings.Builder
	builder.WriteString(e.msg("apis_title"))
	builder.WriteString(e.providerStatus(ctx, "Gemini", e.text))
	builder.WriteString(e.providerStatus(ctx, "Hugging Face", e.images))
	e.reply(ctx, in.ChatID, builder.String())
}

func (e *Engine) providerStatus(ctx context.Context, name string, provider any) string {
	if provider == nil {
		return e.msgf("api_not_configured", name)
	}
	pinger, ok := provider.(Pinger)
	if !ok {
		return e.msgf("api_unchecked", name)
	}
	if err := pinger.Ping(ctx); err != nil {
		e.log.WithField("provider", name).Warnf("Provider health check failed: %v", err)
		return e.msgf("api_failed", name, err)
	}
	return e.msgf("api_working", name)
}

func (e *Engine) handleGenerateTextCommand(ctx context.Context, in Inbound) {
	if e.text == nil {
		e.reply(ctx, in.ChatID, e.msg("text_provider_missing"))
		return
	}
	e.setUserState(in.ChatID, State{
		Stage:   AwaitingTopicOrContent,
		OwnerID: in.SenderID,
		Draft:   Draft{ContentType: post.AIText},
		flow:    flowQuick,
	})
	e.reply(ctx, in.ChatID, e.msg("ask_quick_text_prompt"))
}

func (e *Engine) handleGenerateImageCommand(ctx context.Context, in Inbound) {
	if e.images == nil {
		e.reply(ctx, in.ChatID, e.msg("image_provider_missing"))
		return
	}
	e.setUserState(in.ChatID, State{
		Stage:   AwaitingTopicOrContent,
		OwnerID: in.SenderID,
		Draft:   Draft{ContentType: post.AIImage},
		flow:    flowQuick,
	})
	e.reply(ctx, in.ChatID, e.msg("ask_quick_image_prompt"))
}

func (e *Engine) warnIfNoChannel(ctx context.Context, in Inbound) {
	if _, ok := e.bindings.Get(in.SenderID); !ok {
		e.reply(ctx, in.ChatID, e.msg("no_channel_warning"))
	}
}

func (e *Engine) handleGeneratePostCommand(ctx context.Context, in Inbound) {
	quotaDay, ok := e.limiter.TryConsume(e.clock.Now())
	if !ok {
		e.metrics.QuotaRejected()
		limit := e.limiter.Limit()
		e.reply(ctx, in.ChatID, e.msgf("daily_limit_reached", limit, limit))
		return
	}
	e.warnIfNoChannel(ctx, in)
	e.setUserState(in.ChatID, State{
		Stage:    AwaitingTopicOrContent,
		OwnerID:  in.SenderID,
		QuotaDay: quotaDay,
		flow:     flowGenerate,
	})
	e.reply(ctx, in.ChatID, e.msg("ask_post_topic"))
}

func (e *Engine) handleScheduleCommand(ctx context.Context, in Inbound) {
	e.warnIfNoChannel(ctx, in)
	e.setUserState(in.ChatID, State{
		Stage:   AwaitingContentKind,
		OwnerID: in.SenderID,
		flow:    flowSchedule,
	})
	e.reply(ctx, in.ChatID, e.msg("ask_content_kind"))
}

func (e *Engine) handleListScheduledCommand(ctx context.Context, in Inbound) {
	entries := e.ownEntries(in.SenderID)
	if len(entries) == 0 {
		e.reply(ctx, in.ChatID, e.msg("no_scheduled_posts"))
		return
	}
	e.reply(ctx, in.ChatID, e.formatEntries(e.msg("scheduled_list_title"), entries))
}

func (e *Engine) handleCancelScheduledCommand(ctx context.Context, in Inbound) {
	entries := e.ownEntries(in.SenderID)
	if len(entries) == 0 {
		e.reply(ctx, in.ChatID, e.msg("no_scheduled_to_cancel"))
		return
	}
	state := State{Stage: AwaitingCancelSelection, OwnerID: in.SenderID}
	for _, entry := range entries {
		state.cancelIDs = append(state.cancelIDs, entry.ID)
	}
	if arg := strings.TrimSpace(in.Args); arg != "" {
		e.cancelSelection(ctx, in.ChatID, state, arg, false)
		return
	}
	e.setUserState(in.ChatID, state)
	e.reply(ctx, in.ChatID, e.formatEntries(e.msg("cancel_list_title"), entries)+e.msg("cancel_prompt"))
}

// cancelSelection cancels the entry at the 1-based position the operator was shown.
func (e *Engine) cancelSelection(ctx context.Context, chatID int64, state State, input string, stayOnInvalid bool) {
	index, err := parseIndex(input, len(state.cancelIDs))
	if err != nil {
		e.reply(ctx, chatID, e.msg("invalid_selection"))
		if !stayOnInvalid {
			e.clearUserState(chatID)
		}
		return
	}
	e.clearUserState(chatID)
	id := state.cancelIDs[index]
	if !e.scheduler.Cancel(id) {
		e.reply(ctx, chatID, e.msg("scheduled_already_gone"))
		return
	}
	e.log.WithFields(logrus.Fields{"chat_id": chatID, "entry_id": id}).Info("Scheduled post cancelled by operator")
	e.reply(ctx, chatID, e.msg("scheduled_cancelled"))
}

func (e *Engine) handleHistoryCommand(ctx context.Context, in Inbound) {
	if e.history == nil {
		e.reply(ctx, in.ChatID, e.msg("history_unavailable"))
		return
	}
	deliveries, err := e.history.RecentDeliveries(ctx, in.SenderID, historyLimit)
	if err != nil {
		e.log.Errorf("Could not load delivery history for %d: %v", in.SenderID, err)
		e.reply(ctx, in.ChatID, e.msg("history_unavailable"))
		return
	}
	if len(deliveries) == 0 {
		e.reply(ctx, in.ChatID, e.msg("history_empty"))
		return
	}

	now := e.clock.Now()
	local := now.In(e.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	today, err := e.history.CountDelivered(ctx, in.SenderID, dayStart)
	if err != nil {
		e.log.Warnf("Could not count today's deliveries for %d: %v", in.SenderID, err)
	}

	var builder strings.Builder
	builder.WriteString(e.msgf("history_title", today, e.limiter.Remaining(now), e.limiter.Limit()))
	for _, d := range deliveries {
		status := e.msg("history_status_ok")
		if !d.Succeeded() {
			status = e.msg("history_status_failed")
		}
		builder.WriteString(e.msgf("history_item", e.formatTime(d.DeliveredAt), d.ContentType, d.Destination, status))
	}
	e.reply(ctx, in.ChatID, builder.String())
}

func parseIndex(input string, n int) (int, error) {
	selection, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || selection < 1 || selection > n {
		return 0, fmt.Errorf("%w: selection %q is not between 1 and %d", post.ErrValidation, input, n)
	}
	return selection - 1, nil
}
