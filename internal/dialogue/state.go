package dialogue

import (
	"time"

	"github.com/google/uuid"

	"scheduler-post-bot/internal/post"
)

type Stage int

const (
	Idle Stage = iota
	AwaitingChannel
	AwaitingContentKind
	AwaitingTopicOrContent
	AwaitingImageChoice
	AwaitingImageDescription
	AwaitingPublishChoice
	AwaitingScheduleDelay
	AwaitingCancelSelection
	AwaitingPostConfirmation
)

var stageNames = map[Stage]string{
	Idle:                     "idle",
	AwaitingChannel:          "awaiting_channel",
	AwaitingContentKind:      "awaiting_content_kind",
	AwaitingTopicOrContent:   "awaiting_topic_or_content",
	AwaitingImageChoice:      "awaiting_image_choice",
	AwaitingImageDescription: "awaiting_image_description",
	AwaitingPublishChoice:    "awaiting_publish_choice",
	AwaitingScheduleDelay:    "awaiting_schedule_delay",
	AwaitingCancelSelection:  "awaiting_cancel_selection",
	AwaitingPostConfirmation: "awaiting_post_confirmation",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

type flow int

const (
	flowNone flow = iota
	// flowGenerate is /generate_post: text is produced up front, an image is
	// optional, and the operator then posts now or schedules.
	flowGenerate
	// flowSchedule is /schedule: the provider runs at delivery time.
	flowSchedule
	// flowQuick is /generate_text and /generate_image: one generated preview
	// that is posted right away or dropped.
	flowQuick
)

// Draft accumulates the fields of the post being built.
type Draft struct {
	ContentType post.ContentType
	Topic       string
	Content     string
	Text        string
	Image       []byte
}

// State is the single active dialogue of a chat.
type State struct {
	Stage   Stage
	OwnerID int64
	Draft   Draft
	// QuotaDay is the day key of the quota slot held by this dialogue.
	QuotaDay      string
	AwaitingSince time.Time

	flow      flow
	cancelIDs []uuid.UUID
}

// request builds the post request the draft describes.
func (s State) request(originChatID int64, dueAt time.Time) post.Request {
	req := post.Request{
		OwnerID:      s.OwnerID,
		OriginChatID: originChatID,
		DueAt:        dueAt,
		QuotaDay:     s.QuotaDay,
	}
	d := s.Draft
	switch {
	case s.flow == flowQuick:
		req.ContentType = d.ContentType
		req.Prompt = d.Topic
		req.Text = d.Text
		req.Image = d.Image
	case s.flow == flowSchedule && d.ContentType == post.Custom:
		req.ContentType = post.Custom
		req.Content = d.Content
	case s.flow == flowSchedule:
		req.ContentType = d.ContentType
		req.Prompt = d.Topic
	case len(d.Image) > 0:
		req.ContentType = post.Combined
		req.Text = d.Text
		req.Image = d.Image
	default:
		req.ContentType = post.Custom
		req.Content = d.Text
	}
	return req
}
