package post

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ContentType string

const (
	AIText   ContentType = "ai-text"
	AIImage  ContentType = "ai-image"
	Custom   ContentType = "custom"
	Combined ContentType = "combined"
)

// Destination is either a numeric chat id or a public channel username ("@name").
type Destination struct {
	ChatID   int64
	Username string
}

func ChatDestination(chatID int64) Destination {
	return Destination{ChatID: chatID}
}

func (d Destination) String() string {
	if d.Username != "" {
		return d.Username
	}
	return strconv.FormatInt(d.ChatID, 10)
}

// Request is the unit of work handed to the dispatcher, either directly or
// through the scheduler.
type Request struct {
	ContentType ContentType
	Prompt      string
	Content     string
	// Text and Image hold the body of combined posts. On ai-text and ai-image
	// requests they carry an already generated preview, if any.
	Text         string
	Image        []byte
	OwnerID      int64
	OriginChatID int64
	DueAt        time.Time
	// QuotaDay is the day key of the daily quota slot this request holds. It
	// is released if the post is never delivered. Empty means no slot.
	QuotaDay string
}

// Validate checks that exactly the fields required by ContentType are set.
func (r Request) Validate() error {
	hasPrompt := strings.TrimSpace(r.Prompt) != ""
	hasContent := strings.TrimSpace(r.Content) != ""
	hasBundle := strings.TrimSpace(r.Text) != "" || len(r.Image) > 0

	switch r.ContentType {
	case AIText, AIImage:
		if !hasPrompt {
			return fmt.Errorf("%w: %s post needs a prompt", ErrValidation, r.ContentType)
		}
		if hasContent || (r.ContentType == AIText && len(r.Image) > 0) || (r.ContentType == AIImage && r.Text != "") {
			return fmt.Errorf("%w: %s post carries unexpected content", ErrValidation, r.ContentType)
		}
	case Custom:
		if !hasContent {
			return fmt.Errorf("%w: custom post needs content", ErrValidation)
		}
		if hasPrompt || hasBundle {
			return fmt.Errorf("%w: custom post carries unexpected fields", ErrValidation)
		}
	case Combined:
		if strings.TrimSpace(r.Text) == "" || len(r.Image) == 0 {
			return fmt.Errorf("%w: combined post needs both text and image", ErrValidation)
		}
		if hasPrompt || hasContent {
			return fmt.Errorf("%w: combined post carries unexpected fields", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown content type %q", ErrValidation, r.ContentType)
	}
	if r.OriginChatID == 0 {
		return fmt.Errorf("%w: origin chat is required", ErrValidation)
	}
	return nil
}

// NeedsGeneration reports whether the provider still has to produce the body
// of an ai-text or ai-image request.
func (r Request) NeedsGeneration() bool {
	switch r.ContentType {
	case AIText:
		return strings.TrimSpace(r.Text) == ""
	case AIImage:
		return len(r.Image) == 0
	default:
		return false
	}
}

// Summary is a short, single-line description used in listings.
func (r Request) Summary(maxLen int) string {
	var s string
	switch r.ContentType {
	case Custom:
		s = r.Content
	case Combined:
		s = r.Text
	default:
		s = r.Prompt
	}
	s = strings.Join(strings.Fields(s), " ")
	return Truncate(s, maxLen)
}

// Truncate shortens s to at most maxLen runes, marking the cut with an ellipsis.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen <= 0 || len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
