package channels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduler-post-bot/internal/post"
)

type staticChecker struct {
	status string
	err    error
}

func (c staticChecker) AdminStatus(context.Context, post.Destination) (string, error) {
	return c.status, c.err
}

func TestParseDestination(t *testing.T) {
	dest, err := ParseDestination("  @my_channel ")
	require.NoError(t, err)
	assert.Equal(t, "@my_channel", dest.Username)

	dest, err = ParseDestination("-1001234567890")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234567890), dest.ChatID)

	for _, bad := range []string{"", "mychannel", "@abc", "12345", "-12345", "@bad name"} {
		_, err := ParseDestination(bad)
		assert.ErrorIs(t, err, post.ErrValidation, bad)
	}
}

func TestVerifyAdmin(t *testing.T) {
	ctx := context.Background()
	dest := post.Destination{Username: "@my_channel"}

	assert.NoError(t, VerifyAdmin(ctx, staticChecker{status: "administrator"}, dest))
	assert.NoError(t, VerifyAdmin(ctx, staticChecker{status: "creator"}, dest))
	assert.ErrorIs(t, VerifyAdmin(ctx, staticChecker{status: "member"}, dest), post.ErrAuthorization)
	assert.ErrorIs(t, VerifyAdmin(ctx, staticChecker{err: errors.New("chat not found")}, dest), post.ErrAuthorization)
}

func TestRegistry_BindOverwrites(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(7)
	assert.False(t, ok)

	now := time.Now()
	r.Bind(7, post.Destination{Username: "@first_channel"}, now)
	r.Bind(7, post.Destination{Username: "@second_channel"}, now)

	b, ok := r.Get(7)
	require.True(t, ok)
	assert.Equal(t, "@second_channel", b.Destination.Username)

	assert.True(t, r.Unbind(7))
	assert.False(t, r.Unbind(7))
}
