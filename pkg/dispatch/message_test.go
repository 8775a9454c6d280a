package dispatch_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
)

func TestMessage_Apply(t *testing.T) {
	t.Run("Sets option fields", func(t *testing.T) {
		msg := dispatch.NewMessage()

		require.NoError(t, msg.Apply("collapseKey", "chat"))
		require.NoError(t, msg.Apply("timeToLive", 3600))
		require.NoError(t, msg.Apply("delayWhileIdle"))
		require.NoError(t, msg.Apply("priority", "high"))
		require.NoError(t, msg.Apply("addData", "k", 7))

		assert.Equal(t, "chat", msg.CollapseKey)
		assert.Equal(t, time.Hour, msg.TimeToLive)
		assert.True(t, msg.DelayWhileIdle)
		assert.Equal(t, "high", msg.Priority)
		assert.Equal(t, "7", msg.Data["k"])
	})

	t.Run("Unknown directive", func(t *testing.T) {
		err := dispatch.NewMessage().Apply("launchRockets", true)
		require.Error(t, err)
		assert.True(t, errors.Is(err, dispatch.ErrUnknownDirective))
		assert.Contains(t, err.Error(), "launchRockets")
	})

	t.Run("Wrong arity", func(t *testing.T) {
		err := dispatch.NewMessage().Apply("addData", "only-key")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `directive "addData"`)
	})

	t.Run("Data merges maps", func(t *testing.T) {
		msg := dispatch.NewMessage()
		msg.AddData("a", "old")
		require.NoError(t, msg.Apply("data", map[string]string{"a": "new", "b": "2"}))
		assert.Equal(t, map[string]string{"a": "new", "b": "2"}, msg.Data)
	})
}

func TestMessage_ApplyAll(t *testing.T) {
	msg := dispatch.NewMessage()
	errs := msg.ApplyAll(dispatch.Args{
		"sound":   "ping.caf",
		"bogus":   1,
		"addData": []any{"x", "y"},
	})

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "bogus")
	assert.Equal(t, "ping.caf", msg.Sound)
	assert.Equal(t, "y", msg.Data["x"])
}

func TestArgs_Positional(t *testing.T) {
	args := dispatch.Args{
		"single": "v",
		"list":   []any{"a", 1},
		"strs":   []string{"p", "q"},
	}

	assert.Equal(t, []any{"v"}, args.Positional("single"))
	assert.Equal(t, []any{"a", 1}, args.Positional("list"))
	assert.Equal(t, []any{"p", "q"}, args.Positional("strs"))
	assert.Equal(t, []string{"list", "single", "strs"}, args.Names())
}

func TestMulticastResult_Success(t *testing.T) {
	var nilResult *dispatch.MulticastResult
	assert.False(t, nilResult.Success())
	assert.False(t, (&dispatch.MulticastResult{FailureCount: 3}).Success())
	assert.True(t, (&dispatch.MulticastResult{SuccessCount: 1, FailureCount: 2}).Success())
}
