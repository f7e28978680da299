package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthmantri/conduit/pkg/api"
)

func TestSyncResponse(t *testing.T) {
	res := api.Sync(api.Args{"count": 3})
	require.NoError(t, res.Validate())
	assert.Equal(t, api.StatusSucceeded, res.Final.Status)
	assert.Equal(t, 3, res.Final.Outputs.GetInt("count", 0))
	assert.Nil(t, res.Async)
}

func TestSyncFailedResponse(t *testing.T) {
	failure := api.NewFailure(api.FailureApplication, "boom")
	res := api.SyncFailed(failure)
	require.NoError(t, res.Validate())
	assert.Equal(t, api.StatusFailed, res.Final.Status)
	assert.Equal(t, failure, res.Final.Failure)
}

func TestSuspendResponse(t *testing.T) {
	res := api.Suspend(5000, "cb-1", "cb-2")
	require.NoError(t, res.Validate())
	assert.Nil(t, res.Final)
	assert.Equal(t, int64(5000), res.Async.TimeoutMillis)
	assert.Equal(t,
		[]api.CallbackID{"cb-1", "cb-2"}, res.Async.CallbackIDs)
}

func TestResponseProtocolViolations(t *testing.T) {
	t.Run("nil_response", func(t *testing.T) {
		var res *api.ExecutableResponse
		assert.ErrorIs(t, res.Validate(), api.ErrResponseEmpty)
	})

	t.Run("empty_response", func(t *testing.T) {
		res := &api.ExecutableResponse{}
		assert.ErrorIs(t, res.Validate(), api.ErrResponseEmpty)
	})

	t.Run("both_results", func(t *testing.T) {
		res := &api.ExecutableResponse{
			Final: &api.StepResponse{Status: api.StatusSucceeded},
			Async: &api.AsyncResponse{
				CallbackIDs:   []api.CallbackID{"cb"},
				TimeoutMillis: 1000,
			},
		}
		assert.ErrorIs(t, res.Validate(), api.ErrResponseAmbiguous)
	})

	t.Run("no_callback_ids", func(t *testing.T) {
		res := api.Suspend(1000)
		assert.ErrorIs(t, res.Validate(), api.ErrNoCallbackIDs)
	})

	t.Run("zero_timeout_defers_to_default", func(t *testing.T) {
		res := api.Suspend(0, "cb")
		assert.NoError(t, res.Validate())
	})

	t.Run("negative_timeout", func(t *testing.T) {
		res := api.Suspend(-50, "cb")
		assert.ErrorIs(t, res.Validate(), api.ErrInvalidTimeout)
	})

	t.Run("non_terminal_outcome", func(t *testing.T) {
		res := &api.ExecutableResponse{
			Final: &api.StepResponse{Status: api.StatusRunning},
		}
		assert.ErrorIs(t, res.Validate(), api.ErrNonTerminalOutcome)
	})
}
