package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glavox/glavox-server/internal/services"
	appValidator "github.com/glavox/glavox-server/pkg/validator"
)

func TestTimestampFieldAcceptsStringsAndNumbers(t *testing.T) {
	var payload struct {
		At timestampField `json:"at"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"at":"2024-03-01T04:30:00Z"}`), &payload))
	require.True(t, payload.At.Time().Equal(time.Date(2024, time.March, 1, 4, 30, 0, 0, time.UTC)))

	require.NoError(t, json.Unmarshal([]byte(`{"at":1709267400000}`), &payload))
	require.True(t, payload.At.Time().Equal(time.Date(2024, time.March, 1, 4, 30, 0, 0, time.UTC)))

	require.NoError(t, json.Unmarshal([]byte(`{"at":null}`), &payload))
	require.Empty(t, string(payload.At))
	require.True(t, payload.At.Time().IsZero())

	require.Error(t, json.Unmarshal([]byte(`{"at":1.5}`), &payload))
}

func TestFormatValidationErrorUsesWireNames(t *testing.T) {
	req := startChatRequest{}
	err := appValidator.ValidateStruct(&req)
	require.Error(t, err)

	msg := formatValidationError(err)
	require.Contains(t, msg, "userId is required")
	require.Contains(t, msg, "startTime is required")

	require.Equal(t, "invalid request payload", formatValidationError(errors.New("boom")))
}

func TestValidationMessageStripsSentinel(t *testing.T) {
	err := fmt.Errorf("wrap: %w", services.ErrInvalidSegment)
	require.Equal(t, "segment end precedes its start", validationMessage(err))
}
