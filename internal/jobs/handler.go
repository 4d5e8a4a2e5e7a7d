package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"nounsbot/internal/dispatch"
	"nounsbot/internal/warpcast"
	logx "nounsbot/pkg/logx"
)

// DirectCastHandler delivers "direct-cast" envelopes.
//
// Malformed payloads and client errors are permanent unless Warpcast
// reports throttling. A send
// Warpcast accepted but did not report as successful is retried.
type DirectCastHandler struct {
	Sender Sender
	Log    logx.Logger
}

func (h *DirectCastHandler) Handle(ctx context.Context, data json.RawMessage) error {
	var dc DirectCast
	if err := json.Unmarshal(data, &dc); err != nil {
		return dispatch.Permanent(fmt.Errorf("decode direct cast: %w", err))
	}
	if dc.RecipientFID <= 0 || dc.Message == "" {
		return dispatch.Permanent(fmt.Errorf("invalid direct cast: recipient=%d message_len=%d", dc.RecipientFID, len(dc.Message)))
	}
	if dc.IdempotencyKey == "" {
		dc.IdempotencyKey = IdempotencyKey(dc.Message)
	}

	err := h.Sender.SendDirectCast(ctx, dc)
	if err == nil {
		return nil
	}
	var apiErr *warpcast.APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() && apiErr.Status >= http.StatusBadRequest {
		h.Log.Warn("direct cast rejected",
			logx.Int64("recipient", dc.RecipientFID),
			logx.Int("status", apiErr.Status),
			logx.Err(err),
		)
		return dispatch.Permanent(err)
	}
	return err
}
