package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/gateway"
	"github.com/practiceflow/notify-engine/internal/ratelimit"
	"go.uber.org/zap"
)

// BulkMessage is one recipient of a bulk send. Phone may be in any format.
type BulkMessage struct {
	Phone   string
	Message string
}

// BulkItemResult is the outcome for the input message at Index.
type BulkItemResult struct {
	Index             int
	Phone             string
	Success           bool
	ProviderMessageID *string
	Error             *string
}

type BulkResult struct {
	DispatchID string
	Status     domain.BulkStatus
	Sent       int
	Failed     int
	Results    []BulkItemResult
}

// SendBulkMessages sends every message in one gateway call and reports per
// index outcomes plus counts. Messages with an invalid phone or empty text
// fail locally and never reach the gateway. No ledger records are written;
// the aggregate is stored as a bulk dispatch row when a bulk repository is set.
func (d *Dispatcher) SendBulkMessages(ctx context.Context, messages []BulkMessage) (*BulkResult, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: bulk send must include at least one message", domain.ErrValidation)
	}
	if len(messages) > maxBulkSize {
		return nil, fmt.Errorf("%w: bulk size exceeds %d", domain.ErrValidation, maxBulkSize)
	}

	results := make([]BulkItemResult, len(messages))
	items := make([]gateway.BulkItem, 0, len(messages))
	positions := make([]int, 0, len(messages))

	for i, msg := range messages {
		normalized := d.phone.Normalize(msg.Phone)
		results[i] = BulkItemResult{Index: i, Phone: normalized}

		switch {
		case !d.phone.IsValid(normalized):
			results[i].Error = stringPtr(fmt.Sprintf("invalid phone number %q", msg.Phone))
		case strings.TrimSpace(msg.Message) == "":
			results[i].Error = stringPtr("message is required")
		default:
			items = append(items, gateway.BulkItem{Phone: normalized, Message: msg.Message})
			positions = append(positions, i)
		}
	}

	if len(items) > 0 {
		status := d.monitor.GetStatus(ctx, d.cfg.StatusMaxAge)
		if !status.Connected {
			reason := "gateway reported disconnected"
			if status.Error != nil {
				reason = *status.Error
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, reason)
		}

		if d.rateLimiter != nil {
			if err := d.rateLimiter.Wait(ctx, ratelimit.ScopeGatewayBulk); err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("rate limiter wait failed: %w", err)
				}
				d.logger.Warn("rate limiter unavailable, sending without it", zap.Error(err))
			}
		}

		start := d.now()
		delivered := d.gateway.SendBulk(ctx, items)
		d.metrics.ObserveGatewayCall("send_bulk", d.now().Sub(start))

		for j, pos := range positions {
			if j >= len(delivered) {
				results[pos].Error = stringPtr("no result reported for message")
				continue
			}
			results[pos].Success = delivered[j].Success
			results[pos].ProviderMessageID = delivered[j].ProviderMessageID
			if !delivered[j].Success {
				results[pos].Error = stringPtr(delivered[j].Error())
			}
		}
	}

	out := &BulkResult{Results: results}
	for _, r := range results {
		if r.Success {
			out.Sent++
		} else {
			out.Failed++
		}
	}
	out.Status = domain.BulkStatusFromCounts(out.Sent, out.Failed)
	d.metrics.AddBulkMessages(out.Sent, out.Failed)

	if d.bulk != nil {
		dispatch := &domain.BulkDispatch{
			TotalCount:  len(messages),
			SentCount:   out.Sent,
			FailedCount: out.Failed,
			Status:      out.Status,
			CreatedAt:   d.now().UTC(),
		}
		// Messages are already sent, so audit failures are only logged.
		if err := d.bulk.Create(context.WithoutCancel(ctx), dispatch); err != nil {
			d.logger.Error("failed to record bulk dispatch", zap.Error(err))
		} else {
			out.DispatchID = dispatch.ID
		}
	}

	d.logger.Info("bulk send finished",
		zap.String("dispatchId", out.DispatchID),
		zap.Int("total", len(messages)),
		zap.Int("sent", out.Sent),
		zap.Int("failed", out.Failed),
	)

	return out, nil
}

func stringPtr(s string) *string {
	return &s
}
