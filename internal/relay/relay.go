package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/spigotd/spigot/internal/model"
	"github.com/spigotd/spigot/internal/upstream"
	"github.com/spigotd/spigot/internal/usage"
)

// Finish reasons recorded for streams that did not run to completion.
const (
	finishCancelled = "cancelled"
	finishTimeout   = "timeout"
	finishError     = "error"
	finishStop      = "stop"
)

// Relay drives completions against inference backends and accounts them.
// For streams it translates upstream chunks into client-facing SSE frames in
// strict arrival order, propagates cancellation both ways, bounds stream
// duration, and finalizes usage exactly once no matter how the stream ends.
type Relay struct {
	client    *upstream.Client
	models    *upstream.Registry
	ledger    *usage.Ledger
	logger    *slog.Logger
	maxStream time.Duration
}

// New creates a Relay. maxStream bounds the lifetime of a single streamed
// completion; a stream exceeding it is cancelled and accounted as a timeout.
func New(client *upstream.Client, models *upstream.Registry, ledger *usage.Ledger, logger *slog.Logger, maxStream time.Duration) *Relay {
	return &Relay{
		client:    client,
		models:    models,
		ledger:    ledger,
		logger:    logger,
		maxStream: maxStream,
	}
}

// Models returns the backing model registry.
func (r *Relay) Models() *upstream.Registry {
	return r.models
}

// Complete performs a non-streaming completion and finalizes its usage.
func (r *Relay) Complete(ctx context.Context, userID int64, req *model.CompletionRequest) (*model.CompletionResponse, error) {
	m, err := r.models.Get(req.Model)
	if err != nil {
		return nil, err
	}

	requestID := newRequestID()
	acct := newAccountant(requestID, userID, req)
	defer acct.finalize(ctx, r.ledger, r.logger)

	cctx, cancel := context.WithTimeout(ctx, r.maxStream)
	defer cancel()

	resp, err := r.client.Complete(cctx, m, req)
	if err != nil {
		acct.finishReason = finishError
		return nil, err
	}

	resp.ID = requestID
	resp.Model = req.Model
	acct.usage = resp.Usage
	for _, choice := range resp.Choices {
		acct.addCompletion(choice.Message.Content)
		if choice.FinishReason != "" {
			acct.finishReason = choice.FinishReason
		}
	}
	return resp, nil
}

// Stream relays a streamed completion to w as server-sent events. Setup
// failures (unknown model, upstream refusal) are returned before anything is
// written so the handler can report them synchronously; once the stream is
// open, upstream failures surface as a terminal in-band error event and the
// method returns nil. Usage is finalized on every exit path.
func (r *Relay) Stream(ctx context.Context, w http.ResponseWriter, userID int64, req *model.CompletionRequest) error {
	m, err := r.models.Get(req.Model)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, r.maxStream)
	defer cancel()

	stream, err := r.client.StreamComplete(sctx, m, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	requestID := newRequestID()
	acct := newAccountant(requestID, userID, req)
	defer acct.finalize(ctx, r.ledger, r.logger)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				if acct.finishReason == "" {
					acct.finishReason = finishStop
				}
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return nil
			}
			r.streamFailure(sctx, w, flusher, acct, err)
			return nil
		}

		// Re-key the chunk so clients and the usage log agree on one
		// request ID regardless of what the backend generated.
		chunk.ID = requestID
		chunk.Model = req.Model
		if chunk.Object == "" {
			chunk.Object = "chat.completion.chunk"
		}

		if chunk.Usage != nil {
			acct.usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			acct.addCompletion(choice.Delta.Content)
			acct.addCompletion(choice.Delta.Reasoning)
			if choice.FinishReason != "" {
				acct.finishReason = choice.FinishReason
			}
		}

		payload, err := json.Marshal(chunk)
		if err != nil {
			r.streamFailure(sctx, w, flusher, acct, fmt.Errorf("encode chunk: %w", err))
			return nil
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client went away mid-write. The upstream context is torn down
			// by our deferred cancel; partial counts still get finalized.
			acct.finishReason = finishCancelled
			return nil
		}
		flusher.Flush()
	}
}

// streamFailure classifies a mid-stream error and records the finish reason.
// When the client is still reachable it emits a terminal in-band error event
// so callers can distinguish partial output from a connection failure.
func (r *Relay) streamFailure(sctx context.Context, w io.Writer, flusher http.Flusher, acct *accountant, err error) {
	switch {
	case errors.Is(sctx.Err(), context.DeadlineExceeded):
		acct.finishReason = finishTimeout
		r.logger.Warn("stream exceeded maximum duration",
			"request_id", acct.requestID, "max", r.maxStream)
		r.emitError(w, flusher, "stream exceeded maximum duration", finishTimeout)
	case errors.Is(sctx.Err(), context.Canceled):
		// Client disconnect; nobody is listening for an error event.
		acct.finishReason = finishCancelled
	default:
		acct.finishReason = finishError
		r.logger.Error("upstream stream failed",
			"request_id", acct.requestID, "error", err)
		r.emitError(w, flusher, "upstream failure", "upstream_error")
	}
}

func (r *Relay) emitError(w io.Writer, flusher http.Flusher, message, errType string) {
	payload, err := json.Marshal(model.StreamError{
		Error: model.StreamErrorDetail{Message: message, Type: errType},
	})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func newRequestID() string {
	return "chatcmpl-" + uuid.NewString()
}
