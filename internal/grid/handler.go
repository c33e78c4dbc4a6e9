package grid

import "log/slog"

// StreamHandler feeds a stream's messages into a Reconciler. It satisfies the
// session handler contract: Initialize on every connection open, then
// HandleMessage for every inbound frame.
type StreamHandler struct {
	rec       *Reconciler
	size      int
	indicator Indicator
	sink      ChangeSink
	logger    *slog.Logger
}

// HandlerOption configures a StreamHandler.
type HandlerOption func(*StreamHandler)

// WithIndicator shows next-turn values on ind.
func WithIndicator(ind Indicator) HandlerOption {
	return func(h *StreamHandler) {
		h.indicator = ind
	}
}

// WithChangeSink forwards every applied change to sink.
func WithChangeSink(sink ChangeSink) HandlerOption {
	return func(h *StreamHandler) {
		h.sink = sink
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *StreamHandler) {
		h.logger = logger
	}
}

// NewStreamHandler creates a handler building grids of size cells.
func NewStreamHandler(rec *Reconciler, size int, opts ...HandlerOption) *StreamHandler {
	h := &StreamHandler{
		rec:    rec,
		size:   size,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Initialize builds a blank grid.
func (h *StreamHandler) Initialize() {
	h.rec.Initialize(h.size)
	if h.indicator != nil {
		h.indicator.ShowNextTurn("")
	}
}

// HandleMessage applies one inbound frame. A malformed frame is returned as
// an error wrapping ErrMalformedPayload and changes nothing.
func (h *StreamHandler) HandleMessage(data []byte) error {
	upd, err := h.rec.ApplySnapshot(data)
	if err != nil {
		return err
	}

	if upd.HasNextTurn && h.indicator != nil {
		h.indicator.ShowNextTurn(upd.NextTurn)
	}
	if len(upd.Changes) > 0 && h.sink != nil {
		h.sink.Record(upd.Changes)
	}

	h.logger.Debug("snapshot applied",
		"changed", len(upd.Changes),
		"unchanged", upd.Unchanged,
		"skipped", upd.Skipped,
		"next", upd.NextTurn,
	)

	return nil
}
