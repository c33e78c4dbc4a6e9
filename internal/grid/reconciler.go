package grid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Reconciler owns the cell store and mirrors it onto a Renderer.
type Reconciler struct {
	renderer     Renderer
	defaultColor string
	logger       *slog.Logger

	mu          sync.RWMutex
	cells       []cell
	nextTurn    string
	initialized bool
}

type cell struct {
	handle Handle
	color  string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithDefaultColor sets the color cells start with.
func WithDefaultColor(color string) Option {
	return func(r *Reconciler) {
		r.defaultColor = color
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler creates a Reconciler drawing onto renderer.
func NewReconciler(renderer Renderer, opts ...Option) *Reconciler {
	r := &Reconciler{
		renderer:     renderer,
		defaultColor: "aqua",
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize discards the current grid and builds cellCount cells in the
// default color.
func (r *Reconciler) Initialize(cellCount int) {
	if cellCount < 0 {
		cellCount = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rs, ok := r.renderer.(Resetter); ok {
		rs.Reset(cellCount)
	}

	r.cells = make([]cell, cellCount)
	for i := range r.cells {
		h := r.renderer.CreateCell(i)
		r.renderer.SetCellColor(h, r.defaultColor)
		r.cells[i] = cell{handle: h, color: r.defaultColor}
	}
	r.nextTurn = ""
	r.initialized = true

	if f, ok := r.renderer.(Flusher); ok {
		f.Flush()
	}

	r.logger.Debug("grid initialized", "cells", cellCount, "color", r.defaultColor)
}

// ApplySnapshot applies a raw server payload. Only cells named in the
// payload are touched. On error nothing is changed.
func (r *Reconciler) ApplySnapshot(raw []byte) (Update, error) {
	entries, next, err := decodeSnapshot(raw)
	if err != nil {
		return Update{}, err
	}

	var upd Update
	if next != nil {
		upd.NextTurn = *next
		upd.HasNextTurn = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		if !e.ok || e.index < 0 || e.index >= len(r.cells) {
			upd.Skipped++
			continue
		}
		c := &r.cells[e.index]
		if c.color == e.color {
			upd.Unchanged++
			continue
		}
		upd.Changes = append(upd.Changes, CellChange{Index: e.index, Color: e.color, Previous: c.color})
		c.color = e.color
		r.renderer.SetCellColor(c.handle, e.color)
	}

	if upd.HasNextTurn {
		r.nextTurn = upd.NextTurn
	}

	if len(upd.Changes) > 0 {
		if f, ok := r.renderer.(Flusher); ok {
			f.Flush()
		}
	}

	return upd, nil
}

// Size returns the number of cells in the current grid.
func (r *Reconciler) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cells)
}

// Initialized reports whether Initialize has run.
func (r *Reconciler) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Color returns the stored color of cell i.
func (r *Reconciler) Color(i int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.cells) {
		return "", false
	}
	return r.cells[i].color, true
}

// Colors returns a copy of every cell color in index order.
func (r *Reconciler) Colors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.cells))
	for i, c := range r.cells {
		out[i] = c.color
	}
	return out
}

// NextTurn returns the last next-turn value received.
func (r *Reconciler) NextTurn() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextTurn
}

// entry is one decoded index/color pair. ok is false when the pair must be
// skipped.
type entry struct {
	index int
	color string
	ok    bool
}

// decodeSnapshot turns a payload into entries sorted by index.
func decodeSnapshot(raw []byte) ([]entry, *string, error) {
	cleaned := clean(raw)

	// Some servers send the snapshot as a JSON string holding the object.
	if len(cleaned) > 0 && cleaned[0] == '"' {
		var inner string
		if err := json.Unmarshal(cleaned, &inner); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		cleaned = clean([]byte(inner))
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(cleaned, &top); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if top == nil {
		return nil, nil, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}

	colors := top
	var next *string
	if nested, ok := top[FieldGridColors]; ok {
		colors = nil
		if err := json.Unmarshal(nested, &colors); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, FieldGridColors, err)
		}
		if colors == nil && !isNull(nested) {
			return nil, nil, fmt.Errorf("%w: %s is not an object", ErrMalformedPayload, FieldGridColors)
		}
		if v, ok := top[FieldNextPixel]; ok {
			s := displayValue(v)
			next = &s
		}
	}

	keys := make([]string, 0, len(colors))
	for k := range colors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			entries = append(entries, entry{index: -1})
			continue
		}
		color, ok := colorValue(colors[k])
		entries = append(entries, entry{index: idx, color: color, ok: ok})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].index < entries[j].index
	})

	return entries, next, nil
}

// colorValue decodes a JSON string and strips the extra quoting some servers
// leave on stored colors ("\"red\"" -> "red").
func colorValue(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" {
		return "", false
	}
	return s, true
}

// displayValue renders a next-turn value for display: strings unquoted,
// anything else as its JSON text.
func displayValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if isNull(raw) {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// clean drops NUL bytes and surrounding whitespace.
func clean(raw []byte) []byte {
	return bytes.TrimSpace(bytes.ReplaceAll(raw, []byte{0}, nil))
}
