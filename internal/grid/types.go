package grid

import "errors"

// Wire field names of the nested snapshot shape.
const (
	FieldGridColors = "grid_cores"
	FieldNextPixel  = "proximo_pixel"
)

// ErrMalformedPayload is wrapped by ApplySnapshot when a payload cannot be
// decoded. The grid is left untouched.
var ErrMalformedPayload = errors.New("malformed snapshot payload")

// Handle is whatever a Renderer uses to address a cell it created.
type Handle any

// Renderer is the drawing target of a Reconciler.
type Renderer interface {
	// CreateCell creates the cell for index. Called for every index, in
	// order, on Initialize.
	CreateCell(index int) Handle

	// SetCellColor paints a cell previously returned by CreateCell.
	SetCellColor(h Handle, color string)
}

// Resetter is implemented by renderers that must discard their cells before
// a new grid is built.
type Resetter interface {
	Reset(cellCount int)
}

// Flusher is implemented by renderers that batch drawing; Flush is called
// once after each snapshot that changed at least one cell.
type Flusher interface {
	Flush()
}

// Indicator displays the next-turn value sent with a snapshot.
type Indicator interface {
	ShowNextTurn(value string)
}

// ChangeSink receives the cells changed by each snapshot.
type ChangeSink interface {
	Record(changes []CellChange)
}

// CellChange is one cell whose color was changed by a snapshot.
type CellChange struct {
	Index    int
	Color    string
	Previous string
}

// Update summarizes one applied snapshot.
type Update struct {
	Changes     []CellChange // Cells whose color changed, ascending index
	Unchanged   int          // In-range cells already holding the sent color
	Skipped     int          // Entries ignored: bad index, out of range, bad value
	NextTurn    string       // Display value of proximo_pixel
	HasNextTurn bool         // Whether the payload carried proximo_pixel
}
