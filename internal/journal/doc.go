// Package journal records the pixel changes a client observes into a
// PostgreSQL table.
//
// The journal is write-only: it is never read back into the grid. Rows are
// batched in memory and written with COPY, either when a batch fills or on
// the flush interval:
//
//	CREATE TABLE pixel_changes (
//	    id          BIGSERIAL PRIMARY KEY,
//	    received_at TIMESTAMPTZ NOT NULL,
//	    stream      TEXT NOT NULL,      -- endpoint, e.g. "wsGrid"
//	    cell_index  INTEGER NOT NULL,
//	    color       TEXT NOT NULL,
//	    previous    TEXT NOT NULL
//	);
package journal
