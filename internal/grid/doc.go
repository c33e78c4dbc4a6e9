// Package grid keeps a rendered color grid in agreement with the snapshots
// pushed by the canvas server.
//
// Snapshots are applied as sparse diffs: only the cells named in a payload
// are touched. Two payload shapes are accepted:
//
//	{"grid_cores": {"0": "blue", "7": "green"}, "proximo_pixel": 8}
//	{"0": "blue", "7": "\"green\""}
//
// Indices outside the grid and values that are not strings are skipped. A
// payload that does not decode to a JSON object is rejected whole.
package grid
