// Package term renders the canvas in a terminal.
package term
