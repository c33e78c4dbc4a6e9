package term

import (
	"strconv"
	"strings"
)

// rgb is a 24-bit color.
type rgb struct {
	r, g, b uint8
}

// named holds the CSS color keywords users are likely to type.
var named = map[string]rgb{
	"aqua":    {0, 255, 255},
	"black":   {0, 0, 0},
	"blue":    {0, 0, 255},
	"brown":   {165, 42, 42},
	"coral":   {255, 127, 80},
	"crimson": {220, 20, 60},
	"cyan":    {0, 255, 255},
	"fuchsia": {255, 0, 255},
	"gold":    {255, 215, 0},
	"gray":    {128, 128, 128},
	"green":   {0, 128, 0},
	"grey":    {128, 128, 128},
	"indigo":  {75, 0, 130},
	"lime":    {0, 255, 0},
	"magenta": {255, 0, 255},
	"maroon":  {128, 0, 0},
	"navy":    {0, 0, 128},
	"olive":   {128, 128, 0},
	"orange":  {255, 165, 0},
	"pink":    {255, 192, 203},
	"purple":  {128, 0, 128},
	"red":     {255, 0, 0},
	"salmon":  {250, 128, 114},
	"silver":  {192, 192, 192},
	"teal":    {0, 128, 128},
	"tomato":  {255, 99, 71},
	"violet":  {238, 130, 238},
	"white":   {255, 255, 255},
	"yellow":  {255, 255, 0},
}

// parseColor understands CSS keywords from named, #rgb, #rrggbb and
// rgb(r, g, b).
func parseColor(s string) (rgb, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := named[s]; ok {
		return c, true
	}

	if hex, ok := strings.CutPrefix(s, "#"); ok {
		switch len(hex) {
		case 3:
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		case 6:
		default:
			return rgb{}, false
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return rgb{}, false
		}
		return rgb{uint8(v >> 16), uint8(v >> 8), uint8(v)}, true
	}

	if args, ok := strings.CutPrefix(s, "rgb("); ok {
		args, ok = strings.CutSuffix(args, ")")
		if !ok {
			return rgb{}, false
		}
		parts := strings.Split(args, ",")
		if len(parts) != 3 {
			return rgb{}, false
		}
		var out [3]uint8
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || v < 0 || v > 255 {
				return rgb{}, false
			}
			out[i] = uint8(v)
		}
		return rgb{out[0], out[1], out[2]}, true
	}

	return rgb{}, false
}

// dark reports whether light text reads better on c.
func (c rgb) dark() bool {
	// ITU-R BT.601 luma.
	return 299*int(c.r)+587*int(c.g)+114*int(c.b) < 128000
}
