package recording

import "github.com/dkeye/Huddle/internal/domain"

// Preset is a validated quality profile for server-side recording.
type Preset struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	BitrateK  int    `json:"bitrate_kbps"`
	FrameRate int    `json:"frame_rate"`
}

var presets = map[string]Preset{
	"low":    {Name: "low", Width: 640, Height: 360, BitrateK: 800, FrameRate: 15},
	"medium": {Name: "medium", Width: 1280, Height: 720, BitrateK: 2500, FrameRate: 30},
	"high":   {Name: "high", Width: 1920, Height: 1080, BitrateK: 5000, FrameRate: 30},
	"hd":     {Name: "hd", Width: 2560, Height: 1440, BitrateK: 8000, FrameRate: 60},
}

// formats maps container -> presets it supports. mkv is reserved for the
// high-bitrate profiles.
var formats = map[string]map[string]bool{
	"webm": {"low": true, "medium": true, "high": true, "hd": true},
	"mp4":  {"low": true, "medium": true, "high": true, "hd": true},
	"mkv":  {"high": true, "hd": true},
}

// ValidateCombo checks preset and format individually, then the pairing,
// returning field-level detail for each failure mode.
func ValidateCombo(preset, format string) (Preset, error) {
	p, ok := presets[preset]
	if !ok {
		return Preset{}, domain.Errorf(domain.ErrValidation, "unknown quality preset %q", preset)
	}
	supported, ok := formats[format]
	if !ok {
		return Preset{}, domain.Errorf(domain.ErrValidation, "unknown format %q", format)
	}
	if !supported[preset] {
		return Preset{}, domain.Errorf(domain.ErrValidation, "format %q does not support preset %q", format, preset)
	}
	return p, nil
}
