// Package capture consumes the interaction records produced by the capture
// subsystem. The core never captures screens or taps input itself; it reads
// the JSON artifacts the recorder writes and turns them into an ordered
// record stream.
package capture

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp formats the recorder is known to emit, tried in order.
var timestampFormats = []string{
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseTimestamp parses a recorder timestamp leniently across the known
// formats. An unparseable timestamp is a local error, never fatal to
// segmentation.
func ParseTimestamp(ts string) (time.Time, error) {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", ts)
}

// Frame is the bounding rectangle of a recorded UI element.
type Frame struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TargetInfo is the resolved UI element the user acted on.
type TargetInfo struct {
	Name        string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
	Description string `json:"description,omitempty"`
	Value       string `json:"value,omitempty"`
	Frame       *Frame `json:"frame,omitempty"`
}

// AppInfo identifies the owning application.
type AppInfo struct {
	Name     string `json:"name,omitempty"`
	BundleID string `json:"bundle_id,omitempty"`
}

// KeyEvent is one raw keystroke in a text entry record.
type KeyEvent struct {
	KeyCode int   `json:"keycode"`
	Flags   int64 `json:"flags,omitempty"`
}

// InteractionRecord is one observed user action. Immutable once captured;
// owned by the capture subsystem and consumed read-only downstream.
type InteractionRecord struct {
	Kind           string     `json:"kind"` // click, right_click, text_input, shortcut, tick
	Timestamp      string     `json:"timestamp"`
	App            AppInfo    `json:"app"`
	Target         TargetInfo `json:"target"`
	WindowName     string     `json:"window_name,omitempty"`
	X              float64    `json:"x,omitempty"`
	Y              float64    `json:"y,omitempty"`
	Text           string     `json:"text,omitempty"`
	KeyCode        int        `json:"keycode,omitempty"`
	Flags          int64      `json:"flags,omitempty"`
	Key            string     `json:"key,omitempty"`
	Modifiers      []string   `json:"modifiers,omitempty"`
	KeyEvents      []KeyEvent `json:"key_events,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	ScreenshotPath string     `json:"screenshot_path,omitempty"`

	// SourcePath is the capture file this record came from; used by
	// incremental extraction to track what has been processed.
	SourcePath string `json:"-"`
}

// Time returns the parsed timestamp, or the zero time when unparseable.
func (r *InteractionRecord) Time() (time.Time, bool) {
	t, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// captureFile mirrors the JSON layout the recorder writes
// (cap_*.json and friends).
type captureFile struct {
	Timestamp  string `json:"timestamp"`
	UserAction struct {
		Type      string     `json:"type"`
		X         float64    `json:"x"`
		Y         float64    `json:"y"`
		Text      string     `json:"text"`
		KeyCode   int        `json:"keycode"`
		Flags     int64      `json:"flags"`
		Key       string     `json:"key"`
		Modifiers []string   `json:"modifiers"`
		KeyEvents []KeyEvent `json:"key_events"`
	} `json:"user_action"`
	Target struct {
		Name        string `json:"name"`
		Role        string `json:"role"`
		Identifier  string `json:"identifier"`
		Description string `json:"description"`
		Value       string `json:"value"`
		Frame       *Frame `json:"frame"`
	} `json:"target"`
	App    AppInfo `json:"app"`
	Window struct {
		Name string `json:"name"`
	} `json:"window"`
	Mouse struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"mouse"`
	Session struct {
		SessionID string `json:"session_id"`
	} `json:"session"`
	Screenshots struct {
		Full string `json:"full"`
	} `json:"screenshots"`
}

// ParseRecord decodes one capture JSON artifact into an InteractionRecord.
func ParseRecord(data []byte, sourcePath string) (*InteractionRecord, error) {
	var cf captureFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("malformed capture record: %w", err)
	}

	kind := cf.UserAction.Type
	if kind == "" {
		return nil, fmt.Errorf("capture record missing user_action.type")
	}
	if kind == "shortcut" {
		kind = "key_shortcut"
	}

	x, y := cf.Mouse.X, cf.Mouse.Y
	if x == 0 && y == 0 {
		x, y = cf.UserAction.X, cf.UserAction.Y
	}

	return &InteractionRecord{
		Kind:      kind,
		Timestamp: cf.Timestamp,
		App:       cf.App,
		Target: TargetInfo{
			Name:        cf.Target.Name,
			Role:        cf.Target.Role,
			Identifier:  cf.Target.Identifier,
			Description: cf.Target.Description,
			Value:       cf.Target.Value,
			Frame:       cf.Target.Frame,
		},
		WindowName:     cf.Window.Name,
		X:              x,
		Y:              y,
		Text:           cf.UserAction.Text,
		KeyCode:        cf.UserAction.KeyCode,
		Flags:          cf.UserAction.Flags,
		Key:            cf.UserAction.Key,
		Modifiers:      cf.UserAction.Modifiers,
		KeyEvents:      cf.UserAction.KeyEvents,
		SessionID:      cf.Session.SessionID,
		ScreenshotPath: cf.Screenshots.Full,
		SourcePath:     sourcePath,
	}, nil
}
