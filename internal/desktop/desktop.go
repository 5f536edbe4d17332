// Package desktop defines the contracts the core consumes from the
// platform layer: accessibility-tree queries, physical input, and desktop
// state observation. The core depends only on these read/act contracts and
// never touches platform APIs directly.
package desktop

import "context"

// Point is a screen coordinate.
type Point struct {
	X float64
	Y float64
}

// Frame is an element's bounding rectangle.
type Frame struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the midpoint of the frame, the preferred click target.
func (f Frame) Center() Point {
	return Point{X: f.X + f.Width/2, Y: f.Y + f.Height/2}
}

// Element is one node of the platform accessibility tree. Attribute
// accessors return "" when the attribute is absent.
type Element interface {
	Role() string
	Title() string
	Value() string
	Description() string
	Identifier() string
	Frame() (Frame, bool)
	Children() []Element
}

// Accessibility is the platform query primitive: element under a screen
// point, and the traversable root of an application's element tree.
type Accessibility interface {
	ElementAt(point Point) (Element, bool)
	AppRoot(bundleID string) (Element, bool)
}

// MouseButton selects which button a click uses.
type MouseButton int

const (
	LeftButton MouseButton = iota
	RightButton
)

// Input performs physical input actions. Fire-and-forget: nothing beyond
// the call's own success or failure is trusted.
type Input interface {
	Click(point Point, button MouseButton) error
	TypeKey(keycode int, flags int64) error
	TypeText(text string) error
	ActivateApp(bundleID string) error
}

// State is one observation of the desktop: the frontmost application and a
// screenshot artifact reference.
type State struct {
	AppName        string
	BundleID       string
	WindowTitle    string
	ScreenshotPath string
}

// Observer captures the current desktop state. Supplied by the capture
// subsystem; the core never grabs screens itself.
type Observer interface {
	Observe(ctx context.Context) (State, error)
}
