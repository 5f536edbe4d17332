package desktop

import (
	"context"
	"fmt"
	"runtime"
)

// Unsupported is the platform layer used when no native bridge is compiled
// in. Accessibility queries answer empty, input actions fail, observation
// fails. The engine degrades honestly: resolution falls through to
// coordinates, steps report INPUT_FAILED, nothing is marked verified.
// Dry runs work in full.
type Unsupported struct{}

var (
	_ Accessibility = Unsupported{}
	_ Input         = Unsupported{}
	_ Observer      = Unsupported{}
)

func (Unsupported) ElementAt(Point) (Element, bool) { return nil, false }
func (Unsupported) AppRoot(string) (Element, bool)  { return nil, false }
func (Unsupported) Click(Point, MouseButton) error  { return errUnsupported() }
func (Unsupported) TypeKey(int, int64) error        { return errUnsupported() }
func (Unsupported) TypeText(string) error           { return errUnsupported() }
func (Unsupported) ActivateApp(string) error        { return errUnsupported() }
func (Unsupported) Observe(context.Context) (State, error) {
	return State{}, errUnsupported()
}

func errUnsupported() error {
	return fmt.Errorf("no desktop bridge available on %s/%s", runtime.GOOS, runtime.GOARCH)
}
