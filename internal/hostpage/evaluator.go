// Package hostpage holds everything that runs against the host application's
// DOM: anchor location, surface mounting, the list observer hooks, navigation
// watching and the active-context tracker. All DOM access goes through the
// Evaluator boundary so the logic tests without a browser.
package hostpage

import (
	"context"
	"encoding/json"
)

// Evaluator executes a JS function expression in the host page and returns
// its result by value. The browser package provides the Rod-backed
// implementation; tests provide fakes.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)
}
