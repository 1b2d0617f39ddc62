package recovery

import (
	"context"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// Context carries the resources a handler may act on, keyed by resource name.
type Context map[string]any

// Has reports whether the named resource is present and non-empty.
func (c Context) Has(name string) bool {
	v, ok := c[name]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case bool:
		return t
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// Handler applies one strategy. A false result is a failure; an error is a
// fault in the handler itself.
type Handler interface {
	Apply(ctx context.Context, action models.RecoveryAction, rc Context) (bool, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, action models.RecoveryAction, rc Context) (bool, error)

// Apply implements Handler.
func (f HandlerFunc) Apply(ctx context.Context, action models.RecoveryAction, rc Context) (bool, error) {
	return f(ctx, action, rc)
}

// RequireResources succeeds when every resource the action names is present.
var RequireResources = HandlerFunc(func(_ context.Context, action models.RecoveryAction, rc Context) (bool, error) {
	for _, name := range action.RequiredResources {
		if !rc.Has(name) {
			return false, nil
		}
	}
	return true, nil
})

// ManualIntervention always succeeds; the work happens outside this process.
var ManualIntervention = HandlerFunc(func(context.Context, models.RecoveryAction, Context) (bool, error) {
	return true, nil
})

func defaultHandlers() map[models.Strategy]Handler {
	return map[models.Strategy]Handler{
		models.StrategyRollback:           RequireResources,
		models.StrategyIncrementalFix:     RequireResources,
		models.StrategyRevalidation:       RequireResources,
		models.StrategyManualIntervention: ManualIntervention,
	}
}
