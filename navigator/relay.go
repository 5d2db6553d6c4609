package navigator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/pagenav/relay"
	"github.com/hazyhaar/pagenav/settings"
)

// SettingsStore persists settings. *settings.Store implements it.
type SettingsStore interface {
	Read(ctx context.Context) (settings.Settings, error)
	Update(ctx context.Context, p settings.Patch) (settings.Settings, error)
}

// CacheInfo is the cache part of a status reply.
type CacheInfo struct {
	HasNext     bool  `json:"hasNext"`
	HasPrevious bool  `json:"hasPrevious"`
	Age         int64 `json:"age"` // milliseconds
}

// StatusReply is the getStatus payload.
type StatusReply struct {
	Enabled        bool      `json:"enabled"`
	VisualFeedback bool      `json:"visualFeedback"`
	CacheInfo      CacheInfo `json:"cacheInfo"`
	Watcher        string    `json:"watcher"`
}

type ackReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RegisterRelay binds the engine's actions on rt. store may be nil, in
// which case settings changes only live in the engine.
func (e *Engine) RegisterRelay(rt *relay.Router, store SettingsStore) {
	rt.Register("getSettings", func(ctx context.Context, _ json.RawMessage) (any, error) {
		if store == nil {
			return e.Settings(), nil
		}
		return store.Read(ctx)
	})

	rt.Register("updateSettings", func(ctx context.Context, req json.RawMessage) (any, error) {
		var msg struct {
			Settings settings.Patch `json:"settings"`
		}
		if err := relay.Decode(req, &msg); err != nil {
			return nil, err
		}
		if err := e.applyPatch(ctx, store, msg.Settings); err != nil {
			return ackReply{Error: err.Error()}, nil
		}
		return ackReply{Success: true}, nil
	})

	rt.Register("toggleEnabled", func(ctx context.Context, _ json.RawMessage) (any, error) {
		enabled := !e.Settings().Enabled
		if err := e.applyPatch(ctx, store, settings.Patch{Enabled: &enabled}); err != nil {
			return nil, err
		}
		return map[string]bool{"enabled": enabled}, nil
	})

	rt.Register("getStatus", func(context.Context, json.RawMessage) (any, error) {
		st := e.Status()
		return StatusReply{
			Enabled:        st.Enabled,
			VisualFeedback: st.VisualFeedback,
			CacheInfo: CacheInfo{
				HasNext:     st.HasNext,
				HasPrevious: st.HasPrevious,
				Age:         st.CacheAgeMillis,
			},
			Watcher: st.Watcher,
		}, nil
	})

	rt.Register("clearCache", func(context.Context, json.RawMessage) (any, error) {
		e.ClearCache()
		return ackReply{Success: true}, nil
	})

	rt.Register("reportError", func(_ context.Context, req json.RawMessage) (any, error) {
		var msg struct {
			Error string `json:"error"`
		}
		if err := relay.Decode(req, &msg); err != nil {
			return nil, err
		}
		e.logger.Error("navigator: client reported error", "error", msg.Error)
		return map[string]bool{"received": true}, nil
	})

	rt.Register("resolveNext", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return e.ResolveNext(ctx)
	})
	rt.Register("resolvePrevious", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return e.ResolvePrevious(ctx)
	})
}

// applyPatch persists p when a store is present and hands the merged
// settings to the engine.
func (e *Engine) applyPatch(ctx context.Context, store SettingsStore, p settings.Patch) error {
	if store == nil {
		e.UpdateSettings(p.Apply(e.Settings()))
		return nil
	}
	s, err := store.Update(ctx, p)
	if err != nil {
		return fmt.Errorf("navigator: update settings: %w", err)
	}
	e.UpdateSettings(s)
	return nil
}
