package browser

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests of the listed resource types. The returned
// router must be stopped when the tab closes.
func blockResources(page *rod.Page, types []string) (*rod.HijackRouter, error) {
	blocked := make(map[proto.NetworkResourceType]bool, len(types))
	for _, t := range types {
		rt, ok := resourceType(t)
		if !ok {
			return nil, fmt.Errorf("browser: unknown resource type %q", t)
		}
		blocked[rt] = true
	}

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, fmt.Errorf("browser: hijack: %w", err)
	}
	go router.Run()
	return router, nil
}

func resourceType(name string) (proto.NetworkResourceType, bool) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "s") {
	case "image":
		return proto.NetworkResourceTypeImage, true
	case "font":
		return proto.NetworkResourceTypeFont, true
	case "media":
		return proto.NetworkResourceTypeMedia, true
	case "stylesheet":
		return proto.NetworkResourceTypeStylesheet, true
	}
	return "", false
}
