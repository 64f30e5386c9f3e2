package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceKinds maps config names onto CDP resource types.
var resourceKinds = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blockedTypes resolves config names to the set of resource types to fail.
// Unknown names are matched verbatim against the CDP type, lower-cased.
func blockedTypes(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if rt, ok := resourceKinds[n]; ok {
			set[strings.ToLower(string(rt))] = true
			continue
		}
		set[n] = true
	}
	return set
}

// applyResourceBlocking hijacks page requests and fails the blocked types.
// The returned router must be stopped when the page is released.
func applyResourceBlocking(page *rod.Page, names []string) *rod.HijackRouter {
	blocked := blockedTypes(names)

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()

	return router
}
