package tools

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/glimpse-cli/internal/browser/service"
)

// MarkedScreenshotter captures a page with its interactive elements marked.
// *service.Client implements it.
type MarkedScreenshotter interface {
	ScreenshotMarked(ctx context.Context, sessionID string, options map[string]any) (service.MarkedScreenshot, error)
}

// RegisterServiceTools adds the tools that only the browser service can
// serve. Session ids from b must be service session ids.
func RegisterServiceTools(reg *Registry, b Browser, marker MarkedScreenshotter) error {
	st := &serviceTools{browser: b, marker: marker}
	return reg.Register(Definition{
		Name:        "take_marked_screenshot",
		Description: "Take a screenshot with the page's interactive elements highlighted and listed.",
		InputSchema: objectSchema(map[string]any{
			"options": map[string]any{"type": "object", "description": "Marking options passed through to the browser service."},
		}),
	}, st.markedScreenshot)
}

type serviceTools struct {
	browser Browser
	marker  MarkedScreenshotter
}

func markedError(res Result) Result {
	res.Marked = &MarkedRecord{Type: "error", Message: res.Text, Elements: []map[string]any{}}
	return res
}

func (t *serviceTools) markedScreenshot(ctx context.Context, args map[string]any) Result {
	var options map[string]any
	switch v := args["options"].(type) {
	case nil:
	case map[string]any:
		options = v
	default:
		return markedError(Fail("argument %q must be an object", "options"))
	}

	s, err := t.browser.Status(ctx)
	if err != nil {
		return markedError(failure("capture marked screenshot", err))
	}
	if s == nil {
		return markedError(Fail(noSessionText))
	}

	shot, err := t.marker.ScreenshotMarked(ctx, s.ID, options)
	if err != nil {
		return markedError(failure("capture marked screenshot", err))
	}
	msg := "📸 Marked screenshot captured with interactive elements highlighted."
	image := shot.Image
	return Result{
		Success: true,
		Text:    fmt.Sprintf("%s (%d elements)", msg, len(shot.Elements)),
		Marked: &MarkedRecord{
			Type:      "marked_screenshot",
			Message:   msg,
			Image:     &image,
			Elements:  shot.Elements,
			SessionID: shot.SessionID,
			Timestamp: shot.Timestamp,
		},
	}
}
