package browser

import (
	"fmt"
	"strings"
	"time"
)

// BlankPage is the launch target that skips the initial navigation.
const BlankPage = "about:blank"

// DefaultScrollAmount is the number of wheel steps used when a caller passes zero.
const DefaultScrollAmount = 3

// Session describes the one live browser instance owned by a Manager.
type Session struct {
	ID        string    `json:"sessionId"`
	PID       int       `json:"pid,omitempty"`
	URL       string    `json:"currentUrl"`
	Backend   string    `json:"backend"`
	CreatedAt time.Time `json:"createdAt"`
}

// Direction is a vertical scroll direction.
type Direction string

const (
	ScrollUp   Direction = "up"
	ScrollDown Direction = "down"
)

// ParseDirection accepts "up" or "down", case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case ScrollUp, ScrollDown:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// PageSettings is applied to the page right after the browser starts.
type PageSettings struct {
	Width     int
	Height    int
	Locale    string
	Timezone  string
	UserAgent string
}

// AcceptLanguage derives an Accept-Language header value from a locale such as "en-US".
func (p PageSettings) AcceptLanguage() string {
	locale := p.Locale
	if locale == "" {
		locale = "en-US"
	}
	base, _, found := strings.Cut(locale, "-")
	if !found || base == "" {
		return locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", locale, base)
}
