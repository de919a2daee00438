package linking

import (
	"net/url"
	"strconv"
	"time"
)

// State is the payload carried round-trip through the provider's redirect.
// It only correlates the callback with the flow that issued it; the flow is
// re-validated server side on return, so a forged state buys nothing.
type State struct {
	LinkingCode string
	Timestamp   time.Time
}

// EncodeState serializes a state payload as a URL-form-encoded string:
// linkingCode=<code>&timestamp=<epoch-ms>.
func EncodeState(linkingCode string, now time.Time) string {
	v := url.Values{}
	v.Set("linkingCode", linkingCode)
	v.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	return v.Encode()
}

// DecodeState parses a round-tripped state payload. Any malformed input
// yields ErrInvalidState.
func DecodeState(raw string) (*State, error) {
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return nil, ErrInvalidState
	}

	code := vals.Get("linkingCode")
	ts := vals.Get("timestamp")
	if code == "" || ts == "" {
		return nil, ErrInvalidState
	}

	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrInvalidState
	}

	return &State{LinkingCode: code, Timestamp: time.UnixMilli(ms)}, nil
}
