package app

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseDeepLink reads the clip and chan query parameters.
func ParseDeepLink(q url.Values) DeepLink {
	return DeepLink{
		ClipID:  strings.TrimSpace(q.Get("clip")),
		Channel: strings.TrimSpace(q.Get("chan")),
	}
}

// SelectsChannel reports whether the link names a channel scope.
func (l DeepLink) SelectsChannel() bool {
	return l.Channel != ""
}

// RequestsClip reports whether the link asks for a clip. A clip without a
// channel is ignored.
func (l DeepLink) RequestsClip() bool {
	return l.Channel != "" && l.ClipID != ""
}

// ShareLink returns base without its query and fragment, followed by
// ?clip=<id>&chan=<channel>.
func ShareLink(base, id, channel string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String() + "?clip=" + url.QueryEscape(id) + "&chan=" + url.QueryEscape(channel), nil
}
