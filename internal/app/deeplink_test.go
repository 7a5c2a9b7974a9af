package app

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDeepLink(t *testing.T) {
	tests := []struct {
		query       string
		wantClip    string
		wantChannel string
		selects     bool
		requests    bool
	}{
		{"clip=42&chan=g1", "42", "g1", true, true},
		{"chan=g1", "", "g1", true, false},
		{"clip=42", "42", "", false, false},
		{"clip=%20+42+&chan=+g1", "42", "g1", true, true},
		{"", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			link := ParseDeepLink(q)
			require.Equal(t, tt.wantClip, link.ClipID)
			require.Equal(t, tt.wantChannel, link.Channel)
			require.Equal(t, tt.selects, link.SelectsChannel())
			require.Equal(t, tt.requests, link.RequestsClip())
		})
	}
}

func TestShareLink(t *testing.T) {
	tests := []struct {
		base, id, channel string
		want              string
	}{
		{"https://clips.example/", "42", "g1", "https://clips.example/?clip=42&chan=g1"},
		{"https://clips.example/gallery?clip=1&chan=x#top", "42", "g1", "https://clips.example/gallery?clip=42&chan=g1"},
		{"https://clips.example/", "a b&c", "rocket league", "https://clips.example/?clip=a+b%26c&chan=rocket+league"},
	}
	for _, tt := range tests {
		got, err := ShareLink(tt.base, tt.id, tt.channel)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}

	_, err := ShareLink("://bad", "1", "g1")
	require.Error(t, err)
}

func TestShareLinkRoundTrip(t *testing.T) {
	link, err := ShareLink("https://clips.example/", "id/with?chars", "g 1")
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	got := ParseDeepLink(u.Query())
	require.Equal(t, "id/with?chars", got.ClipID)
	require.Equal(t, "g 1", got.Channel)
}
