package app

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	digitRe    = regexp.MustCompile(`\d`)
	titleCaser = cases.Title(language.English, cases.NoLower)
)

const deletedUser = "Deleted User#0000"

// TimestampUnit is the epoch unit a feed declares for its timestamps.
type TimestampUnit string

const (
	UnitSeconds      TimestampUnit = "seconds"
	UnitMilliseconds TimestampUnit = "milliseconds"
)

// Valid reports whether u is a known unit.
func (u TimestampUnit) Valid() bool {
	return u == UnitSeconds || u == UnitMilliseconds
}

// EpochToTime converts an epoch value in unit to UTC. Zero stays the zero
// time.
func EpochToTime(v float64, unit TimestampUnit) time.Time {
	if v == 0 {
		return time.Time{}
	}
	if unit == UnitMilliseconds {
		return time.UnixMilli(int64(math.Round(v))).UTC()
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// FormatTitle derives a display title from a raw clip filename.
func FormatTitle(filename string) string {
	out := strings.Replace(filename, ".DVR_-_Trim", "", 1)
	out = strings.Replace(out, "DVR", "", 1)
	out = strings.Replace(out, "_-_Made_with_Clipchamp", "", 1)
	out = strings.ReplaceAll(out, "_", " ")
	out = strings.ReplaceAll(out, ".", "")
	out = strings.ReplaceAll(out, "-", "")
	out = digitRe.ReplaceAllString(out, "")
	out = capitalizeFirst(out)
	if utf8.RuneCountInString(out) > 1 {
		return out
	}
	return "No Title"
}

// PlayerTitle is the title shown in the player: lower-cased, without the
// .mp4 extension, underscores as spaces, words capitalized.
func PlayerTitle(filename string) string {
	out := strings.ToLower(filename)
	out = strings.Replace(out, ".mp4", "", 1)
	out = strings.ReplaceAll(out, "_", " ")
	return titleCaser.String(out)
}

// FormatUsername strips underscores from a poster identity and capitalizes it.
func FormatUsername(poster string) string {
	if poster == "" {
		return poster
	}
	if strings.Contains(poster, deletedUser) {
		return "Arshy"
	}
	return capitalizeFirst(strings.ReplaceAll(poster, "_", ""))
}

// FormatChannelName returns the url slug of a channel name.
func FormatChannelName(name string) string {
	if name == ChannelAll {
		return ChannelAll
	}
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// FormatDuration renders seconds as M:SS, or HH:MM:SS past an hour. Zero
// renders as the empty string.
func FormatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	hours := int(seconds / 3600)
	minutes := int(math.Mod(seconds, 3600) / 60)
	rest := int(math.Round(math.Mod(seconds, 60)))
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, rest)
	}
	return fmt.Sprintf("%d:%02d", minutes, rest)
}

// FormatDate renders t as "Jan 2, 2006", or "Unknown Date" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "Unknown Date"
	}
	return t.Format("Jan 2, 2006")
}

// RelativeDate renders t relative to now, e.g. "3 days ago".
func RelativeDate(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// PosterColor hashes a poster identity to a stable hex colour.
func PosterColor(poster string) string {
	var hash int64
	for _, unit := range utf16.Encode([]rune(poster)) {
		hash = int64(int32(hash)<<5) - hash + int64(unit)
	}
	hue := abs64(hash % 360)
	sat := 80 + abs64(hash%10)
	light := 55 + abs64(hash%15)
	return hslToHex(float64(hue), float64(sat), float64(light))
}

func hslToHex(h, s, l float64) string {
	l /= 100
	a := s * math.Min(l, 1-l) / 100
	f := func(n float64) int {
		k := math.Mod(n+h/30, 12)
		color := l - a*math.Max(-1, math.Min(math.Min(k-3, 9-k), 1))
		return int(math.Round(255 * color))
	}
	return fmt.Sprintf("#%02x%02x%02x", f(0), f(8), f(4))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
