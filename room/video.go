package room

import (
	"strings"
	"time"
)

// VideoKind discriminates the two Video forms.
type VideoKind int

const (
	VideoKindFile VideoKind = iota
	VideoKindURL
)

// Video is either a filename to resolve against the local file index, or a
// directly playable URL. Equality is on the string form only.
type Video struct {
	Kind  VideoKind
	Value string // filename (VideoKindFile) or URL (VideoKindURL)
}

// File constructs a filename-backed Video.
func File(name string) Video { return Video{Kind: VideoKindFile, Value: name} }

// URL constructs a URL-backed Video.
func URL(u string) Video { return Video{Kind: VideoKindURL, Value: u} }

// Parse classifies a wire-level "filename" string into the right Video
// kind; the wire schema has a single filename field for both local files
// and remote URLs.
func Parse(s string) Video {
	if strings.Contains(s, "://") {
		return URL(s)
	}
	return File(s)
}

// Equal compares two videos by their string value; Kind is not compared.
func (v Video) Equal(other Video) bool {
	return v.Value == other.Value
}

// IsZero reports whether v is the zero Video (no selection).
func (v Video) IsZero() bool {
	return v.Kind == VideoKindFile && v.Value == ""
}

// Selection is the currently playing item and the last authoritative
// playback offset. Video is optional: a zero Selection means nothing is
// currently selected.
type Selection struct {
	HasVideo bool
	Video    Video
	Position time.Duration
	Actor    string
}
