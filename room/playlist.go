package room

// Playlist is an ordered sequence of Video with set semantics on insertion:
// inserting a Video already present is a no-op and the existing position is
// preserved.
type Playlist struct {
	items []Video
}

// NewPlaylist builds a Playlist from an ordered slice, applying set
// semantics (a later duplicate is dropped, the first occurrence wins).
func NewPlaylist(videos ...Video) *Playlist {
	p := &Playlist{}
	for _, v := range videos {
		p.Insert(v)
	}
	return p
}

// Insert appends v unless an equal Video is already present.
func (p *Playlist) Insert(v Video) {
	if p.Contains(v) {
		return
	}
	p.items = append(p.items, v)
}

// Contains reports whether v (by Equal) is already in the playlist.
func (p *Playlist) Contains(v Video) bool {
	for _, existing := range p.items {
		if existing.Equal(v) {
			return true
		}
	}
	return false
}

// IndexOf returns the position of v, or -1 if absent.
func (p *Playlist) IndexOf(v Video) int {
	for i, existing := range p.items {
		if existing.Equal(v) {
			return i
		}
	}
	return -1
}

// Items returns the playlist contents in order. Callers must not mutate the
// returned slice.
func (p *Playlist) Items() []Video {
	return p.items
}

// Len returns the number of videos in the playlist.
func (p *Playlist) Len() int {
	return len(p.items)
}

// At returns the video at index i, clamped to the last valid index if i is
// out of range and the playlist is non-empty.
func (p *Playlist) At(i int) Video {
	if i < 0 {
		i = 0
	}
	if i >= len(p.items) {
		i = len(p.items) - 1
	}
	return p.items[i]
}

// SelectNextResult is the outcome of running the select-next rule over a
// playlist transition.
type SelectNextResult struct {
	// Changed is false when the current selection survives unmodified.
	Changed bool
	Video   Video
}

// SelectNext is the deterministic rule the host runs whenever it adopts a
// new playlist while a selection is active: a playlist that grew, or one
// that still contains the selected video, changes nothing; a shrinking
// playlist that dropped the selected video moves the selection to the first
// surviving entry that came after it, or to the last entry if none did.
func SelectNext(oldPlaylist, newPlaylist *Playlist, current Selection) SelectNextResult {
	if newPlaylist.Len() >= oldPlaylist.Len() {
		return SelectNextResult{Changed: false}
	}
	if current.HasVideo && newPlaylist.Contains(current.Video) {
		return SelectNextResult{Changed: false}
	}

	pos := 0
	for _, old := range oldPlaylist.Items() {
		if current.HasVideo && old.Equal(current.Video) {
			break
		}
		if pos < newPlaylist.Len() && old.Equal(newPlaylist.At(pos)) {
			pos++
		}
	}
	if newPlaylist.Len() == 0 {
		return SelectNextResult{Changed: true, Video: Video{}}
	}
	if pos >= newPlaylist.Len() {
		pos = newPlaylist.Len() - 1
	}
	return SelectNextResult{Changed: true, Video: newPlaylist.At(pos)}
}
