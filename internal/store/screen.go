package store

import (
	"github.com/termsync/client/internal/errors"
	"github.com/termsync/client/internal/merge"
	"github.com/termsync/client/internal/sdata"
)

// Screen is the long-lived entity for one tab-like container of command
// lines. Screens reference their owning session by id only and live in a
// flat identity-keyed store for O(1) lookup.
type Screen struct {
	data sdata.ScreenData
}

func newScreen(d *sdata.ScreenData) *Screen {
	s := &Screen{}
	s.MergeData(d)
	return s
}

// ScreenId returns the screen identity.
func (s *Screen) ScreenId() string { return s.data.ScreenId }

// SessionId returns the id of the owning session.
func (s *Screen) SessionId() string { return s.data.SessionId }

// Name returns the screen display name.
func (s *Screen) Name() string { return s.data.Name }

// ScreenIdx returns the ordering index within the owning session.
func (s *Screen) ScreenIdx() int64 { return s.data.ScreenIdx }

// CurRemote returns the screen's current remote pointer.
func (s *Screen) CurRemote() sdata.RemotePtr { return s.data.CurRemote }

// SelectedLine returns the selected-line cursor.
func (s *Screen) SelectedLine() int64 { return s.data.SelectedLine }

// Archived reports whether the screen is archived.
func (s *Screen) Archived() bool { return s.data.Archived }

// ViewOpts returns the screen's view options (sidebar state).
func (s *Screen) ViewOpts() sdata.ScreenViewOpts { return s.data.ScreenViewOpts }

// Opts returns the screen's display options.
func (s *Screen) Opts() sdata.ScreenOpts { return s.data.ScreenOpts }

// ShareMode returns the screen's share mode.
func (s *Screen) ShareMode() string { return s.data.ShareMode }

// FocusType returns the focus type ("input", "cmd").
func (s *Screen) FocusType() string { return s.data.FocusType }

// MergeData applies an authoritative screen snapshot. Screen updates are
// always full snapshots, so the data is replaced wholesale. An id mismatch
// is a protocol invariant violation and panics.
func (s *Screen) MergeData(d *sdata.ScreenData) {
	if s.data.ScreenId == "" {
		s.data.ScreenId = d.ScreenId
	}
	if d.ScreenId != s.data.ScreenId {
		panic(errors.IdMismatch("screen", s.data.ScreenId, d.ScreenId))
	}
	s.data = *d
}

// screenSpec is the merge spec for the flat screen map.
var screenSpec = merge.Spec[*Screen, *sdata.ScreenData]{
	ID:      func(s *Screen) string { return s.data.ScreenId },
	DataID:  func(d *sdata.ScreenData) string { return d.ScreenId },
	Removed: func(d *sdata.ScreenData) bool { return d.Remove },
	Make:    newScreen,
	Merge:   func(s *Screen, d *sdata.ScreenData) { s.MergeData(d) },
}
