package store

import (
	"github.com/termsync/client/internal/errors"
	"github.com/termsync/client/internal/merge"
	"github.com/termsync/client/internal/sdata"
)

// Session is the long-lived entity for one workspace session. It holds the
// last authoritative snapshot plus the per-screen remote instance bindings,
// which merge incrementally and survive partial session updates.
type Session struct {
	data            sdata.SessionData
	remoteInstances []*sdata.RemoteInstance
}

func newSession(d *sdata.SessionData) *Session {
	s := &Session{}
	s.MergeData(d)
	return s
}

// SessionId returns the session identity.
func (s *Session) SessionId() string { return s.data.SessionId }

// Name returns the session display name.
func (s *Session) Name() string { return s.data.Name }

// SessionIdx returns the ordering index assigned by the host.
func (s *Session) SessionIdx() int64 { return s.data.SessionIdx }

// ActiveScreenId returns the id of the session's active screen.
func (s *Session) ActiveScreenId() string { return s.data.ActiveScreenId }

// Archived reports whether the session is archived.
func (s *Session) Archived() bool { return s.data.Archived }

// NotifyNum returns the pending notification count.
func (s *Session) NotifyNum() int64 { return s.data.NotifyNum }

// RemoteInstances returns the session's remote instance bindings.
func (s *Session) RemoteInstances() []*sdata.RemoteInstance { return s.remoteInstances }

// GetRemoteInstance looks up a binding by (screen, remote ptr) identity.
func (s *Session) GetRemoteInstance(screenId string, rptr sdata.RemotePtr) *sdata.RemoteInstance {
	for _, ri := range s.remoteInstances {
		if ri.ScreenId == screenId && ri.RemoteOwnerId == rptr.OwnerId &&
			ri.RemoteId == rptr.RemoteId && ri.Name == rptr.Name {
			return ri
		}
	}
	return nil
}

// sortKey orders sessions by index, falling back to id for stability.
func (s *Session) sortKey() string {
	return sdata.PadTs(s.data.SessionIdx) + ":" + s.data.SessionId
}

// MergeData applies an authoritative session update. An id mismatch is a
// protocol invariant violation and panics.
//
// The host sends two shapes of session update: full snapshots (which always
// carry the name) and remote-instance-only updates (which carry just the id
// and a remotes list). Scalar fields are only replaced for full snapshots;
// remote instances merge incrementally in both cases.
func (s *Session) MergeData(d *sdata.SessionData) {
	if s.data.SessionId == "" {
		s.data.SessionId = d.SessionId
	}
	if d.SessionId != s.data.SessionId {
		panic(errors.IdMismatch("session", s.data.SessionId, d.SessionId))
	}
	if d.Name != "" {
		remotes := s.data.Remotes
		s.data = *d
		s.data.Remotes = remotes
	} else {
		if d.ActiveScreenId != "" {
			s.data.ActiveScreenId = d.ActiveScreenId
		}
		if d.NotifyNum != 0 {
			s.data.NotifyNum = d.NotifyNum
		}
	}
	if len(d.Remotes) > 0 {
		s.remoteInstances, _ = merge.Simple(s.remoteInstances, d.Remotes,
			func(ri *sdata.RemoteInstance) string { return ri.RIId },
			nil,
			func(ri *sdata.RemoteInstance) bool { return ri.Remove })
	}
}

// sessionSpec is the merge spec for the ordered session collection.
var sessionSpec = merge.Spec[*Session, *sdata.SessionData]{
	ID:      func(s *Session) string { return s.data.SessionId },
	DataID:  func(d *sdata.SessionData) string { return d.SessionId },
	Removed: func(d *sdata.SessionData) bool { return d.Remove },
	Make:    newSession,
	Merge:   func(s *Session, d *sdata.SessionData) { s.MergeData(d) },
	SortKey: func(s *Session) string { return s.sortKey() },
}
