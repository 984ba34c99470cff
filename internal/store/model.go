// Package store holds the client's long-lived entity stores: the Model owns
// identity-keyed collections of sessions, screens, per-screen line caches
// and remote state, and exposes the merge contract the update engine drives.
//
// All cross-entity references are ids resolved through the Model's lookup
// methods, never raw pointers, so nothing dangles after an eviction. One
// Model exists per client process; the process that builds it passes it to
// collaborators explicitly.
package store

import (
	"log"
	"sync"

	"github.com/termsync/client/internal/merge"
	"github.com/termsync/client/internal/sdata"
)

// Counters tracks benign drop events. Missing-target updates are expected
// races with concurrent deletion and never errors, but they are counted so
// a real desync shows up in diagnostics instead of vanishing.
type Counters struct {
	DroppedLineUpdates int64
	DroppedCmdUpdates  int64
	DroppedPtyUpdates  int64
}

// Model is the root of all client-side authoritative state.
type Model struct {
	mu sync.Mutex

	clientData *sdata.ClientData

	sessions    []*Session
	screens     map[string]*Screen
	screenLines map[string]*ScreenLines
	remotes     []*sdata.RemoteState

	statusIndicators map[string]string
	numRunningCmds   map[string]int
	bookmarks        []*sdata.BookmarkData

	// ActiveSessionId is the id of the currently selected session.
	ActiveSessionId *Atom[string]

	// SessionListLoaded flips true after the first connect resync.
	SessionListLoaded *Atom[bool]

	// RemotesLoaded flips true after the first connect resync, even when
	// the host reports zero remotes.
	RemotesLoaded *Atom[bool]

	// MainView is the current top-level view ("session", "history", ...).
	MainView *Atom[string]

	// InfoMsg is the transient flashed message, nil when cleared.
	InfoMsg *Atom[*sdata.InfoMsg]

	// AlertMessage is the pending modal alert, nil when none.
	AlertMessage *Atom[*sdata.AlertMessage]

	// HistoryInfo is the latest history search result, nil when none.
	HistoryInfo *Atom[*sdata.HistoryInfo]

	// RemoteView is the pending remote-centric view request, nil when none.
	RemoteView *Atom[*sdata.RemoteView]

	// OnCmdDone is invoked (outside entity merging, same pass) when a
	// command transitions running → not-running. Used to finalize the
	// command's terminal buffer. May be nil.
	OnCmdDone func(screenId, lineId string)

	counters Counters
	debug    bool
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		screens:          make(map[string]*Screen),
		screenLines:      make(map[string]*ScreenLines),
		statusIndicators: make(map[string]string),
		numRunningCmds:   make(map[string]int),

		ActiveSessionId:   NewAtom(""),
		SessionListLoaded: NewAtom(false),
		RemotesLoaded:     NewAtom(false),
		MainView:          NewAtom(sdata.MainViewSession),
		InfoMsg:           NewAtom[*sdata.InfoMsg](nil),
		AlertMessage:      NewAtom[*sdata.AlertMessage](nil),
		HistoryInfo:       NewAtom[*sdata.HistoryInfo](nil),
		RemoteView:        NewAtom[*sdata.RemoteView](nil),
	}
}

// SetDebug enables debug logging of benign drops.
func (m *Model) SetDebug(debug bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debug = debug
}

// Lock acquires the model's action boundary. The update engine holds it for
// a whole merge pass so observers never read partial intermediate state.
func (m *Model) Lock() { m.mu.Lock() }

// Unlock releases the action boundary.
func (m *Model) Unlock() { m.mu.Unlock() }

// SetClientData stores the bootstrap client data. Caller must hold the lock.
func (m *Model) SetClientData(cd *sdata.ClientData) {
	m.clientData = cd
}

// ClientData returns the current client data (may be nil before bootstrap).
func (m *Model) ClientData() *sdata.ClientData {
	return m.clientData
}

// GetSession looks up a session by id. Caller must hold the lock.
func (m *Model) GetSession(sessionId string) *Session {
	for _, s := range m.sessions {
		if s.SessionId() == sessionId {
			return s
		}
	}
	return nil
}

// Sessions returns the ordered session collection. Caller must hold the lock.
func (m *Model) Sessions() []*Session { return m.sessions }

// GetScreen looks up a screen by id. Caller must hold the lock.
func (m *Model) GetScreen(screenId string) *Screen {
	return m.screens[screenId]
}

// SessionScreens returns the screens owned by a session, unordered map scan.
func (m *Model) SessionScreens(sessionId string) []*Screen {
	var ret []*Screen
	for _, s := range m.screens {
		if s.SessionId() == sessionId {
			ret = append(ret, s)
		}
	}
	return ret
}

// GetScreenLines returns the line cache for a screen, or nil if not resident.
func (m *Model) GetScreenLines(screenId string) *ScreenLines {
	return m.screenLines[screenId]
}

// Remotes returns the ordered remote state collection.
func (m *Model) Remotes() []*sdata.RemoteState { return m.remotes }

// GetRemote looks up remote state by id.
func (m *Model) GetRemote(remoteId string) *sdata.RemoteState {
	for _, r := range m.remotes {
		if r.RemoteId == remoteId {
			return r
		}
	}
	return nil
}

// Bookmarks returns the current bookmark list.
func (m *Model) Bookmarks() []*sdata.BookmarkData { return m.bookmarks }

// SetBookmarks replaces the bookmark list.
func (m *Model) SetBookmarks(bms []*sdata.BookmarkData) { m.bookmarks = bms }

// StatusIndicator returns the attention level for a screen ("" when unset).
func (m *Model) StatusIndicator(screenId string) string {
	return m.statusIndicators[screenId]
}

// SetStatusIndicator records the attention level for a screen.
func (m *Model) SetStatusIndicator(screenId, status string) {
	m.statusIndicators[screenId] = status
}

// NumRunningCmds returns the running-command count for a screen.
func (m *Model) NumRunningCmds(screenId string) int {
	return m.numRunningCmds[screenId]
}

// SetNumRunningCmds records the running-command count for a screen.
func (m *Model) SetNumRunningCmds(screenId string, num int) {
	m.numRunningCmds[screenId] = num
}

// ActivePair returns the current (active session id, active screen id).
// The screen id is empty when no session is active or the session has no
// active screen. Caller must hold the lock.
func (m *Model) ActivePair() (sessionId, screenId string) {
	sessionId = m.ActiveSessionId.Get()
	if sessionId == "" {
		return "", ""
	}
	sess := m.GetSession(sessionId)
	if sess == nil {
		return sessionId, ""
	}
	return sessionId, sess.ActiveScreenId()
}

// MergeSessions reconciles incoming session snapshots. In full-replace mode
// (connect resync) sessions absent from the incoming list are removed.
func (m *Model) MergeSessions(incoming []*sdata.SessionData, fullReplace bool) map[string]bool {
	var removed map[string]bool
	m.sessions, removed = merge.List(m.sessions, incoming, sessionSpec, fullReplace)
	return removed
}

// MergeScreens reconciles incoming screen snapshots and cascades removal:
// a removed screen's line cache, status indicator and running-command count
// are evicted with it.
func (m *Model) MergeScreens(incoming []*sdata.ScreenData, fullReplace bool) map[string]bool {
	removed := merge.Map(m.screens, incoming, screenSpec, fullReplace)
	for screenId := range removed {
		delete(m.screenLines, screenId)
		delete(m.statusIndicators, screenId)
		delete(m.numRunningCmds, screenId)
	}
	return removed
}

// MergeRemotes reconciles incoming remote state. Remote state objects have
// no merge method; they are replaced wholesale, ordered by remote index.
func (m *Model) MergeRemotes(incoming []*sdata.RemoteState, fullReplace bool) {
	if fullReplace {
		m.remotes = nil
	}
	m.remotes, _ = merge.Simple(m.remotes, incoming,
		func(r *sdata.RemoteState) string { return r.RemoteId },
		func(r *sdata.RemoteState) string { return r.SortKey() },
		func(r *sdata.RemoteState) bool { return r.Remove })
}

// LoadScreenLines installs a full screen-lines snapshot, creating the cache
// entry if needed. This is the only operation that marks a cache loaded.
func (m *Model) LoadScreenLines(d *sdata.ScreenLinesData) {
	sl := m.screenLines[d.ScreenId]
	if sl == nil {
		sl = newScreenLines(d.ScreenId)
		m.screenLines[d.ScreenId] = sl
	}
	sl.Load(d)
}

// AddLineCmd routes a line+cmd update to the owning screen's line cache.
// Updates for screens with no resident cache are dropped silently: the
// screen may have been concurrently removed, and the next full load or
// resync supersedes the update.
func (m *Model) AddLineCmd(line *sdata.LineData, cmd *sdata.CmdData) {
	sl := m.screenLines[line.ScreenId]
	if sl == nil {
		m.counters.DroppedLineUpdates++
		if m.debug {
			log.Printf("store: dropping line update for unknown screen %s", line.ScreenId)
		}
		return
	}
	if sl.AddLineCmd(line, cmd) {
		m.notifyCmdDone(line.ScreenId, line.LineId)
	}
}

// UpdateCmd routes a bare command update to the owning screen's line cache.
// Missing screens or lines are benign races and dropped silently.
func (m *Model) UpdateCmd(cmd *sdata.CmdData) {
	sl := m.screenLines[cmd.ScreenId]
	if sl == nil {
		m.counters.DroppedCmdUpdates++
		if m.debug {
			log.Printf("store: dropping cmd update for unknown screen %s", cmd.ScreenId)
		}
		return
	}
	done, ok := sl.UpdateCmd(cmd)
	if !ok {
		m.counters.DroppedCmdUpdates++
		if m.debug {
			log.Printf("store: dropping cmd update for unknown line %s", sdata.CmdMapKey(cmd.ScreenId, cmd.LineId))
		}
		return
	}
	if done {
		m.notifyCmdDone(cmd.ScreenId, cmd.LineId)
	}
}

func (m *Model) notifyCmdDone(screenId, lineId string) {
	if m.OnCmdDone != nil {
		m.OnCmdDone(screenId, lineId)
	}
}

// EvictScreenLinesExcept drops every resident line cache except the one for
// keepScreenId. Called when the active screen changes: only the active
// screen's lines stay resident.
func (m *Model) EvictScreenLinesExcept(keepScreenId string) {
	for screenId := range m.screenLines {
		if screenId != keepScreenId {
			delete(m.screenLines, screenId)
		}
	}
}

// CountPtyDrop counts a PTY chunk dropped for a missing target.
func (m *Model) CountPtyDrop() {
	m.counters.DroppedPtyUpdates++
}

// CounterSnapshot returns a copy of the drop counters.
func (m *Model) CounterSnapshot() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}
