// Package update implements the merge engine: it takes decoded update
// packets (from the websocket channel or from command responses) and applies
// them to the store.Model, one packet per pass under the model's lock.
package update

import (
	"log"

	"github.com/termsync/client/internal/sdata"
	"github.com/termsync/client/internal/store"
)

// PtySink receives raw terminal output chunks carried inside update packets.
// Implemented by the PTY router.
type PtySink interface {
	RoutePtyData(upd *sdata.PtyDataUpdate)
}

// Engine applies update packets to the model. Items within a packet are
// applied strictly in array order; the whole packet is applied under the
// model lock so observers never see a half-merged packet.
type Engine struct {
	model *store.Model
	pty   PtySink

	// OnActiveScreenChange fires after a pass that changed the active
	// (session, screen) pair. The transport layer uses it to move its
	// watched-screen subscription; the dispatcher uses it to refetch the
	// new screen's lines. Called outside the model lock.
	OnActiveScreenChange func(sessionId, screenId string)

	// OnConnect fires after a pass that applied a full resynchronization
	// payload. The snapshot cache persists it. Called outside the model lock.
	OnConnect func(cu *sdata.ConnectUpdate)

	// OnScreenLines fires after a pass that loaded a full screen-lines
	// snapshot. Called outside the model lock.
	OnScreenLines func(sld *sdata.ScreenLinesData)
}

// NewEngine creates an engine bound to a model. The pty sink may be nil,
// in which case PTY items are counted as drops.
func NewEngine(model *store.Model, pty PtySink) *Engine {
	return &Engine{model: model, pty: pty}
}

// ApplyUpdate applies one update packet. Interactive-only side effects
// (info flashes, alerts, history results, remote views) are applied only
// when the packet carries an interactive marker, so background polls never
// surface UI.
func (e *Engine) ApplyUpdate(mu sdata.ModelUpdate) {
	interactive := false
	for _, item := range mu {
		if iv, ok := item.(*sdata.InteractiveUpdate); ok && bool(*iv) {
			interactive = true
		}
	}

	e.model.Lock()
	prevSession, prevScreen := e.model.ActivePair()
	for _, item := range mu {
		e.applyItem(item, interactive)
	}
	newSession, newScreen := e.model.ActivePair()
	pairChanged := newSession != prevSession || newScreen != prevScreen
	if pairChanged {
		e.model.EvictScreenLinesExcept(newScreen)
	}
	e.model.Unlock()

	if pairChanged && e.OnActiveScreenChange != nil {
		e.OnActiveScreenChange(newSession, newScreen)
	}
	for _, item := range mu {
		switch v := item.(type) {
		case *sdata.ConnectUpdate:
			if e.OnConnect != nil {
				e.OnConnect(v)
			}
		case *sdata.ScreenLinesData:
			if e.OnScreenLines != nil {
				e.OnScreenLines(v)
			}
		}
	}
}

// ApplyPtyData routes a standalone PTY frame (sent outside an update packet
// on the duplex channel).
func (e *Engine) ApplyPtyData(upd *sdata.PtyDataUpdate) {
	if e.pty == nil {
		e.model.CountPtyDrop()
		return
	}
	e.pty.RoutePtyData(upd)
}

func (e *Engine) applyItem(item sdata.UpdateItem, interactive bool) {
	switch v := item.(type) {
	case *sdata.ConnectUpdate:
		e.applyConnect(v)
	case *sdata.SessionData:
		e.model.MergeSessions([]*sdata.SessionData{v}, false)
	case *sdata.ScreenData:
		e.model.MergeScreens([]*sdata.ScreenData{v}, false)
	case *sdata.ActiveSessionIdUpdate:
		e.model.ActiveSessionId.Set(string(*v))
	case *sdata.LineUpdate:
		e.model.AddLineCmd(&v.Line, v.Cmd)
	case *sdata.CmdData:
		e.model.UpdateCmd(v)
	case *sdata.ScreenLinesData:
		e.model.LoadScreenLines(v)
	case *sdata.RemoteState:
		e.model.MergeRemotes([]*sdata.RemoteState{v}, false)
	case *sdata.RemoteView:
		if interactive {
			e.model.RemoteView.Set(v)
		}
	case *sdata.MainViewUpdate:
		e.model.MainView.Set(v.MainView)
		// History results are interactive-only, embedded or not.
		if interactive && v.HistoryView != nil {
			e.model.HistoryInfo.Set(v.HistoryView)
		}
	case *sdata.BookmarksUpdate:
		e.model.SetBookmarks(v.Bookmarks)
	case *sdata.ClientData:
		e.model.SetClientData(v)
	case *sdata.InfoMsg:
		if interactive {
			e.model.InfoMsg.Set(v)
		}
	case *sdata.ClearInfoUpdate:
		e.model.InfoMsg.Set(nil)
	case *sdata.AlertMessage:
		if interactive {
			e.model.AlertMessage.Set(v)
		}
	case *sdata.InteractiveUpdate:
		// consumed in the pre-scan
	case *sdata.HistoryInfo:
		if interactive {
			e.model.HistoryInfo.Set(v)
		}
	case *sdata.PtyDataUpdate:
		if e.pty == nil {
			e.model.CountPtyDrop()
			return
		}
		e.pty.RoutePtyData(v)
	case *sdata.ScreenStatusIndicator:
		e.model.SetStatusIndicator(v.ScreenId, v.Status)
	case *sdata.ScreenNumRunningCommands:
		e.model.SetNumRunningCmds(v.ScreenId, v.Num)
	default:
		log.Printf("update: no handler for item type %q", item.UpdateType())
	}
}

// applyConnect handles the cold-start resynchronization payload: the
// screen, session and remote collections are cleared and fully repopulated,
// which cascades into evicting line caches for screens that disappeared.
func (e *Engine) applyConnect(cu *sdata.ConnectUpdate) {
	e.model.MergeScreens(cu.Screens, true)
	e.model.MergeSessions(cu.Sessions, true)
	e.model.MergeRemotes(cu.Remotes, true)
	for _, ind := range cu.ScreenStatusIndicators {
		e.model.SetStatusIndicator(ind.ScreenId, ind.Status)
	}
	for _, num := range cu.ScreenNumRunningCommands {
		e.model.SetNumRunningCmds(num.ScreenId, num.Num)
	}
	if cu.ActiveSessionId != "" {
		e.model.ActiveSessionId.Set(cu.ActiveSessionId)
	}
	e.model.SessionListLoaded.Set(true)
	e.model.RemotesLoaded.Set(true)
}
