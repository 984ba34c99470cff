package sdata

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Update type keys. Each key identifies one item kind inside an update
// packet; the packet itself is a JSON array of single-key objects, e.g.
//
//	[{"session":{...}},{"line":{"line":{...},"cmd":{...}}},{"interactive":true}]
//
// Items are evaluated strictly in array order.
const (
	ConnectUpdateStr         = "connect"
	SessionUpdateStr         = "session"
	ScreenUpdateStr          = "screen"
	ActiveSessionIdUpdateStr = "activesessionid"
	LineUpdateStr            = "line"
	CmdUpdateStr             = "cmd"
	ScreenLinesUpdateStr     = "screenlines"
	RemoteUpdateStr          = "remote"
	RemoteViewUpdateStr      = "remoteview"
	MainViewUpdateStr        = "mainview"
	BookmarksUpdateStr       = "bookmarks"
	ClientDataUpdateStr      = "clientdata"
	InfoUpdateStr            = "info"
	ClearInfoUpdateStr       = "clearinfo"
	AlertMessageUpdateStr    = "alertmessage"
	InteractiveUpdateStr     = "interactive"
	HistoryUpdateStr         = "history"
	PtyDataUpdateStr         = "pty"
	StatusIndicatorUpdateStr = "screenstatusindicator"
	NumRunningCmdsUpdateStr  = "screennumrunningcommands"
)

// UpdateItem is one entry in an update packet. The key returned by
// UpdateType selects the handler in the merge engine's dispatch table.
type UpdateItem interface {
	UpdateType() string
}

// ModelUpdate is an ordered collection of independent update items.
// Unknown item kinds are skipped during decoding so that newer hosts can
// talk to older clients.
type ModelUpdate []UpdateItem

// itemRegistry maps update keys to typed decoders. Registration happens in
// init below; the merge engine iterates decoded items and never sees raw
// JSON, which keeps its dispatch table exhaustive over these types.
var itemRegistry = map[string]func(json.RawMessage) (UpdateItem, error){}

func registerItem[T any, PT interface {
	*T
	UpdateItem
}](key string) {
	itemRegistry[key] = func(raw json.RawMessage) (UpdateItem, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return PT(&v), nil
	}
}

func init() {
	registerItem[ConnectUpdate, *ConnectUpdate](ConnectUpdateStr)
	registerItem[SessionData, *SessionData](SessionUpdateStr)
	registerItem[ScreenData, *ScreenData](ScreenUpdateStr)
	registerItem[ActiveSessionIdUpdate, *ActiveSessionIdUpdate](ActiveSessionIdUpdateStr)
	registerItem[LineUpdate, *LineUpdate](LineUpdateStr)
	registerItem[CmdData, *CmdData](CmdUpdateStr)
	registerItem[ScreenLinesData, *ScreenLinesData](ScreenLinesUpdateStr)
	registerItem[RemoteState, *RemoteState](RemoteUpdateStr)
	registerItem[RemoteView, *RemoteView](RemoteViewUpdateStr)
	registerItem[MainViewUpdate, *MainViewUpdate](MainViewUpdateStr)
	registerItem[BookmarksUpdate, *BookmarksUpdate](BookmarksUpdateStr)
	registerItem[ClientData, *ClientData](ClientDataUpdateStr)
	registerItem[InfoMsg, *InfoMsg](InfoUpdateStr)
	registerItem[ClearInfoUpdate, *ClearInfoUpdate](ClearInfoUpdateStr)
	registerItem[AlertMessage, *AlertMessage](AlertMessageUpdateStr)
	registerItem[InteractiveUpdate, *InteractiveUpdate](InteractiveUpdateStr)
	registerItem[HistoryInfo, *HistoryInfo](HistoryUpdateStr)
	registerItem[PtyDataUpdate, *PtyDataUpdate](PtyDataUpdateStr)
	registerItem[ScreenStatusIndicator, *ScreenStatusIndicator](StatusIndicatorUpdateStr)
	registerItem[ScreenNumRunningCommands, *ScreenNumRunningCommands](NumRunningCmdsUpdateStr)
}

// UnmarshalJSON decodes the array-of-single-key-objects wire format,
// preserving item order. Unknown keys are dropped silently.
func (mu *ModelUpdate) UnmarshalJSON(data []byte) error {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	items := make(ModelUpdate, 0, len(raw))
	for _, entry := range raw {
		for key, body := range entry {
			decode, ok := itemRegistry[key]
			if !ok {
				continue
			}
			item, err := decode(body)
			if err != nil {
				return fmt.Errorf("decoding %q update item: %w", key, err)
			}
			items = append(items, item)
		}
	}
	*mu = items
	return nil
}

// MarshalJSON emits the same wire format the host produces. Used by tests
// and the snapshot cache.
func (mu ModelUpdate) MarshalJSON() ([]byte, error) {
	arr := make([]map[string]UpdateItem, 0, len(mu))
	for _, item := range mu {
		arr = append(arr, map[string]UpdateItem{item.UpdateType(): item})
	}
	return json.Marshal(arr)
}

// GetUpdateItems returns all items in the update of type I, in order.
func GetUpdateItems[I UpdateItem](mu ModelUpdate) []I {
	var ret []I
	for _, item := range mu {
		if i, ok := item.(I); ok {
			ret = append(ret, i)
		}
	}
	return ret
}

// ConnectUpdate is the cold-start resynchronization payload. Receiving one
// switches the merge engine into full-replace mode for sessions, screens
// and remotes.
type ConnectUpdate struct {
	Sessions                 []*SessionData              `json:"sessions,omitempty"`
	Screens                  []*ScreenData               `json:"screens,omitempty"`
	Remotes                  []*RemoteState              `json:"remotes,omitempty"`
	ScreenStatusIndicators   []*ScreenStatusIndicator    `json:"screenstatusindicators,omitempty"`
	ScreenNumRunningCommands []*ScreenNumRunningCommands `json:"screennumrunningcommands,omitempty"`
	ActiveSessionId          string                      `json:"activesessionid,omitempty"`
}

func (*ConnectUpdate) UpdateType() string { return ConnectUpdateStr }

func (*SessionData) UpdateType() string { return SessionUpdateStr }

func (*ScreenData) UpdateType() string { return ScreenUpdateStr }

// ActiveSessionIdUpdate switches the active session.
type ActiveSessionIdUpdate string

func (ActiveSessionIdUpdate) UpdateType() string { return ActiveSessionIdUpdateStr }

// LineUpdate carries one line and, when the line runs a command, its
// command snapshot.
type LineUpdate struct {
	Line LineData `json:"line"`
	Cmd  *CmdData `json:"cmd,omitempty"`
}

func (*LineUpdate) UpdateType() string { return LineUpdateStr }

func (*CmdData) UpdateType() string { return CmdUpdateStr }

func (*ScreenLinesData) UpdateType() string { return ScreenLinesUpdateStr }

func (*RemoteState) UpdateType() string { return RemoteUpdateStr }

// RemoteEdit describes an in-progress remote edit dialog.
type RemoteEdit struct {
	RemoteEdit  bool   `json:"remoteedit"`
	RemoteId    string `json:"remoteid,omitempty"`
	ErrorStr    string `json:"errorstr,omitempty"`
	InfoStr     string `json:"infostr,omitempty"`
	KeyStr      string `json:"keystr,omitempty"`
	HasPassword bool   `json:"haspassword,omitempty"`
}

// RemoteView switches the UI to a remote-centric view (connection setup,
// remote detail). Interactive-only.
type RemoteView struct {
	RemoteShowAll bool        `json:"remoteshowall,omitempty"`
	PtyRemoteId   string      `json:"ptyremoteid,omitempty"`
	RemoteEdit    *RemoteEdit `json:"remoteedit,omitempty"`
}

func (*RemoteView) UpdateType() string { return RemoteViewUpdateStr }

// MainViewUpdate switches the client's main view (session, history,
// bookmarks, connections, settings).
type MainViewUpdate struct {
	MainView    string       `json:"mainview"`
	HistoryView *HistoryInfo `json:"historyview,omitempty"`
}

func (*MainViewUpdate) UpdateType() string { return MainViewUpdateStr }

// BookmarksUpdate replaces the bookmark list.
type BookmarksUpdate struct {
	Bookmarks        []*BookmarkData `json:"bookmarks"`
	SelectedBookmark string          `json:"selectedbookmark,omitempty"`
}

func (*BookmarksUpdate) UpdateType() string { return BookmarksUpdateStr }

func (*ClientData) UpdateType() string { return ClientDataUpdateStr }

// InfoMsg is a transient informational message flashed for interactive
// commands (and for interactive command failures).
type InfoMsg struct {
	InfoTitle     string   `json:"infotitle"`
	InfoError     string   `json:"infoerror,omitempty"`
	InfoErrorCode string   `json:"infoerrorcode,omitempty"`
	InfoMsg       string   `json:"infomsg,omitempty"`
	InfoMsgHtml   bool     `json:"infomsghtml,omitempty"`
	InfoComps     []string `json:"infocomps,omitempty"`
	InfoCompsMore bool     `json:"infocompssmore,omitempty"`
	InfoLines     []string `json:"infolines,omitempty"`
	TimeoutMs     int64    `json:"timeoutms,omitempty"`
}

func (*InfoMsg) UpdateType() string { return InfoUpdateStr }

// ClearInfoUpdate clears any flashed info message.
type ClearInfoUpdate bool

func (ClearInfoUpdate) UpdateType() string { return ClearInfoUpdateStr }

// AlertMessage requests a modal alert or confirmation. Interactive-only.
type AlertMessage struct {
	Title    string `json:"title,omitempty"`
	Message  string `json:"message"`
	Confirm  bool   `json:"confirm,omitempty"`
	Markdown bool   `json:"markdown,omitempty"`
}

func (*AlertMessage) UpdateType() string { return AlertMessageUpdateStr }

// InteractiveUpdate marks the packet as produced by an interactive command.
type InteractiveUpdate bool

func (InteractiveUpdate) UpdateType() string { return InteractiveUpdateStr }

func (*HistoryInfo) UpdateType() string { return HistoryUpdateStr }

func (*ScreenStatusIndicator) UpdateType() string { return StatusIndicatorUpdateStr }

func (*ScreenNumRunningCommands) UpdateType() string { return NumRunningCmdsUpdateStr }

// PtyDataUpdate carries one base64 chunk of terminal output, either for a
// command line (ScreenId+LineId) or for a connecting remote (RemoteId).
// PtyPos is the byte offset of the chunk within the output stream.
type PtyDataUpdate struct {
	ScreenId   string `json:"screenid,omitempty"`
	LineId     string `json:"lineid,omitempty"`
	RemoteId   string `json:"remoteid,omitempty"`
	PtyPos     int64  `json:"ptypos"`
	PtyData64  string `json:"ptydata64"`
	PtyDataLen int64  `json:"ptydatalen"`
}

func (*PtyDataUpdate) UpdateType() string { return PtyDataUpdateStr }

// ControlFrame is a small typed frame on the duplex channel (hello/ping).
type ControlFrame struct {
	Type string `json:"type"`
}

// Control frame types.
const (
	FrameHello = "hello"
	FramePing  = "ping"
	FramePong  = "pong"
)

// ParseFrame classifies one inbound websocket frame. The host sends three
// shapes on the duplex channel: a bare JSON array (a model update packet),
// a flat object containing "ptydata64" (a PTY data chunk), or a small
// control object with a "type" field (hello/ping).
func ParseFrame(data []byte) (any, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty websocket frame")
	}
	if trimmed[0] == '[' {
		var mu ModelUpdate
		if err := json.Unmarshal(trimmed, &mu); err != nil {
			return nil, fmt.Errorf("parsing model update frame: %w", err)
		}
		return mu, nil
	}
	var probe struct {
		Type      string  `json:"type"`
		PtyData64 *string `json:"ptydata64"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("parsing websocket frame: %w", err)
	}
	if probe.PtyData64 != nil {
		var pdu PtyDataUpdate
		if err := json.Unmarshal(trimmed, &pdu); err != nil {
			return nil, fmt.Errorf("parsing pty data frame: %w", err)
		}
		return &pdu, nil
	}
	if probe.Type != "" {
		return &ControlFrame{Type: probe.Type}, nil
	}
	return nil, fmt.Errorf("unrecognized websocket frame")
}
