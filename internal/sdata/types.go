// Package sdata defines the wire-level data model shared between the host
// and this client: session/screen/line/cmd snapshots and the update-packet
// envelope the host pushes over the websocket and returns from commands.
//
// Field names and JSON tags match the host protocol exactly. Types in this
// package are plain data; all merge behavior lives in internal/store.
package sdata

import (
	"fmt"
)

// Cmd status values. A command is "live" while running or detached; every
// other status is terminal and freezes the command's PTY output.
const (
	CmdStatusRunning  = "running"
	CmdStatusDetached = "detached"
	CmdStatusDone     = "done"
	CmdStatusError    = "error"
	CmdStatusHangup   = "hangup"
	CmdStatusWaiting  = "waiting"
)

// Line types carried in LineData.LineType.
const (
	LineTypeCmd  = "cmd"
	LineTypeText = "text"
)

// Main view identifiers carried in "mainview" updates.
const (
	MainViewSession     = "session"
	MainViewHistory     = "history"
	MainViewBookmarks   = "bookmarks"
	MainViewConnections = "connections"
	MainViewSettings    = "clientsettings"
)

// RemotePtr identifies a remote binding: the remote definition plus an
// optional owner and per-screen name. The zero value means "no remote".
type RemotePtr struct {
	OwnerId  string `json:"ownerid,omitempty"`
	RemoteId string `json:"remoteid"`
	Name     string `json:"name,omitempty"`
}

// IsZero reports whether no remote is referenced.
func (r RemotePtr) IsZero() bool {
	return r.RemoteId == "" && r.OwnerId == "" && r.Name == ""
}

// MapKey returns a stable composite key for identity-keyed lookups.
func (r RemotePtr) MapKey() string {
	return r.OwnerId + ":" + r.RemoteId + ":" + r.Name
}

func (r RemotePtr) String() string {
	if r.IsZero() {
		return "(no-remote)"
	}
	return r.MapKey()
}

// FeState is the front-end shell state snapshot for a remote instance:
// cwd, shell type hints and exported prompt variables.
type FeState map[string]string

// Cwd returns the working directory from the state, if present.
func (s FeState) Cwd() string {
	return s["cwd"]
}

// RemoteInstance holds per-(screen, remote) front-end state. The same remote
// can have different working directories in different screens, which is why
// this is separate from the global remote definition.
type RemoteInstance struct {
	RIId          string  `json:"riid"`
	Name          string  `json:"name"`
	SessionId     string  `json:"sessionid"`
	ScreenId      string  `json:"screenid"`
	RemoteOwnerId string  `json:"remoteownerid"`
	RemoteId      string  `json:"remoteid"`
	FeState       FeState `json:"festate"`
	ShellType     string  `json:"shelltype"`

	// Remove marks this instance as deleted in incremental updates.
	Remove bool `json:"remove,omitempty"`
}

// MapKey returns the instance identity: (screen, remote owner, remote, name).
func (ri *RemoteInstance) MapKey() string {
	return ri.ScreenId + ":" + ri.RemoteOwnerId + ":" + ri.RemoteId + ":" + ri.Name
}

// SessionData is the authoritative session snapshot. Sessions are ordered by
// SessionIdx, not by arrival order.
type SessionData struct {
	SessionId      string            `json:"sessionid"`
	Name           string            `json:"name"`
	SessionIdx     int64             `json:"sessionidx"`
	ActiveScreenId string            `json:"activescreenid"`
	ShareMode      string            `json:"sharemode"`
	NotifyNum      int64             `json:"notifynum"`
	Archived       bool              `json:"archived,omitempty"`
	ArchivedTs     int64             `json:"archivedts,omitempty"`
	Remotes        []*RemoteInstance `json:"remotes"`

	// Remove marks the session as deleted in incremental updates.
	Remove bool `json:"remove,omitempty"`
}

// ScreenOpts holds display options for a screen tab.
type ScreenOpts struct {
	TabColor string `json:"tabcolor,omitempty"`
	TabIcon  string `json:"tabicon,omitempty"`
	PTerm    string `json:"pterm,omitempty"`
}

// SidebarOpts holds the screen sidebar view state.
type SidebarOpts struct {
	Open          bool   `json:"open,omitempty"`
	Width         string `json:"width,omitempty"`
	SidebarLineId string `json:"sidebarlineid,omitempty"`
}

// ScreenViewOpts holds per-screen view options.
type ScreenViewOpts struct {
	Sidebar *SidebarOpts `json:"sidebar,omitempty"`
}

// ScreenAnchor is the scroll anchor position within a screen.
type ScreenAnchor struct {
	AnchorLine   int `json:"anchorline,omitempty"`
	AnchorOffset int `json:"anchoroffset,omitempty"`
}

// ScreenData is the authoritative screen snapshot. A screen belongs to
// exactly one session (by id), but lives in a flat id-keyed store.
type ScreenData struct {
	SessionId      string         `json:"sessionid"`
	ScreenId       string         `json:"screenid"`
	Name           string         `json:"name"`
	ScreenIdx      int64          `json:"screenidx"`
	ScreenOpts     ScreenOpts     `json:"screenopts"`
	ScreenViewOpts ScreenViewOpts `json:"screenviewopts"`
	OwnerId        string         `json:"ownerid"`
	ShareMode      string         `json:"sharemode"`
	CurRemote      RemotePtr      `json:"curremote"`
	NextLineNum    int64          `json:"nextlinenum"`
	SelectedLine   int64          `json:"selectedline"`
	Anchor         ScreenAnchor   `json:"anchor"`
	FocusType      string         `json:"focustype"`
	Archived       bool           `json:"archived,omitempty"`
	ArchivedTs     int64          `json:"archivedts,omitempty"`

	// Remove marks the screen as deleted in incremental updates.
	Remove bool `json:"remove,omitempty"`
}

// LineData is one line within a screen. Ts is the ordering key; lines can
// arrive in any packet order and are kept sorted by pad(Ts):LineId.
type LineData struct {
	ScreenId      string         `json:"screenid"`
	UserId        string         `json:"userid"`
	LineId        string         `json:"lineid"`
	Ts            int64          `json:"ts"`
	LineNum       int64          `json:"linenum"`
	LineNumTemp   bool           `json:"linenumtemp,omitempty"`
	LineLocal     bool           `json:"linelocal"`
	LineType      string         `json:"linetype"`
	LineState     map[string]any `json:"linestate"`
	Renderer      string         `json:"renderer,omitempty"`
	Text          string         `json:"text,omitempty"`
	Ephemeral     bool           `json:"ephemeral,omitempty"`
	ContentHeight int64          `json:"contentheight,omitempty"`
	Star          bool           `json:"star,omitempty"`
	Archived      bool           `json:"archived,omitempty"`

	// Remove is a tombstone: the line is deleted, not merged.
	Remove bool `json:"remove,omitempty"`
}

// SortKey returns the line's ordering key. The timestamp is zero-padded so
// lexicographic ordering matches numeric ordering, and the line id breaks
// ties deterministically.
func (l *LineData) SortKey() string {
	return PadTs(l.Ts) + ":" + l.LineId
}

// PadTs zero-pads a millisecond timestamp to fixed width for use in
// lexicographic sort keys.
func PadTs(ts int64) string {
	if ts < 0 {
		ts = 0
	}
	return fmt.Sprintf("%013d", ts)
}

// TermOpts are the terminal geometry options a command was started with.
type TermOpts struct {
	Rows       int64 `json:"rows"`
	Cols       int64 `json:"cols"`
	FlexRows   bool  `json:"flexrows,omitempty"`
	MaxPtySize int64 `json:"maxptysize,omitempty"`
}

// CmdData is the mutable snapshot of one executed command. Identity is
// (screenid, lineid).
type CmdData struct {
	ScreenId     string    `json:"screenid"`
	LineId       string    `json:"lineid"`
	Remote       RemotePtr `json:"remote"`
	CmdStr       string    `json:"cmdstr"`
	RawCmdStr    string    `json:"rawcmdstr"`
	FeState      FeState   `json:"festate"`
	TermOpts     TermOpts  `json:"termopts"`
	OrigTermOpts TermOpts  `json:"origtermopts"`
	Status       string    `json:"status"`
	CmdPid       int       `json:"cmdpid"`
	RemotePid    int       `json:"remotepid"`
	RestartTs    int64     `json:"restartts,omitempty"`
	DoneTs       int64     `json:"donets"`
	ExitCode     int       `json:"exitcode"`
	DurationMs   int       `json:"durationms"`
	Restarted    bool      `json:"restarted,omitempty"`

	// Remove is a tombstone: the command is deleted, not merged.
	Remove bool `json:"remove,omitempty"`
}

// IsRunning reports whether the command is still producing output.
func (c *CmdData) IsRunning() bool {
	return c.Status == CmdStatusRunning || c.Status == CmdStatusDetached
}

// ScreenLinesData is the full line/command snapshot for one screen,
// returned by get-screen-lines and carried in "screenlines" updates.
type ScreenLinesData struct {
	ScreenId string      `json:"screenid"`
	Lines    []*LineData `json:"lines"`
	Cmds     []*CmdData  `json:"cmds"`
}

// RemoteState is the runtime state of a remote (connection target) as
// reported by the host. Remotes are ordered by RemoteIdx.
type RemoteState struct {
	RemoteType          string            `json:"remotetype"`
	RemoteId            string            `json:"remoteid"`
	RemoteAlias         string            `json:"remotealias,omitempty"`
	RemoteCanonicalName string            `json:"remotecanonicalname"`
	RemoteVars          map[string]string `json:"remotevars"`
	Status              string            `json:"status"`
	ErrorStr            string            `json:"errorstr,omitempty"`
	ConnectMode         string            `json:"connectmode"`
	Archived            bool              `json:"archived,omitempty"`
	RemoteIdx           int64             `json:"remoteidx"`
	Local               bool              `json:"local,omitempty"`
	IsSudo              bool              `json:"issudo,omitempty"`
	ShellPref           string            `json:"shellpref,omitempty"`
	DefaultShellType    string            `json:"defaultshelltype,omitempty"`

	// Remove marks the remote as deleted in incremental updates.
	Remove bool `json:"remove,omitempty"`
}

// SortKey orders remotes by their index, with the id as tie-breaker.
func (r *RemoteState) SortKey() string {
	return PadTs(r.RemoteIdx) + ":" + r.RemoteId
}

// DisplayName returns the alias if set, otherwise the canonical name.
func (r *RemoteState) DisplayName() string {
	if r.RemoteAlias != "" {
		return r.RemoteAlias
	}
	return r.RemoteCanonicalName
}

// FeOpts are front-end display preferences stored in client data.
type FeOpts struct {
	Theme          string `json:"theme,omitempty"`
	TermFontSize   int    `json:"termfontsize,omitempty"`
	TermFontFamily string `json:"termfontfamily,omitempty"`
}

// ClientOpts are behavioral client settings stored in client data.
type ClientOpts struct {
	NoTelemetry    bool  `json:"notelemetry,omitempty"`
	NoReleaseCheck bool  `json:"noreleasecheck,omitempty"`
	AcceptedTos    int64 `json:"acceptedtos,omitempty"`
	ConfirmFlags   map[string]bool `json:"confirmflags,omitempty"`
}

// ClientData is the bootstrap payload from get-client-data. A non-nil
// ClientData is the cold-start gate: session/screen state is meaningless
// before it has been obtained.
type ClientData struct {
	ClientId   string     `json:"clientid"`
	UserId     string     `json:"userid,omitempty"`
	FeOpts     FeOpts     `json:"feopts"`
	ClientOpts ClientOpts `json:"clientopts"`
}

// ScreenStatusIndicator is a per-screen attention level used for tab badges.
type ScreenStatusIndicator struct {
	ScreenId string `json:"screenid"`
	Status   string `json:"status"`
}

// ScreenNumRunningCommands is the per-screen running-command count used for
// tab spinners.
type ScreenNumRunningCommands struct {
	ScreenId string `json:"screenid"`
	Num      int    `json:"num"`
}

// BookmarkData is one saved command bookmark.
type BookmarkData struct {
	BookmarkId  string   `json:"bookmarkid"`
	CreatedTs   int64    `json:"createdts"`
	CmdStr      string   `json:"cmdstr"`
	Alias       string   `json:"alias,omitempty"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	OrderIdx    int64    `json:"orderidx"`
	Remove      bool     `json:"remove,omitempty"`
}

// HistoryItem is one entry in a history search result.
type HistoryItem struct {
	HistoryId string `json:"historyid"`
	Ts        int64  `json:"ts"`
	SessionId string `json:"sessionid,omitempty"`
	ScreenId  string `json:"screenid,omitempty"`
	LineId    string `json:"lineid,omitempty"`
	HadError  bool   `json:"haderror,omitempty"`
	CmdStr    string `json:"cmdstr"`
	Remove    bool   `json:"remove,omitempty"`
}

// HistoryInfo is a history search result for one session or screen.
type HistoryInfo struct {
	HistoryType string         `json:"historytype"`
	SessionId   string         `json:"sessionid"`
	ScreenId    string         `json:"screenid"`
	Items       []*HistoryItem `json:"items"`
	Show        bool           `json:"show"`
}

// CmdMapKey builds the composite (screen, line) identity key for commands.
func CmdMapKey(screenId, lineId string) string {
	return screenId + ":" + lineId
}
