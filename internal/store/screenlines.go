package store

import (
	"github.com/termsync/client/internal/errors"
	"github.com/termsync/client/internal/merge"
	"github.com/termsync/client/internal/sdata"
)

// Cmd wraps the mutable snapshot of one executed command. Identity is
// (screenid, lineid). The interesting transition is running → not-running,
// which the owner uses to finalize the command's terminal buffer.
type Cmd struct {
	data sdata.CmdData
}

func newCmd(d *sdata.CmdData) *Cmd {
	return &Cmd{data: *d}
}

// ScreenId returns the owning screen id.
func (c *Cmd) ScreenId() string { return c.data.ScreenId }

// LineId returns the owning line id.
func (c *Cmd) LineId() string { return c.data.LineId }

// Status returns the command status string.
func (c *Cmd) Status() string { return c.data.Status }

// IsRunning reports whether the command is still producing output.
func (c *Cmd) IsRunning() bool { return c.data.IsRunning() }

// ExitCode returns the exit code (meaningful once not running).
func (c *Cmd) ExitCode() int { return c.data.ExitCode }

// DurationMs returns the command duration in milliseconds.
func (c *Cmd) DurationMs() int { return c.data.DurationMs }

// TermOpts returns the terminal geometry the command runs with.
func (c *Cmd) TermOpts() sdata.TermOpts { return c.data.TermOpts }

// CmdStr returns the command string.
func (c *Cmd) CmdStr() string { return c.data.CmdStr }

// Remote returns the remote pointer the command executes on.
func (c *Cmd) Remote() sdata.RemotePtr { return c.data.Remote }

// FeState returns the front-end shell state captured at command start.
func (c *Cmd) FeState() sdata.FeState { return c.data.FeState }

// MergeData replaces the command snapshot and reports whether the command
// transitioned from running to not-running. An identity mismatch panics.
func (c *Cmd) MergeData(d *sdata.CmdData) (done bool) {
	if d.ScreenId != c.data.ScreenId || d.LineId != c.data.LineId {
		panic(errors.IdMismatch("cmd",
			sdata.CmdMapKey(c.data.ScreenId, c.data.LineId),
			sdata.CmdMapKey(d.ScreenId, d.LineId)))
	}
	wasRunning := c.data.IsRunning()
	c.data = *d
	return wasRunning && !c.data.IsRunning()
}

// ScreenLines is the lazily loaded line/command cache for one screen. It is
// deliberately separate from Screen: only the active screen's lines are kept
// resident, and the cache is evicted and reloaded independently of the
// screen entity itself.
//
// Until a full line set has been loaded at least once, merge operations are
// no-ops (there is nothing coherent to merge into); Load is the only
// operation that flips loaded to true.
type ScreenLines struct {
	screenId string
	loaded   bool
	lines    []*sdata.LineData
	cmds     map[string]*Cmd
}

func newScreenLines(screenId string) *ScreenLines {
	return &ScreenLines{
		screenId: screenId,
		cmds:     make(map[string]*Cmd),
	}
}

// ScreenId returns the owning screen id.
func (sl *ScreenLines) ScreenId() string { return sl.screenId }

// Loaded reports whether a full line set has been loaded.
func (sl *ScreenLines) Loaded() bool { return sl.loaded }

// Lines returns the ordered line sequence.
func (sl *ScreenLines) Lines() []*sdata.LineData { return sl.lines }

// GetCmd returns the command for a line id, or nil.
func (sl *ScreenLines) GetCmd(lineId string) *Cmd { return sl.cmds[lineId] }

// NumLines returns the number of resident lines.
func (sl *ScreenLines) NumLines() int { return len(sl.lines) }

// Load replaces the full line/command set from a screen-lines snapshot and
// marks the store loaded. An id mismatch panics.
func (sl *ScreenLines) Load(d *sdata.ScreenLinesData) {
	if d.ScreenId != sl.screenId {
		panic(errors.IdMismatch("screenlines", sl.screenId, d.ScreenId))
	}
	sl.loaded = true
	sl.lines = nil
	sl.cmds = make(map[string]*Cmd)
	sl.lines, _ = merge.Simple(sl.lines, d.Lines,
		func(l *sdata.LineData) string { return l.LineId },
		func(l *sdata.LineData) string { return l.SortKey() },
		func(l *sdata.LineData) bool { return l.Remove })
	for _, cd := range d.Cmds {
		sl.cmds[cd.LineId] = newCmd(cd)
	}
}

// AddLineCmd merges one line (and optionally its command) into the cache.
// On an unloaded store this is a no-op: the upcoming full load supersedes
// any incremental update. A line tombstone removes both the line and its
// command. Returns whether the line's command transitioned to done.
func (sl *ScreenLines) AddLineCmd(line *sdata.LineData, cmd *sdata.CmdData) (cmdDone bool) {
	if !sl.loaded {
		return false
	}
	sl.lines, _ = merge.Simple(sl.lines, []*sdata.LineData{line},
		func(l *sdata.LineData) string { return l.LineId },
		func(l *sdata.LineData) string { return l.SortKey() },
		func(l *sdata.LineData) bool { return l.Remove })
	if line.Remove {
		delete(sl.cmds, line.LineId)
		return false
	}
	if cmd == nil {
		return false
	}
	if existing, ok := sl.cmds[cmd.LineId]; ok {
		return existing.MergeData(cmd)
	}
	sl.cmds[cmd.LineId] = newCmd(cmd)
	return false
}

// UpdateCmd merges a bare command update. Returns (done, ok): ok is false
// when the target line has no resident command, in which case the update is
// dropped — the line may have been concurrently removed, and the next full
// load supersedes it.
func (sl *ScreenLines) UpdateCmd(cmd *sdata.CmdData) (done bool, ok bool) {
	if !sl.loaded {
		return false, false
	}
	existing, found := sl.cmds[cmd.LineId]
	if !found {
		return false, false
	}
	return existing.MergeData(cmd), true
}
