// Package ptystream routes raw terminal output chunks to per-target
// terminal buffers. Targets are either a command line (screen id + line id)
// or a connecting remote (remote id).
package ptystream

import (
	"encoding/base64"
	"log"
	"sync"

	"github.com/termsync/client/internal/sdata"
)

// TermBuffer accumulates the output stream for one target. Chunks arrive
// with an explicit byte position; the buffer has no reordering window — the
// channel preserves ordering, so a chunk past the current position is
// treated as valid forward data and a chunk entirely behind it is stale.
type TermBuffer struct {
	mu     sync.Mutex
	data   []byte
	pos    int64
	frozen bool
	subs   []func([]byte)
}

// Append writes one chunk at the given stream position. Returns the number
// of bytes actually appended (0 for stale or post-finalize chunks).
func (tb *TermBuffer) Append(pos int64, chunk []byte) int {
	tb.mu.Lock()
	if tb.frozen {
		tb.mu.Unlock()
		return 0
	}
	end := pos + int64(len(chunk))
	if end <= tb.pos {
		// entirely behind the write position: a stale duplicate
		tb.mu.Unlock()
		return 0
	}
	if pos < tb.pos {
		chunk = chunk[tb.pos-pos:]
	}
	tb.data = append(tb.data, chunk...)
	tb.pos = end
	subs := append([]func([]byte){}, tb.subs...)
	tb.mu.Unlock()
	for _, fn := range subs {
		fn(chunk)
	}
	return len(chunk)
}

// Bytes returns a copy of the accumulated output.
func (tb *TermBuffer) Bytes() []byte {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]byte, len(tb.data))
	copy(out, tb.data)
	return out
}

// Pos returns the current stream write position.
func (tb *TermBuffer) Pos() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.pos
}

// Frozen reports whether the buffer has been finalized.
func (tb *TermBuffer) Frozen() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.frozen
}

// Freeze finalizes the buffer; later chunks are ignored. Called when the
// owning command transitions to done.
func (tb *TermBuffer) Freeze() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.frozen = true
}

// Subscribe registers a callback invoked with each appended chunk.
func (tb *TermBuffer) Subscribe(fn func([]byte)) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.subs = append(tb.subs, fn)
}

// Router owns the terminal buffers and routes inbound PTY updates to them
// by target id. Updates for unregistered targets are dropped; the target's
// buffer is created when the UI mounts a terminal for it, and anything
// missed before that is recovered by a full PTY fetch, not by buffering
// here.
type Router struct {
	mu      sync.Mutex
	cmdBufs map[string]*TermBuffer
	remBufs map[string]*TermBuffer

	// OnDrop is called for each update dropped for a missing target.
	// May be nil.
	OnDrop func()

	debug bool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		cmdBufs: make(map[string]*TermBuffer),
		remBufs: make(map[string]*TermBuffer),
	}
}

// SetDebug enables debug logging of dropped updates.
func (r *Router) SetDebug(debug bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debug = debug
}

// RegisterCmd creates (or returns) the buffer for a command target.
func (r *Router) RegisterCmd(screenId, lineId string) *TermBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sdata.CmdMapKey(screenId, lineId)
	tb := r.cmdBufs[key]
	if tb == nil {
		tb = &TermBuffer{}
		r.cmdBufs[key] = tb
	}
	return tb
}

// RegisterRemote creates (or returns) the buffer for a remote target.
func (r *Router) RegisterRemote(remoteId string) *TermBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	tb := r.remBufs[remoteId]
	if tb == nil {
		tb = &TermBuffer{}
		r.remBufs[remoteId] = tb
	}
	return tb
}

// GetCmdBuffer returns the buffer for a command target, or nil.
func (r *Router) GetCmdBuffer(screenId, lineId string) *TermBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmdBufs[sdata.CmdMapKey(screenId, lineId)]
}

// GetRemoteBuffer returns the buffer for a remote target, or nil.
func (r *Router) GetRemoteBuffer(remoteId string) *TermBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remBufs[remoteId]
}

// UnregisterCmd drops a command target's buffer.
func (r *Router) UnregisterCmd(screenId, lineId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cmdBufs, sdata.CmdMapKey(screenId, lineId))
}

// UnregisterRemote drops a remote target's buffer.
func (r *Router) UnregisterRemote(remoteId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remBufs, remoteId)
}

// FinalizeCmd freezes the buffer for a finished command, if registered.
func (r *Router) FinalizeCmd(screenId, lineId string) {
	if tb := r.GetCmdBuffer(screenId, lineId); tb != nil {
		tb.Freeze()
	}
}

// RoutePtyData decodes and routes one inbound PTY update. Satisfies the
// merge engine's PtySink.
func (r *Router) RoutePtyData(upd *sdata.PtyDataUpdate) {
	chunk, err := base64.StdEncoding.DecodeString(upd.PtyData64)
	if err != nil {
		log.Printf("ptystream: dropping undecodable chunk for %s: %v", targetKey(upd), err)
		r.drop()
		return
	}
	var tb *TermBuffer
	if upd.RemoteId != "" && upd.ScreenId == "" {
		tb = r.GetRemoteBuffer(upd.RemoteId)
	} else {
		tb = r.GetCmdBuffer(upd.ScreenId, upd.LineId)
	}
	if tb == nil {
		r.mu.Lock()
		debug := r.debug
		r.mu.Unlock()
		if debug {
			log.Printf("ptystream: dropping chunk for unknown target %s", targetKey(upd))
		}
		r.drop()
		return
	}
	tb.Append(upd.PtyPos, chunk)
}

func (r *Router) drop() {
	if r.OnDrop != nil {
		r.OnDrop()
	}
}

func targetKey(upd *sdata.PtyDataUpdate) string {
	if upd.RemoteId != "" && upd.ScreenId == "" {
		return "remote:" + upd.RemoteId
	}
	return sdata.CmdMapKey(upd.ScreenId, upd.LineId)
}
