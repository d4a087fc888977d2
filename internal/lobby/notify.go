package lobby

// The sync notifier collapses bursts of mutation into one snapshot
// notification per subsystem. Handlers that know nothing externally visible
// changed (keepalive pongs, unknown messages) simply never mark a flag, so
// no notification fires without a pending mutation.

// markDirty records a mutation and arms the coalescing timer if it is not
// already pending.
func (e *Engine) markDirty(kind dirtyKind) {
	switch kind {
	case dirtyState:
		e.stateDirty = true
	case dirtyChat:
		e.chatDirty = true
	}
	if !e.syncPending {
		e.syncPending = true
		e.syncTimer.Reset(syncWindow)
	}
}

// flushSync fires the pending notifications with fresh snapshots.
func (e *Engine) flushSync() {
	if e.stateDirty {
		e.stateDirty = false
		if e.onState != nil {
			e.onState(e.buildSnapshot())
		}
	}
	if e.chatDirty {
		e.chatDirty = false
		if e.onChat != nil {
			e.onChat(e.buildChatSnapshot())
		}
	}
}
