// Package synclistener declares the sync-listener interface exposed by the
// Client Core to outer layers (§6.4).
package synclistener

import "github.com/btcsync-io/btcsyncd/pkg/model"

// Listener is notified of synchronization-state transitions and newly
// stored best blocks. Implementations must not block the client thread
// (§5): slow listeners should hand events off to their own goroutine.
type Listener interface {
	OnSyncStateSwitched(isSynchronizing bool)
	OnBestStorageBlockInserted(hash model.Hash)
}

// Multi fans a single notification out to every listener in order. It is
// itself a Listener, so the Client Core can hold exactly one without
// special-casing the "many observers" shape.
type Multi []Listener

func (m Multi) OnSyncStateSwitched(isSynchronizing bool) {
	for _, l := range m {
		l.OnSyncStateSwitched(isSynchronizing)
	}
}

func (m Multi) OnBestStorageBlockInserted(hash model.Hash) {
	for _, l := range m {
		l.OnBestStorageBlockInserted(hash)
	}
}
