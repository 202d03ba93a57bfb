package agent

import (
	"context"
	"fmt"
)

// evict closes the instance's store and removes it from the manager's
// registry without deleting any persisted rows, so the next resolution of
// the same key transparently rehydrates from storage. This is the idle
// counterpart to Destroy, which additionally deletes all rows.
//
// Activity tracking and a timeout-based eviction decision drive this (see
// Manager.sweepIdle and Instance.touch/LastActivity); eviction here is a
// purely local, storage-backed decision with no external control plane to
// report to.
func (i *Instance) evict(ctx context.Context) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	if i.ConnectionCount() > 0 {
		return nil
	}

	i.stopAlarm()

	i.logEvent("instance.evicted", "agent instance evicted after idle timeout", nil)

	i.mgr.forget(i.key)
	if err := i.store.Close(); err != nil {
		return fmt.Errorf("close store on evict: %w", err)
	}
	return nil
}
