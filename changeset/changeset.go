// Package changeset implements the writer's ordered, gap-aware change
// set: the sequence numbers a writer currently holds, sorted, paired
// with the CacheChange each identifies. Built on internal/ring the
// same way catrate's categoryData pairs a ring buffer with a guarding
// mutex per tracked key.
package changeset

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nimbus-dds/writer/change"
	"github.com/nimbus-dds/writer/internal/ring"
	"github.com/nimbus-dds/writer/qos"
	"github.com/nimbus-dds/writer/seqnum"
)

// ErrOutOfOrder is returned by Add when the change's sequence number
// does not exceed every sequence number already present.
var ErrOutOfOrder = errors.New("changeset: sequence number does not exceed existing changes")

// ErrResourceExhausted is returned by Add when a Reliable set's
// ResourceLimits bounds (MaxSamples, MaxSamplesPerInstance,
// MaxInstances) could not be satisfied within MaxBlockingTime, or the
// context was cancelled first.
var ErrResourceExhausted = errors.New("changeset: resource limits exceeded")

const initialRingSize = 16

// ChangeSet is the writer's history: sequence numbers currently held,
// sorted, paired with their CacheChange. Removal leaves gaps; callers
// are responsible for reporting those gaps as GAP submessages.
//
// All three ResourceLimits bounds are enforced on every Add:
// MaxSamples against the total held, MaxSamplesPerInstance against the
// count held for the incoming change's instance, and MaxInstances
// against the number of distinct instances that would result.
type ChangeSet struct {
	mu              sync.Mutex
	cond            *sync.Cond
	seqs            *ring.Ring[seqnum.SequenceNumber]
	changes         map[seqnum.SequenceNumber]change.CacheChange
	instanceCounts  map[change.InstanceHandle]int
	lastSeq         seqnum.SequenceNumber
	limits          qos.ResourceLimits
	reliable        bool
	maxBlockingTime qos.Duration
}

// New constructs an empty ChangeSet governed by limits. reliable
// selects the back-pressure policy once any ResourceLimits bound would
// be exceeded: Reliable sets block the caller (bounded by
// maxBlockingTime or ctx cancellation); BestEffort sets evict old
// changes instead (see evictForRoomLocked).
func New(limits qos.ResourceLimits, reliable bool, maxBlockingTime qos.Duration) *ChangeSet {
	cs := &ChangeSet{
		seqs:            ring.New[seqnum.SequenceNumber](initialRingSize),
		changes:         make(map[seqnum.SequenceNumber]change.CacheChange),
		instanceCounts:  make(map[change.InstanceHandle]int),
		limits:          limits,
		reliable:        reliable,
		maxBlockingTime: maxBlockingTime,
	}
	cs.cond = sync.NewCond(&cs.mu)
	return cs
}

// Add inserts c, whose sequence number must exceed every sequence
// number already present in the set.
func (cs *ChangeSet) Add(ctx context.Context, c change.CacheChange) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if c.SequenceNumber() <= cs.lastSeq {
		return ErrOutOfOrder
	}

	handle := c.InstanceHandle()
	if cs.limitsExceededLocked(handle) {
		if !cs.reliable {
			cs.evictForRoomLocked(handle)
		} else if err := cs.waitForRoomLocked(ctx, handle); err != nil {
			return err
		}
	}

	cs.seqs.InsertSorted(c.SequenceNumber())
	cs.changes[c.SequenceNumber()] = c
	cs.instanceCounts[handle]++
	cs.lastSeq = c.SequenceNumber()
	return nil
}

// limitsExceededLocked reports whether admitting one more change for
// handle would exceed MaxSamples, MaxSamplesPerInstance, or (for an
// instance not already held) MaxInstances. cs.mu must be held.
func (cs *ChangeSet) limitsExceededLocked(handle change.InstanceHandle) bool {
	if cs.limits.MaxSamples.ExceededBy(cs.seqs.Len() + 1) {
		return true
	}
	if cs.limits.MaxSamplesPerInstance.ExceededBy(cs.instanceCounts[handle] + 1) {
		return true
	}
	if _, held := cs.instanceCounts[handle]; !held && cs.limits.MaxInstances.ExceededBy(len(cs.instanceCounts)+1) {
		return true
	}
	return false
}

// evictForRoomLocked drops changes, oldest first, until admitting a
// change for handle would no longer exceed any limit. When the
// per-instance bound is what's exceeded, the oldest change belonging
// to that same instance is dropped so eviction actually frees the
// bound that's full; otherwise the oldest change overall is dropped.
// It stops once there is nothing left to evict, even if a limit
// remains exceeded (an empty set never itself exceeds a limit).
func (cs *ChangeSet) evictForRoomLocked(handle change.InstanceHandle) {
	for cs.limitsExceededLocked(handle) {
		var evicted bool
		if cs.limits.MaxSamplesPerInstance.ExceededBy(cs.instanceCounts[handle] + 1) {
			evicted = cs.evictOldestOfInstanceLocked(handle)
		} else {
			evicted = cs.evictOldestLocked()
		}
		if !evicted {
			return
		}
	}
}

func (cs *ChangeSet) evictOldestLocked() bool {
	n, ok := cs.seqs.PopMin()
	if !ok {
		return false
	}
	cs.dropLocked(n)
	return true
}

func (cs *ChangeSet) evictOldestOfInstanceLocked(handle change.InstanceHandle) bool {
	for i := 0; i < cs.seqs.Len(); i++ {
		n := cs.seqs.Get(i)
		if cs.changes[n].InstanceHandle() == handle {
			cs.seqs.RemoveAt(i)
			cs.dropLocked(n)
			return true
		}
	}
	return false
}

// dropLocked removes the change at n from cs.changes and decrements
// its instance's count, deleting the count entry once it reaches zero
// so limitsExceededLocked's "instance not already held" check sees it
// as free. It does not touch cs.seqs; callers already have.
func (cs *ChangeSet) dropLocked(n seqnum.SequenceNumber) {
	c, ok := cs.changes[n]
	if !ok {
		return
	}
	delete(cs.changes, n)
	h := c.InstanceHandle()
	cs.instanceCounts[h]--
	if cs.instanceCounts[h] <= 0 {
		delete(cs.instanceCounts, h)
	}
}

// waitForRoomLocked blocks on cs.cond, re-checking every limit each
// wake, until room frees for handle, ctx is cancelled, or
// maxBlockingTime elapses. cs.mu must be held on entry; it is
// released while waiting.
func (cs *ChangeSet) waitForRoomLocked(ctx context.Context, handle change.InstanceHandle) error {
	done := make(chan struct{})
	defer close(done)

	var deadline time.Time
	hasDeadline := false
	if d, finite := cs.maxBlockingTime.Value(); finite {
		deadline = time.Now().Add(d)
		hasDeadline = true
		timer := time.AfterFunc(d, func() {
			cs.mu.Lock()
			cs.cond.Broadcast()
			cs.mu.Unlock()
		})
		defer timer.Stop()
	}

	go func() {
		select {
		case <-ctx.Done():
			cs.mu.Lock()
			cs.cond.Broadcast()
			cs.mu.Unlock()
		case <-done:
		}
	}()

	for cs.limitsExceededLocked(handle) {
		if ctx.Err() != nil {
			return ErrResourceExhausted
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return ErrResourceExhausted
		}
		cs.cond.Wait()
	}
	return nil
}

// Remove drops the change at sequence number n, if present.
func (cs *ChangeSet) Remove(n seqnum.SequenceNumber) (change.CacheChange, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, ok := cs.changes[n]
	if !ok {
		return change.CacheChange{}, false
	}
	idx := cs.seqs.Search(n)
	if idx < cs.seqs.Len() && cs.seqs.Get(idx) == n {
		cs.seqs.RemoveAt(idx)
	}
	cs.dropLocked(n)
	cs.cond.Broadcast()
	return c, true
}

// Get returns the change at sequence number n, if present.
func (cs *ChangeSet) Get(n seqnum.SequenceNumber) (change.CacheChange, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.changes[n]
	return c, ok
}

// Min returns the smallest sequence number currently held.
func (cs *ChangeSet) Min() (seqnum.SequenceNumber, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.seqs.Len() == 0 {
		return 0, false
	}
	return cs.seqs.Get(0), true
}

// Max returns the largest sequence number currently held.
func (cs *ChangeSet) Max() (seqnum.SequenceNumber, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.seqs.Len() == 0 {
		return 0, false
	}
	return cs.seqs.Get(cs.seqs.Len() - 1), true
}

// Len returns the number of changes currently held.
func (cs *ChangeSet) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.seqs.Len()
}

// Iterate visits every held change in ascending sequence number
// order, stopping early if fn returns false.
func (cs *ChangeSet) Iterate(fn func(change.CacheChange) bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i := 0; i < cs.seqs.Len(); i++ {
		n := cs.seqs.Get(i)
		if !fn(cs.changes[n]) {
			return
		}
	}
}
