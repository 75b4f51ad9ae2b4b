package qos

import (
	"fmt"
	"path/filepath"

	"golang.org/x/exp/slices"
)

// Incompatible reports a single requested-vs-offered QoS mismatch
// detected by IsCompatible. It is never fatal: the caller decides
// whether to refuse the match.
type Incompatible struct {
	PolicyID  PolicyID
	Requested interface{}
	Offered   interface{}
}

func (e *Incompatible) Error() string {
	return fmt.Sprintf("qos: incompatible %s policy: requested=%v offered=%v", e.PolicyID, e.Requested, e.Offered)
}

// RequestedOffered bundles the subset of policies the writer engine
// consults when a reader is matched against a writer (§4.1). Only the
// policies with a defined compatibility rule are included; the rest
// (UserData, TopicData, GroupData, TransportPriority, EntityFactory,
// WriterDataLifecycle, ReaderDataLifecycle, OwnershipStrength) carry no
// compatibility predicate and are not part of match admission.
type RequestedOffered struct {
	Durability         Durability
	Presentation       Presentation
	Deadline           Deadline
	LatencyBudget      LatencyBudget
	Liveliness         Liveliness
	Reliability        Reliability
	DestinationOrder   DestinationOrder
	Ownership          Ownership
	Partition          Partition
	DataRepresentation DataRepresentation
}

// IsCompatible evaluates requested against offered, one policy at a
// time, and reports the first incompatibility found. Implementations
// may choose to aggregate; this one reports the first, per spec.
// Partition mismatch is not reported as an incompatibility (per
// standard: a missing partition match silently prevents delivery, it
// never blocks the match).
func IsCompatible(requested, offered RequestedOffered) (bool, *Incompatible) {
	if offered.Durability.Kind < requested.Durability.Kind {
		return false, &Incompatible{DurabilityID, requested.Durability, offered.Durability}
	}
	if offered.Presentation.AccessScope < requested.Presentation.AccessScope {
		return false, &Incompatible{PresentationID, requested.Presentation, offered.Presentation}
	}
	if requested.Presentation.Coherent && !offered.Presentation.Coherent {
		return false, &Incompatible{PresentationID, requested.Presentation, offered.Presentation}
	}
	if requested.Presentation.Ordered && !offered.Presentation.Ordered {
		return false, &Incompatible{PresentationID, requested.Presentation, offered.Presentation}
	}
	if !offered.Deadline.Period.LessEqual(requested.Deadline.Period) {
		return false, &Incompatible{DeadlineID, requested.Deadline, offered.Deadline}
	}
	if !offered.LatencyBudget.Duration.LessEqual(requested.LatencyBudget.Duration) {
		return false, &Incompatible{LatencyBudgetID, requested.LatencyBudget, offered.LatencyBudget}
	}
	if offered.Liveliness.Kind < requested.Liveliness.Kind {
		return false, &Incompatible{LivelinessID, requested.Liveliness, offered.Liveliness}
	}
	if !offered.Liveliness.LeaseDuration.LessEqual(requested.Liveliness.LeaseDuration) {
		return false, &Incompatible{LivelinessID, requested.Liveliness, offered.Liveliness}
	}
	if offered.Reliability.Kind < requested.Reliability.Kind {
		return false, &Incompatible{ReliabilityID, requested.Reliability, offered.Reliability}
	}
	if offered.DestinationOrder.Kind < requested.DestinationOrder.Kind {
		return false, &Incompatible{DestinationOrderID, requested.DestinationOrder, offered.DestinationOrder}
	}
	if requested.Ownership.Kind == Exclusive && offered.Ownership.Kind != Exclusive {
		return false, &Incompatible{OwnershipID, requested.Ownership, offered.Ownership}
	}
	if !dataRepresentationsIntersect(requested.DataRepresentation, offered.DataRepresentation) {
		return false, &Incompatible{DataRepresentationID, requested.DataRepresentation, offered.DataRepresentation}
	}
	return true, nil
}

func dataRepresentationsIntersect(requested, offered DataRepresentation) bool {
	for _, r := range requested.Value {
		if slices.Contains(offered.Value, r) {
			return true
		}
	}
	return len(requested.Value) == 0
}

// PartitionsMatch reports whether a and b share at least one partition
// name, per POSIX fnmatch-style wildcard rules. Two wildcard-bearing
// names are never considered a match against each other, only a
// literal name against a pattern (or literal against literal).
func PartitionsMatch(a, b Partition) bool {
	if len(a.Names) == 0 && len(b.Names) == 0 {
		return true
	}
	for _, x := range a.Names {
		for _, y := range b.Names {
			if partitionNameMatches(x, y) {
				return true
			}
		}
	}
	return false
}

func partitionNameMatches(x, y string) bool {
	if x == y {
		return true
	}
	xWild, yWild := hasWildcard(x), hasWildcard(y)
	if xWild && yWild {
		return false
	}
	if xWild {
		ok, _ := filepath.Match(x, y)
		return ok
	}
	if yWild {
		ok, _ := filepath.Match(y, x)
		return ok
	}
	return false
}

func hasWildcard(s string) bool {
	return slices.ContainsFunc([]byte(s), func(b byte) bool {
		return b == '*' || b == '?' || b == '['
	})
}
