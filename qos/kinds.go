package qos

// ReliabilityKind orders BestEffort < Reliable.
type ReliabilityKind uint8

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

func (k ReliabilityKind) String() string {
	if k == Reliable {
		return "Reliable"
	}
	return "BestEffort"
}

// DurabilityKind orders Volatile < TransientLocal < Transient < Persistent.
type DurabilityKind uint8

const (
	Volatile DurabilityKind = iota
	TransientLocal
	Transient
	Persistent
)

func (k DurabilityKind) String() string {
	switch k {
	case TransientLocal:
		return "TransientLocal"
	case Transient:
		return "Transient"
	case Persistent:
		return "Persistent"
	default:
		return "Volatile"
	}
}

// AccessScopeKind orders Instance < Topic, used by PresentationQosPolicy.
type AccessScopeKind uint8

const (
	InstanceScope AccessScopeKind = iota
	TopicScope
)

func (k AccessScopeKind) String() string {
	if k == TopicScope {
		return "Topic"
	}
	return "Instance"
}

// LivelinessKind orders Automatic < ManualByParticipant < ManualByTopic.
type LivelinessKind uint8

const (
	Automatic LivelinessKind = iota
	ManualByParticipant
	ManualByTopic
)

func (k LivelinessKind) String() string {
	switch k {
	case ManualByParticipant:
		return "ManualByParticipant"
	case ManualByTopic:
		return "ManualByTopic"
	default:
		return "Automatic"
	}
}

// DestinationOrderKind orders ByReceptionTimestamp < BySourceTimestamp.
type DestinationOrderKind uint8

const (
	ByReceptionTimestamp DestinationOrderKind = iota
	BySourceTimestamp
)

func (k DestinationOrderKind) String() string {
	if k == BySourceTimestamp {
		return "BySourceTimestamp"
	}
	return "ByReceptionTimestamp"
}

// OwnershipKind is Shared or Exclusive; unordered (arbitration is by
// OwnershipStrengthQosPolicy, not by kind).
type OwnershipKind uint8

const (
	Shared OwnershipKind = iota
	Exclusive
)

func (k OwnershipKind) String() string {
	if k == Exclusive {
		return "Exclusive"
	}
	return "Shared"
}

// HistoryKind is either KeepLast(depth) or KeepAll.
type HistoryKind struct {
	keepAll bool
	depth   uint32
}

// KeepLast constructs a HistoryKind retaining the most recent depth
// samples per instance.
func KeepLast(depth uint32) HistoryKind {
	return HistoryKind{depth: depth}
}

// KeepAll is the HistoryKind retaining every sample, bounded only by
// ResourceLimits.
var KeepAll = HistoryKind{keepAll: true}

func (h HistoryKind) IsKeepAll() bool {
	return h.keepAll
}

// Depth returns h's retained depth and true, or (0, false) for KeepAll.
func (h HistoryKind) Depth() (uint32, bool) {
	if h.keepAll {
		return 0, false
	}
	return h.depth, true
}

func (h HistoryKind) String() string {
	if h.keepAll {
		return "KeepAll"
	}
	return "KeepLast"
}
