// Package qos implements the DDS QoS policy values consulted by the
// writer engine: typed values, per-policy defaults, ordering between
// kinds where the standard defines one, and the requested-vs-offered
// compatibility predicate of §4.1.
package qos

// PolicyID is the stable numeric identifier of a standard QoS policy,
// in the range 1..23. Zero is reserved as invalid.
type PolicyID int32

const (
	InvalidPolicyID       PolicyID = 0
	UserDataID            PolicyID = 1
	DurabilityID          PolicyID = 2
	PresentationID        PolicyID = 3
	DeadlineID            PolicyID = 4
	LatencyBudgetID       PolicyID = 5
	OwnershipID           PolicyID = 6
	OwnershipStrengthID   PolicyID = 7
	LivelinessID          PolicyID = 8
	TimeBasedFilterID     PolicyID = 9
	PartitionID           PolicyID = 10
	ReliabilityID         PolicyID = 11
	DestinationOrderID    PolicyID = 12
	HistoryID             PolicyID = 13
	ResourceLimitsID      PolicyID = 14
	EntityFactoryID       PolicyID = 15
	WriterDataLifecycleID PolicyID = 16
	ReaderDataLifecycleID PolicyID = 17
	TopicDataID           PolicyID = 18
	GroupDataID           PolicyID = 19
	TransportPriorityID   PolicyID = 20
	LifespanID            PolicyID = 21
	DurabilityServiceID   PolicyID = 22
	DataRepresentationID  PolicyID = 23
)

func (id PolicyID) String() string {
	switch id {
	case UserDataID:
		return "UserData"
	case DurabilityID:
		return "Durability"
	case PresentationID:
		return "Presentation"
	case DeadlineID:
		return "Deadline"
	case LatencyBudgetID:
		return "LatencyBudget"
	case OwnershipID:
		return "Ownership"
	case OwnershipStrengthID:
		return "OwnershipStrength"
	case LivelinessID:
		return "Liveliness"
	case TimeBasedFilterID:
		return "TimeBasedFilter"
	case PartitionID:
		return "Partition"
	case ReliabilityID:
		return "Reliability"
	case DestinationOrderID:
		return "DestinationOrder"
	case HistoryID:
		return "History"
	case ResourceLimitsID:
		return "ResourceLimits"
	case EntityFactoryID:
		return "EntityFactory"
	case WriterDataLifecycleID:
		return "WriterDataLifecycle"
	case ReaderDataLifecycleID:
		return "ReaderDataLifecycle"
	case TopicDataID:
		return "TopicData"
	case GroupDataID:
		return "GroupData"
	case TransportPriorityID:
		return "TransportPriority"
	case LifespanID:
		return "Lifespan"
	case DurabilityServiceID:
		return "DurabilityService"
	case DataRepresentationID:
		return "DataRepresentation"
	default:
		return "Invalid"
	}
}
