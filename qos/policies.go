package qos

// UserData carries opaque application data attached to an entity.
type UserData struct {
	Value []byte
}

func DefaultUserData() UserData { return UserData{} }

// TopicData carries opaque application data attached to a topic.
type TopicData struct {
	Value []byte
}

func DefaultTopicData() TopicData { return TopicData{} }

// GroupData carries opaque application data attached to a publisher or
// subscriber.
type GroupData struct {
	Value []byte
}

func DefaultGroupData() GroupData { return GroupData{} }

// TransportPriority is a hint to transports capable of prioritising
// traffic; higher values indicate higher priority.
type TransportPriority struct {
	Value int32
}

func DefaultTransportPriority() TransportPriority { return TransportPriority{} }

// Lifespan bounds how long a sample remains valid after its source
// timestamp.
type Lifespan struct {
	Duration Duration
}

func DefaultLifespan() Lifespan { return Lifespan{Duration: Infinite} }

// Durability governs whether late-joining readers can see historical
// samples. Compatible iff offered.Kind >= requested.Kind.
type Durability struct {
	Kind DurabilityKind
}

func DefaultDurability() Durability { return Durability{Kind: Volatile} }

// Presentation controls grouping of coherent/ordered changes.
// Compatible iff offered.AccessScope >= requested.AccessScope, and
// requested.Coherent/Ordered being true requires the offered side true
// too.
type Presentation struct {
	AccessScope AccessScopeKind
	Coherent    bool
	Ordered     bool
}

func DefaultPresentation() Presentation {
	return Presentation{AccessScope: InstanceScope}
}

// Deadline is the maximum period between updates to an instance.
// Compatible iff offered.Period <= requested.Period.
type Deadline struct {
	Period Duration
}

func DefaultDeadline() Deadline { return Deadline{Period: Infinite} }

// LatencyBudget is a hint for acceptable delay. Compatible iff
// offered.Duration <= requested.Duration.
type LatencyBudget struct {
	Duration Duration
}

func DefaultLatencyBudget() LatencyBudget { return LatencyBudget{Duration: Finite(0)} }

// Ownership selects shared or exclusive instance ownership.
type Ownership struct {
	Kind OwnershipKind
}

func DefaultOwnership() Ownership { return Ownership{Kind: Shared} }

// OwnershipStrength arbitrates between exclusive-ownership writers;
// higher wins.
type OwnershipStrength struct {
	Value int32
}

func DefaultOwnershipStrength() OwnershipStrength { return OwnershipStrength{} }

// Liveliness governs the mechanism and cadence used to assert an
// entity remains alive. Compatible iff offered.Kind >= requested.Kind
// and offered.LeaseDuration <= requested.LeaseDuration.
type Liveliness struct {
	Kind          LivelinessKind
	LeaseDuration Duration
}

func DefaultLiveliness() Liveliness {
	return Liveliness{Kind: Automatic, LeaseDuration: Infinite}
}

// TimeBasedFilter bounds how often a reader wants to see updates to a
// single instance.
type TimeBasedFilter struct {
	MinimumSeparation Duration
}

func DefaultTimeBasedFilter() TimeBasedFilter {
	return TimeBasedFilter{MinimumSeparation: Finite(0)}
}

// Partition lists the logical partition names an entity publishes or
// subscribes to; names may contain fnmatch-style wildcards.
type Partition struct {
	Names []string
}

func DefaultPartition() Partition { return Partition{} }

// Reliability selects the protocol branch and, for Reliable, the
// maximum time a blocking write may wait. Compatible iff
// offered.Kind >= requested.Kind.
type Reliability struct {
	Kind            ReliabilityKind
	MaxBlockingTime Duration
}

// DefaultReliabilityWriter is the writer-side default: Reliable.
func DefaultReliabilityWriter() Reliability {
	return Reliability{Kind: Reliable, MaxBlockingTime: Finite(defaultMaxBlockingTime)}
}

// DefaultReliabilityReader is the reader/topic-side default: BestEffort.
func DefaultReliabilityReader() Reliability {
	return Reliability{Kind: BestEffort, MaxBlockingTime: Finite(defaultMaxBlockingTime)}
}

// DestinationOrder governs how a reader resolves concurrent updates to
// the same instance. Compatible iff offered.Kind >= requested.Kind.
type DestinationOrder struct {
	Kind DestinationOrderKind
}

func DefaultDestinationOrder() DestinationOrder {
	return DestinationOrder{Kind: ByReceptionTimestamp}
}

// History bounds how many samples per instance the writer retains.
type History struct {
	Kind HistoryKind
}

func DefaultHistory() History { return History{Kind: KeepLast(1)} }

// ResourceLimits bounds the writer's change set size.
type ResourceLimits struct {
	MaxSamples            Length
	MaxInstances          Length
	MaxSamplesPerInstance Length
}

func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxSamples:            Unlimited,
		MaxInstances:          Unlimited,
		MaxSamplesPerInstance: Unlimited,
	}
}

// EntityFactory controls whether factory-created entities are
// automatically enabled.
type EntityFactory struct {
	AutoenableCreatedEntities bool
}

func DefaultEntityFactory() EntityFactory {
	return EntityFactory{AutoenableCreatedEntities: true}
}

// WriterDataLifecycle controls whether unregistering an instance
// implicitly disposes it.
type WriterDataLifecycle struct {
	AutodisposeUnregisteredInstances bool
}

func DefaultWriterDataLifecycle() WriterDataLifecycle {
	return WriterDataLifecycle{AutodisposeUnregisteredInstances: true}
}

// ReaderDataLifecycle bounds how long a reader retains instance state
// after the instance becomes not-alive.
type ReaderDataLifecycle struct {
	AutopurgeNoWriterSamplesDelay Duration
	AutopurgeDisposedSamplesDelay Duration
}

func DefaultReaderDataLifecycle() ReaderDataLifecycle {
	return ReaderDataLifecycle{
		AutopurgeNoWriterSamplesDelay: Infinite,
		AutopurgeDisposedSamplesDelay: Infinite,
	}
}

// DurabilityService configures the resources a TransientLocal,
// Transient or Persistent writer commits to serving late joiners.
type DurabilityService struct {
	ServiceCleanupDelay   Duration
	HistoryKind           HistoryKind
	HistoryDepth          Length
	MaxSamples            Length
	MaxInstances          Length
	MaxSamplesPerInstance Length
}

func DefaultDurabilityService() DurabilityService {
	return DurabilityService{
		ServiceCleanupDelay:   Finite(0),
		HistoryKind:           KeepLast(1),
		HistoryDepth:          Limited(1),
		MaxSamples:            Unlimited,
		MaxInstances:          Unlimited,
		MaxSamplesPerInstance: Unlimited,
	}
}

// DataRepresentation lists the XCDR representation ids an endpoint can
// produce or accept. Compatible iff the requested and offered sets
// intersect.
type DataRepresentation struct {
	Value []int16
}

func DefaultDataRepresentation() DataRepresentation {
	return DataRepresentation{Value: []int16{XCDR}}
}

// Standard data representation identifiers (DDS-XTypes).
const (
	XCDR  int16 = 0
	XML   int16 = 1
	XCDR2 int16 = 2
)

const defaultMaxBlockingTime = 100_000_000 // 100ms, in time.Duration units (ns)
