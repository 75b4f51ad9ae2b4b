// Package guid implements the RTPS global identifiers: GuidPrefix,
// EntityID and their combination, GUID.
package guid

import "fmt"

// GuidPrefix identifies the participant that owns an entity. It is the
// first 12 bytes of a GUID.
type GuidPrefix [12]byte

// EntityID identifies an entity (writer, reader, participant) within a
// participant. It is the last 4 bytes of a GUID.
type EntityID [4]byte

// EntityIDUnknown is the RTPS ENTITYID_UNKNOWN sentinel, used to address a
// submessage to "any reader/writer" (e.g. best-effort GAP targeting).
var EntityIDUnknown = EntityID{}

// GUID is the 16-byte globally unique identifier of an RTPS entity.
type GUID struct {
	Prefix   GuidPrefix
	EntityID EntityID
}

// New builds a GUID from its prefix and entity id.
func New(prefix GuidPrefix, entityID EntityID) GUID {
	return GUID{Prefix: prefix, EntityID: entityID}
}

// IsUnknown reports whether g's entity id is ENTITYID_UNKNOWN.
func (g GUID) IsUnknown() bool {
	return g.EntityID == EntityIDUnknown
}

func (g GUID) String() string {
	return fmt.Sprintf("%x:%x", g.Prefix[:], g.EntityID[:])
}

func (p GuidPrefix) String() string {
	return fmt.Sprintf("%x", p[:])
}

func (e EntityID) String() string {
	return fmt.Sprintf("%x", e[:])
}
