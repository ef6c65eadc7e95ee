// Package events defines the mission related events emitted on the event bus.
//
// Available event types:
//   - GeofenceEvent: zone entry or exit derived from position fixes
//   - MissionEvent: lifecycle transition applied to a mission
//   - OfferEvent: dispatch offer created or resolved
//   - SyncEvent: offline queue mutation delivered or dropped
package events
