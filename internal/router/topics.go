// Package router subscribes to the device topic tree, pulls identity
// out of topic paths, and dispatches payloads to the engines. It is
// the admission boundary: unknown coordinators are stopped here before
// anything can mutate state.
package router

import (
	"fmt"
	"strings"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// Subscription patterns. Identity always comes from the topic path,
// never from the payload.
const (
	TopicReservoirTelemetry = "farm/+/coord/+/reservoir/telemetry"
	TopicTowerTelemetry     = "farm/+/coord/+/tower/+/telemetry"
	TopicTowerStatus        = "farm/+/coord/+/tower/+/status"
	TopicPairingRequest     = "farm/+/coord/+/pairing/request"
	TopicPairingStatus      = "farm/+/coord/+/pairing/status"
	TopicPairingComplete    = "farm/+/coord/+/pairing/complete"
	TopicSerialLog          = "farm/+/coord/+/serial"
	TopicConnectionStatus   = "farm/+/coord/+/status/connection"
	TopicAnnounce           = "coordinator/+/announce"
)

// parsedTopic is the identity and kind extracted from one topic path.
type parsedTopic struct {
	key  models.TwinKey
	kind string // the segment after the device path: telemetry, status, request, ...
}

// parseDeviceTopic decodes a farm/{f}/coord/{c}/... path. Tower
// segments, when present, extend the key.
func parseDeviceTopic(topic string) (parsedTopic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 || parts[0] != "farm" || parts[2] != "coord" {
		return parsedTopic{}, fmt.Errorf("unrecognized topic %q", topic)
	}
	key := models.TwinKey{FarmID: parts[1], CoordID: parts[3]}

	rest := parts[4:]
	if rest[0] == "tower" {
		if len(rest) < 3 {
			return parsedTopic{}, fmt.Errorf("tower topic %q missing leaf", topic)
		}
		key.TowerID = rest[1]
		rest = rest[2:]
	}
	if key.FarmID == "" || key.CoordID == "" {
		return parsedTopic{}, fmt.Errorf("topic %q missing identity segment", topic)
	}

	return parsedTopic{key: key, kind: rest[len(rest)-1]}, nil
}

// parseAnnounceTopic decodes coordinator/{coordId}/announce.
func parseAnnounceTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "coordinator" || parts[2] != "announce" || parts[1] == "" {
		return "", fmt.Errorf("unrecognized announce topic %q", topic)
	}
	return parts[1], nil
}

// registeredTopic is where a coordinator hears its registration ack.
func registeredTopic(coordID string) string {
	return "coordinator/" + coordID + "/registered"
}
