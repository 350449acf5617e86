package settings

import (
	"go.uber.org/zap"

	"github.com/zeptac/subtronic-fleet/internal/logging"
)

// aliasDenylist enumerates the deprecated lowercase/camelCase duplicates of
// canonical parameter names that must never appear in an outbound frame.
// The device firmware publishes some parameters under both spellings; only
// the canonical capitalized names are accepted back.
//
// This is a closed list, not a case-folding rule: canonical names may
// legitimately be lowercase ("logging_interval" is a real parameter,
// distinct from the excluded alias "loggingInterval").
var aliasDenylist = map[string]struct{}{
	"event":                        {},
	"electrode":                    {},
	"mode":                         {},
	"manualModeAction":             {},
	"shuntVoltage":                 {},
	"shuntCurrent":                 {},
	"referenceFail":                {},
	"referenceUP":                  {},
	"referenceOP":                  {},
	"referenceOV":                  {},
	"di1":                          {},
	"di2":                          {},
	"di3":                          {},
	"di4":                          {},
	"interruptOnTime":              {},
	"interruptOffTime":             {},
	"interruptStartTimestamp":      {},
	"interruptStopTimestamp":       {},
	"dpolInterval":                 {},
	"depolarizationStartTimestamp": {},
	"depolarizationStopTimestamp":  {},
	"instantMode":                  {},
	"instantStartTimestamp":        {},
	"instantEndTimestamp":          {},
	"loggingInterval":              {},
	"logging_Interval":             {},
}

// IsAlias reports whether key is a known deprecated alias of a canonical
// parameter name.
func IsAlias(key string) bool {
	_, ok := aliasDenylist[key]
	return ok
}

// Compose produces the complete settings frame for a device: the baseline
// with staged edits applied on top, filtered against the alias denylist.
// Overlay values win on key collision. Composing twice without intervening
// mutation yields an identical map.
//
// Composing an untracked device returns an empty map and logs a warning.
func (s *Store) Compose(deviceID string) map[string]any {
	payload, _ := s.ComposeSnapshot(deviceID)
	return payload
}

// ComposeSnapshot returns the complete settings frame together with the
// overlay snapshot it was composed from, under a single lock acquisition.
// The pair is consistent: every edit in changes is carried by the frame
// (aliases excepted), so a delivery record never under-reports what its
// frame transmitted.
func (s *Store) ComposeSnapshot(deviceID string) (payload, changes map[string]any) {
	e := s.get(deviceID)
	if e == nil {
		logging.Warn("compose on uninitialized device cache",
			zap.String("device_id", deviceID),
		)
		return map[string]any{}, map[string]any{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	changes = copyMap(e.overlay)

	merged := copyMap(e.baseline)
	for k, v := range e.overlay {
		merged[k] = v
	}

	payload = make(map[string]any, len(merged))
	for k, v := range merged {
		if _, excluded := aliasDenylist[k]; excluded {
			logging.Debug("filtered alias parameter from payload",
				zap.String("device_id", deviceID),
				zap.String("key", k),
			)
			continue
		}
		payload[k] = v
	}

	return payload, changes
}
