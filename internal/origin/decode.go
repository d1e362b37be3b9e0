package origin

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"goflare.io/tierbench/internal/models"
)

type payloadKind int

const (
	payloadOther payloadKind = iota
	payloadList
	payloadObject
)

func classify(raw []byte) payloadKind {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return payloadOther
	}
	switch trimmed[0] {
	case '[':
		return payloadList
	case '{':
		return payloadObject
	default:
		return payloadOther
	}
}

// Decode turns an origin payload into bars. A list decodes element by
// element, a single object becomes a one-bar list and anything else is
// empty. Elements that fail to decode are dropped.
func Decode(raw []byte, logger *zap.Logger) []models.Bar {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch classify(raw) {
	case payloadList:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			logger.Debug("Malformed origin list payload", zap.Error(err))
			return []models.Bar{}
		}
		bars := make([]models.Bar, 0, len(items))
		for i, item := range items {
			var bar models.Bar
			if err := json.Unmarshal(item, &bar); err != nil {
				logger.Debug("Dropping malformed origin bar", zap.Int("index", i), zap.Error(err))
				continue
			}
			bars = append(bars, bar)
		}
		return bars

	case payloadObject:
		var bar models.Bar
		if err := json.Unmarshal(raw, &bar); err != nil {
			logger.Debug("Malformed origin object payload", zap.Error(err))
			return []models.Bar{}
		}
		return []models.Bar{bar}

	default:
		logger.Debug("Unrecognised origin payload", zap.Int("bytes", len(raw)))
		return []models.Bar{}
	}
}
