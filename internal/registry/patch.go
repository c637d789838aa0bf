package registry

import "time"

// Patch is a partial state document. Top-level keys replace existing values;
// map values merge one level deep into existing maps.
type Patch map[string]any

// Set assigns a top-level key and returns the patch for chaining.
func (p Patch) Set(key string, value any) Patch {
	p[key] = value
	return p
}

// Merge assigns key inside the nested section map.
func (p Patch) Merge(section, key string, value any) Patch {
	nested, ok := p[section].(map[string]any)
	if !ok {
		nested = map[string]any{}
		p[section] = nested
	}
	nested[key] = value
	return p
}

// StagePatch is the common stage/progress/message update.
func StagePatch(stage Stage, progress float64, message string) Patch {
	return Patch{"stage": stage, "progress": progress, "message": message}
}

// MarkStep records a ledger entry.
func MarkStep(step string, at time.Time) Patch {
	return Patch{"once": map[string]any{step: at.UTC()}}
}

// applyPatch merges patch into doc in place. The "once" ledger keeps the
// first timestamp recorded for a step and ignores attempts to clear it.
func applyPatch(doc map[string]any, patch Patch) {
	for key, value := range patch {
		incoming, isMap := asMap(value)
		if !isMap {
			doc[key] = value
			continue
		}
		existing, ok := asMap(doc[key])
		if !ok {
			existing = map[string]any{}
		}
		for nestedKey, nestedValue := range incoming {
			if key == "once" {
				if nestedValue == nil {
					continue
				}
				if _, marked := existing[nestedKey]; marked {
					continue
				}
			}
			existing[nestedKey] = nestedValue
		}
		doc[key] = existing
	}
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case Patch:
		return map[string]any(v), true
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}
