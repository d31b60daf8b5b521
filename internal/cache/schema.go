package cache

import "github.com/Njaecha/manga-helper/internal/storage"

// The schemas only guard the outer shape. A value that fails them is treated
// like unreadable JSON and replaced by an empty mapping.
const (
	pageCacheSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": ["object", "null"],
    "properties": {
      "detectedBoxes": {"type": ["array", "null"]},
      "customBoxes": {"type": ["array", "null"]},
      "selectedBoxIndices": {"type": ["array", "null"], "items": {"type": "integer", "minimum": 0}},
      "selectedBoxIndex": {"type": ["integer", "null"]},
      "revealedTokens": {"type": ["object", "null"]},
      "analyses": {"type": ["object", "null"]},
      "streamingTranslations": {"type": ["object", "null"]},
      "timestamp": {"type": ["number", "null"]}
    }
  }
}`

	wordCacheSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": ["object", "null"],
    "properties": {
      "timestamp": {"type": ["number", "null"]}
    }
  }
}`

	metaSchema = `{
  "type": "object",
  "properties": {
    "version": {"type": "string"},
    "created": {"type": "number"},
    "lastAccessed": {"type": "number"},
    "totalEntries": {"type": "number"},
    "totalSizeBytes": {"type": "number"}
  }
}`
)

func registerSchemas(store *storage.Store) error {
	for key, doc := range map[string]string{
		PageCacheKey: pageCacheSchema,
		WordCacheKey: wordCacheSchema,
		MetaKey:      metaSchema,
	} {
		schema, err := storage.CompileSchema(key+".json", doc)
		if err != nil {
			return err
		}
		store.RegisterSchema(key, schema)
	}
	return nil
}
