package types

// JSONMap stores schemaless jsonb blobs (fulfillment artifacts, shipping and
// delivery details) without forcing a fixed shape on them.
type JSONMap map[string]any
