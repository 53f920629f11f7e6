package operators

import (
	"bytes"
	"sync"
	"time"

	"geo-sparql-go/config"
)

// ResultCache stores computed operator results keyed on their cache key.
// Entries are kept serialized, so a cached batch is decoded fresh for every
// reader and no caller can mutate shared arrays. Safe for concurrent use:
// independent plan nodes may be executed in parallel.
type ResultCache struct {
	mu      sync.Mutex
	enabled bool
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	schemaBlock []byte
	columnBlock []byte
	storedAt    time.Time
}

func NewResultCache() *ResultCache {
	cfg := config.GetConfig()
	return &ResultCache{
		enabled: cfg.Query.EnableCache,
		ttl:     time.Duration(cfg.Query.CacheTTLSeconds) * time.Second,
		entries: make(map[string]cacheEntry),
	}
}

// Put stores a materialized result under the operator's cache key.
func (c *ResultCache) Put(key string, batch *RecordBatch, vars VariableMap) error {
	if !c.enabled {
		return nil
	}
	ser, err := NewSerializer(batch.Schema, vars)
	if err != nil {
		return err
	}
	schemaBlock, err := ser.SerializeSchema()
	if err != nil {
		return err
	}
	columnBlock, err := ser.SerializeBatchColumns(*batch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		schemaBlock: schemaBlock,
		columnBlock: columnBlock,
		storedAt:    time.Now(),
	}
	return nil
}

// Get returns the cached result for the key, or ok=false on a miss or an
// expired entry.
func (c *ResultCache) Get(key string) (*RecordBatch, VariableMap, bool) {
	if !c.enabled {
		return nil, nil, false
	}
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.ttl > 0 && time.Since(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	ser, err := NewSerializer(nil, nil)
	if err != nil {
		return nil, nil, false
	}
	schema, vars, err := ser.DeserializeSchema(bytes.NewReader(entry.schemaBlock))
	if err != nil {
		return nil, nil, false
	}
	ser.schema = schema
	columns, err := ser.DecodeRecordBatch(bytes.NewReader(entry.columnBlock), schema)
	if err != nil {
		return nil, nil, false
	}
	var rows uint64
	if len(columns) > 0 {
		rows = uint64(columns[0].Len())
	}
	return &RecordBatch{
		Schema:   schema,
		Columns:  columns,
		RowCount: rows,
	}, vars, true
}

// Len reports the number of live entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
