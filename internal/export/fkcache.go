package export

// FKCache holds the external IDs emitted per parent model during one export
// run. It is written only by the orchestrator, after each successful emit,
// and read by the validator to resolve m2o references. Its lifetime is a
// single run; there is no invalidation and no persistence.
type FKCache struct {
	sets map[string]map[string]struct{}
}

// NewFKCache creates an empty cache.
func NewFKCache() *FKCache {
	return &FKCache{sets: make(map[string]map[string]struct{})}
}

// Add records emitted external IDs for a model.
func (c *FKCache) Add(model string, ids []string) {
	set, ok := c.sets[model]
	if !ok {
		set = make(map[string]struct{}, len(ids))
		c.sets[model] = set
	}

	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Contains reports whether the model emitted the given external ID in this
// run. Implements validate.FKResolver.
func (c *FKCache) Contains(model, externalID string) bool {
	_, ok := c.sets[model][externalID]

	return ok
}

// Len returns the number of IDs cached for a model.
func (c *FKCache) Len(model string) int {
	return len(c.sets[model])
}
