// Package validator compiles and evaluates the JSON-Schema bodies attached
// to topics, keyed by (scopeQualifiedTopic, eventType).
package validator

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/riftstore/eventstore/internal/eventstore"
)

// Validator holds compiled schemas for every (topic, eventType) pair
// currently registered across every scope. Callers pass an already
// scope-qualified topic name so that two tenants' same-named topics never
// collide in the same key space (spec.md §4.3).
type Validator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema // key: qualifiedTopic + "\x00" + eventType
}

// New returns an empty Validator.
func New() *Validator {
	return &Validator{
		compiled: make(map[string]*jsonschema.Schema),
	}
}

func key(qualifiedTopic, eventType string) string {
	return qualifiedTopic + "\x00" + eventType
}

// RegisterSchemas compiles and installs every schema in schemas under
// qualifiedTopic, replacing any previously registered entries for the
// eventTypes present in schemas. Entries for eventTypes not present in the
// new set are left in place untouched — the core never deletes topics, so
// there is no path that requires pruning them (spec.md §4.3).
func (v *Validator) RegisterSchemas(qualifiedTopic string, schemas []eventstore.Schema) error {
	compiled := make(map[string]*jsonschema.Schema, len(schemas))
	for _, s := range schemas {
		c, err := compile(s)
		if err != nil {
			return fmt.Errorf("compiling schema for eventType %q: %w", s.EventType(), err)
		}
		compiled[s.EventType()] = c
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for eventType, c := range compiled {
		v.compiled[key(qualifiedTopic, eventType)] = c
	}
	return nil
}

// compile builds a *jsonschema.Schema from a Schema's body. The compiler
// defaults to draft 2020-12; a schema body that sets its own "$schema" draft
// URI (including draft-07) overrides that default, per spec.md §4.3's
// "draft-2020-12 ... or draft-07 equivalent".
func compile(s eventstore.Schema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(s.Body())
	if err != nil {
		return nil, fmt.Errorf("marshaling schema body: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	resourceName := "schema-" + s.EventType() + ".json"
	if err := compiler.AddResource(resourceName, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	return compiler.Compile(resourceName)
}

// ValidateEvent checks payload against the compiled schema registered for
// (qualifiedTopic, eventType). Returns eventstore.ErrSchemaNotFound if no
// schema is registered for the pair, or eventstore.ErrSchemaValidation
// wrapping the underlying validation error if payload does not conform.
func (v *Validator) ValidateEvent(qualifiedTopic, eventType string, payload map[string]any) error {
	v.mu.RLock()
	c, ok := v.compiled[key(qualifiedTopic, eventType)]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no schema registered for eventType %q on topic %q", eventstore.ErrSchemaNotFound, eventType, qualifiedTopic)
	}

	// jsonschema.Validate works against Go values produced by
	// encoding/json.Unmarshal (map[string]interface{}, float64 numbers), so
	// round-trip payload through JSON to get canonical types.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: payload is not serializable: %v", eventstore.ErrInvalidRequest, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: payload round-trip failed: %v", eventstore.ErrInvalidRequest, err)
	}

	if err := c.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", eventstore.ErrSchemaValidation, err)
	}
	return nil
}

// Forget removes every compiled schema registered under qualifiedTopic.
// Nothing in the module calls it: topics are never deleted (spec.md §3).
func (v *Validator) Forget(qualifiedTopic string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prefix := qualifiedTopic + "\x00"
	for k := range v.compiled {
		if strings.HasPrefix(k, prefix) {
			delete(v.compiled, k)
		}
	}
}
