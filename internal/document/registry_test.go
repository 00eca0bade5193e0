package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func named(name string) FieldExtractor {
	return Func(name, func(context.Context, any, *Builder) ([]string, error) { return nil, nil })
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	// Given: extractors registered for two entity types
	reg := NewRegistry()
	reg.Register(EntityIssue, named("b"))
	reg.Register(EntityComment, named("c1"))
	reg.Register(EntityIssue, named("a"))
	reg.Register(EntityIssue, named("c"))

	// When: listing issue extractors
	got := reg.Extractors(EntityIssue)

	// Then: registration order is kept and types do not mix
	var names []string
	for _, ex := range got {
		names = append(names, ex.Name())
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
	assert.Len(t, reg.Extractors(EntityComment), 1)
	assert.Empty(t, reg.Extractors(EntityChangeHistory))
}

func TestRegistry_ExtractorsReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	reg.Register(EntityIssue, named("a"))

	got := reg.Extractors(EntityIssue)
	got[0] = named("mutated")

	assert.Equal(t, "a", reg.Extractors(EntityIssue)[0].Name())
}

func TestRegistry_NilIsEmpty(t *testing.T) {
	var reg *Registry
	assert.Empty(t, reg.Extractors(EntityIssue))
}
