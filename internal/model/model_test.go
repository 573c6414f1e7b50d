package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		f       Filter
		wantErr bool
	}{
		{"session eq ok", Filter{Field: FieldSessionID, Op: OpEq, Value: "s1"}, false},
		{"session gt not allowed", Filter{Field: FieldSessionID, Op: OpGt, Value: "s1"}, true},
		{"topics any_of ok", Filter{Field: FieldTopics, Op: OpAnyOf, Value: []any{"a"}}, false},
		{"topics eq not allowed", Filter{Field: FieldTopics, Op: OpEq, Value: "a"}, true},
		{"created_at between ok", Filter{Field: FieldCreatedAt, Op: OpBetween, Value: []any{"a", "b"}}, false},
		{"discrete eq ok", Filter{Field: FieldDiscreteMemoryExtracted, Op: OpEq, Value: "t"}, false},
		{"discrete gt not allowed", Filter{Field: FieldDiscreteMemoryExtracted, Op: OpGt, Value: "t"}, true},
		{"unknown field", Filter{Field: "bogus", Op: OpEq, Value: "x"}, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			err := c.f.Validate()
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryRecordCloneDoesNotAlias(t *testing.T) {
	t.Parallel()
	orig := MemoryRecord{
		ID:            "r1",
		Topics:        []string{"a"},
		Entities:      []string{"b"},
		ExtractedFrom: []string{"m1"},
	}
	clone := orig.Clone()
	clone.Topics[0] = "mutated"
	clone.Entities = append(clone.Entities, "c")
	clone.ExtractedFrom[0] = "mutated"

	assert.Equal(t, "a", orig.Topics[0])
	assert.Len(t, orig.Entities, 1)
	assert.Equal(t, "m1", orig.ExtractedFrom[0])
}
