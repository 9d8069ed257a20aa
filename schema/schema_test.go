package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func lookup(doc bson.D, key string) (any, bool) {
	for _, e := range doc {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func asD(v any) bson.D {
	d, _ := v.(bson.D)
	return d
}

func requireLookup(t *testing.T, doc bson.D, key string) any {
	t.Helper()
	v, ok := lookup(doc, key)
	require.True(t, ok, "missing key %q in %v", key, doc)
	return v
}

type simpleDoc struct {
	Name string `bson:"name"`
	Age  int    `bson:"age"`
}

func TestGenerateNameAndAgeScenario(t *testing.T) {
	g := New(false)
	top, err := g.Generate(simpleDoc{})
	require.NoError(t, err)

	body := asD(requireLookup(t, top, "$jsonSchema"))
	require.Equal(t, []any{"object"}, requireLookup(t, body, "bsonType"))

	required := requireLookup(t, body, "required").([]any)
	require.ElementsMatch(t, []any{"_id", "name", "age"}, required)

	props := asD(requireLookup(t, body, "properties"))

	idDef := asD(requireLookup(t, props, "_id"))
	require.Equal(t, []any{"objectId"}, requireLookup(t, idDef, "bsonType"))

	nameDef := asD(requireLookup(t, props, "name"))
	require.Equal(t, []any{"string"}, requireLookup(t, nameDef, "bsonType"))

	ageDef := asD(requireLookup(t, props, "age"))
	require.Equal(t, []any{"int", "long"}, requireLookup(t, ageDef, "bsonType"))
}

type optionalFieldDoc struct {
	Nickname *string `bson:"nickname"`
}

func TestOptionalFieldAddsNullAndDropsRequired(t *testing.T) {
	g := New(false)
	top, err := g.Generate(optionalFieldDoc{})
	require.NoError(t, err)

	body := asD(requireLookup(t, top, "$jsonSchema"))
	required := requireLookup(t, body, "required").([]any)
	require.NotContains(t, required, "nickname")

	props := asD(requireLookup(t, body, "properties"))
	nickDef := asD(requireLookup(t, props, "nickname"))
	require.Equal(t, []any{"string", "null"}, requireLookup(t, nickDef, "bsonType"))
}

type addr struct {
	City string `bson:"city"`
}

type personWithAddress struct {
	Home addr `bson:"home"`
}

func TestNestedStructProducesNestedObjectSchema(t *testing.T) {
	g := New(false)
	top, err := g.Generate(personWithAddress{})
	require.NoError(t, err)

	body := asD(requireLookup(t, top, "$jsonSchema"))
	props := asD(requireLookup(t, body, "properties"))
	homeDef := asD(requireLookup(t, props, "home"))
	require.Equal(t, []any{"object"}, requireLookup(t, homeDef, "bsonType"))

	nestedProps := asD(requireLookup(t, homeDef, "properties"))
	_, ok := lookup(nestedProps, "city")
	require.True(t, ok, "expected nested city property")
}

type tagsDoc struct {
	Tags []string `bson:"tags"`
}

func TestSliceFieldProducesArrayWithItems(t *testing.T) {
	g := New(false)
	top, err := g.Generate(tagsDoc{})
	require.NoError(t, err)

	body := asD(requireLookup(t, top, "$jsonSchema"))
	props := asD(requireLookup(t, body, "properties"))
	tagsDef := asD(requireLookup(t, props, "tags"))
	types := requireLookup(t, tagsDef, "bsonType").([]any)
	require.Equal(t, "array", types[0])

	items := asD(requireLookup(t, tagsDef, "items"))
	require.Equal(t, []any{"string"}, requireLookup(t, items, "bsonType"))
}

type status int

func (status) EnumValues() []any { return []any{int32(0), int32(1), int32(2)} }

type taskDoc struct {
	Status status `bson:"status"`
}

func TestEnumFieldProducesEnumConstraint(t *testing.T) {
	g := New(false)
	top, err := g.Generate(taskDoc{})
	require.NoError(t, err)

	body := asD(requireLookup(t, top, "$jsonSchema"))
	props := asD(requireLookup(t, body, "properties"))
	statusDef := asD(requireLookup(t, props, "status"))
	values := requireLookup(t, statusDef, "enum").([]any)
	require.Len(t, values, 3)
}

type boundedDoc struct {
	Age int32 `bson:"age" kover:"min=0,max=150"`
}

func TestMetadataTagAddsMinMax(t *testing.T) {
	g := New(false)
	top, err := g.Generate(boundedDoc{})
	require.NoError(t, err)

	body := asD(requireLookup(t, top, "$jsonSchema"))
	props := asD(requireLookup(t, body, "properties"))
	ageDef := asD(requireLookup(t, props, "age"))
	require.Equal(t, int64(0), requireLookup(t, ageDef, "minimum"))
	require.Equal(t, int64(150), requireLookup(t, ageDef, "maximum"))
}

type withUnsupported struct {
	Data map[string]int `bson:"data"`
}

func TestUnsupportedTypeReturnsGenerationError(t *testing.T) {
	g := New(false)
	_, err := g.Generate(withUnsupported{})
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestAdditionalPropertiesTrueOmitsIDFromRequired(t *testing.T) {
	g := New(true)
	top, err := g.Generate(simpleDoc{})
	require.NoError(t, err)

	body := asD(requireLookup(t, top, "$jsonSchema"))
	required := requireLookup(t, body, "required").([]any)
	require.NotContains(t, required, "_id")
	require.Equal(t, true, requireLookup(t, body, "additionalProperties"))
}
