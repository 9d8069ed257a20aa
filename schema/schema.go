// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package schema reflectively derives a MongoDB $jsonSchema validator
// document from a Go struct definition, replacing the reflective attrs-based
// generator the original design used.
package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// GenerationError reports an invalid typed record definition: a value that
// is not a struct, a field of an unsupported Go type, or an enum value of
// an unsupported Go type.
type GenerationError struct {
	Reason string
}

func (e *GenerationError) Error() string { return "schema: " + e.Reason }

// Enum is implemented by types whose Generate call should emit an "enum"
// constraint instead of a plain bsonType. EnumValues returns the closed set of
// legal values.
type Enum interface {
	EnumValues() []any
}

var enumType = reflect.TypeOf((*Enum)(nil)).Elem()

var (
	objectIDType  = reflect.TypeOf(bson.ObjectID{})
	timeType      = reflect.TypeOf(time.Time{})
	timestampType = reflect.TypeOf(bson.Timestamp{})
)

// Generator builds $jsonSchema documents for a fixed AdditionalProperties
// policy.
type Generator struct {
	AdditionalProperties bool
}

// New returns a Generator with the given additionalProperties policy.
func New(additionalProperties bool) *Generator {
	return &Generator{AdditionalProperties: additionalProperties}
}

// Generate derives a top-level {"$jsonSchema": {...}} document from a
// struct value or pointer to struct. Every exported field is required
// unless its Go type is a pointer (optional/nullable); fields are named by
// their "bson" tag, falling back to the Go field name.
func (g *Generator) Generate(v any) (bson.D, error) {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &GenerationError{Reason: fmt.Sprintf("%s must be a struct", t)}
	}

	body, err := g.generateObject(t)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "$jsonSchema", Value: body}}, nil
}

func (g *Generator) generateObject(t reflect.Type) (bson.D, error) {
	properties := bson.D{}
	var required []string

	properties = append(properties, bson.E{Key: "_id", Value: bson.D{{Key: "bsonType", Value: []any{"objectId"}}}})
	if !g.AdditionalProperties {
		required = append(required, "_id")
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}

		fieldType := f.Type
		optional := fieldType.Kind() == reflect.Ptr
		if optional {
			fieldType = fieldType.Elem()
		}

		def, err := g.typeData(fieldType, optional)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		def = append(def, metadataEntries(f)...)
		properties = append(properties, bson.E{Key: name, Value: def})

		if !optional {
			required = append(required, name)
		}
	}

	return bson.D{
		{Key: "bsonType", Value: []any{"object"}},
		{Key: "required", Value: toAnySlice(required)},
		{Key: "properties", Value: properties},
		{Key: "additionalProperties", Value: g.AdditionalProperties},
	}, nil
}

// typeData returns the {"bsonType": ...} (or "enum"/"items") fragment for a
// single field's type, adding "null" to bsonType when optional is true.
func (g *Generator) typeData(t reflect.Type, optional bool) (bson.D, error) {
	switch {
	case t.Implements(enumType), reflect.PointerTo(t).Implements(enumType):
		return g.enumTypeData(t, optional)

	case t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8:
		itemDef, err := g.typeData(t.Elem(), false)
		if err != nil {
			return nil, err
		}
		bsonTypes := []any{"array"}
		if optional {
			bsonTypes = append(bsonTypes, "null")
		}
		return bson.D{
			{Key: "bsonType", Value: bsonTypes},
			{Key: "items", Value: itemDef},
		}, nil

	case t.Kind() == reflect.Struct && t != timeType && t != timestampType && t != objectIDType:
		nested, err := g.generateObject(t)
		if err != nil {
			return nil, err
		}
		if optional {
			return appendNullType(nested), nil
		}
		return nested, nil

	default:
		names, err := primitiveBSONType(t)
		if err != nil {
			return nil, err
		}
		types := make([]any, 0, len(names)+1)
		for _, name := range names {
			types = append(types, name)
		}
		if optional {
			types = append(types, "null")
		}
		return bson.D{{Key: "bsonType", Value: types}}, nil
	}
}

func (g *Generator) enumTypeData(t reflect.Type, optional bool) (bson.D, error) {
	zero := reflect.New(t).Elem()
	enum, ok := zero.Interface().(Enum)
	if !ok {
		enum, ok = zero.Addr().Interface().(Enum)
	}
	if !ok {
		return nil, &GenerationError{Reason: fmt.Sprintf("%s does not implement Enum", t)}
	}

	values := enum.EnumValues()
	seenTypes := map[string]bool{}
	var bsonTypes []any
	valuesAny := make([]any, 0, len(values))
	for _, v := range values {
		valuesAny = append(valuesAny, v)
		names, err := primitiveBSONType(reflect.TypeOf(v))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if !seenTypes[name] {
				seenTypes[name] = true
				bsonTypes = append(bsonTypes, name)
			}
		}
	}
	if optional {
		valuesAny = append(valuesAny, nil)
		if !seenTypes["null"] {
			bsonTypes = append(bsonTypes, "null")
		}
	}

	return bson.D{
		{Key: "enum", Value: valuesAny},
		{Key: "bsonType", Value: bsonTypes},
	}, nil
}

// primitiveBSONType maps a Go primitive type to its $jsonSchema bsonType
// name(s), per the core design's type table. A plain, unsized "int" field
// (the Go analogue of the original's arbitrary-precision integer) maps to
// both "int" and "long", since either can hold it; the fixed-width int32/
// int64 map to exactly one.
func primitiveBSONType(t reflect.Type) ([]string, error) {
	switch {
	case t == objectIDType:
		return []string{"objectId"}, nil
	case t == timeType:
		return []string{"date"}, nil
	case t == timestampType:
		return []string{"timestamp"}, nil
	}
	switch t.Kind() {
	case reflect.String:
		return []string{"string"}, nil
	case reflect.Float32, reflect.Float64:
		return []string{"double"}, nil
	case reflect.Int32:
		return []string{"int"}, nil
	case reflect.Int64:
		return []string{"long"}, nil
	case reflect.Int:
		return []string{"int", "long"}, nil
	case reflect.Bool:
		return []string{"bool"}, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return []string{"binData"}, nil
		}
		return []string{"array"}, nil
	default:
		return nil, &GenerationError{Reason: fmt.Sprintf("unsupported annotation: %s", t)}
	}
}

func appendNullType(doc bson.D) bson.D {
	out := make(bson.D, len(doc))
	copy(out, doc)
	for i, e := range out {
		if e.Key == "bsonType" {
			switch v := e.Value.(type) {
			case string:
				out[i].Value = []any{v, "null"}
			case []any:
				out[i].Value = append(v, "null")
			}
		}
	}
	return out
}

func fieldName(f reflect.StructField) (name string, skip bool) {
	tag := f.Tag.Get("bson")
	if tag == "-" {
		return "", true
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		return parts[0], false
	}
	return f.Name, false
}

// metadataEntries parses the `kover:"min=1,max=10,minlen=1,maxlen=20"`
// struct tag into $jsonSchema validation keywords.
func metadataEntries(f reflect.StructField) bson.D {
	tag := f.Tag.Get("kover")
	if tag == "" {
		return nil
	}
	names := map[string]string{
		"min":    "minimum",
		"max":    "maximum",
		"minlen": "minLength",
		"maxlen": "maxLength",
	}
	var out bson.D
	for _, part := range strings.Split(tag, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, ok := names[kv[0]]
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(kv[1], 10, 64); err == nil {
			out = append(out, bson.E{Key: key, Value: n})
		}
	}
	return out
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
