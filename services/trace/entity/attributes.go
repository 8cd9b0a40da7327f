// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// attrValidate validates attribute structs. Field errors are reported with
// their JSON names so they match what collectors send.
var attrValidate *validator.Validate

func init() {
	attrValidate = validator.New()
	attrValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// Attributes is the typed attribute payload of an entity.
//
// The set of implementations is closed: VarAttributes,
// NamespaceAttributes, UsageAttributes, EventAttributes.
type Attributes interface {
	// EntityType returns the entity type these attributes belong to.
	EntityType() Type

	// Relations returns the triples an entity with these attributes and
	// the given id derives into the relationship index.
	Relations(id string) []relation.Triple

	clone() Attributes
}

// VarAttributes describes a top-level definition.
type VarAttributes struct {
	Namespace string    `json:"namespace,omitempty" validate:"omitempty,max=512"`
	Arglists  []string  `json:"arglists,omitempty"`
	Doc       string    `json:"doc,omitempty"`
	Macro     bool      `json:"macro,omitempty"`
	Private   bool      `json:"private,omitempty"`
	Location  *Location `json:"location,omitempty" validate:"omitempty"`
}

// EntityType implements Attributes.
func (VarAttributes) EntityType() Type { return TypeVar }

// Relations derives "namespace -defines-> var" when a namespace is set.
func (a VarAttributes) Relations(id string) []relation.Triple {
	if a.Namespace == "" {
		return nil
	}
	return []relation.Triple{{From: a.Namespace, To: id, Kind: relation.KindDefines}}
}

func (a VarAttributes) clone() Attributes {
	a.Arglists = cloneStrings(a.Arglists)
	a.Location = a.Location.clone()
	return a
}

// NamespaceAttributes describes a namespace.
type NamespaceAttributes struct {
	Requires []string `json:"requires,omitempty" validate:"dive,required"`
	Doc      string   `json:"doc,omitempty"`
}

// EntityType implements Attributes.
func (NamespaceAttributes) EntityType() Type { return TypeNamespace }

// Relations derives "namespace -requires-> required" per entry.
func (a NamespaceAttributes) Relations(id string) []relation.Triple {
	if len(a.Requires) == 0 {
		return nil
	}
	out := make([]relation.Triple, 0, len(a.Requires))
	for _, r := range a.Requires {
		out = append(out, relation.Triple{From: id, To: r, Kind: relation.KindRequires})
	}
	return out
}

func (a NamespaceAttributes) clone() Attributes {
	a.Requires = cloneStrings(a.Requires)
	return a
}

// UsageAttributes records a single call site.
type UsageAttributes struct {
	CallerID string    `json:"caller_id" validate:"required"`
	CalleeID string    `json:"callee_id" validate:"required"`
	Location *Location `json:"location,omitempty" validate:"omitempty"`
}

// EntityType implements Attributes.
func (UsageAttributes) EntityType() Type { return TypeUsage }

// Relations derives "caller -uses-> callee".
func (a UsageAttributes) Relations(string) []relation.Triple {
	return []relation.Triple{{From: a.CallerID, To: a.CalleeID, Kind: relation.KindUses}}
}

func (a UsageAttributes) clone() Attributes {
	a.Location = a.Location.clone()
	return a
}

// EventAttributes describes an observed event about another entity.
type EventAttributes struct {
	EventType   string `json:"event_type" validate:"required"`
	TargetID    string `json:"target_id" validate:"required"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// EntityType implements Attributes.
func (EventAttributes) EntityType() Type { return TypeEvent }

// Relations returns nil; events derive no relationships.
func (EventAttributes) Relations(string) []relation.Triple { return nil }

func (a EventAttributes) clone() Attributes { return a }

// Location is a source position.
type Location struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty" validate:"gte=0"`
	Column int    `json:"column,omitempty" validate:"gte=0"`
}

func (l *Location) clone() *Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// zeroAttributes returns the empty attribute struct for a type.
func zeroAttributes(t Type) (Attributes, error) {
	switch t {
	case TypeVar:
		return VarAttributes{}, nil
	case TypeNamespace:
		return NamespaceAttributes{}, nil
	case TypeUsage:
		return UsageAttributes{}, nil
	case TypeEvent:
		return EventAttributes{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEntity, t)
	}
}

// ValidateAttributes checks that attrs belong to type t and satisfy their
// field constraints. Nil attrs are treated as the type's zero struct.
//
// # Outputs
//
//   - Attributes: The normalized attributes (never nil on success).
//   - error: Wraps ErrInvalidEntity on any failure.
func ValidateAttributes(t Type, attrs Attributes) (Attributes, error) {
	if attrs == nil {
		zero, err := zeroAttributes(t)
		if err != nil {
			return nil, err
		}
		attrs = zero
	}
	if attrs.EntityType() != t {
		return nil, fmt.Errorf("%w: %s attributes on a %s entity", ErrInvalidEntity, attrs.EntityType(), t)
	}
	if err := attrValidate.Struct(attrs); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntity, describeValidation(err))
	}
	return attrs, nil
}

// DecodeAttributes converts a collector attribute map into the typed
// attribute struct for t. Unknown keys are ignored. Validation is left to
// ValidateAttributes.
func DecodeAttributes(t Type, raw map[string]any) (Attributes, error) {
	if len(raw) == 0 {
		return zeroAttributes(t)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: encode attributes: %v", ErrInvalidEntity, err)
	}
	return decodeRawAttributes(t, data)
}

func decodeRawAttributes(t Type, data json.RawMessage) (Attributes, error) {
	if len(data) == 0 || string(data) == "null" {
		return zeroAttributes(t)
	}
	var (
		attrs Attributes
		err   error
	)
	switch t {
	case TypeVar:
		var a VarAttributes
		err = json.Unmarshal(data, &a)
		attrs = a
	case TypeNamespace:
		var a NamespaceAttributes
		err = json.Unmarshal(data, &a)
		attrs = a
	case TypeUsage:
		var a UsageAttributes
		err = json.Unmarshal(data, &a)
		attrs = a
	case TypeEvent:
		var a EventAttributes
		err = json.Unmarshal(data, &a)
		attrs = a
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEntity, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s attributes: %v", ErrInvalidEntity, t, err)
	}
	return attrs, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
