// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restful

import (
	"fmt"
)

// Object is one remote entity: the attributes the server reported,
// any local modifications, and the attributes inherited from the
// manager's parent.  Attribute reads see the newest value,
// modifications first, then server data, then parent attributes.
type Object struct {
	manager         *Manager
	class           *ObjectClass
	serverAttrs     map[string]interface{}
	updatedAttrs    map[string]interface{}
	parentAttrs     map[string]interface{}
	relations       map[string]*Manager
	createdFromList bool
}

// NewObject builds an object of m's class from decoded server data.
// attrs must be a JSON mapping; anything else reports a
// *ParsingError.  The manager operations call this for every object
// they yield; service bindings use it to wrap nested payloads.
func NewObject(m *Manager, attrs interface{}) (*Object, error) {
	return newObject(m, attrs, false)
}

func newObject(m *Manager, attrs interface{}, fromList bool) (*Object, error) {
	dict, isMap := attrs.(map[string]interface{})
	if !isMap {
		return nil, &ParsingError{RestfulError{Message: fmt.Sprintf(
			"Attempted to build a %s from a non-mapping value: %v. "+
				"This likely indicates an incorrect or malformed server response.",
			m.spec.Object.Name, attrs)}}
	}
	if normalize := m.spec.Object.Normalize; normalize != nil {
		if err := normalize(m, dict); err != nil {
			return nil, err
		}
	}
	o := &Object{
		manager:         m,
		class:           m.spec.Object,
		serverAttrs:     dict,
		updatedAttrs:    map[string]interface{}{},
		parentAttrs:     m.parentAttrs,
		relations:       map[string]*Manager{},
		createdFromList: fromList,
	}
	for _, rel := range m.spec.Object.Relations {
		o.relations[rel.Name] = NewManager(m.client, rel.Spec, o)
	}
	return o, nil
}

// Attr reads one attribute.  A slice read from server data is first
// copied into the local modifications, so callers may change its
// elements in place, but growing or shrinking it still takes an
// explicit Set.  Reading an attribute the object does not have
// reports an *AttributeError.
func (o *Object) Attr(name string) (interface{}, error) {
	if value, present := o.updatedAttrs[name]; present {
		return value, nil
	}
	if value, present := o.serverAttrs[name]; present {
		if slice, isSlice := value.([]interface{}); isSlice {
			promoted := make([]interface{}, len(slice))
			copy(promoted, slice)
			o.updatedAttrs[name] = promoted
			return promoted, nil
		}
		return value, nil
	}
	if value, present := o.parentAttrs[name]; present {
		return value, nil
	}

	message := fmt.Sprintf("%s object has no attribute %q", o.class.Name, name)
	if o.createdFromList {
		message += fmt.Sprintf("\n\n%s was created via a list() call and "+
			"only a subset of the data may be present. To ensure all data is "+
			"present get the object using a get(object.id) call.", o.class.Name)
	}
	return nil, attributeError("%s", message)
}

// Set records a local modification.  It is visible to Attr, AsDict,
// and Attributes but is not sent anywhere by itself.
func (o *Object) Set(name string, value interface{}) {
	o.updatedAttrs[name] = value
}

// ID returns the object's identifier, or nil when its class has no
// identifier attribute or the attribute is absent.
func (o *Object) ID() interface{} {
	if o.class.IDAttr == "" {
		return nil
	}
	value, err := o.Attr(o.class.IDAttr)
	if err != nil {
		return nil
	}
	return value
}

// AsDict composes the object's own attributes: server data overlaid
// with local modifications.  The result is a deep copy and safe to
// mutate.
func (o *Object) AsDict() map[string]interface{} {
	data := map[string]interface{}{}
	mergeDeep(data, o.serverAttrs)
	mergeDeep(data, o.updatedAttrs)
	return data
}

// Attributes is AsDict with the inherited parent attributes
// underneath.
func (o *Object) Attributes() map[string]interface{} {
	data := map[string]interface{}{}
	mergeDeep(data, o.parentAttrs)
	mergeDeep(data, o.serverAttrs)
	mergeDeep(data, o.updatedAttrs)
	return data
}

// ToJSON renders AsDict as JSON.
func (o *Object) ToJSON() ([]byte, error) {
	return encodeJSON(o.AsDict())
}

// Equal compares two objects by identifier when both have one, and by
// identity otherwise.
func (o *Object) Equal(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	a, b := o.ID(), other.ID()
	if a != nil && b != nil {
		return a == b
	}
	return o == other
}

// Relation returns the nested manager declared under name, or nil if
// the class declares no such relation.
func (o *Object) Relation(name string) *Manager {
	return o.relations[name]
}

// Manager returns the manager that built this object.
func (o *Object) Manager() *Manager {
	return o.manager
}

// Class returns the object's class descriptor.
func (o *Object) Class() *ObjectClass {
	return o.class
}

func (o *Object) String() string {
	name := o.class.Name
	id := o.ID()
	repr := o.reprValue()
	switch {
	case id != nil && repr != nil && o.class.IDAttr != o.class.ReprAttr:
		return fmt.Sprintf("<%s %s:%v %s:%v>",
			name, o.class.IDAttr, id, o.class.ReprAttr, repr)
	case id != nil:
		return fmt.Sprintf("<%s %s:%v>", name, o.class.IDAttr, id)
	case repr != nil:
		return fmt.Sprintf("<%s %s:%v>", name, o.class.ReprAttr, repr)
	}
	return fmt.Sprintf("<%s>", name)
}

func (o *Object) reprValue() interface{} {
	if o.class.ReprAttr == "" {
		return nil
	}
	value, err := o.Attr(o.class.ReprAttr)
	if err != nil {
		return nil
	}
	return value
}

// mergeDeep copies src into dest, deep-copying container values so
// mutating the result cannot corrupt the object.
func mergeDeep(dest, src map[string]interface{}) {
	for key, value := range src {
		dest[key] = deepCopyValue(value)
	}
}

func deepCopyValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = deepCopyValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return value
	}
}
