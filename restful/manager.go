// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restful

// This file provides the manager layer: descriptor types, path
// resolution, and the capability-gated operations.

import (
	"fmt"
	"github.com/jtacoma/uritemplates"
	"net/url"
	"sort"
	"strings"
)

// Relation declares a nested manager reachable from an object, for
// instance the meta-diff singleton under a code review change.
type Relation struct {
	// Name is the name the relation is reached by in
	// Object.Relation.
	Name string

	// Spec describes the nested manager.
	Spec *ManagerSpec
}

// ObjectClass describes one kind of remote object.
type ObjectClass struct {
	// Name is the class name, used in messages and as the derived
	// CLI command name.
	Name string

	// IDAttr names the attribute holding the object's unique
	// identifier.  Empty means the object has no URL identity.
	IDAttr string

	// ReprAttr optionally names a human-readable attribute shown
	// by String().
	ReprAttr string

	// Relations declares the nested managers built for every
	// object of this class.
	Relations []Relation

	// Normalize, if non-nil, rewrites freshly received server
	// attributes before an object is built from them: dropping
	// bookkeeping keys, decoding URL-encoded fields, wrapping
	// nested payloads as objects.
	Normalize func(m *Manager, attrs map[string]interface{}) error
}

// Capability is a bitmask of the operations a manager supports.
type Capability uint

// Capabilities composed into ManagerSpec.Capabilities.
const (
	CanCreate Capability = 1 << iota
	CanDelete
	CanGet
	CanGetWithoutID
	CanList
	CanListFromMap
	CanUpdate
)

// Has reports whether every bit of want is enabled.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// ManagerSpec describes a remote collection or singleton: where it
// lives, what objects it yields, and which operations it supports.
type ManagerSpec struct {
	// Path is the collection's URL path relative to the client's
	// base URL.  It may carry RFC 6570 placeholders filled in from
	// a parent object, for instance
	// "/changes/{change_id}/meta_diff".
	Path string

	// Object describes the objects this manager yields.
	Object *ObjectClass

	// Capabilities enables operations on the manager.
	Capabilities Capability

	// FromParentAttrs maps each path placeholder to the parent
	// attribute that fills it.
	FromParentAttrs map[string]string

	// CreateAttrs is the attribute shape Create validates.
	CreateAttrs RequiredOptional

	// UpdateAttrs is the attribute shape Update validates.
	UpdateAttrs RequiredOptional

	// ListFilters names the query parameters List accepts.  The
	// operations do not check them; they drive interfaces derived
	// from the spec, such as ResourceCommands.
	ListFilters []string

	// OptionalGetAttrs names extra query parameters Get accepts,
	// for the same derived interfaces.
	OptionalGetAttrs []string
}

// Manager binds a ManagerSpec to a Client, optionally scoped under a
// parent object.
type Manager struct {
	client      *Client
	spec        *ManagerSpec
	parent      *Object
	path        string
	parentAttrs map[string]interface{}
	incomplete  string
}

// NewManager binds spec to client.  With a parent object, the path
// placeholders are resolved from the parent's attributes; the encoded
// values become the manager's parent attributes and are inherited by
// every object it builds.  A placeholder with no usable value leaves
// the manager unable to issue requests: its path holds the sentinel
// "none" and every operation fails before any I/O.
func NewManager(client *Client, spec *ManagerSpec, parent *Object) *Manager {
	m := &Manager{
		client:      client,
		spec:        spec,
		parent:      parent,
		parentAttrs: map[string]interface{}{},
	}
	m.path = m.computePath(spec.Path)
	return m
}

func (m *Manager) computePath(path string) string {
	if m.parent == nil || len(m.spec.FromParentAttrs) == 0 {
		return path
	}

	vars := map[string]interface{}{}
	for placeholder, parentAttr := range m.spec.FromParentAttrs {
		value, err := m.parent.Attr(parentAttr)
		var encoded EncodedID
		if err == nil {
			encoded, err = EncodeID(value)
		}
		if err != nil {
			vars[placeholder] = "none"
			m.parentAttrs[placeholder] = nil
			m.incomplete = fmt.Sprintf("no usable value for parent attribute %q", parentAttr)
			continue
		}
		m.parentAttrs[placeholder] = encoded
		// Expansion percent-encodes the value itself, so feed it
		// the decoded form to avoid escaping it twice.
		raw, uerr := url.PathUnescape(string(encoded))
		if uerr != nil {
			raw = string(encoded)
		}
		vars[placeholder] = raw
	}

	tmpl, err := uritemplates.Parse(path)
	if err != nil {
		m.incomplete = fmt.Sprintf("bad path template %q", path)
		return path
	}
	expanded, err := tmpl.Expand(vars)
	if err != nil {
		m.incomplete = fmt.Sprintf("cannot expand path template %q", path)
		return path
	}
	return expanded
}

// Client returns the client the manager issues requests through.
func (m *Manager) Client() *Client {
	return m.client
}

// Spec returns the manager's descriptor.
func (m *Manager) Spec() *ManagerSpec {
	return m.spec
}

// Parent returns the object the manager is scoped under, or nil.
func (m *Manager) Parent() *Object {
	return m.parent
}

// Path returns the manager's resolved URL path.
func (m *Manager) Path() string {
	return m.path
}

// ready reports an operation error if the manager cannot issue
// requests, either because the operation is not in its capabilities
// or because path resolution came up short.
func (m *Manager) ready(op Op, capability Capability) error {
	if !m.spec.Capabilities.Has(capability) {
		return opKindError(op, fmt.Sprintf(
			"%s does not support this operation", m.spec.Object.Name))
	}
	if m.incomplete != "" {
		return opKindError(op, fmt.Sprintf(
			"manager for %s cannot issue requests: %s",
			m.spec.Object.Name, m.incomplete))
	}
	return nil
}

// opKindError builds the operation-specific error kind with no HTTP
// context, for failures detected before any request is issued.
func opKindError(op Op, message string) error {
	return opError(op, &HTTPError{RestfulError{Message: message}})
}

// requestPath returns the operation path: the override from opts if
// one is set, else the manager's resolved path.
func (m *Manager) requestPath(opts *RequestOptions) string {
	if opts != nil && opts.Path != "" {
		return opts.Path
	}
	return m.path
}

// idPath appends an encoded identifier to the manager path.
func (m *Manager) idPath(id interface{}) (string, error) {
	encoded, err := EncodeID(id)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(m.path, "/") + "/" + string(encoded), nil
}

// Create makes a new object on the server from data and returns the
// object the server reports back.  data must satisfy the manager's
// create shape.  Failures report as *CreateError.
func (m *Manager) Create(data map[string]interface{}, opts *RequestOptions) (*Object, error) {
	if err := m.ready(OpCreate, CanCreate); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	if err := m.spec.CreateAttrs.Validate(data); err != nil {
		return nil, err
	}

	reqOpts := RequestOptions{}
	if opts != nil {
		reqOpts = *opts
	}
	reqOpts.PostData = data

	payload, _, err := m.client.Post(m.requestPath(opts), &reqOpts)
	if err != nil {
		return nil, opError(OpCreate, err)
	}
	obj, err := NewObject(m, payload)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Delete removes an object from the server.  A nil id deletes at the
// manager path itself, for managers whose path already names the
// object.  Failures report as *DeleteError.
func (m *Manager) Delete(id interface{}, opts *RequestOptions) error {
	if err := m.ready(OpDelete, CanDelete); err != nil {
		return err
	}
	path := m.path
	if id != nil {
		var err error
		if path, err = m.idPath(id); err != nil {
			return err
		}
	}
	if _, err := m.client.Delete(path, opts); err != nil {
		return opError(OpDelete, err)
	}
	return nil
}

// Get retrieves one object by identifier.  With opts.Lazy the object
// is built locally, holding only its identifier, and no request is
// issued.  Failures report as *GetError.
func (m *Manager) Get(id interface{}, opts *RequestOptions) (*Object, error) {
	if err := m.ready(OpGet, CanGet); err != nil {
		return nil, err
	}
	if opts != nil && opts.Lazy {
		if m.spec.Object.IDAttr == "" {
			return nil, opKindError(OpGet,
				fmt.Sprintf("%s has no identifier attribute", m.spec.Object.Name))
		}
		return NewObject(m, map[string]interface{}{m.spec.Object.IDAttr: id})
	}
	path, err := m.idPath(id)
	if err != nil {
		return nil, err
	}
	payload, _, err := m.client.Get(path, opts)
	if err != nil {
		return nil, opError(OpGet, err)
	}
	return NewObject(m, payload)
}

// GetWithoutID retrieves the object living at the manager path
// itself, for singleton resources.  Failures report as *GetError.
func (m *Manager) GetWithoutID(opts *RequestOptions) (*Object, error) {
	if err := m.ready(OpGet, CanGetWithoutID); err != nil {
		return nil, err
	}
	payload, _, err := m.client.Get(m.path, opts)
	if err != nil {
		return nil, opError(OpGet, err)
	}
	return NewObject(m, payload)
}

// List retrieves the collection.  The server must answer with a JSON
// array; each element becomes an object marked as list-built, so
// attribute misses mention that only a subset of the data may be
// present.  Failures report as *ListError.
func (m *Manager) List(opts *RequestOptions) ([]*Object, error) {
	if err := m.ready(OpList, CanList); err != nil {
		return nil, err
	}
	payload, err := m.client.List(m.requestPath(opts), opts)
	if err != nil {
		return nil, opError(OpList, err)
	}
	items, isSlice := payload.([]interface{})
	if !isSlice {
		return nil, &ParsingError{RestfulError{Message: fmt.Sprintf(
			"expected a JSON array listing %s objects, got %T",
			m.spec.Object.Name, payload)}}
	}
	objects := make([]*Object, 0, len(items))
	for _, item := range items {
		obj, err := newObject(m, item, true)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// ListFromMap retrieves a collection the server reports as a JSON
// mapping rather than an array.  Each value becomes an object; a
// non-empty copyIDAttr first copies the mapping key into the value
// under that name, for servers that leave the identifier implicit in
// the key.  Failures report as *ListError.
func (m *Manager) ListFromMap(copyIDAttr string, opts *RequestOptions) ([]*Object, error) {
	if err := m.ready(OpList, CanListFromMap); err != nil {
		return nil, err
	}
	payload, err := m.client.List(m.requestPath(opts), opts)
	if err != nil {
		return nil, opError(OpList, err)
	}
	entries, isMap := payload.(map[string]interface{})
	if !isMap {
		return nil, &ParsingError{RestfulError{Message: fmt.Sprintf(
			"expected a JSON mapping listing %s objects, got %T",
			m.spec.Object.Name, payload)}}
	}
	// The decoded mapping has no usable order left, so impose one.
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	objects := make([]*Object, 0, len(entries))
	for _, key := range keys {
		value := entries[key]
		if copyIDAttr != "" {
			if dict, isDict := value.(map[string]interface{}); isDict {
				dict[copyIDAttr] = key
			}
		}
		obj, err := newObject(m, value, true)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// Update rewrites an object on the server with a PUT and returns the
// object the server reports back.  data must satisfy the manager's
// update shape, except that the identifier attribute itself need not
// be repeated.  A nil id updates at the manager path itself.
// Failures report as *UpdateError.
func (m *Manager) Update(id interface{}, data map[string]interface{}, opts *RequestOptions) (*Object, error) {
	if err := m.ready(OpUpdate, CanUpdate); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	var excludes []string
	if m.spec.Object.IDAttr != "" {
		excludes = []string{m.spec.Object.IDAttr}
	}
	if err := m.spec.UpdateAttrs.Validate(data, excludes...); err != nil {
		return nil, err
	}

	path := m.path
	if id != nil {
		var err error
		if path, err = m.idPath(id); err != nil {
			return nil, err
		}
	}

	reqOpts := RequestOptions{}
	if opts != nil {
		reqOpts = *opts
	}
	reqOpts.PostData = data

	payload, err := m.client.Put(path, &reqOpts)
	if err != nil {
		return nil, opError(OpUpdate, err)
	}
	return NewObject(m, payload)
}
