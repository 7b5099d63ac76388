// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package tastypie

// This file turns a Tastypie schema description into a manager
// descriptor.

import (
	"fmt"
	"github.com/mitchellh/mapstructure"
	"github.com/uanti/go-uanti/restful"
	"net/url"
	"sort"
	"strings"
)

// TODO: handle the "patch" detail method and the schema's filtering
// section; both are ignored for now.

// resourceInfo is one entry of the fullschema response.
type resourceInfo struct {
	ListEndpoint string         `mapstructure:"list_endpoint"`
	Schema       resourceSchema `mapstructure:"schema"`
}

type resourceSchema struct {
	AllowedDetailHTTPMethods []string               `mapstructure:"allowed_detail_http_methods"`
	Fields                   map[string]schemaField `mapstructure:"fields"`
}

type schemaField struct {
	Readonly      bool   `mapstructure:"readonly"`
	Blank         bool   `mapstructure:"blank"`
	PrimaryKey    bool   `mapstructure:"primary_key"`
	RelatedType   string `mapstructure:"related_type"`
	RelatedSchema string `mapstructure:"related_schema"`
}

// relatedField records where a related field's objects live.
type relatedField struct {
	// Type is the server's relation kind, "to_one" or "to_many".
	Type string

	// Path is the related resource's collection path, matched
	// against sibling descriptors when objects are built.
	Path string
}

// synthesize builds the descriptor for one resource from its schema
// description.
func (t *Tastypie) synthesize(resource string, raw interface{}) (*restful.ManagerSpec, error) {
	var info resourceInfo
	if err := mapstructure.Decode(raw, &info); err != nil {
		return nil, err
	}
	if info.ListEndpoint == "" {
		return nil, fmt.Errorf("resource %s has no list_endpoint", resource)
	}
	if info.Schema.Fields == nil {
		return nil, fmt.Errorf("resource %s has no schema fields", resource)
	}
	if info.Schema.AllowedDetailHTTPMethods == nil {
		return nil, fmt.Errorf("resource %s allows no detail methods", resource)
	}

	baseURL := t.BaseURL()

	var required, optional, exclusive []string
	idAttr := ""
	related := map[string]relatedField{}

	names := make([]string, 0, len(info.Schema.Fields))
	for name := range info.Schema.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := info.Schema.Fields[name]
		switch {
		case field.Readonly:
			exclusive = append(exclusive, name)
		case field.Blank:
			optional = append(optional, name)
		default:
			required = append(required, name)
		}
		if field.PrimaryKey {
			idAttr = name
		}
		if field.RelatedSchema != "" {
			schemaPath := resolveEndpoint(baseURL, field.RelatedSchema)
			related[name] = relatedField{
				Type: field.RelatedType,
				Path: strings.TrimSuffix(strings.TrimPrefix(schemaPath, baseURL), "schema/"),
			}
		}
	}

	class := &restful.ObjectClass{
		Name:   capitalize(resource),
		IDAttr: idAttr,
	}
	if len(related) > 0 {
		class.Normalize = relatedNormalize(baseURL, related)
	}

	spec := &restful.ManagerSpec{
		Path:   strings.TrimPrefix(resolveEndpoint(baseURL, info.ListEndpoint), baseURL),
		Object: class,
	}

	shape := restful.RequiredOptional{
		Required:  required,
		Optional:  optional,
		Exclusive: exclusive,
	}
	methods := info.Schema.AllowedDetailHTTPMethods
	if methodAllowed(methods, "post") {
		spec.Capabilities |= restful.CanCreate
		spec.CreateAttrs = shape
	}
	if methodAllowed(methods, "delete") {
		spec.Capabilities |= restful.CanDelete
	}
	if methodAllowed(methods, "put") {
		spec.Capabilities |= restful.CanUpdate
		spec.UpdateAttrs = shape
	}
	if methodAllowed(methods, "get") && idAttr != "" {
		spec.Capabilities |= restful.CanGet
	}
	return spec, nil
}

// resolveEndpoint grafts an endpoint path onto the base URL's scheme
// and host.
func resolveEndpoint(baseURL, endpoint string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return endpoint
	}
	parsed.Path = endpoint
	return parsed.String()
}

// relatedNormalize builds the attribute rewrite for a resource with
// related fields: a field whose recorded path matches a sibling
// resource becomes one object, or a slice of objects, of the
// sibling's class.  Absent and null fields are left alone.
func relatedNormalize(baseURL string, related map[string]relatedField) func(*restful.Manager, map[string]interface{}) error {
	return func(m *restful.Manager, attrs map[string]interface{}) error {
		for name, options := range related {
			value, present := attrs[name]
			if !present || value == nil {
				continue
			}
			sibling := specByPath(baseURL, options.Path)
			if sibling == nil {
				continue
			}
			manager := restful.NewManager(m.Client(), sibling, nil)
			if options.Type == "to_one" {
				obj, err := restful.NewObject(manager, value)
				if err != nil {
					return err
				}
				attrs[name] = obj
				continue
			}
			items, isSlice := value.([]interface{})
			if !isSlice {
				return &restful.ParsingError{RestfulError: restful.RestfulError{
					Message: fmt.Sprintf("expected an array for related field %q, got %T", name, value),
				}}
			}
			objects := make([]*restful.Object, 0, len(items))
			for _, item := range items {
				obj, err := restful.NewObject(manager, item)
				if err != nil {
					return err
				}
				objects = append(objects, obj)
			}
			attrs[name] = objects
		}
		return nil
	}
}

func methodAllowed(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
