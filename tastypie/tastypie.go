// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package tastypie is a client for django-tastypie REST APIs, built
// on the generic client in the restful package.
//
// Tastypie servers describe themselves: a GET of the API root with
// fullschema=true returns every resource's endpoints, field shapes,
// and allowed methods.  LoadAPI reads that description and installs
// one manager per resource, so the client needs no hand-written
// descriptors:
//
//	t, err := tastypie.New(restful.Config{URL: "http://example.com/api/v1"})
//	if err != nil { ... }
//	if err := t.LoadAPI(false); err != nil { ... }
//	note, err := t.Resource("note").Get(1, nil)
//
// Synthesised descriptors are shared process-wide between clients of
// the same base URL, so repeated or concurrent LoadAPI calls converge
// on one descriptor per resource.
package tastypie

import (
	"fmt"
	"github.com/uanti/go-uanti/restful"
	"sort"
	"sync"
)

// Tastypie is a connection to one Tastypie API root.  The embedded
// client issues raw requests; managers appear as LoadAPI discovers
// resources.
type Tastypie struct {
	*restful.Client

	mu       sync.Mutex
	managers map[string]*restful.Manager
}

// New connects to the API root named by config.
func New(config restful.Config) (*Tastypie, error) {
	// The fixed Accept header wins over anything configured.
	headers := map[string]string{}
	for key, value := range config.Headers {
		headers[key] = value
	}
	headers["Accept"] = "application/json"
	config.Headers = headers

	client, err := restful.NewClient(config)
	if err != nil {
		return nil, err
	}
	return &Tastypie{
		Client:   client,
		managers: map[string]*restful.Manager{},
	}, nil
}

// LoadAPI fetches the server's self-description and installs a
// manager per resource.  A resource whose description cannot be
// turned into a descriptor fails LoadAPI with a *ParsingError, unless
// skipFailed is set, in which case the resource is skipped.
func (t *Tastypie) LoadAPI(skipFailed bool) error {
	payload, _, err := t.Get("", &restful.RequestOptions{
		Query: map[string]interface{}{"fullschema": "true"},
	})
	if err != nil {
		return err
	}
	resources, isMap := payload.(map[string]interface{})
	if !isMap {
		return &restful.ParsingError{RestfulError: restful.RestfulError{
			Message: fmt.Sprintf("expected a JSON mapping describing resources, got %T", payload),
		}}
	}

	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := registeredSpec(t.BaseURL(), name)
		if spec == nil {
			synthesized, err := t.synthesize(name, resources[name])
			if err != nil {
				if skipFailed {
					continue
				}
				return &restful.ParsingError{RestfulError: restful.RestfulError{
					Message: "Failed to parse the server message",
				}}
			}
			spec = registerSpec(t.BaseURL(), name, synthesized)
		}
		t.install(name, restful.NewManager(t.Client, spec, nil))
	}
	return nil
}

func (t *Tastypie) install(name string, m *restful.Manager) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.managers[name] = m
}

// Resource returns the manager installed for name, or nil if LoadAPI
// has not seen such a resource.
func (t *Tastypie) Resource(name string) *restful.Manager {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.managers[name]
}

// Resources returns the installed resource names in sorted order.
func (t *Tastypie) Resources() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.managers))
	for name := range t.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// The process-wide descriptor registry, keyed by base URL and then
// resource name.  Concurrent LoadAPI calls for one URL race only on
// who registers first; everyone then uses the winner.
var (
	registryMu sync.Mutex
	registry   = map[string]map[string]*restful.ManagerSpec{}
)

func registeredSpec(baseURL, resource string) *restful.ManagerSpec {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[baseURL][resource]
}

// registerSpec records spec for the resource unless another client
// got there first, and returns the spec to use either way.
func registerSpec(baseURL, resource string, spec *restful.ManagerSpec) *restful.ManagerSpec {
	registryMu.Lock()
	defer registryMu.Unlock()
	perURL := registry[baseURL]
	if perURL == nil {
		perURL = map[string]*restful.ManagerSpec{}
		registry[baseURL] = perURL
	}
	if existing := perURL[resource]; existing != nil {
		return existing
	}
	perURL[resource] = spec
	return spec
}

// specByPath finds the registered descriptor whose path matches, for
// resolving related fields to their sibling resource.
func specByPath(baseURL, path string) *restful.ManagerSpec {
	registryMu.Lock()
	defer registryMu.Unlock()
	perURL := registry[baseURL]
	names := make([]string, 0, len(perURL))
	for name := range perURL {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if perURL[name].Path == path {
			return perURL[name]
		}
	}
	return nil
}
