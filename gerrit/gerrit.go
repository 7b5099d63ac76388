// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package gerrit is a client for the Gerrit code review REST API,
// built on the generic client in the restful package.
//
// Connecting
//
// Construct a client with New:
//
//	g, err := gerrit.New(gerrit.Config{
//		Config: restful.Config{URL: "https://review.example.com"},
//	})
//	if err != nil { ... }
//	defer g.Close()
//	change, err := g.Changes.Get("myProject~master~I8473b959", nil)
//
// When authentication is supplied, or found through the configured
// credential source, requests go to Gerrit's authenticated endpoints
// under the "/a" URL prefix.
//
// Wire format
//
// Gerrit responses are JSON with two quirks: bodies begin with a
// guard line that defeats cross-site script inclusion, and some
// endpoints answer with no body at all.  The decoder installed here
// strips the guard line and treats an empty body as a nil payload.
package gerrit

import (
	"bytes"
	"github.com/uanti/go-uanti/restful"
	"net/url"
	"strings"
)

// magicPrefix begins every JSON response body the server sends.
const magicPrefix = ")]}'\n"

// CredentialSource supplies HTTP Basic credentials for a service URL.
// Implementations typically read a local credentials file such as
// .netrc; returning ok == false leaves the client unauthenticated.
type CredentialSource interface {
	Lookup(rawURL string) (username, password string, ok bool)
}

// Config collects the parameters of New.
type Config struct {
	restful.Config

	// Credentials, if non-nil, is consulted for HTTP Basic
	// credentials when Auth is unset.  Finding none is not an
	// error.
	Credentials CredentialSource
}

// Gerrit is a connection to one Gerrit server.  The embedded client
// issues raw requests; the manager fields cover the standard
// endpoints.
type Gerrit struct {
	*restful.Client

	Changes       *ChangesManager
	Accounts      *restful.Manager
	Groups        *restful.Manager
	Projects      *ProjectsManager
	Access        *AccessManager
	Documentation *restful.Manager
}

// New connects to the server named by config.  If config carries no
// authentication, the credential source (if any) is consulted; with
// authentication in hand the base URL gains Gerrit's "/a"
// authenticated prefix.
func New(config Config) (*Gerrit, error) {
	cc := config.Config
	if cc.Auth == nil && config.Credentials != nil {
		if username, password, ok := config.Credentials.Lookup(cc.URL); ok {
			cc.Auth = restful.BasicAuth{Username: username, Password: password}
		}
	}
	if cc.Auth != nil {
		cc.URL = strings.TrimRight(cc.URL, "/") + "/a"
	}
	if cc.JSONLoader == nil {
		cc.JSONLoader = DecodeJSON
	}

	// The fixed Accept header wins over anything configured.
	headers := map[string]string{}
	for key, value := range cc.Headers {
		headers[key] = value
	}
	headers["Accept"] = "application/json"
	cc.Headers = headers

	client, err := restful.NewClient(cc)
	if err != nil {
		return nil, err
	}

	g := &Gerrit{Client: client}
	g.Changes = &ChangesManager{restful.NewManager(client, changesSpec, nil)}
	g.Accounts = restful.NewManager(client, accountsSpec, nil)
	g.Groups = restful.NewManager(client, groupsSpec, nil)
	g.Projects = &ProjectsManager{restful.NewManager(client, projectsSpec, nil)}
	g.Access = &AccessManager{restful.NewManager(client, accessSpec, nil)}
	g.Documentation = restful.NewManager(client, documentationSpec, nil)
	return g, nil
}

// DecodeJSON decodes a Gerrit response body.  The guard line is
// stripped if present, an empty body decodes to nil, and the rest is
// ordinary JSON.
func DecodeJSON(data []byte) (interface{}, error) {
	content := bytes.TrimSpace(data)
	if len(content) == 0 {
		return nil, nil
	}
	if bytes.HasPrefix(content, []byte(magicPrefix)) {
		content = content[len(magicPrefix):]
	}
	return restful.DecodeJSON(content)
}

// decodeIDs URL-decodes identifier attributes the server returns
// percent-encoded.  Attributes that are absent or not strings are
// left alone.
func decodeIDs(attrs map[string]interface{}, names ...string) {
	for _, name := range names {
		if s, isString := attrs[name].(string); isString {
			if decoded, err := url.PathUnescape(s); err == nil {
				attrs[name] = decoded
			}
		}
	}
}
