// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package gerrit

// This file provides the project and access-rights endpoints.  Both
// list as JSON mappings keyed by project name rather than as arrays.

import (
	"github.com/uanti/go-uanti/restful"
)

var projectClass = &restful.ObjectClass{
	Name:      "Project",
	IDAttr:    "id",
	Normalize: normalizeProject,
}

var projectsSpec = &restful.ManagerSpec{
	Path:   "/projects/",
	Object: projectClass,
	Capabilities: restful.CanCreate | restful.CanGet |
		restful.CanListFromMap,
	CreateAttrs: restful.RequiredOptional{
		Optional: []string{
			"name",
			"parent",
			"description",
			"permissions_only",
			"create_empty_commit",
			"submit_type",
			"branches",
			"owners",
			"use_contributor_agreements",
			"use_signed_off_by",
			"create_new_change_for_all_not_in_target",
			"use_content_merge",
			"require_change_id",
			"enable_signed_push",
			"require_signed_push",
			"max_object_size_limit",
			"plugin_config_values",
			"reject_empty_commit",
		},
	},
}

func normalizeProject(m *restful.Manager, attrs map[string]interface{}) error {
	decodeIDs(attrs, "id")
	return nil
}

var projectAccessClass = &restful.ObjectClass{
	Name:   "ProjectAccess",
	IDAttr: "id",
}

var accessSpec = &restful.ManagerSpec{
	Path:         "/access/",
	Object:       projectAccessClass,
	Capabilities: restful.CanListFromMap,
}

// ProjectsManager queries and manipulates projects.
type ProjectsManager struct {
	*restful.Manager
}

// List retrieves the visible projects.  The project query parameters,
// such as prefix matching, go through opts.Query.
func (m *ProjectsManager) List(opts *restful.RequestOptions) ([]*restful.Object, error) {
	return m.ListFromMap("", opts)
}

// AccessManager retrieves access rights.
type AccessManager struct {
	*restful.Manager
}

// List retrieves access rights for the projects named in the
// "project" query parameter.  The server keys its answer by project
// name; the key is injected into each entry as its identifier.
func (m *AccessManager) List(opts *restful.RequestOptions) ([]*restful.Object, error) {
	return m.ListFromMap("id", opts)
}
