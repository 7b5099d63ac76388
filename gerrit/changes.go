// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package gerrit

// This file provides the change endpoints, including the meta-diff
// singleton nested under a change.

import (
	"github.com/uanti/go-uanti/restful"
)

var changeClass = &restful.ObjectClass{
	Name:      "Change",
	IDAttr:    "id",
	Normalize: normalizeChange,
}

var changesSpec = &restful.ManagerSpec{
	Path:   "/changes/",
	Object: changeClass,
	Capabilities: restful.CanCreate | restful.CanDelete | restful.CanGet |
		restful.CanList,
	CreateAttrs: restful.RequiredOptional{
		Required: []string{"project", "branch", "subject"},
		Optional: []string{
			"topic",
			"status",
			"is_private",
			"work_in_progress",
			"base_change",
			"base_commit",
			"new_branch",
			"validation_options",
			"merge",
			"author",
			"notify",
			"notify_details",
		},
	},
}

var metaDiffClass = &restful.ObjectClass{
	Name:      "ChangesMetaDiff",
	Normalize: normalizeMetaDiff,
}

var changesMetaDiffSpec = &restful.ManagerSpec{
	Path:            "/changes/{change_id}/meta_diff",
	Object:          metaDiffClass,
	Capabilities:    restful.CanGetWithoutID,
	FromParentAttrs: map[string]string{"change_id": "id"},
}

func init() {
	// Attached here so the change and meta-diff descriptors can
	// refer to each other.
	changeClass.Relations = []restful.Relation{
		{Name: "meta_diff", Spec: changesMetaDiffSpec},
	}
}

func normalizeChange(m *restful.Manager, attrs map[string]interface{}) error {
	decodeIDs(attrs, "id")
	// Query results carry a paging mark, not a change attribute.
	delete(attrs, "_more_changes")
	return nil
}

// normalizeMetaDiff re-wraps the old and new change snapshots as
// Change objects bound to a changes manager on the same client.
func normalizeMetaDiff(m *restful.Manager, attrs map[string]interface{}) error {
	changes := restful.NewManager(m.Client(), changesSpec, nil)
	for _, name := range []string{"old_change_info", "new_change_info"} {
		value, present := attrs[name]
		if !present || value == nil {
			continue
		}
		obj, err := restful.NewObject(changes, value)
		if err != nil {
			return err
		}
		attrs[name] = obj
	}
	return nil
}

// ObjectList is a listing result that remembers the manager it came
// from.
type ObjectList struct {
	// Manager is the manager the listing was issued through.
	Manager *restful.Manager

	// Objects holds the listed objects in server order.
	Objects []*restful.Object
}

// ChangesManager queries and manipulates changes.  Beyond the
// embedded operations it carries Gerrit's query paging parameters on
// List.
type ChangesManager struct {
	*restful.Manager
}

// List queries changes.  n bounds the result count: -1 asks the
// server to drop its default limit, 0 keeps the default, anything
// else is sent as the limit.  A nonzero start skips that many
// changes.  Further query parameters, such as Gerrit's q search
// operators, go through opts.Query.
func (m *ChangesManager) List(n, start int, opts *restful.RequestOptions) (*ObjectList, error) {
	reqOpts := restful.RequestOptions{}
	if opts != nil {
		reqOpts = *opts
	}
	query := map[string]interface{}{}
	for key, value := range reqOpts.Query {
		query[key] = value
	}
	if n == -1 {
		query["no-limit"] = true
	} else if n > 0 {
		query["n"] = n
	}
	if start != 0 {
		query["start"] = start
	}
	reqOpts.Query = query

	objects, err := m.Manager.List(&reqOpts)
	if err != nil {
		return nil, err
	}
	return &ObjectList{Manager: m.Manager, Objects: objects}, nil
}
