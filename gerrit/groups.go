// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package gerrit

// This file provides the group endpoints.

import (
	"github.com/uanti/go-uanti/restful"
)

var groupClass = &restful.ObjectClass{
	Name:      "Group",
	IDAttr:    "id",
	Normalize: normalizeGroup,
}

var groupsSpec = &restful.ManagerSpec{
	Path:   "/groups/",
	Object: groupClass,
	Capabilities: restful.CanCreate | restful.CanDelete | restful.CanGet |
		restful.CanList,
	CreateAttrs: restful.RequiredOptional{
		Optional: []string{
			"name",
			"uuid",
			"description",
			"visible_to_all",
			"owner_id",
			"members",
		},
	},
}

func normalizeGroup(m *restful.Manager, attrs map[string]interface{}) error {
	decodeIDs(attrs, "id", "owner_id")
	delete(attrs, "_more_groups")
	return nil
}
