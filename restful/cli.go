// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restful

// This file derives a command-line surface from manager specs.  Only
// the command tree and its flag contract are built here; callers
// attach Action functions and run the app themselves.

import (
	"github.com/urfave/cli"
	"sort"
	"strings"
	"sync"
)

// CustomAction describes an extra subcommand attached to a class
// beyond the standard five operations.
type CustomAction struct {
	// Name is the subcommand name.
	Name string

	// Required and Optional name the flags the action takes.
	Required []string
	Optional []string

	inObject bool
}

var (
	customActionsMu sync.Mutex
	customActions   = map[string]map[string]CustomAction{}
)

// RegisterCustomAction attaches a custom action to a class, to be
// picked up by ResourceCommands.  className is the object class name
// for actions on one object, or that name with a "Manager" suffix for
// actions on the collection; collection actions do not take the
// identifier flag.  Registering the same class and action name again
// replaces the earlier registration.
func RegisterCustomAction(className string, action CustomAction) {
	name := className
	action.inObject = true
	if strings.HasSuffix(name, "Manager") {
		name = strings.TrimSuffix(name, "Manager")
		action.inObject = false
	}
	customActionsMu.Lock()
	defer customActionsMu.Unlock()
	if customActions[name] == nil {
		customActions[name] = map[string]CustomAction{}
	}
	customActions[name][action.Name] = action
}

// ResourceCommands derives one command per object class, named by the
// dasherised lowercase form of the class name and ordered by class
// name.  Under each command, the subcommands are the operations the
// spec's capabilities allow, then any registered custom actions.
// Flags are the dasherised parent attributes (required), the
// identifier attribute where the operation needs one, list filters,
// optional get attributes, and the create and update shapes.
func ResourceCommands(specs []*ManagerSpec) []cli.Command {
	ordered := append([]*ManagerSpec(nil), specs...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Object.Name < ordered[j].Object.Name
	})
	commands := make([]cli.Command, 0, len(ordered))
	for _, spec := range ordered {
		commands = append(commands, cli.Command{
			Name:        ToDasherizedLowercase(spec.Object.Name),
			Subcommands: resourceActions(spec),
		})
	}
	return commands
}

func resourceActions(spec *ManagerSpec) []cli.Command {
	var actions []cli.Command
	index := map[string]int{}
	add := func(name string, flags []cli.Flag) {
		index[name] = len(actions)
		actions = append(actions, cli.Command{Name: name, Flags: flags})
	}

	caps := spec.Capabilities
	idAttr := spec.Object.IDAttr

	if caps.Has(CanList) || caps.Has(CanListFromMap) {
		flags := baseFlags(spec)
		for _, filter := range spec.ListFilters {
			flags = append(flags, optionalFlag(filter))
		}
		add("list", flags)
	}

	if caps.Has(CanGet) || caps.Has(CanGetWithoutID) {
		flags := baseFlags(spec)
		if !caps.Has(CanGetWithoutID) && idAttr != "" {
			flags = append(flags, requiredFlag(idAttr))
		}
		for _, attr := range spec.OptionalGetAttrs {
			flags = append(flags, optionalFlag(attr))
		}
		add("get", flags)
	}

	if caps.Has(CanCreate) {
		flags := baseFlags(spec)
		for _, attr := range spec.CreateAttrs.Required {
			flags = append(flags, requiredFlag(attr))
		}
		for _, attr := range spec.CreateAttrs.Optional {
			flags = append(flags, optionalFlag(attr))
		}
		add("create", flags)
	}

	if caps.Has(CanUpdate) {
		flags := baseFlags(spec)
		if idAttr != "" {
			flags = append(flags, requiredFlag(idAttr))
		}
		for _, attr := range spec.UpdateAttrs.Required {
			if attr != idAttr {
				flags = append(flags, requiredFlag(attr))
			}
		}
		for _, attr := range spec.UpdateAttrs.Optional {
			if attr != idAttr {
				flags = append(flags, optionalFlag(attr))
			}
		}
		add("update", flags)
	}

	if caps.Has(CanDelete) {
		flags := baseFlags(spec)
		if idAttr != "" {
			flags = append(flags, requiredFlag(idAttr))
		}
		add("delete", flags)
	}

	for _, action := range classActions(spec.Object.Name) {
		var flags []cli.Flag
		position, exists := index[action.Name]
		if exists {
			flags = actions[position].Flags
		} else {
			if len(spec.FromParentAttrs) > 0 {
				for _, placeholder := range sortedKeys(spec.FromParentAttrs) {
					flags = append(flags, requiredFlag(placeholder))
				}
				flags = append(flags, optionalFlag("sudo"))
			}
			if action.inObject && !caps.Has(CanGetWithoutID) && idAttr != "" {
				flags = appendFlag(flags, requiredFlag(idAttr))
			}
		}
		for _, attr := range action.Required {
			if attr != idAttr {
				flags = appendFlag(flags, requiredFlag(attr))
			}
		}
		for _, attr := range action.Optional {
			if attr != idAttr {
				flags = appendFlag(flags, optionalFlag(attr))
			}
		}
		if exists {
			actions[position].Flags = flags
		} else {
			add(action.Name, flags)
		}
	}

	return actions
}

// baseFlags builds the flags every standard action takes: the
// pass-through sudo parameter and the required parent attributes.
func baseFlags(spec *ManagerSpec) []cli.Flag {
	flags := []cli.Flag{optionalFlag("sudo")}
	for _, placeholder := range sortedKeys(spec.FromParentAttrs) {
		flags = append(flags, requiredFlag(placeholder))
	}
	return flags
}

func requiredFlag(name string) cli.Flag {
	return cli.StringFlag{Name: flagName(name), Required: true}
}

func optionalFlag(name string) cli.Flag {
	return cli.StringFlag{Name: flagName(name)}
}

func flagName(attr string) string {
	return strings.Replace(attr, "_", "-", -1)
}

// appendFlag adds flag unless one with the same name is already
// present.
func appendFlag(flags []cli.Flag, flag cli.Flag) []cli.Flag {
	for _, existing := range flags {
		if existing.GetName() == flag.GetName() {
			return flags
		}
	}
	return append(flags, flag)
}

func classActions(className string) []CustomAction {
	customActionsMu.Lock()
	defer customActionsMu.Unlock()
	byName := customActions[className]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]CustomAction, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
