// Package events maps human-readable filesystem event names to the bitmask
// understood by the watch backends.
package events

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Mask is a set of event bits. Bit values match the Linux inotify IN_*
// constants so the inotify backend can use a Mask directly.
type Mask uint32

const (
	Access       Mask = 0x00000001 // file was read
	Modify       Mask = 0x00000002 // file was written
	Attrib       Mask = 0x00000004 // metadata changed
	CloseWrite   Mask = 0x00000008 // writable file was closed
	CloseNoWrite Mask = 0x00000010 // read-only file was closed
	Open         Mask = 0x00000020 // file was opened
	MovedFrom    Mask = 0x00000040 // moved out of a watched directory
	MovedTo      Mask = 0x00000080 // moved into a watched directory
	Create       Mask = 0x00000100 // entry created in a watched directory
	Delete       Mask = 0x00000200 // entry deleted from a watched directory
	DeleteSelf   Mask = 0x00000400 // the watched item itself was deleted

	Close = CloseWrite | CloseNoWrite
	Move  = MovedFrom | MovedTo
)

// DefaultList is the event list used when none is configured.
const DefaultList = "delete,create,close_write,modify,move"

// ErrUnknownEvent is returned by Parse for names missing from the table.
var ErrUnknownEvent = errors.New("unknown event")

// ErrNoEvents is returned by Parse for an empty list.
var ErrNoEvents = errors.New("no events specified")

var byName = map[string]Mask{
	"access":        Access,
	"modify":        Modify,
	"attrib":        Attrib,
	"close_write":   CloseWrite,
	"close_nowrite": CloseNoWrite,
	"close":         Close,
	"open":          Open,
	"moved_from":    MovedFrom,
	"moved_to":      MovedTo,
	"move":          Move,
	"create":        Create,
	"delete":        Delete,
	"delete_self":   DeleteSelf,
}

// primitives lists the single-bit names in bit order.
var primitives = []string{
	"access", "modify", "attrib", "close_write", "close_nowrite", "open",
	"moved_from", "moved_to", "create", "delete", "delete_self",
}

// Lookup returns the mask for a single event name.
func Lookup(name string) (Mask, bool) {
	m, ok := byName[name]
	return m, ok
}

// Parse converts a comma-separated list of event names into a Mask.
// Surrounding whitespace around each name is ignored.
func Parse(list string) (Mask, error) {
	if strings.TrimSpace(list) == "" {
		return 0, ErrNoEvents
	}

	var mask Mask
	for _, raw := range strings.Split(list, ",") {
		name := strings.TrimSpace(raw)
		m, ok := byName[name]
		if !ok {
			return 0, fmt.Errorf("%w: the event %q is not valid", ErrUnknownEvent, name)
		}
		mask |= m
	}
	return mask, nil
}

// Names returns every recognised event name, sorted.
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether any bit of other is set in m.
func (m Mask) Has(other Mask) bool {
	return m&other != 0
}

// Names returns the single-bit event names contained in m, in bit order.
func (m Mask) Names() []string {
	var names []string
	for _, name := range primitives {
		if m.Has(byName[name]) {
			names = append(names, name)
		}
	}
	return names
}

func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	return strings.Join(m.Names(), ",")
}
