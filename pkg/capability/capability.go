// Package capability defines the closed set of effect categories a plugin may be
// granted, a fixed-size bit set over them, and the per-plugin grant registry.
package capability

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// ErrUnknownCapability is returned when a capability name is not part of the closed set.
var ErrUnknownCapability = errors.New("unknown capability")

// Capability is a single effect category.
type Capability uint8

const (
	FilesystemRead Capability = iota
	FilesystemWrite
	FilesystemDelete
	NetworkEgress
	NetworkHTTP
	NetworkWebsocket
	SMSSend
	SMSRead
	ContactsRead
	ContactsWrite
	PhoneCall
	EmailSend
	MessagingSend
	NotificationPost
	CodeExecution
	ProcessSpawn
	ModelExecution
	ModelDownload
	SensorRead
	LocationRead
	CameraCapture
	MicrophoneRecord
	ClipboardRead
	ClipboardWrite
	CalendarRead
	CalendarWrite
	DeviceInfoRead
	PreferencesWrite
	DatabaseRead
	DatabaseWrite
	TaskSchedule
	SystemSettings
	SelfModification
	MemoryRead
	MemoryWrite

	count
)

var names = [count]string{
	FilesystemRead:   "filesystem:read",
	FilesystemWrite:  "filesystem:write",
	FilesystemDelete: "filesystem:delete",
	NetworkEgress:    "network:egress",
	NetworkHTTP:      "network:http",
	NetworkWebsocket: "network:websocket",
	SMSSend:          "sms:send",
	SMSRead:          "sms:read",
	ContactsRead:     "contacts:read",
	ContactsWrite:    "contacts:write",
	PhoneCall:        "phone:call",
	EmailSend:        "email:send",
	MessagingSend:    "messaging:send",
	NotificationPost: "notification:post",
	CodeExecution:    "code:execute",
	ProcessSpawn:     "process:spawn",
	ModelExecution:   "model:execute",
	ModelDownload:    "model:download",
	SensorRead:       "sensor:read",
	LocationRead:     "location:read",
	CameraCapture:    "camera:capture",
	MicrophoneRecord: "microphone:record",
	ClipboardRead:    "clipboard:read",
	ClipboardWrite:   "clipboard:write",
	CalendarRead:     "calendar:read",
	CalendarWrite:    "calendar:write",
	DeviceInfoRead:   "device_info:read",
	PreferencesWrite: "preferences:write",
	DatabaseRead:     "database:read",
	DatabaseWrite:    "database:write",
	TaskSchedule:     "task:schedule",
	SystemSettings:   "system:settings",
	SelfModification: "self:modify",
	MemoryRead:       "memory:read",
	MemoryWrite:      "memory:write",
}

var byName = func() map[string]Capability {
	m := make(map[string]Capability, count)
	for i, n := range names {
		m[n] = Capability(i)
	}
	return m
}()

// Count returns the number of members in the closed set.
func Count() int {
	return int(count)
}

// All returns every capability in declaration order.
func All() []Capability {
	all := make([]Capability, count)
	for i := range all {
		all[i] = Capability(i)
	}
	return all
}

// Valid reports whether c is a member of the closed set.
func (c Capability) Valid() bool {
	return c < count
}

func (c Capability) String() string {
	if !c.Valid() {
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
	return names[c]
}

// Parse resolves a capability by its canonical name ("network:http").
// Matching is case-insensitive and ignores surrounding whitespace.
func Parse(name string) (Capability, error) {
	c, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	return c, nil
}

// ParseAll resolves a list of names into a Set, failing on the first unknown name.
func ParseAll(names []string) (Set, error) {
	var s Set
	for _, n := range names {
		c, err := Parse(n)
		if err != nil {
			return 0, err
		}
		s = s.With(c)
	}
	return s, nil
}

// Set is a fixed-size bit set of capabilities. The zero value is the empty set.
type Set uint64

// NewSet builds a set from the given capabilities. Invalid values are ignored.
func NewSet(caps ...Capability) Set {
	var s Set
	for _, c := range caps {
		s = s.With(c)
	}
	return s
}

// With returns s plus c.
func (s Set) With(c Capability) Set {
	if !c.Valid() {
		return s
	}
	return s | 1<<c
}

// Without returns s minus c.
func (s Set) Without(c Capability) Set {
	if !c.Valid() {
		return s
	}
	return s &^ (1 << c)
}

// Has reports whether c is in s.
func (s Set) Has(c Capability) bool {
	return c.Valid() && s&(1<<c) != 0
}

// Union returns s ∪ o.
func (s Set) Union(o Set) Set {
	return s | o
}

// Contains reports whether every member of o is in s.
func (s Set) Contains(o Set) bool {
	return o&^s == 0
}

// Missing returns the members of required that are not in s.
func (s Set) Missing(required Set) Set {
	return required &^ s
}

// IsEmpty reports whether s has no members.
func (s Set) IsEmpty() bool {
	return s == 0
}

// Len returns the number of members.
func (s Set) Len() int {
	return bits.OnesCount64(uint64(s))
}

// List returns the members in declaration order.
func (s Set) List() []Capability {
	out := make([]Capability, 0, s.Len())
	for c := Capability(0); c < count; c++ {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Strings returns the member names sorted alphabetically.
func (s Set) Strings() []string {
	out := make([]string, 0, s.Len())
	for _, c := range s.List() {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out
}

func (s Set) String() string {
	return "[" + strings.Join(s.Strings(), " ") + "]"
}
