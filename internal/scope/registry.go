// Package scope maps (service, level) pairs to canonical OAuth scope URIs.
// The table is data, not branches: adding a service touches only the table.
package scope

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownService    = errors.New("unknown service")
	ErrUnknownScopeLevel = errors.New("unknown scope level")
)

const (
	LevelReadonly = "readonly"
	LevelFull     = "full"
	LevelSend     = "send"
	LevelLabels   = "labels"
	LevelFile     = "file"
	LevelEvents   = "events"
)

// googleScopes is the canonical table for the Google provider.
var googleScopes = map[string]map[string]string{
	"mail": {
		LevelReadonly: "https://www.googleapis.com/auth/gmail.readonly",
		LevelSend:     "https://www.googleapis.com/auth/gmail.send",
		LevelLabels:   "https://www.googleapis.com/auth/gmail.labels",
		LevelFull:     "https://mail.google.com/",
	},
	"drive": {
		LevelReadonly: "https://www.googleapis.com/auth/drive.readonly",
		LevelFile:     "https://www.googleapis.com/auth/drive.file",
		LevelFull:     "https://www.googleapis.com/auth/drive",
	},
	"calendar": {
		LevelReadonly: "https://www.googleapis.com/auth/calendar.readonly",
		LevelEvents:   "https://www.googleapis.com/auth/calendar.events",
		LevelFull:     "https://www.googleapis.com/auth/calendar",
	},
	"contacts": {
		LevelReadonly: "https://www.googleapis.com/auth/contacts.readonly",
		LevelFull:     "https://www.googleapis.com/auth/contacts",
	},
	"meet": {
		LevelReadonly: "https://www.googleapis.com/auth/meetings.space.readonly",
		LevelFull:     "https://www.googleapis.com/auth/meetings.space.created",
	},
	"chat": {
		LevelReadonly: "https://www.googleapis.com/auth/chat.messages.readonly",
		LevelFull:     "https://www.googleapis.com/auth/chat.messages",
	},
}

// BaseScopes are requested on every consent flow regardless of service.
var BaseScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

type Requirement struct {
	Service string `json:"service"`
	Level   string `json:"level"`
}

// Registry resolves scope requirements against a provider scope table.
type Registry struct {
	table   map[string]map[string]string
	reverse map[string]Requirement
}

// NewRegistry builds a registry over the Google table.
func NewRegistry() *Registry {
	return newRegistry(googleScopes)
}

func newRegistry(table map[string]map[string]string) *Registry {
	reverse := make(map[string]Requirement)
	for service, levels := range table {
		for level, uri := range levels {
			reverse[uri] = Requirement{Service: service, Level: level}
		}
	}
	return &Registry{table: table, reverse: reverse}
}

// Resolve returns the canonical scope URI for (service, level). Unknown
// inputs are configuration errors and fail loudly, never with a default.
func (r *Registry) Resolve(service, level string) (string, error) {
	levels, ok := r.table[service]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	uri, ok := levels[level]
	if !ok {
		return "", fmt.Errorf("%w: %q for service %q", ErrUnknownScopeLevel, level, service)
	}
	return uri, nil
}

// ReverseLookup maps a canonical scope URI back to its requirement.
func (r *Registry) ReverseLookup(scopeURI string) (Requirement, bool) {
	req, ok := r.reverse[scopeURI]
	return req, ok
}

// Services lists the declared service names, sorted.
func (r *Registry) Services() []string {
	out := make([]string, 0, len(r.table))
	for s := range r.table {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Levels lists the declared levels for a service, sorted.
func (r *Registry) Levels(service string) ([]string, error) {
	levels, ok := r.table[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	out := make([]string, 0, len(levels))
	for l := range levels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}
