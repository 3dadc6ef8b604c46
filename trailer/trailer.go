// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package trailer reads and writes "Key: value" metadata lines placed in the
// last paragraph of a commit message.
package trailer

import (
	"regexp"
	"strings"
)

var (
	keyPattern    = regexp.MustCompile(`^[A-Za-z0-9]+(-[A-Za-z0-9]+)*$`)
	blockBoundary = regexp.MustCompile(`\n[ \t\r]*\n`)
)

// Trailer is a single key/value pair.
type Trailer struct {
	Key   string
	Value string
}

// Set is an ordered collection of trailers with unique keys.
type Set []Trailer

// Get returns the value stored under key and whether it exists.
func (s Set) Get(key string) (string, bool) {
	for _, t := range s {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Value returns the value stored under key, or "" when absent.
func (s Set) Value(key string) string {
	v, _ := s.Get(key)
	return v
}

// Add sets key to value, replacing an existing value in place or appending
// a new trailer at the end.
func (s *Set) Add(key, value string) {
	for i := range *s {
		if (*s)[i].Key == key {
			(*s)[i].Value = value
			return
		}
	}
	*s = append(*s, Trailer{Key: key, Value: value})
}

// Map returns the trailers as a map.
func (s Set) Map() map[string]string {
	m := make(map[string]string, len(s))
	for _, t := range s {
		m[t.Key] = t.Value
	}
	return m
}

// IsValidKey reports whether key can be written as a trailer and read back.
func IsValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Parse extracts the trailers of the last paragraph of message.
// Keys are lower-cased. Lines that are not well-formed trailers are skipped,
// and a last paragraph without any colon yields an empty set.
func Parse(message string) Set {
	message = strings.ReplaceAll(message, "\r\n", "\n")
	message = strings.TrimRight(message, " \t\n")
	blocks := blockBoundary.Split(message, -1)
	last := blocks[len(blocks)-1]

	set := Set{}
	if !strings.Contains(last, ":") {
		return set
	}

	for _, line := range strings.Split(last, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || !keyPattern.MatchString(key) {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		set.Add(strings.ToLower(key), value)
	}
	return set
}

// Format renders trailers as "Key: value" lines in insertion order.
// Trailers with empty values are omitted and keys are capitalized.
func Format(set Set) string {
	lines := make([]string, 0, len(set))
	for _, t := range set {
		if t.Value == "" {
			continue
		}
		lines = append(lines, capitalize(t.Key)+": "+t.Value)
	}
	return strings.Join(lines, "\n")
}

func capitalize(key string) string {
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + strings.ToLower(key[1:])
}
