// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package example

import "fmt"

// Planet is a closed enumeration of the planets of the solar system.
type Planet string

const (
	Mercury Planet = "MERCURY"
	Venus   Planet = "VENUS"
	Earth   Planet = "EARTH"
	Mars    Planet = "MARS"
	Jupiter Planet = "JUPITER"
	Saturn  Planet = "SATURN"
	Uranus  Planet = "URANUS"
	Neptune Planet = "NEPTUNE"
)

var planets = []Planet{Mercury, Venus, Earth, Mars, Jupiter, Saturn, Uranus, Neptune}

// Planets returns all members in orbital order.
func Planets() []Planet {
	return append([]Planet(nil), planets...)
}

// ParsePlanet returns the member named s.
func ParsePlanet(s string) (Planet, error) {
	p := Planet(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown planet %q", s)
	}
	return p, nil
}

// Valid reports whether p is a member of the enumeration.
func (p Planet) Valid() bool {
	for _, m := range planets {
		if p == m {
			return true
		}
	}
	return false
}

func (p Planet) String() string { return string(p) }

// EnumMembers implements arrowrpc.Enum.
func (Planet) EnumMembers() []string {
	out := make([]string, len(planets))
	for i, p := range planets {
		out[i] = string(p)
	}
	return out
}
