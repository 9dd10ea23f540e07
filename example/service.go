// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package example

import (
	"fmt"
	"io"
	"os"
)

// HelloService is stateless; its only dependency is the writer Ping
// reports to.
type HelloService struct {
	out io.Writer
}

// NewHelloService creates a service that pings to out, or to standard
// output when out is nil.
func NewHelloService(out io.Writer) *HelloService {
	if out == nil {
		out = os.Stdout
	}
	return &HelloService{out: out}
}

// Ping writes "Ping" followed by a newline.
func (s *HelloService) Ping() {
	fmt.Fprintln(s.out, "Ping")
}

// CalculateSquare returns v*v with IEEE-754 semantics.
func (s *HelloService) CalculateSquare(v float64) float64 {
	return v * v
}

// EnrichExample takes d by value and returns the enriched record. The
// caller's copy is never modified.
func (s *HelloService) EnrichExample(d ExampleData) ExampleData {
	d.Enrich()
	return d
}
