// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

// Package example implements HelloService, a small stateless service with
// three operations: Ping writes a diagnostic line, CalculateSquare squares
// a float64 and EnrichExample updates an [ExampleData] record.
//
// [RegisterMethods] exposes the service through an arrowrpc server and
// [Remote] calls it through an arrowrpc client. ExampleData crosses process
// and language boundaries as a one-row Arrow IPC stream with the layout
// returned by [ExampleData.ArrowSchema].
package example
