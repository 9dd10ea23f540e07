// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

// Command libhello builds HelloService as a C shared library:
//
//	go build -buildmode=c-shared -o libhello.so ./cmd/libhello
//
// Records cross the boundary as Arrow IPC bytes, so any language with an
// Arrow implementation can call it. Buffers returned to the caller must be
// released with HelloFree.
package main

func main() {}
