// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

// Command hello-rpc serves HelloService over Arrow IPC and calls it.
package main

import (
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	Execute()
}
