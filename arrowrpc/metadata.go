// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

// Well-known metadata keys used in the wire protocol. They appear as
// custom_metadata on Arrow IPC RecordBatch messages.
const (
	MetaService        = "rpc.service"
	MetaMethod         = "rpc.method"
	MetaRequestVersion = "rpc.request_version"
	MetaRequestID      = "rpc.request_id"
	MetaLogLevel       = "rpc.log_level"
	MetaLogMessage     = "rpc.log_message"
	MetaLogExtra       = "rpc.log_extra"
	MetaServerID       = "rpc.server_id"

	ProtocolVersion = "1"
)

// describeMethod is the reserved method name answered by the server itself.
const describeMethod = "__describe__"
