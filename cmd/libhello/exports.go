// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

//go:build cgo

package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

//export HelloPing
func HelloPing() {
	service.Ping()
}

//export HelloCalculateSquare
func HelloCalculateSquare(v C.double) C.double {
	return C.double(service.CalculateSquare(float64(v)))
}

// HelloEnrichExample enriches an ExampleData IPC stream. On success it
// returns 0 and stores a malloc'd result in *out. On failure it returns -1
// and stores a malloc'd message in *errMsg.
//
//export HelloEnrichExample
func HelloEnrichExample(in *C.uint8_t, inLen C.size_t, out **C.uint8_t, outLen *C.size_t, errMsg **C.char) C.int {
	result, err := enrichRaw(unsafe.Pointer(in), uint64(inLen))
	if err != nil {
		*errMsg = C.CString(err.Error())
		return -1
	}
	*out = (*C.uint8_t)(C.CBytes(result))
	*outLen = C.size_t(len(result))
	return 0
}

// HelloDispatch answers a complete RPC request stream with a complete
// response stream stored in *out.
//
//export HelloDispatch
func HelloDispatch(in *C.uint8_t, inLen C.size_t, out **C.uint8_t, outLen *C.size_t) {
	result := dispatchRaw(unsafe.Pointer(in), uint64(inLen))
	*out = (*C.uint8_t)(C.CBytes(result))
	*outLen = C.size_t(len(result))
}

//export HelloFree
func HelloFree(p unsafe.Pointer) {
	C.free(p)
}
