package main

/*
#include <stdlib.h>

typedef void (*signalCallback)(const char *);

static void callSignalCallback(void *cb, const char *event) {
	((signalCallback)cb)(event);
}
*/
import "C"

import (
	"unsafe"

	"github.com/status-im/status-signer-go/signal"
)

// setSignalCallback forwards every signal to cb, a C function taking the JSON envelope.
// A nil cb stops forwarding.
func setSignalCallback(cb unsafe.Pointer) {
	if cb == nil {
		signal.ResetSignalHandler()
		return
	}
	signal.SetSignalHandler(func(data []byte) {
		event := C.CString(string(data))
		defer C.free(unsafe.Pointer(event))
		C.callSignalCallback(cb, event)
	})
}
