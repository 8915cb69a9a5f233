package main

// #cgo LDFLAGS: -shared
// #include <stdlib.h>
import "C"

import (
	"encoding/json"
	"fmt"
	"unsafe"
)

func main() {}

func marshalError(err error) *C.char {
	response := struct {
		Error string `json:"error"`
	}{}
	if err != nil {
		response.Error = err.Error()
	}
	responseBytes, _ := json.Marshal(response)
	return C.CString(string(responseBytes))
}

func logPanic() {
	err := recover()
	if err != nil {
		fmt.Printf("Panic: %v\n", err)
	}
}

// Free releases a string returned by any of the exported functions.
//
//export Free
func Free(param unsafe.Pointer) {
	C.free(param)
}
