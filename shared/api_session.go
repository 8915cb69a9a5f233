package main

// #include <stdlib.h>
import "C"

import (
	"bytes"
	"io"
	"net/http/httptest"
	"sync"
	"unsafe"

	"github.com/gorilla/rpc"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/logging"
	"github.com/status-im/status-signer-go/pkg/config"
	"github.com/status-im/status-signer-go/pkg/session"
)

var (
	globalMu        sync.Mutex
	globalRPCServer *rpc.Server
	globalService   *session.SignerService
)

// SignerInitializeRPC builds the signer from the config at configPath, or from
// defaults and SIGNER_* environment variables when configPath is empty.
//
//export SignerInitializeRPC
func SignerInitializeRPC(configPath *C.char) *C.char {
	defer logPanic()

	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRPCServer != nil {
		return marshalError(errors.New("RPC server already initialized"))
	}

	cfg, err := config.Load(C.GoString(configPath))
	if err != nil {
		return marshalError(err)
	}
	logger, err := logging.Build(cfg.Log)
	if err != nil {
		return marshalError(err)
	}
	zap.ReplaceGlobals(logger)
	zap.L().Info("SignerInitializeRPC - start")

	service, err := session.NewFromConfig(cfg, logger, nil)
	if err != nil {
		return marshalError(err)
	}
	rpcServer, err := session.CreateRPCServer(service)
	if err != nil {
		return marshalError(err)
	}
	globalService = service
	globalRPCServer = rpcServer

	zap.L().Info("SignerInitializeRPC - ok")
	return marshalError(nil)
}

// SignerCallRPC handles one JSON-RPC request and returns the JSON response.
//
//export SignerCallRPC
func SignerCallRPC(payload *C.char) *C.char {
	defer logPanic()

	globalMu.Lock()
	rpcServer := globalRPCServer
	globalMu.Unlock()

	if rpcServer == nil {
		return marshalError(errors.New("RPC server not initialized"))
	}

	req := httptest.NewRequest("POST", "/rpc", bytes.NewBufferString(C.GoString(payload)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	rpcServer.ServeHTTP(rr, req)

	resp := rr.Result()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return marshalError(errors.Wrap(err, "internal error reading response body"))
	}
	zap.L().Debug("SignerCallRPC returning", zap.String("status", resp.Status))

	return C.CString(string(body))
}

// SignerStopRPC disconnects the device and drops the RPC server.
//
//export SignerStopRPC
func SignerStopRPC() *C.char {
	defer logPanic()

	globalMu.Lock()
	defer globalMu.Unlock()

	var err error
	if globalService != nil && globalService.Wallet() != nil {
		err = globalService.Wallet().Disconnect()
	}
	globalService = nil
	globalRPCServer = nil
	return marshalError(err)
}

//export SignerSetSignalEventCallback
func SignerSetSignalEventCallback(cb unsafe.Pointer) {
	setSignalCallback(cb)
}
