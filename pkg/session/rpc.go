package session

import (
	"github.com/gorilla/rpc"
	gorillajson "github.com/gorilla/rpc/json"
)

const ServiceName = "signer"

func CreateRPCServer(service *SignerService) (*rpc.Server, error) {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(gorillajson.NewCodec(), "application/json")
	err := rpcServer.RegisterTCPService(service, ServiceName)
	return rpcServer, err
}
