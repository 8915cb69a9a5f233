package session

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	gorillajson "github.com/gorilla/rpc/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/config"
	"github.com/status-im/status-signer-go/pkg/hardware"
	"github.com/status-im/status-signer-go/pkg/mocked"
	"github.com/status-im/status-signer-go/pkg/txn"
	"github.com/status-im/status-signer-go/pkg/utils"
)

const (
	btcAddress = "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	ethAddress = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

type client struct {
	t   *testing.T
	url string
}

func newClient(t *testing.T, configure func(cfg *config.Config)) *client {
	cfg := config.Default()
	cfg.Wallet.MnemonicFile = filepath.Join(t.TempDir(), "mnemonic")
	require.NoError(t, os.WriteFile(cfg.Wallet.MnemonicFile, []byte(mocked.DefaultMnemonic), 0o600))
	if configure != nil {
		configure(cfg)
	}
	require.NoError(t, cfg.Validate())

	service, err := NewFromConfig(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	rpcServer, err := CreateRPCServer(service)
	require.NoError(t, err)

	srv := httptest.NewServer(rpcServer)
	t.Cleanup(srv.Close)
	if w := service.Wallet(); w != nil {
		t.Cleanup(func() { _ = w.Disconnect() })
	}
	return &client{t: t, url: srv.URL}
}

func (c *client) call(method string, args, reply interface{}) error {
	body, err := gorillajson.EncodeClientRequest(ServiceName+"."+method, args)
	require.NoError(c.t, err)

	resp, err := http.Post(c.url, "application/json", bytes.NewReader(body))
	require.NoError(c.t, err)
	defer resp.Body.Close()

	return gorillajson.DecodeClientResponse(resp.Body, reply)
}

func TestSoftwareAddresses(t *testing.T) {
	c := newClient(t, nil)

	tests := []struct {
		name string
		req  GetAddressRequest
		want string
	}{
		{"bitcoin default path", GetAddressRequest{Chain: chain.Bitcoin}, btcAddress},
		{"bitcoin second address", GetAddressRequest{Chain: chain.Bitcoin, Path: "m/84'/0'/0'/0/1"}, "bc1qnjg0jd8228aq7egyzacy8cys3knf9xvrerkf9g"},
		{"bitcoin legacy", GetAddressRequest{Chain: chain.Bitcoin, Path: "m/44'/0'/0'/0/0"}, "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"},
		{"ethereum", GetAddressRequest{Chain: chain.Ethereum}, ethAddress},
		{"polygon shares the ethereum key", GetAddressRequest{Chain: chain.Polygon}, ethAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reply apps.AddressResult
			require.NoError(t, c.call("GetAddress", &tt.req, &reply))
			assert.Equal(t, tt.want, reply.Address)
			assert.NotEmpty(t, reply.PublicKey)
		})
	}

	var pub apps.PublicKeyResult
	require.NoError(t, c.call("GetPublicKey", &GetPublicKeyRequest{Chain: chain.Solana}, &pub))
	assert.Len(t, pub.PublicKey, 32)
	assert.NotEmpty(t, pub.Address)

	// no device configured
	var status hardware.Status
	assert.ErrorContains(t, c.call("GetStatus", &struct{}{}, &status), "no hardware wallet")
}

func TestRequestValidation(t *testing.T) {
	c := newClient(t, nil)

	var addr apps.AddressResult
	assert.ErrorContains(t, c.call("GetAddress", &GetAddressRequest{Chain: "dogecoin"}, &addr), "invalid parameters")
	assert.ErrorContains(t, c.call("GetAddress", &GetAddressRequest{Chain: chain.Bitcoin, Path: "m/84'/x"}, &addr), "invalid parameters")
	assert.ErrorContains(t, c.call("GetAddress", &GetAddressRequest{Chain: chain.Bitcoin, Variant: "segwit"}, &addr), "invalid parameters")

	assert.ErrorContains(t, c.call("AddWallet", &AddWalletRequest{WalletID: "w", Mnemonic: "not a mnemonic"}, &struct{}{}), "invalid parameters")

	var sig SignMessageResponse
	assert.ErrorContains(t, c.call("SignMessage", &SignMessageRequest{Chain: chain.Ethereum}, &sig), "invalid parameters")

	var signed txn.SignedTransaction
	assert.ErrorContains(t, c.call("SignTransaction", &SignTransactionRequest{}, &signed), "invalid transaction inputs")
}

func TestWalletManagement(t *testing.T) {
	c := newClient(t, nil)

	// same mnemonic, different password
	require.NoError(t, c.call("AddWallet", &AddWalletRequest{WalletID: "other", Mnemonic: mocked.DefaultMnemonic, Password: "TREZOR"}, &struct{}{}))

	var addr apps.AddressResult
	require.NoError(t, c.call("GetAddress", &GetAddressRequest{Chain: chain.Ethereum, WalletID: "other"}, &addr))
	assert.NotEqual(t, ethAddress, addr.Address)

	require.NoError(t, c.call("RemoveWallet", &RemoveWalletRequest{WalletID: "other"}, &struct{}{}))
	assert.ErrorContains(t, c.call("GetAddress", &GetAddressRequest{Chain: chain.Ethereum, WalletID: "other"}, &addr), "seed not found")
}

func TestSignOverRPC(t *testing.T) {
	c := newClient(t, nil)

	var chains ChainsResponse
	require.NoError(t, c.call("ListChains", &struct{}{}, &chains))
	require.Len(t, chains.Chains, 10)
	assert.Equal(t, chain.Arbitrum, chains.Chains[0].ID)
	for _, info := range chains.Chains {
		assert.False(t, info.Testnet)
		assert.Equal(t, config.BackendSoftware, info.Backend)
	}

	var can CanSignResponse
	require.NoError(t, c.call("CanSign", &CanSignRequest{Chain: chain.Bitcoin, Address: btcAddress}, &can))
	assert.True(t, can.CanSign)

	tip := uint64(2_000_000_000)
	req := &SignTransactionRequest{
		Transaction: &txn.UnsignedTransaction{
			ChainID:   chain.Ethereum,
			Recipient: "0x3535353535353535353535353535353535353535",
			Amount:    1_000_000_000_000_000,
			Inputs: txn.EVMInputs{
				Nonce:          5,
				GasLimit:       21_000,
				GasPrice:       30_000_000_000,
				MaxPriorityFee: &tip,
				ChainIDNumber:  1,
				UseEIP1559:     true,
			},
		},
	}
	var signed txn.SignedTransaction
	require.NoError(t, c.call("SignTransaction", req, &signed))
	assert.Equal(t, chain.Ethereum, signed.ChainID)
	assert.Equal(t, uint64(21_000*30_000_000_000), signed.Fee)
	assert.Len(t, signed.TxID, 66)
	assert.NotEmpty(t, signed.RawHex)

	var sig SignMessageResponse
	require.NoError(t, c.call("SignMessage", &SignMessageRequest{Chain: chain.Ethereum, Message: utils.HexString("hello")}, &sig))
	assert.Len(t, sig.Signature, 65)

	// testnet transaction against mainnet signers
	req.Context.IsTestnet = true
	assert.Error(t, c.call("SignTransaction", req, &signed))
}

func TestHardwareOverRPC(t *testing.T) {
	c := newClient(t, func(cfg *config.Config) {
		cfg.Device.Transport = config.TransportMock
		cfg.Signing.Backend = config.BackendHardware
	})

	var status hardware.Status
	require.NoError(t, c.call("Connect", &struct{}{}, &status))
	assert.Equal(t, hardware.RequiresAppOpen, status.State)
	assert.Equal(t, "mock", status.Transport)

	var addr apps.AddressResult
	assert.ErrorContains(t, c.call("GetAddress", &GetAddressRequest{Chain: chain.Bitcoin}, &addr), "is not open")

	require.NoError(t, c.call("OpenApp", &OpenAppRequest{Chain: chain.Bitcoin}, &status))
	assert.Equal(t, hardware.Ready, status.State)
	assert.Equal(t, "Bitcoin", status.App)

	require.NoError(t, c.call("GetAddress", &GetAddressRequest{Chain: chain.Bitcoin}, &addr))
	assert.Equal(t, btcAddress, addr.Address)

	var soft apps.AddressResult
	require.NoError(t, c.call("GetAddress", &GetAddressRequest{Chain: chain.Bitcoin, Software: true}, &soft))
	assert.Equal(t, addr.Address, soft.Address)

	var chains ChainsResponse
	require.NoError(t, c.call("ListChains", &struct{}{}, &chains))
	for _, info := range chains.Chains {
		assert.Equal(t, config.BackendHardware, info.Backend)
	}

	require.NoError(t, c.call("Disconnect", &struct{}{}, &struct{}{}))
	require.NoError(t, c.call("GetStatus", &struct{}{}, &status))
	assert.Equal(t, hardware.Disconnected, status.State)
}
