package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/hardware"
	"github.com/status-im/status-signer-go/pkg/session"
	"github.com/status-im/status-signer-go/pkg/txn"
	"github.com/status-im/status-signer-go/pkg/utils"
)

var (
	chainFlag   string
	pathFlag    string
	variantFlag string
	deviceFlag  bool
	displayFlag bool
	txFlag      string
	messageFlag string
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the address of an account",
	Example: `status-signer address --chain bitcoin
status-signer address --chain bitcoin --path "m/44'/0'/0'/0/3" --variant legacy
status-signer address --chain ethereum --device --transport hid --display`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newService(deviceFlag)
		if err != nil {
			return err
		}
		disconnect, err := openFor(service, chain.ID(chainFlag))
		if err != nil {
			return err
		}
		defer disconnect()

		var reply apps.AddressResult
		err = service.GetAddress(&session.GetAddressRequest{
			Chain:    chain.ID(chainFlag),
			Path:     pathFlag,
			Display:  displayFlag,
			Variant:  variantFlag,
			Software: !deviceFlag,
		}, &reply)
		if err != nil {
			return err
		}
		return printJSON(cmd, reply)
	},
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign an unsigned transaction read as JSON from --tx or stdin",
	Example: `status-signer sign --tx transfer.json
cat transfer.json | status-signer sign --device --transport hid`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd, txFlag)
		if err != nil {
			return err
		}
		var tx txn.UnsignedTransaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return errors.Wrap(err, "failed to parse transaction")
		}

		service, err := newService(deviceFlag)
		if err != nil {
			return err
		}
		disconnect, err := openFor(service, tx.ChainID)
		if err != nil {
			return err
		}
		defer disconnect()

		var signed txn.SignedTransaction
		err = service.SignTransaction(&session.SignTransactionRequest{
			Transaction: &tx,
			Context:     txn.SigningContext{IsTestnet: testnetFlag, WalletID: walletFlag},
		}, &signed)
		if err != nil {
			return err
		}
		return printJSON(cmd, signed)
	},
}

var signMessageCmd = &cobra.Command{
	Use:     "sign-message",
	Short:   "Sign a personal message",
	Example: `status-signer sign-message --chain ethereum --message "hello"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newService(deviceFlag)
		if err != nil {
			return err
		}
		disconnect, err := openFor(service, chain.ID(chainFlag))
		if err != nil {
			return err
		}
		defer disconnect()

		var reply session.SignMessageResponse
		err = service.SignMessage(&session.SignMessageRequest{
			Chain:    chain.ID(chainFlag),
			WalletID: walletFlag,
			Message:  utils.HexString(messageFlag),
		}, &reply)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply.Signature.String())
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Connect to the device and print its status",
	Example: `status-signer status --transport hid`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newService(false)
		if err != nil {
			return err
		}
		if service.Wallet() == nil {
			return errors.New("no device transport configured, use --transport")
		}
		var status hardware.Status
		err = service.Connect(&struct{}{}, &status)
		defer func() { _ = service.Disconnect(&struct{}{}, &struct{}{}) }()
		if err != nil {
			return err
		}
		return printJSON(cmd, status)
	},
}

var chainsCmd = &cobra.Command{
	Use:     "chains",
	Short:   "List the chains with a registered signer",
	Example: `status-signer chains --testnet`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newService(deviceFlag)
		if err != nil {
			return err
		}
		var reply session.ChainsResponse
		if err := service.ListChains(&struct{}{}, &reply); err != nil {
			return err
		}
		for _, c := range reply.Chains {
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-7s %-9s %s\n", c.ID, c.Family, c.Backend, c.DefaultPath)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{addressCmd, signCmd, signMessageCmd, chainsCmd} {
		cmd.Flags().BoolVar(&deviceFlag, "device", false, "use the hardware wallet instead of the mnemonic")
	}

	addressCmd.Flags().StringVar(&chainFlag, "chain", "", "chain id, as listed by the chains command")
	addressCmd.Flags().StringVar(&pathFlag, "path", "", "BIP32 path, the chain default when empty")
	addressCmd.Flags().StringVar(&variantFlag, "variant", "", "bitcoin address variant: legacy, nested-segwit, native-segwit or taproot")
	addressCmd.Flags().BoolVar(&displayFlag, "display", false, "show the address on the device for confirmation")
	_ = addressCmd.MarkFlagRequired("chain")

	signCmd.Flags().StringVar(&txFlag, "tx", "", "file with the unsigned transaction, stdin when empty")

	signMessageCmd.Flags().StringVar(&chainFlag, "chain", "", "chain id")
	signMessageCmd.Flags().StringVar(&messageFlag, "message", "", "message to sign")
	_ = signMessageCmd.MarkFlagRequired("chain")
	_ = signMessageCmd.MarkFlagRequired("message")
}

// openFor connects the device and opens the app of id. Without a device it does nothing.
func openFor(service *session.SignerService, id chain.ID) (func(), error) {
	if !deviceFlag {
		return func() {}, nil
	}
	disconnect, err := connect(service)
	if err != nil {
		return nil, err
	}
	var status hardware.Status
	if err := service.OpenApp(&session.OpenAppRequest{Chain: id}, &status); err != nil {
		disconnect()
		return nil, err
	}
	return disconnect, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(cmd.InOrStdin())
}
