// Command trustee prints the multisig redeem script and P2SH address of a
// trustee key set, in the form config.toml expects.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"btc-bridge/pkg/blockchain"
	"btc-bridge/pkg/bridge"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Network  string   `long:"network" default:"btc" description:"btc, btct, btcrt or btcs"`
	Required int      `long:"required" required:"true" description:"signatures needed to spend"`
	PubKeys  []string `long:"pubkey" required:"true" description:"hex compressed public key, repeat per trustee"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	if err := run(&opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	net, err := blockchain.NetParams(opts.Network)
	if err != nil {
		return err
	}

	pubs := make([]*btcutil.AddressPubKey, 0, len(opts.PubKeys))
	for _, s := range opts.PubKeys {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("pubkey %s: %w", s, err)
		}
		pub, err := btcutil.NewAddressPubKey(raw, net)
		if err != nil {
			return fmt.Errorf("pubkey %s: %w", s, err)
		}
		pubs = append(pubs, pub)
	}
	if opts.Required < 1 || opts.Required > len(pubs) {
		return fmt.Errorf("required %d out of range 1..%d", opts.Required, len(pubs))
	}

	redeem, err := txscript.MultiSigScript(pubs, opts.Required)
	if err != nil {
		return err
	}
	trustee, err := bridge.NewTrustee(redeem, net)
	if err != nil {
		return err
	}

	fmt.Printf("trustee_redeem_script = %q\n", hex.EncodeToString(trustee.RedeemScript))
	fmt.Printf("# %d of %d, address %s\n", trustee.Required, len(trustee.PubKeys), trustee.Address.EncodeAddress())
	return nil
}
