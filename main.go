package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"btc-bridge/config"
	"btc-bridge/database"
	path "btc-bridge/internal"
	"btc-bridge/pkg/bridge"
	"btc-bridge/pkg/event"
	"btc-bridge/pkg/logger"
	"btc-bridge/pkg/runtime"

	"github.com/jessevdk/go-flags"
	jsoniter "github.com/json-iterator/go"
)

type options struct {
	Config  string `long:"config" description:"path to the toml config"`
	Headers string `long:"headers" description:"file of hex encoded block headers, one per line, oldest first"`
	Txs     string `long:"txs" description:"file of relayed transactions, one json object with hex fields per line"`
	Propose bool   `long:"propose" description:"build a withdrawal proposal out of every open bitcoin application"`
}

// relayLine is the import form of bridge.RelayTx.
type relayLine struct {
	BlockHash     string `json:"block_hash"`
	RawTx         string `json:"raw_tx"`
	MerkleProof   string `json:"merkle_proof"`
	PreviousRawTx string `json:"previous_raw_tx"`
}

func (l *relayLine) decode() (*bridge.RelayTx, error) {
	raw, err := hex.DecodeString(l.RawTx)
	if err != nil {
		return nil, fmt.Errorf("raw_tx: %w", err)
	}
	proof, err := hex.DecodeString(l.MerkleProof)
	if err != nil {
		return nil, fmt.Errorf("merkle_proof: %w", err)
	}
	prev, err := hex.DecodeString(l.PreviousRawTx)
	if err != nil {
		return nil, fmt.Errorf("previous_raw_tx: %w", err)
	}
	return &bridge.RelayTx{
		BlockHash:     l.BlockHash,
		RawTx:         raw,
		MerkleProof:   proof,
		PreviousRawTx: prev,
	}, nil
}

func main() {
	opts := options{Config: path.DefaultConfigPath}
	if _, err := flags.Parse(&opts); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	// load config
	config, err := config.LoadConfig(opts.Config)
	if err != nil {
		panic(err)
	}
	config.DB.Path = path.Resolve(opts.Config, config.DB.Path)
	config.Logger.File = path.Resolve(opts.Config, config.Logger.File)

	var writer io.Writer
	if config.Logger.File != "" {
		w, closeLog, err := logger.NewRotatingWriter(config.Logger.File, config.Logger.MaxFileSizeKB, config.Logger.MaxFiles)
		if err != nil {
			panic(err)
		}
		defer closeLog()
		writer = w
	}
	log := logger.NewLoggerWithOptions(config.Logger.Level, &logger.Options{
		LogBackTraceEnabled: config.Logger.LogBackTraceEnabled,
		Writer:              writer,
	})

	log.Info("Logger Setup Complete")

	if err := run(config, &opts, log); err != nil {
		log.Fatal(err.Error())
	}
}

func run(cfg *config.Config, opts *options, log *logger.CustomLogger) error {
	kv, err := database.Open(database.Backend(cfg.DB.Backend), cfg.DB.Path, cfg.DB.URI, cfg.DB.Database)
	if err != nil {
		return err
	}
	defer kv.Close()

	log.Infof("%s database open", cfg.DB.Backend)

	rtCfg, err := cfg.RuntimeConfig()
	if err != nil {
		return err
	}
	rtCfg.Log = log
	rtCfg.Sink = event.SinkFunc(func(e event.Event) {
		log.Debugf("event %s: %+v", e.Name(), e)
	})

	rt, err := runtime.New(kv, rtCfg)
	if err != nil {
		return err
	}

	if opts.Headers != "" {
		if err := importHeaders(rt, opts.Headers, log); err != nil {
			return err
		}
	}
	if opts.Txs != "" {
		if err := importTxs(rt, opts.Txs, log); err != nil {
			return err
		}
	}
	if opts.Propose {
		if err := propose(rt, cfg.Bridge.WithdrawalFee, log); err != nil {
			return err
		}
	}

	hash, info, err := rt.BestHeader()
	if err != nil {
		return err
	}
	log.Infof("best header %s at %d", hash, info.Height)

	if fault, err := rt.ChainFault(); err != nil {
		return err
	} else if fault != nil {
		log.Warnf("chain fault latched: fork %s from %d would unwind confirmed %d", fault.ForkHash, fault.Ancestor, fault.Confirmed)
	}
	return nil
}

// eachLine calls fn with every non empty line of the file and its number.
func eachLine(file string, fn func(n int, line string) error) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(n, line); err != nil {
			return fmt.Errorf("%s:%d: %w", file, n, err)
		}
	}
	return scanner.Err()
}

// importHeaders stops at the first header the chain rejects; later ones
// would only fail on the unknown parent.
func importHeaders(rt *runtime.Runtime, file string, log *logger.CustomLogger) error {
	var inserted int
	err := eachLine(file, func(_ int, line string) error {
		raw, err := hex.DecodeString(line)
		if err != nil {
			return err
		}
		if _, err := rt.PushHeader(raw); err != nil {
			return err
		}
		inserted++
		return nil
	})
	log.Infof("imported %d headers from %s", inserted, file)
	return err
}

// importTxs logs rejected transactions and carries on.
func importTxs(rt *runtime.Runtime, file string, log *logger.CustomLogger) error {
	var accepted, rejected int
	err := eachLine(file, func(n int, line string) error {
		var l relayLine
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(line, &l); err != nil {
			return err
		}
		relay, err := l.decode()
		if err != nil {
			return err
		}
		typ, err := rt.PushTransaction(relay)
		if err != nil {
			rejected++
			log.Warnf("%s:%d rejected: %v", file, n, err)
			return nil
		}
		accepted++
		log.Debugf("%s:%d accepted as %v", file, n, typ)
		return nil
	})
	log.Infof("relayed %d transactions from %s, %d rejected", accepted, file, rejected)
	return err
}

func propose(rt *runtime.Runtime, fee uint64, log *logger.CustomLogger) error {
	list, err := rt.WithdrawalList()
	if err != nil {
		return err
	}
	var ids []uint32
	for _, r := range list {
		if r.State == bridge.Applying {
			ids = append(ids, r.WithdrawalID)
		}
	}
	if len(ids) == 0 {
		log.Info("no open withdrawal applications")
		return nil
	}

	p, err := rt.CreateWithdrawalProposal(ids, fee)
	if err != nil {
		return err
	}
	tx, err := p.MsgTx()
	if err != nil {
		return err
	}
	log.Infof("withdrawal proposal %s for %v, unsigned tx %s", tx.TxHash(), p.WithdrawalIDs, hex.EncodeToString(p.Tx))
	return nil
}
