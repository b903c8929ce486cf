// zion-cli is a command-line client for interacting with a zion-node daemon.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zion-chain/zion-node/config"
	"github.com/zion-chain/zion-node/internal/rpc"
	"github.com/zion-chain/zion-node/internal/rpcclient"
	"github.com/zion-chain/zion-node/pkg/block"
	"github.com/zion-chain/zion-node/pkg/tx"
	"github.com/zion-chain/zion-node/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := "http://127.0.0.1:8545"
	network := "mainnet"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if network == "testnet" {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "block":
		cmdBlock(client, cmdArgs)
	case "tx":
		cmdTx(client, cmdArgs)
	case "submit":
		cmdSubmit(client, cmdArgs)
	case "validate":
		cmdValidate(client, cmdArgs)
	case "balance":
		cmdBalance(client, cmdArgs)
	case "utxos":
		cmdUTXOs(client, cmdArgs)
	case "mempool":
		cmdMempool(client)
	case "peers":
		cmdPeers(client)
	case "mining":
		cmdMining(client, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: zion-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8545)
  --network <net>     mainnet (default) or testnet

Commands:
  status                          Show chain status and peer count
  block <hash|height>             Show block details
  tx <hash>                       Show transaction details
  submit <tx.json>                Submit a signed transaction from a JSON file
  validate <tx.json>              Validate a signed transaction without submitting
  balance <address>                Show address balance
  utxos <address>                  List UTXOs owned by an address
  mempool                         Show mempool stats
  peers                           Show connected peers

  mining gettemplate --address <coinbase>
                                  Get a PoW block template for external mining
  mining submit --block <json_file>
                                  Submit a solved PoW block
`)
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	var info rpc.ChainInfoResult
	if err := client.Call("chain_getInfo", nil, &info); err != nil {
		fatal("chain_getInfo: %v", err)
	}

	fmt.Printf("Chain:   %s\n", info.ChainID)
	if info.Symbol != "" {
		fmt.Printf("Symbol:  %s\n", info.Symbol)
	}
	fmt.Printf("Height:  %d\n", info.Height)
	fmt.Printf("Tip:     %s\n", info.TipHash)

	var peers rpc.PeerInfoResult
	if err := client.Call("net_getPeerInfo", nil, &peers); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}
	fmt.Printf("Peers:   %d\n", peers.Count)
}

// ── block ───────────────────────────────────────────────────────────────

func cmdBlock(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: zion-cli block <hash|height>")
	}

	arg := args[0]
	var raw json.RawMessage

	if height, err := strconv.ParseUint(arg, 10, 64); err == nil {
		if err := client.Call("chain_getBlockByHeight", rpc.HeightParam{Height: height}, &raw); err != nil {
			fatal("chain_getBlockByHeight: %v", err)
		}
	} else {
		if err := client.Call("chain_getBlockByHash", rpc.HashParam{Hash: arg}, &raw); err != nil {
			fatal("chain_getBlockByHash: %v", err)
		}
	}

	var blk block.Block
	if err := json.Unmarshal(raw, &blk); err != nil {
		fatal("decode block: %v", err)
	}

	fmt.Printf("Height:       %d\n", blk.Header.Height)
	fmt.Printf("Hash:         %s\n", blk.Hash())
	fmt.Printf("Prev:         %s\n", blk.Header.PrevHash)
	fmt.Printf("Merkle Root:  %s\n", blk.Header.MerkleRoot)
	fmt.Printf("Difficulty:   %s\n", formatDifficulty(blk.Header.Difficulty))
	ts := time.Unix(int64(blk.Header.Timestamp), 0).UTC()
	fmt.Printf("Timestamp:    %s\n", ts.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("Transactions: %d\n", len(blk.Transactions))
	for i, t := range blk.Transactions {
		fmt.Printf("  [%d] %s\n", i, t.Hash())
	}
}

// ── tx ──────────────────────────────────────────────────────────────────

func cmdTx(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: zion-cli tx <hash>")
	}

	var raw json.RawMessage
	if err := client.Call("chain_getTransaction", rpc.HashParam{Hash: args[0]}, &raw); err != nil {
		fatal("chain_getTransaction: %v", err)
	}

	var txn tx.Transaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		fatal("decode tx: %v", err)
	}
	printTx(&txn)
}

func printTx(t *tx.Transaction) {
	fmt.Printf("Hash:     %s\n", t.Hash())
	fmt.Printf("Version:  %d\n", t.Version)
	fmt.Printf("LockTime: %d\n", t.LockTime)
	fmt.Printf("Fee:      %s ZION\n", formatAmount(t.Fee))
	fmt.Printf("Inputs:   %d\n", len(t.Inputs))
	for i, in := range t.Inputs {
		fmt.Printf("  [%d] %s:%d\n", i, in.PrevOut.TxID, in.PrevOut.Index)
	}
	fmt.Printf("Outputs:  %d\n", len(t.Outputs))
	for i, out := range t.Outputs {
		fmt.Printf("  [%d] %s -> %s ZION\n", i, out.Address, formatAmount(out.Value))
	}
}

// ── submit / validate ────────────────────────────────────────────────────

func cmdSubmit(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: zion-cli submit <tx.json>")
	}
	t := readTxFile(args[0])

	var result rpc.TxSubmitResult
	if err := client.Call("tx_submit", rpc.TxSubmitParam{Transaction: t}, &result); err != nil {
		fatal("tx_submit: %v", err)
	}
	fmt.Printf("Transaction submitted: %s\n", result.TxHash)
}

func cmdValidate(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: zion-cli validate <tx.json>")
	}
	t := readTxFile(args[0])

	var result rpc.TxValidateResult
	if err := client.Call("tx_validate", rpc.TxSubmitParam{Transaction: t}, &result); err != nil {
		fatal("tx_validate: %v", err)
	}
	if result.Valid {
		fmt.Printf("Valid. Fee: %s ZION\n", formatAmount(result.Fee))
	} else {
		fmt.Printf("Invalid: %s\n", result.Error)
	}
}

func readTxFile(path string) *tx.Transaction {
	data, err := os.ReadFile(path)
	if err != nil {
		fatal("read transaction file: %v", err)
	}
	var t tx.Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		fatal("invalid transaction JSON: %v", err)
	}
	return &t
}

// ── balance / utxos ───────────────────────────────────────────────────────

func cmdBalance(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: zion-cli balance <address>")
	}

	var result rpc.BalanceResult
	if err := client.Call("utxo_getBalance", rpc.AddressParam{Address: args[0]}, &result); err != nil {
		fatal("utxo_getBalance: %v", err)
	}

	fmt.Printf("Address:   %s\n", result.Address)
	fmt.Printf("Spendable: %s ZION\n", formatAmount(result.Spendable))
	if result.Immature > 0 {
		fmt.Printf("Immature:  %s ZION\n", formatAmount(result.Immature))
	}
	fmt.Printf("Total:     %s ZION\n", formatAmount(result.Balance))
}

func cmdUTXOs(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: zion-cli utxos <address>")
	}

	var result rpc.UTXOListResult
	if err := client.Call("utxo_getByAddress", rpc.AddressParam{Address: args[0]}, &result); err != nil {
		fatal("utxo_getByAddress: %v", err)
	}

	fmt.Printf("Address: %s\n", result.Address)
	fmt.Printf("UTXOs:   %d\n", len(result.UTXOs))
	for _, u := range result.UTXOs {
		label := ""
		if u.Coinbase {
			label = "  (coinbase)"
		}
		fmt.Printf("  %s:%d  %s ZION  height=%d%s\n", u.Outpoint.TxID, u.Outpoint.Index, formatAmount(u.Value), u.Height, label)
	}
}

// ── mempool / peers ───────────────────────────────────────────────────────

func cmdMempool(client *rpcclient.Client) {
	var info rpc.MempoolInfoResult
	if err := client.Call("mempool_getInfo", nil, &info); err != nil {
		fatal("mempool_getInfo: %v", err)
	}
	fmt.Printf("Transactions: %d\n", info.Count)
	fmt.Printf("Min fee rate: %d\n", info.MinFeeRate)
}

func cmdPeers(client *rpcclient.Client) {
	var result rpc.PeerInfoResult
	if err := client.Call("net_getPeerInfo", nil, &result); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}

	fmt.Printf("Peers: %d\n", result.Count)
	for _, p := range result.Peers {
		fmt.Printf("  %s  connected=%s\n", p.ID, p.ConnectedAt)
	}
}

// ── mining ───────────────────────────────────────────────────────────────

func cmdMining(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: zion-cli mining <gettemplate|submit> [flags]")
	}

	switch args[0] {
	case "gettemplate":
		cmdMiningGetTemplate(client, args[1:])
	case "submit":
		cmdMiningSubmit(client, args[1:])
	default:
		fatal("Unknown mining command: %s\nUsage: zion-cli mining <gettemplate|submit> [flags]", args[0])
	}
}

func cmdMiningGetTemplate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("mining gettemplate", flag.ExitOnError)
	address := fs.String("address", "", "Coinbase address")
	fs.Parse(args)

	if *address == "" {
		fatal("Usage: zion-cli mining gettemplate --address <coinbase>")
	}

	var result rpc.MiningBlockTemplateResult
	if err := client.Call("mining_getBlockTemplate", rpc.MiningGetBlockTemplateParam{
		CoinbaseAddress: *address,
	}, &result); err != nil {
		fatal("mining_getBlockTemplate: %v", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fatal("marshal result: %v", err)
	}
	fmt.Println(string(data))
}

func cmdMiningSubmit(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("mining submit", flag.ExitOnError)
	blockFile := fs.String("block", "", "Path to solved block JSON file")
	fs.Parse(args)

	if *blockFile == "" {
		fatal("Usage: zion-cli mining submit --block <json_file>")
	}

	blockData, err := os.ReadFile(*blockFile)
	if err != nil {
		fatal("read block file: %v", err)
	}

	var blk block.Block
	if err := json.Unmarshal(blockData, &blk); err != nil {
		fatal("invalid block JSON: %v", err)
	}

	var result rpc.MiningSubmitBlockResult
	if err := client.Call("mining_submitBlock", rpc.MiningSubmitBlockParam{Block: &blk}, &result); err != nil {
		fatal("mining_submitBlock: %v", err)
	}

	fmt.Printf("Block accepted!\n")
	fmt.Printf("  Hash:   %s\n", result.BlockHash)
	fmt.Printf("  Height: %d\n", result.Height)
}

// ── Formatting helpers ─────────────────────────────────────────────────

// formatDifficulty returns a human-readable difficulty string (e.g. "1.05M").
func formatDifficulty(d uint64) string {
	switch {
	case d >= 1_000_000_000_000:
		return fmt.Sprintf("%.2fT", float64(d)/1_000_000_000_000)
	case d >= 1_000_000_000:
		return fmt.Sprintf("%.2fG", float64(d)/1_000_000_000)
	case d >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(d)/1_000_000)
	case d >= 1_000:
		return fmt.Sprintf("%.2fK", float64(d)/1_000)
	default:
		return fmt.Sprintf("%d", d)
	}
}

// formatAmount converts raw units to a human-readable decimal string.
func formatAmount(units uint64) string {
	whole := units / config.Coin
	frac := units % config.Coin
	return fmt.Sprintf("%d.%012d", whole, frac)
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
