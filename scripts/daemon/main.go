// Starts a regtest pepecoind with a funded "gateway" wallet for manual runs
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/RogueTeam/8ball/internal/walletrpc/rpc"
)

const (
	baseDir          = "./pepecoin-regtest"
	daemonExecutable = "pepecoind"
	walletName       = "gateway"
	matureBlocks     = 101
)

func main() {
	rpcPort := flag.String("rpc-port", "33873", "Port for the pepecoind RPC to listen on.")
	rpcUser := flag.String("rpc-user", "username", "RPC user")
	rpcPassword := flag.String("rpc-password", "password", "RPC password")
	flag.Parse()

	// Prepare directories
	fmt.Printf("Creating base directory %s...\n", baseDir)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		log.Fatalf("Error creating base directory %s: %v", baseDir, err)
	}

	daemonCmd := exec.Command(daemonExecutable,
		"-regtest",
		"-server",
		"-txindex",
		"-fallbackfee=0.0002",
		"-datadir="+baseDir,
		"-rpcbind=127.0.0.1",
		"-rpcallowip=127.0.0.1",
		"-rpcport="+*rpcPort,
		"-rpcuser="+*rpcUser,
		"-rpcpassword="+*rpcPassword,
	)
	daemonCmd.Stdout = os.Stdout
	daemonCmd.Stderr = os.Stderr

	err := daemonCmd.Start()
	if err != nil {
		log.Fatalf("Error starting pepecoind: %v", err)
	}
	fmt.Printf("pepecoind started on 127.0.0.1:%s (PID: %d)\n", *rpcPort, daemonCmd.Process.Pid)

	defer func() {
		fmt.Printf("Stopping pepecoind (PID: %d)...\n", daemonCmd.Process.Pid)
		if err := daemonCmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Printf("Error stopping pepecoind: %v", err)
		}
		_ = daemonCmd.Wait()
		fmt.Println("pepecoind stopped.")
	}()

	base := "http://127.0.0.1:" + *rpcPort
	node := rpc.New(rpc.Config{Url: base, Client: &http.Client{}, Username: *rpcUser, Password: *rpcPassword})
	wallet := rpc.New(rpc.Config{Url: base + "/wallet/" + walletName, Client: &http.Client{}, Username: *rpcUser, Password: *rpcPassword})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Wait for the RPC server to come up
	for {
		var count uint64
		err = node.Call(ctx, "getblockcount", &count)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			log.Fatalf("pepecoind did not answer: %v", err)
		case <-time.After(time.Second):
		}
	}

	var created map[string]any
	err = node.Call(ctx, "createwallet", &created, walletName)
	if err != nil {
		log.Printf("Wallet %s not created, loading it: %v", walletName, err)
		_ = node.Call(ctx, "loadwallet", &created, walletName)
	}

	var miner string
	err = wallet.Call(ctx, "getnewaddress", &miner, "miner")
	if err != nil {
		log.Fatalf("Error creating miner address: %v", err)
	}
	var blocks []string
	err = wallet.Call(ctx, "generatetoaddress", &blocks, matureBlocks, miner)
	if err != nil {
		log.Fatalf("Error mining blocks: %v", err)
	}
	fmt.Printf("Mined %d blocks to %s\n", len(blocks), miner)
	fmt.Printf("\nGateway wallet URL: %s/wallet/%s\n", base, walletName)
	fmt.Println("Pay an order with: pepecoin-cli -regtest -rpcwallet=" + walletName + " sendtoaddress <address> <amount>")
	fmt.Println("Confirm it with:   pepecoin-cli -regtest -rpcwallet=" + walletName + " -generate 1")
	fmt.Println("Press Ctrl+C to stop the process.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nReceived termination signal. Shutting down...")
}
