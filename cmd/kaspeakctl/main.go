// Command kaspeakctl is a manual testing harness for the protocol
// engine: it wires a session.Session against the in-memory fake ledger
// so a developer can generate an identity, send a payload, and watch it
// come back through ingestion without a real Kaspa-like node. It
// carries no protocol logic of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kaspeak/kaspeak-go/pkg/byteutil"
	"github.com/kaspeak/kaspeak-go/pkg/curve"
	"github.com/kaspeak/kaspeak-go/pkg/eventbus"
	"github.com/kaspeak/kaspeak-go/pkg/identifier"
	"github.com/kaspeak/kaspeak-go/pkg/ingestion"
	"github.com/kaspeak/kaspeak-go/pkg/kconfig"
	"github.com/kaspeak/kaspeak-go/pkg/ledger"
	"github.com/kaspeak/kaspeak-go/pkg/ledger/fake"
	"github.com/kaspeak/kaspeak-go/pkg/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "keygen":
		runKeygen()
	case "send":
		runSend(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kaspeakctl <keygen | send <prefix> <type> <hex-data>>")
}

func runKeygen() {
	id, err := identifier.Random()
	if err != nil {
		fatal(err)
	}
	pub, err := id.Bytes()
	if err != nil {
		fatal(err)
	}
	fmt.Printf("secret: %s\n", byteutil.EncodeHex(curve.ScalarToBytes(id.Secret())))
	fmt.Printf("public: %s\n", byteutil.EncodeHex(pub))
}

// runSend drives the full outbound+inbound loop against the fake
// ledger: build, sign, submit, deliver back, and print the received
// event.
func runSend(args []string) {
	if len(args) != 3 {
		usage()
		os.Exit(1)
	}
	prefix := args[0]
	typ, err := strconv.Atoi(args[1])
	if err != nil {
		fatal(err)
	}
	data, err := byteutil.DecodeHex(args[2])
	if err != nil {
		fatal(err)
	}

	self, err := identifier.Random()
	if err != nil {
		fatal(err)
	}

	ctx := context.Background()
	client := fake.New()
	sess, err := session.Create(self.Secret(), prefix, client, kconfig.NewSessionConfig())
	if err != nil {
		fatal(err)
	}
	defer sess.Close()

	received := make(chan ingestion.ReceivedMessage, 1)
	if _, err := sess.Bus().On(eventbus.EventMessageReceived, func(payload interface{}) {
		received <- payload.(ingestion.ReceivedMessage)
	}); err != nil {
		fatal(err)
	}

	if err := sess.Connect(ctx, ""); err != nil {
		fatal(err)
	}
	defer sess.Disconnect(ctx)

	client.SeedUTXO(sess.Address(), ledger.UTXOEntry{
		Outpoint: ledger.Outpoint{TransactionID: "00", Index: 0},
		Address:  sess.Address(),
		Amount:   session.SompiPerKAS,
	})

	tx, err := sess.CreateTransaction(ctx, len(data))
	if err != nil {
		fatal(err)
	}
	payloadHex, err := sess.CreatePayload(sess.OutpointIDs(tx), typ, sess.Identity(), data)
	if err != nil {
		fatal(err)
	}
	txID, err := sess.SendTransaction(ctx, tx, payloadHex)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("submitted transaction %s\n", txID)

	client.DeliverTransactions(client.Submitted[txID])

	select {
	case msg := <-received:
		fmt.Printf("received tx=%s prefix=%s type=%d data=%s\n",
			msg.Header.TxID, msg.Header.Prefix, msg.Header.Type, byteutil.EncodeHex(msg.Data))
	case <-time.After(2 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for message-received")
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
