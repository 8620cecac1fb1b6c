package main

import (
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/config"
	"github.com/urfave/cli/v2"
)

const (
	urlFlagName              = "url"
	datadirFlagName          = "datadir"
	statusFlagName           = "status"
	orderIdFlagName          = "order-id"
	priceFlagName            = "price"
	receiptFileFlagName      = "receipt-file"
	senderFlagName           = "sender"
	expectedSenderFlagName   = "expected-sender"
	expectedReceiverFlagName = "expected-receiver"

	timeout = 15 * time.Second
)

var (
	urlFlag = &cli.StringFlag{
		Name:  urlFlagName,
		Usage: "the url where to reach solverd",
		Value: fmt.Sprintf("http://127.0.0.1:%d", config.DefaultPort),
	}
	cliDatadirFlag = &cli.StringFlag{
		Name:  datadirFlagName,
		Usage: "solverd datadir from where to source the TLS cert if needed",
		Value: config.Datadir.Value,
	}
	statusFlag = &cli.StringSliceFlag{
		Name:  statusFlagName,
		Usage: "filter intents by status, can be repeated",
	}
	orderIdFlag = &cli.StringFlag{
		Name:     orderIdFlagName,
		Usage:    "the order id of the intent",
		Required: true,
	}
	priceFlag = &cli.StringSliceFlag{
		Name:     priceFlagName,
		Usage:    "USD price of a symbol in the SYMBOL=PRICE form, can be repeated",
		Required: true,
	}
	receiptFileFlag = &cli.StringFlag{
		Name:     receiptFileFlagName,
		Usage:    "path of the JSON encoded transfer receipt",
		Required: true,
	}
	senderFlag = &cli.StringFlag{
		Name:     senderFlagName,
		Usage:    "the sender of the receipts",
		Required: true,
	}
	expectedSenderFlag = &cli.StringFlag{
		Name:  expectedSenderFlagName,
		Usage: "the sender the receipt must name",
	}
	expectedReceiverFlag = &cli.StringFlag{
		Name:  expectedReceiverFlagName,
		Usage: "the receiver that must have signed the receipt",
	}
)
