package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

var (
	infoCmd = &cli.Command{
		Name:   "info",
		Usage:  "Get info about the running solver",
		Action: infoAction,
		Flags:  []cli.Flag{urlFlag, cliDatadirFlag},
	}
	intentsCmd = &cli.Command{
		Name:   "intents",
		Usage:  "List tracked intents, or get one by order id",
		Action: intentsAction,
		Flags:  []cli.Flag{urlFlag, cliDatadirFlag, statusFlag},
		Subcommands: cli.Commands{
			{
				Name:   "get",
				Usage:  "Get a single intent",
				Action: intentAction,
				Flags:  []cli.Flag{urlFlag, cliDatadirFlag, orderIdFlag},
			},
		},
	}
	liquidityCmd = &cli.Command{
		Name:   "liquidity",
		Usage:  "Get the liquidity positions of the solver",
		Action: liquidityAction,
		Flags:  []cli.Flag{urlFlag, cliDatadirFlag},
	}
	reconcileCmd = &cli.Command{
		Name:   "reconciliations",
		Usage:  "List settlements waiting for operator reconciliation",
		Action: reconciliationsAction,
		Flags:  []cli.Flag{urlFlag, cliDatadirFlag},
		Subcommands: cli.Commands{
			{
				Name:   "retry",
				Usage:  "Retry the origin chain settlement of a filled intent",
				Action: reconcileAction,
				Flags:  []cli.Flag{urlFlag, cliDatadirFlag, orderIdFlag},
			},
		},
	}
	pricesCmd = &cli.Command{
		Name:   "prices",
		Usage:  "Update the USD prices used for profitability scoring",
		Action: pricesAction,
		Flags:  []cli.Flag{urlFlag, cliDatadirFlag, priceFlag},
	}
	receiptsCmd = &cli.Command{
		Name:  "receipts",
		Usage: "Manage transfer receipts",
		Subcommands: cli.Commands{
			{
				Name:   "add",
				Usage:  "Store a receipt received from a peer",
				Action: addReceiptAction,
				Flags:  []cli.Flag{urlFlag, cliDatadirFlag, receiptFileFlag},
			},
			{
				Name:   "verify",
				Usage:  "Verify a receipt against the expected sender and receiver",
				Action: verifyReceiptAction,
				Flags: []cli.Flag{
					urlFlag, cliDatadirFlag, receiptFileFlag, expectedSenderFlag, expectedReceiverFlag,
				},
			},
			{
				Name:   "aggregate",
				Usage:  "Aggregate the receipts of a sender",
				Action: aggregateReceiptsAction,
				Flags:  []cli.Flag{urlFlag, cliDatadirFlag, senderFlag},
			},
		},
	}
)

func infoAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	info, err := get[map[string]any](baseURL+"/v1/info", "", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func intentsAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	query := url.Values{}
	for _, status := range ctx.StringSlice(statusFlagName) {
		query.Add("status", status)
	}
	endpoint := baseURL + "/v1/intents"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	intents, err := get[[]any](endpoint, "intents", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(intents)
}

func intentAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf(
		"%s/v1/intents/%s", baseURL, url.PathEscape(ctx.String(orderIdFlagName)),
	)
	intent, err := get[map[string]any](endpoint, "", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(intent)
}

func liquidityAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	positions, err := get[[]any](baseURL+"/v1/liquidity", "positions", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(positions)
}

func reconciliationsAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	settlements, err := get[[]any](baseURL+"/v1/reconciliations", "settlements", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(settlements)
}

func reconcileAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf(
		"%s/v1/reconciliations/%s", baseURL, url.PathEscape(ctx.String(orderIdFlagName)),
	)
	settlement, err := post[map[string]any](endpoint, "{}", "", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(settlement)
}

func pricesAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	prices := make(map[string]string)
	for _, entry := range ctx.StringSlice(priceFlagName) {
		symbol, price, ok := strings.Cut(entry, "=")
		if !ok || symbol == "" || price == "" {
			return fmt.Errorf("invalid price %q, must be in the SYMBOL=PRICE form", entry)
		}
		prices[strings.ToUpper(strings.TrimSpace(symbol))] = strings.TrimSpace(price)
	}

	body, err := json.Marshal(map[string]any{"prices": prices})
	if err != nil {
		return err
	}
	if _, err := post[map[string]any](baseURL+"/v1/prices", string(body), "", tlsConfig); err != nil {
		return err
	}
	fmt.Println("prices updated")
	return nil
}

func addReceiptAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	receipt, err := readReceipt(ctx.String(receiptFileFlagName))
	if err != nil {
		return err
	}

	id, err := post[string](baseURL+"/v1/receipts", string(receipt), "id", tlsConfig)
	if err != nil {
		return err
	}
	fmt.Printf("stored receipt %s\n", id)
	return nil
}

func verifyReceiptAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	receipt, err := readReceipt(ctx.String(receiptFileFlagName))
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"receipt":          receipt,
		"expectedSender":   ctx.String(expectedSenderFlagName),
		"expectedReceiver": ctx.String(expectedReceiverFlagName),
	})
	if err != nil {
		return err
	}
	verification, err := post[map[string]any](
		baseURL+"/v1/receipts/verify", string(body), "", tlsConfig,
	)
	if err != nil {
		return err
	}
	return printJSON(verification)
}

func aggregateReceiptsAction(ctx *cli.Context) error {
	baseURL, tlsConfig, err := connection(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"sender": ctx.String(senderFlagName)})
	if err != nil {
		return err
	}
	aggregated, err := post[map[string]any](
		baseURL+"/v1/receipts/aggregate", string(body), "", tlsConfig,
	)
	if err != nil {
		return err
	}
	return printJSON(aggregated)
}

// connection resolves the solverd url, giving precedence to the flag over the
// SOLVERD_URL env var, and the TLS config to reach it.
func connection(ctx *cli.Context) (string, *tls.Config, error) {
	baseURL := ctx.String(urlFlagName)
	if !ctx.IsSet(urlFlagName) && viper.IsSet(urlFlagName) {
		baseURL = viper.GetString(urlFlagName)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	tlsConfig, err := getCredentials(ctx, baseURL)
	if err != nil {
		return "", nil, err
	}
	return baseURL, tlsConfig, nil
}

func readReceipt(path string) (json.RawMessage, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %s", err)
	}
	if !json.Valid(buf) {
		return nil, fmt.Errorf("receipt file %s is not valid json", path)
	}
	return json.RawMessage(buf), nil
}
