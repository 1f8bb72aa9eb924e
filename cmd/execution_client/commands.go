package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"execution_client/internal/bootstrap"
	"execution_client/internal/model"

	"github.com/shopspring/decimal"
)

type command func(ctx context.Context, app *bootstrap.App, args []string) (interface{}, error)

var commands = map[string]command{
	"submit":    submitCmd,
	"cancel":    cancelCmd,
	"status":    statusCmd,
	"open":      openCmd,
	"positions": positionsCmd,
	"fills":     fillsCmd,
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// optionalDecimal parses a price flag; empty means not given
func optionalDecimal(name, raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("-%s: %w", name, err)
	}
	return decimal.NewNullDecimal(d), nil
}

// parseOrderRequest turns submit flags into a validated request
func parseOrderRequest(args []string) (model.OrderRequest, error) {
	fs := newFlagSet("submit")
	symbol := fs.String("symbol", "", "Stock symbol")
	qty := fs.String("qty", "", "Quantity (positive decimal)")
	side := fs.String("side", "BUY", "BUY or SELL")
	kind := fs.String("type", "MARKET", "MARKET, LIMIT, STOP or STOP_LIMIT")
	limit := fs.String("limit", "", "Limit price")
	stop := fs.String("stop", "", "Stop trigger price")
	tif := fs.String("tif", "DAY", "DAY, GTC, IOC or FOK")
	account := fs.String("account", "", "Account to route to")
	cid := fs.String("cid", "", "Client order id (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return model.OrderRequest{}, err
	}

	quantity, err := decimal.NewFromString(*qty)
	if err != nil {
		return model.OrderRequest{}, fmt.Errorf("-qty: %w", err)
	}
	parsedSide, err := model.ParseSide(*side)
	if err != nil {
		return model.OrderRequest{}, err
	}
	parsedTIF, err := model.ParseTimeInForce(*tif)
	if err != nil {
		return model.OrderRequest{}, err
	}
	limitPrice, err := optionalDecimal("limit", *limit)
	if err != nil {
		return model.OrderRequest{}, err
	}
	stopPrice, err := optionalDecimal("stop", *stop)
	if err != nil {
		return model.OrderRequest{}, err
	}
	pricing, err := model.NewPricing(model.OrderType(*kind), limitPrice, stopPrice)
	if err != nil {
		return model.OrderRequest{}, err
	}

	req, err := model.NewOrderRequest(*symbol, quantity, parsedSide, pricing, parsedTIF)
	if err != nil {
		return model.OrderRequest{}, err
	}
	if *account != "" {
		req = req.WithAccount(*account)
	}
	if *cid != "" {
		req = req.WithClientOrderID(*cid)
	}
	return req, nil
}

func submitCmd(ctx context.Context, app *bootstrap.App, args []string) (interface{}, error) {
	req, err := parseOrderRequest(args)
	if err != nil {
		return nil, err
	}
	return app.Executor.SubmitOrder(ctx, req)
}

func cancelCmd(ctx context.Context, app *bootstrap.App, args []string) (interface{}, error) {
	fs := newFlagSet("cancel")
	id := fs.String("id", "", "Broker order id")
	reason := fs.String("reason", "", "Cancellation reason for the audit trail")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *id == "" {
		return nil, fmt.Errorf("-id is required")
	}
	if err := app.Executor.CancelOrder(ctx, *id, *reason); err != nil {
		return nil, err
	}
	return map[string]interface{}{"order_id": *id, "cancelled": true}, nil
}

func statusCmd(ctx context.Context, app *bootstrap.App, args []string) (interface{}, error) {
	fs := newFlagSet("status")
	id := fs.String("id", "", "Broker order id")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *id == "" {
		return nil, fmt.Errorf("-id is required")
	}
	return app.Executor.GetOrderStatus(ctx, *id)
}

func openCmd(ctx context.Context, app *bootstrap.App, args []string) (interface{}, error) {
	if err := newFlagSet("open").Parse(args); err != nil {
		return nil, err
	}
	return app.Executor.GetOpenOrders(ctx)
}

func positionsCmd(ctx context.Context, app *bootstrap.App, args []string) (interface{}, error) {
	if err := newFlagSet("positions").Parse(args); err != nil {
		return nil, err
	}
	return app.Executor.GetPositions(ctx)
}

func fillsCmd(ctx context.Context, app *bootstrap.App, args []string) (interface{}, error) {
	fs := newFlagSet("fills")
	id := fs.String("id", "", "Broker order id")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *id == "" {
		return nil, fmt.Errorf("-id is required")
	}
	return app.Executor.GetFills(ctx, *id)
}
