package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/markusylisiurunen/ticketdesk/internal/logger"
	"github.com/markusylisiurunen/ticketdesk/internal/pricing"
	"github.com/markusylisiurunen/ticketdesk/toolkit/llm"
	"github.com/tidwall/gjson"
)

const (
	GetTicketPriceName = "get_ticket_price"
	SetTicketPriceName = "set_ticket_price"

	StatusExisting   = "existing"
	StatusNewlyAdded = "newly_added"
	StatusUpdated    = "updated"
)

type priceToolResult struct {
	City    string  `json:"city"`
	Price   float64 `json:"price"`
	Status  string  `json:"status"`
	Message string  `json:"message"`
}

func (r priceToolResult) result() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result to JSON: %w", err)
	}
	return string(b), nil
}

// arguments ---------------------------------------------------------------------------------------

type getPriceArgs struct {
	City string
}

type setPriceArgs struct {
	City  string
	Price float64
}

func parseArgs(tool, args string) (gjson.Result, error) {
	if !gjson.Valid(args) {
		return gjson.Result{}, &InvalidArgumentsError{Tool: tool, Reason: "arguments are not valid JSON"}
	}
	parsed := gjson.Parse(args)
	if !parsed.IsObject() {
		return gjson.Result{}, &InvalidArgumentsError{Tool: tool, Reason: "arguments must be a JSON object"}
	}
	return parsed, nil
}

func cityArg(tool string, args gjson.Result) (string, error) {
	v := args.Get("destination_city")
	if !v.Exists() || v.Type == gjson.Null {
		return "", &InvalidArgumentsError{Tool: tool, Reason: "destination_city is required"}
	}
	if v.Type != gjson.String {
		return "", &InvalidArgumentsError{Tool: tool, Reason: "destination_city must be a string"}
	}
	city := strings.TrimSpace(v.String())
	if city == "" {
		return "", &InvalidArgumentsError{Tool: tool, Reason: "destination_city must not be empty"}
	}
	return city, nil
}

func priceArg(tool string, args gjson.Result) (float64, error) {
	v := args.Get("price")
	var price float64
	switch v.Type {
	case gjson.Number:
		price = v.Float()
	case gjson.String:
		p, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(v.String()), "$"), 64)
		if err != nil {
			return 0, &InvalidArgumentsError{Tool: tool, Reason: fmt.Sprintf("price %q is not a number", v.String())}
		}
		price = p
	case gjson.Null:
		return 0, &InvalidArgumentsError{Tool: tool, Reason: "price is required"}
	default:
		return 0, &InvalidArgumentsError{Tool: tool, Reason: "price must be a number"}
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, &InvalidArgumentsError{Tool: tool, Reason: fmt.Sprintf("price must be a positive number, got %v", price)}
	}
	return price, nil
}

func decodeGetPriceArgs(args string) (getPriceArgs, error) {
	parsed, err := parseArgs(GetTicketPriceName, args)
	if err != nil {
		return getPriceArgs{}, err
	}
	city, err := cityArg(GetTicketPriceName, parsed)
	if err != nil {
		return getPriceArgs{}, err
	}
	return getPriceArgs{City: city}, nil
}

func decodeSetPriceArgs(args string) (setPriceArgs, error) {
	parsed, err := parseArgs(SetTicketPriceName, args)
	if err != nil {
		return setPriceArgs{}, err
	}
	city, err := cityArg(SetTicketPriceName, parsed)
	if err != nil {
		return setPriceArgs{}, err
	}
	price, err := priceArg(SetTicketPriceName, parsed)
	if err != nil {
		return setPriceArgs{}, err
	}
	return setPriceArgs{City: city, Price: price}, nil
}

// get_ticket_price --------------------------------------------------------------------------------

var getTicketPriceDescription = strings.TrimSpace(`
Get the price of a return ticket to the destination city. If the city doesn't have a price yet, one will be automatically generated and saved. The response includes a 'status' field: 'existing' for known prices, 'newly_added' for auto-generated prices. For newly added routes, advise the user to check back for updates.
`)

var _ llm.Tool = (*getTicketPriceTool)(nil)

type getTicketPriceTool struct {
	logger   logger.Logger
	resolver *pricing.Resolver
}

func NewGetTicketPrice(resolver *pricing.Resolver) *getTicketPriceTool {
	return &getTicketPriceTool{
		logger:   logger.NoOp(),
		resolver: resolver,
	}
}

func (t *getTicketPriceTool) SetLogger(logger logger.Logger) *getTicketPriceTool {
	t.logger = logger
	return t
}

func (t *getTicketPriceTool) Spec() (string, string, json.RawMessage) {
	return GetTicketPriceName, getTicketPriceDescription, json.RawMessage(`{
		"type": "object",
		"properties": {
			"destination_city": {
				"type": "string",
				"description": "The city that the customer wants to travel to"
			}
		},
		"required": ["destination_city"],
		"additionalProperties": false
	}`)
}

func (t *getTicketPriceTool) Call(ctx context.Context, args string) (string, error) {
	parsed, err := decodeGetPriceArgs(args)
	if err != nil {
		return "", err
	}
	t.logger.Info("tool called: get_ticket_price for %q", parsed.City)
	res, err := t.resolver.Resolve(ctx, parsed.City)
	if err != nil {
		return "", fmt.Errorf("error resolving price for %s: %w", parsed.City, err)
	}
	if res.Origin == pricing.OriginGenerated {
		return priceToolResult{
			City:   parsed.City,
			Price:  res.Price,
			Status: StatusNewlyAdded,
			Message: fmt.Sprintf("The ticket price to %s is $%.2f. This is a newly added route - please check back later "+
				"for potential price updates or promotions.", parsed.City, res.Price),
		}.result()
	}
	return priceToolResult{
		City:    parsed.City,
		Price:   res.Price,
		Status:  StatusExisting,
		Message: fmt.Sprintf("The ticket price to %s is $%.2f", parsed.City, res.Price),
	}.result()
}

// set_ticket_price --------------------------------------------------------------------------------

var _ llm.Tool = (*setTicketPriceTool)(nil)

type setTicketPriceTool struct {
	logger logger.Logger
	store  *pricing.Store
}

func NewSetTicketPrice(store *pricing.Store) *setTicketPriceTool {
	return &setTicketPriceTool{
		logger: logger.NoOp(),
		store:  store,
	}
}

func (t *setTicketPriceTool) SetLogger(logger logger.Logger) *setTicketPriceTool {
	t.logger = logger
	return t
}

func (t *setTicketPriceTool) Spec() (string, string, json.RawMessage) {
	return SetTicketPriceName, "Set or update the price of a return ticket to a destination city.", json.RawMessage(`{
		"type": "object",
		"properties": {
			"destination_city": {
				"type": "string",
				"description": "The city to set the ticket price for"
			},
			"price": {
				"type": "number",
				"description": "The new price for the ticket in dollars"
			}
		},
		"required": ["destination_city", "price"],
		"additionalProperties": false
	}`)
}

func (t *setTicketPriceTool) Call(ctx context.Context, args string) (string, error) {
	parsed, err := decodeSetPriceArgs(args)
	if err != nil {
		return "", err
	}
	t.logger.Info("tool called: set_ticket_price for %q at $%.2f", parsed.City, parsed.Price)
	if err := t.store.Set(ctx, parsed.City, parsed.Price); err != nil {
		return "", fmt.Errorf("error setting price for %s: %w", parsed.City, err)
	}
	return priceToolResult{
		City:    parsed.City,
		Price:   parsed.Price,
		Status:  StatusUpdated,
		Message: fmt.Sprintf("Successfully set the ticket price to %s to $%.2f", parsed.City, parsed.Price),
	}.result()
}
