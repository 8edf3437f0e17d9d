/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/acronis/go-dbops/aigen"
	"github.com/acronis/go-dbops/commerce"
	"github.com/acronis/go-dbops/internal/cli"
	"github.com/acronis/go-dbops/probe"
	"github.com/acronis/go-dbops/voice"
)

func (a *app) commerceClient() (*commerce.Client, error) {
	client, err := commerce.New(a.cfg.Commerce.Shop, a.cfg.Commerce.AccessToken,
		commerce.WithAPIVersion(a.cfg.Commerce.APIVersion))
	if err != nil {
		return nil, cli.ConfigError("commerce client (set commerce.shop and commerce.accessToken or "+
			cli.EnvStoreDomain+" and "+cli.EnvStoreAccessToken+")", err)
	}
	return client, nil
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, cli.ConfigError(fmt.Sprintf("invalid %s id %q", kind, s), err)
	}
	return id, nil
}

func newCommerceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commerce",
		Short: "Look up orders, customers and shipments in the store",
	}

	orderCmd := &cobra.Command{
		Use:   "order <id>",
		Short: "Show an order with its line items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("order", args[0])
			if err != nil {
				return err
			}
			client, err := a.commerceClient()
			if err != nil {
				return err
			}
			order, err := client.GetOrder(cmd.Context(), id)
			if err != nil {
				return cli.GeneralError("commerce", err)
			}
			_, _ = fmt.Fprintf(a.stdout, "Order %s (%d) placed %s by %s\nStatus: %s / %s, total %s %s\n",
				order.Name, order.ID, order.CreatedAt.Format("2006-01-02 15:04"), order.Email,
				order.FinancialStatus, valueOr(order.FulfillmentStatus, "unfulfilled"), order.TotalPrice, order.Currency)
			res := &probe.Result{Table: "line items", Columns: []string{"sku", "title", "qty", "price"}, Total: -1}
			for _, item := range order.LineItems {
				res.Rows = append(res.Rows, []string{item.SKU, item.Title, strconv.Itoa(item.Quantity), item.Price})
			}
			return probe.Render(a.stdout, res)
		},
	}

	var orderLimit int
	customerCmd := &cobra.Command{
		Use:   "customer <id-or-email>",
		Short: "Show a customer and their recent orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.commerceClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var customer *commerce.Customer
			if strings.Contains(args[0], "@") {
				found, searchErr := client.SearchCustomers(ctx, "email:"+args[0])
				if searchErr != nil {
					return cli.GeneralError("commerce", searchErr)
				}
				if len(found) == 0 {
					_, _ = fmt.Fprintf(a.stdout, "No customer found with email %s\n", args[0])
					return nil
				}
				customer = &found[0]
			} else {
				id, idErr := parseID("customer", args[0])
				if idErr != nil {
					return idErr
				}
				if customer, err = client.GetCustomer(ctx, id); err != nil {
					return cli.GeneralError("commerce", err)
				}
			}
			_, _ = fmt.Fprintf(a.stdout, "Customer %d: %s <%s> %s, %d order(s), spent %s\n",
				customer.ID, valueOr(customer.FullName(), "-"), customer.Email, customer.Phone,
				customer.OrdersCount, valueOr(customer.TotalSpent, "0"))

			orders, err := client.OrdersForCustomer(ctx, customer.ID, orderLimit)
			if err != nil {
				return cli.GeneralError("commerce", err)
			}
			res := &probe.Result{
				Table:   "orders",
				Columns: []string{"id", "name", "created", "financial", "fulfillment", "total"},
				Total:   -1,
			}
			for _, o := range orders {
				res.Rows = append(res.Rows, []string{strconv.FormatInt(o.ID, 10), o.Name, o.CreatedAt.Format("2006-01-02"),
					o.FinancialStatus, valueOr(o.FulfillmentStatus, "unfulfilled"), o.TotalPrice})
			}
			return probe.Render(a.stdout, res)
		},
	}
	customerCmd.Flags().IntVar(&orderLimit, "orders", 5, "number of recent orders to show")

	trackingCmd := &cobra.Command{
		Use:   "tracking <order-id>",
		Short: "Show tracking numbers of an order's shipments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("order", args[0])
			if err != nil {
				return err
			}
			client, err := a.commerceClient()
			if err != nil {
				return err
			}
			tracking, err := client.TrackingForOrder(cmd.Context(), id)
			if err != nil {
				return cli.GeneralError("commerce", err)
			}
			res := &probe.Result{
				Table:   "shipments of order " + args[0],
				Columns: []string{"carrier", "number", "url"},
				Total:   -1,
			}
			for _, t := range tracking {
				res.Rows = append(res.Rows, []string{t.Company, t.Number, t.URL})
			}
			return probe.Render(a.stdout, res)
		},
	}

	cmd.AddCommand(orderCmd, customerCmd, trackingCmd)
	return cmd
}

func newAICmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ai",
		Short: "Talk to the generative AI model",
	}
	var system, model string
	var temperature float32
	promptCmd := &cobra.Command{
		Use:   "prompt <text>...",
		Short: "Send a prompt and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []aigen.Option{aigen.WithModel(valueOr(model, a.cfg.AI.Model)), aigen.WithSystemInstruction(system)}
			if cmd.Flags().Changed("temperature") {
				opts = append(opts, aigen.WithTemperature(temperature))
			}
			gen, err := aigen.New(cmd.Context(), a.cfg.AI.APIKey, opts...)
			if err != nil {
				return cli.ConfigError("ai client (set ai.apiKey or "+cli.EnvGenerativeAPIKey+")", err)
			}
			text, err := gen.Generate(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return cli.GeneralError("ai", err)
			}
			_, _ = fmt.Fprintln(a.stdout, strings.TrimSpace(text))
			return nil
		},
	}
	promptCmd.Flags().StringVar(&system, "system", "", "system instruction")
	promptCmd.Flags().StringVar(&model, "model", "", "model name (default from ai.model)")
	promptCmd.Flags().Float32Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.AddCommand(promptCmd)
	return cmd
}

func (a *app) voiceClient() (*voice.Client, error) {
	client, err := voice.New(a.cfg.Voice.BaseURL, a.cfg.Voice.APIKey, nil)
	if err != nil {
		return nil, cli.ConfigError("voice client (set voice.apiKey or "+cli.EnvVoiceAPIKey+")", err)
	}
	return client, nil
}

func newVoiceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Inspect and update voice assistants",
	}

	assistantCmd := &cobra.Command{
		Use:   "assistant <id>",
		Short: "Show an assistant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.voiceClient()
			if err != nil {
				return err
			}
			assistant, err := client.GetAssistant(cmd.Context(), args[0])
			if err != nil {
				return cli.GeneralError("voice", err)
			}
			a.printAssistant(assistant)
			return nil
		},
	}

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools available to assistants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.voiceClient()
			if err != nil {
				return err
			}
			tools, err := client.ListTools(cmd.Context())
			if err != nil {
				return cli.GeneralError("voice", err)
			}
			res := &probe.Result{Table: "tools", Columns: []string{"id", "name", "type", "server"}, Total: -1}
			for _, t := range tools {
				server := ""
				if t.Server != nil {
					server = t.Server.URL
				}
				res.Rows = append(res.Rows, []string{t.ID, t.Name(), t.Type, server})
			}
			return probe.Render(a.stdout, res)
		},
	}

	var sets []string
	updateCmd := &cobra.Command{
		Use:     "update <id>",
		Short:   "Change top-level fields of an assistant",
		Example: `  dbops voice update asst-1 --set firstMessage="Hi, this is support."`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := make(map[string]interface{}, len(sets))
			for _, s := range sets {
				key, value, ok := strings.Cut(s, "=")
				if !ok || strings.TrimSpace(key) == "" {
					return cli.ConfigError(fmt.Sprintf("invalid --set %q, want field=value", s), nil)
				}
				patch[strings.TrimSpace(key)] = value
			}
			if len(patch) == 0 {
				return cli.ConfigError("nothing to update, use --set field=value", nil)
			}
			client, err := a.voiceClient()
			if err != nil {
				return err
			}
			assistant, err := client.UpdateAssistant(cmd.Context(), args[0], patch)
			if err != nil {
				return cli.GeneralError("voice", err)
			}
			a.printAssistant(assistant)
			return nil
		},
	}
	updateCmd.Flags().StringArrayVar(&sets, "set", nil, "field=value to change (repeatable)")

	cmd.AddCommand(assistantCmd, toolsCmd, updateCmd)
	return cmd
}

func (a *app) printAssistant(assistant *voice.Assistant) {
	_, _ = fmt.Fprintf(a.stdout, "Assistant %s: %s\nFirst message: %s\nServer URL: %s\n",
		assistant.ID, assistant.Name, assistant.FirstMessage, valueOr(assistant.ServerURL, "-"))
	if assistant.Model != nil {
		_, _ = fmt.Fprintf(a.stdout, "Model: %s/%s, tools: %s\n", assistant.Model.Provider, assistant.Model.Model,
			valueOr(strings.Join(assistant.Model.ToolIDs, ", "), "-"))
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
