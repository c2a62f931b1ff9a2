package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
)

func (c *cli) createCommand() *cobra.Command {
	var req backorderv1.CreateRecordRequest
	var quantity int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending out-of-stock record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Quantity = int32(quantity) //nolint:gosec // проверяется сервером
			req.OperatorID = c.operator
			return c.withClient(cmd, func(ctx context.Context, client backorderv1.BackorderServiceClient) error {
				resp, err := client.CreateRecord(c.mutationContext(ctx), &req)
				if err != nil {
					return err
				}
				return c.printRecord(resp.Record)
			})
		},
	}
	cmd.Flags().StringVar(&req.CustomerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&req.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&req.VariantID, "variant", "", "size or variant")
	cmd.Flags().IntVar(&quantity, "quantity", 1, "requested quantity")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func (c *cli) quantityCommand(use, short string, pick func(backorderv1.BackorderServiceClient) quantityCall) *cobra.Command {
	var quantity int
	var notes string
	cmd := &cobra.Command{
		Use:   use + " RECORD_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &backorderv1.QuantityRequest{
				RecordID:   args[0],
				Quantity:   int32(quantity), //nolint:gosec // проверяется сервером
				Notes:      notes,
				OperatorID: c.operator,
			}
			return c.withClient(cmd, func(ctx context.Context, client backorderv1.BackorderServiceClient) error {
				resp, err := pick(client)(c.mutationContext(ctx), req)
				if err != nil {
					return err
				}
				return c.printRecord(resp.Record)
			})
		},
	}
	cmd.Flags().IntVar(&quantity, "quantity", 0, "quantity")
	cmd.Flags().StringVar(&notes, "notes", "", "notes (replace the record notes when set)")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func (c *cli) batchCommand() *cobra.Command {
	var items []string
	cmd := &cobra.Command{
		Use:   "batch deliver|return",
		Short: "Process several records in one request; rows fail independently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseBatchItems(items)
			if err != nil {
				return err
			}
			req.OperatorID = c.operator
			return c.withClient(cmd, func(ctx context.Context, client backorderv1.BackorderServiceClient) error {
				var resp *backorderv1.BatchResponse
				switch args[0] {
				case "deliver":
					resp, err = client.ProcessDeliveryBatch(c.mutationContext(ctx), req)
				case "return":
					resp, err = client.ProcessReturnBatch(c.mutationContext(ctx), req)
				default:
					return fmt.Errorf("unknown batch kind %q (use deliver|return)", args[0])
				}
				if err != nil {
					return err
				}
				return c.printBatch(resp)
			})
		},
	}
	cmd.Flags().StringArrayVar(&items, "item", nil, "row as RECORD_ID:QUANTITY[:NOTES], repeatable")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

// parseBatchItems разбирает строки вида id:qty[:notes].
func parseBatchItems(raw []string) (*backorderv1.BatchRequest, error) {
	req := &backorderv1.BatchRequest{Items: make([]backorderv1.BatchItem, 0, len(raw))}
	for _, item := range raw {
		parts := strings.SplitN(item, ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid item %q: want RECORD_ID:QUANTITY[:NOTES]", item)
		}
		qty, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in %q: %w", item, err)
		}
		row := backorderv1.BatchItem{RecordID: strings.TrimSpace(parts[0]), Quantity: int32(qty)}
		if len(parts) == 3 {
			row.Notes = parts[2]
		}
		req.Items = append(req.Items, row)
	}
	return req, nil
}

func (c *cli) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get RECORD_ID",
		Short: "Show a record with its audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, func(ctx context.Context, client backorderv1.BackorderServiceClient) error {
				resp, err := client.GetRecord(ctx, &backorderv1.GetRecordRequest{RecordID: args[0]})
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.printJSON(resp)
				}
				if err := c.printRecord(resp.Record); err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "\nTIME\tACTION\tQTY\tOPERATOR\tNOTES")
				for _, e := range resp.Audit {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Action, e.Quantity, e.OperatorID, e.Notes)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) printRecord(r *backorderv1.Record) error {
	if c.jsonOut {
		return c.printJSON(r)
	}
	if r == nil {
		return nil
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "id\t%s\n", r.ID)
	_, _ = fmt.Fprintf(w, "customer\t%s (%s)\n", r.CustomerName, r.CustomerID)
	_, _ = fmt.Fprintf(w, "product\t%s (%s)\n", r.ProductName, r.ProductID)
	_, _ = fmt.Fprintf(w, "status\t%s\n", r.Status)
	_, _ = fmt.Fprintf(w, "quantity\trequested=%d delivered=%d remaining=%d returned=%d\n",
		r.RequestedQuantity, r.DeliveredQuantity, r.RemainingQuantity, r.ReturnedQuantity)
	_, _ = fmt.Fprintf(w, "requested at\t%s\n", r.RequestDate.Format(time.RFC3339))
	if r.Notes != "" {
		_, _ = fmt.Fprintf(w, "notes\t%s\n", r.Notes)
	}
	return w.Flush()
}

func (c *cli) printBatch(resp *backorderv1.BatchResponse) error {
	if c.jsonOut {
		return c.printJSON(resp)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECORD\tRESULT\tSTATUS\tREMAINING")
	for _, row := range resp.Results {
		if codes.Code(row.Code) != codes.OK {
			_, _ = fmt.Fprintf(w, "%s\t%s: %s\t-\t-\n", row.RecordID, codes.Code(row.Code), row.Message)
			continue
		}
		st, remaining := "-", int32(0)
		if row.Record != nil {
			st, remaining = row.Record.Status, row.Record.RemainingQuantity
		}
		_, _ = fmt.Fprintf(w, "%s\tok\t%s\t%d\n", row.RecordID, st, remaining)
	}
	_, _ = fmt.Fprintf(w, "succeeded=%d failed=%d\n", resp.Succeeded, resp.Failed)
	return w.Flush()
}
