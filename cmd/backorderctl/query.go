package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	backorderv1 "github.com/vladislavdragonenkov/backorders/api/backorder/v1"
	"github.com/vladislavdragonenkov/backorders/internal/domain"
	"github.com/vladislavdragonenkov/backorders/internal/service/dashboard"
	"github.com/vladislavdragonenkov/backorders/internal/service/listing"
)

// criteriaFlags: фильтр выборки из флагов командной строки.
type criteriaFlags struct {
	customer string
	product  string
	status   string
	preset   string
	from     string
	to       string
	search   string
	address  string
	pageSize int
	oldest   bool
}

func (f *criteriaFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.customer, "customer", "", "customer id")
	fs.StringVar(&f.product, "product", "", "product id")
	fs.StringVar(&f.status, "status", "", "pending|completed|returned (empty = all)")
	fs.StringVar(&f.preset, "preset", "", "this_week|last_week|this_month|last_month|custom")
	fs.StringVar(&f.from, "from", "", "first day YYYY-MM-DD (custom range)")
	fs.StringVar(&f.to, "to", "", "last day YYYY-MM-DD, inclusive (custom range)")
	fs.StringVar(&f.search, "search", "", "search in customer, product and notes")
	fs.StringVar(&f.address, "address", "", "customer address substring")
	fs.IntVar(&f.pageSize, "page-size", domain.DefaultPageSize, "page size")
	fs.BoolVar(&f.oldest, "oldest-first", false, "sort by request date ascending")
}

// criteria разрешает пресет на стороне клиента, чтобы окно пагинатора
// оставалось одним и тем же между страницами.
func (f *criteriaFlags) criteria(cal domain.Calendar, now time.Time) (domain.FilterCriteria, error) {
	st, err := domain.ParseStatus(f.status)
	if err != nil {
		return domain.FilterCriteria{}, err
	}
	c := domain.FilterCriteria{
		CustomerID: f.customer,
		ProductID:  f.product,
		Status:     st,
		Search:     f.search,
		Address:    f.address,
		PageSize:   f.pageSize,
		Sort:       domain.SortNewestFirst,
	}
	if f.oldest {
		c.Sort = domain.SortOldestFirst
	}

	preset := f.preset
	if preset == "" && (f.from != "" || f.to != "") {
		preset = string(domain.PresetCustom)
	}
	if preset != "" {
		p, err := domain.ParseDatePreset(preset)
		if err != nil {
			return domain.FilterCriteria{}, err
		}
		var start, end time.Time
		if f.from != "" {
			if start, err = parseDay(f.from, cal); err != nil {
				return domain.FilterCriteria{}, fmt.Errorf("--from: %w", err)
			}
		}
		if f.to != "" {
			if end, err = parseDay(f.to, cal); err != nil {
				return domain.FilterCriteria{}, fmt.Errorf("--to: %w", err)
			}
		}
		r, err := cal.ResolvePreset(p, now, start, end)
		if err != nil {
			return domain.FilterCriteria{}, err
		}
		c.DateRange = &r
	}

	c = c.Normalize()
	return c, c.Validate()
}

func (c *cli) listCommand() *cobra.Command {
	var f criteriaFlags
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records page by page with per-status totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cal, err := c.calendar()
			if err != nil {
				return err
			}
			criteria, err := f.criteria(cal, c.now())
			if err != nil {
				return err
			}
			return c.withClient(cmd, func(ctx context.Context, client backorderv1.BackorderServiceClient) error {
				p := listing.NewPaginator(remoteStore{client}, remoteCustomers{client}, remoteProducts{client})
				defer p.Close()

				snap, err := p.LoadFirstPage(ctx, criteria)
				if err != nil {
					return err
				}
				for all && snap.HasMore {
					if snap, err = p.LoadNextPage(ctx); err != nil {
						return err
					}
				}
				p.Wait()
				return c.printSnapshot(p.Snapshot())
			})
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().BoolVar(&all, "all", false, "load every page")
	return cmd
}

func (c *cli) countsCommand() *cobra.Command {
	var f criteriaFlags
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Count records per status for the same filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cal, err := c.calendar()
			if err != nil {
				return err
			}
			criteria, err := f.criteria(cal, c.now())
			if err != nil {
				return err
			}
			return c.withClient(cmd, func(ctx context.Context, client backorderv1.BackorderServiceClient) error {
				resp, err := client.CountByStatus(ctx, &backorderv1.CountByStatusRequest{Criteria: toAPICriteria(criteria)})
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.printJSON(resp)
				}
				counts := domain.NewStatusCounts()
				for name, n := range resp.Counts {
					counts[domain.RecordStatus(name)] = int(n)
				}
				return c.printCounts(counts)
			})
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func (c *cli) referenceCommand() *cobra.Command {
	ref := &cobra.Command{Use: "ref", Short: "Reference data used by filters"}
	ref.AddCommand(&cobra.Command{
		Use:   "customers",
		Short: "List customers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client backorderv1.BackorderServiceClient) error {
				customers, err := remoteCustomers{client}.List(ctx)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.printJSON(customers)
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tNAME\tADDRESS\tPHONE")
				for _, cu := range customers {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cu.ID, cu.Name, cu.Address, cu.Phone)
				}
				return w.Flush()
			})
		},
	}, &cobra.Command{
		Use:   "products",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client backorderv1.BackorderServiceClient) error {
				products, err := remoteProducts{client}.List(ctx)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return c.printJSON(products)
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tNAME\tSKU\tSIZES")
				for _, p := range products {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", p.ID, p.Name, p.SKU, p.Sizes)
				}
				return w.Flush()
			})
		},
	})
	return ref
}

func (c *cli) dashboardCommand() *cobra.Command {
	var (
		date     string
		tab      string
		search   string
		customer string
		product  string
		pages    int
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Render the records screen once: day navigation, status tab and search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cal, err := c.calendar()
			if err != nil {
				return err
			}
			events, err := dashboardEvents(cal, date, tab, search, customer, product, pages)
			if err != nil {
				return err
			}
			return c.withClient(cmd, func(ctx context.Context, client backorderv1.BackorderServiceClient) error {
				view, err := renderDashboard(ctx, client, cal, c.now, events)
				if err != nil {
					return err
				}
				return c.printView(view)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to show YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&tab, "tab", "", "status tab: pending|completed|returned")
	cmd.Flags().StringVar(&search, "search", "", "search text")
	cmd.Flags().StringVar(&customer, "customer", "", "customer filter")
	cmd.Flags().StringVar(&product, "product", "", "product filter")
	cmd.Flags().IntVar(&pages, "pages", 1, "pages to load")
	return cmd
}

// dashboardEvents переводит флаги в последовательность событий экрана.
func dashboardEvents(cal domain.Calendar, date, tab, search, customer, product string, pages int) ([]dashboard.Event, error) {
	var events []dashboard.Event
	if date != "" {
		day, err := parseDay(date, cal)
		if err != nil {
			return nil, fmt.Errorf("--date: %w", err)
		}
		events = append(events, dashboard.DateSelected{Date: day})
	}
	if customer != "" || product != "" {
		events = append(events, dashboard.FiltersApplied{Filters: dashboard.Filters{CustomerID: customer, ProductID: product}})
	}
	if tab != "" {
		st, err := domain.ParseStatus(tab)
		if err != nil {
			return nil, err
		}
		events = append(events, dashboard.StatusTabTapped{Status: st})
	}
	if search != "" {
		events = append(events, dashboard.SearchChanged{Text: search}, dashboard.SearchSettled{Text: search})
	}
	for i := 1; i < pages; i++ {
		events = append(events, dashboard.LoadMore{})
	}
	return events, nil
}

var errDashboardTimeout = errors.New("dashboard did not settle before the deadline")

// renderDashboard прогоняет события через контроллер и ждёт, пока список и счётчики
// соответствуют итоговому состоянию.
func renderDashboard(ctx context.Context, client backorderv1.BackorderServiceClient, cal domain.Calendar, now func() time.Time, events []dashboard.Event) (dashboard.ViewState, error) {
	pager := listing.NewPaginator(remoteStore{client}, remoteCustomers{client}, remoteProducts{client})
	ctrl := dashboard.NewController(pager,
		dashboard.WithCalendar(cal),
		dashboard.WithControllerClock(domain.ClockFunc(now)),
		dashboard.WithSearchDelay(10*time.Millisecond),
	)
	defer ctrl.Close()

	ctrl.Start()
	if _, err := waitSettled(ctx, ctrl, cal, 0); err != nil {
		return dashboard.ViewState{}, err
	}
	for _, ev := range events {
		minPage := 0
		if _, ok := ev.(dashboard.LoadMore); ok {
			l := ctrl.State().Listing
			if !l.HasMore {
				continue
			}
			minPage = l.Page + 1
		}
		ctrl.Dispatch(ev)
		if _, err := waitSettled(ctx, ctrl, cal, minPage); err != nil {
			return dashboard.ViewState{}, err
		}
	}
	return waitSettled(ctx, ctrl, cal, 0)
}

// waitSettled ждёт, пока загружены страница не меньше minPage для текущих критериев и счётчики.
func waitSettled(ctx context.Context, ctrl *dashboard.Controller, cal domain.Calendar, minPage int) (dashboard.ViewState, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		view := ctrl.State()
		l := view.Listing
		wanted := view.State.Criteria(cal).CacheKey()
		if l.LastErr != nil && !l.IsLoading {
			return view, l.LastErr
		}
		if !l.IsLoading && l.Page >= minPage && l.Criteria.CacheKey() == wanted &&
			(l.StatusCounts != nil || l.CountsErr != nil) {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, fmt.Errorf("%w: %v", errDashboardTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *cli) printView(view dashboard.ViewState) error {
	if c.jsonOut {
		return c.printJSON(view)
	}
	mode := view.View
	if mode.Mode == dashboard.ModeDateNavigation {
		_, _ = fmt.Fprintf(c.out, "%s\n", mode.Date.Format("Monday, 02 January 2006"))
	} else {
		_, _ = fmt.Fprintf(c.out, "filtered (%d): %s\n", mode.FilterCount, mode.Summary)
	}
	if tab := view.State.StatusTab; tab != "" {
		_, _ = fmt.Fprintf(c.out, "tab: %s\n", tab)
	}
	return c.printSnapshot(view.Listing)
}

func (c *cli) printSnapshot(snap listing.Snapshot) error {
	if c.jsonOut {
		return c.printJSON(snap)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tREQUESTED\tCUSTOMER\tPRODUCT\tSTATUS\tQTY\tREMAINING")
	for _, item := range snap.Items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			item.ID, item.RequestDate.Format(time.DateOnly), item.CustomerName, item.ProductName,
			item.Status, item.RequestedQuantity, item.RemainingQuantity())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "shown %d of %d", len(snap.Items), snap.TotalCount)
	if snap.HasMore {
		_, _ = fmt.Fprint(c.out, " (more available)")
	}
	_, _ = fmt.Fprintln(c.out)
	if snap.StatusCounts != nil {
		return c.printCounts(snap.StatusCounts)
	}
	return nil
}

func (c *cli) printCounts(counts domain.StatusCounts) error {
	for _, st := range domain.AllStatuses() {
		_, _ = fmt.Fprintf(c.out, "%s=%d ", st, counts[st])
	}
	_, err := fmt.Fprintf(c.out, "total=%d\n", counts.Total())
	return err
}
