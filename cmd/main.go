package main // import "powerflow"

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/edp1096/toy-powerflow/internal/config"
	"github.com/edp1096/toy-powerflow/internal/server"
	"github.com/edp1096/toy-powerflow/pkg/netlist"
	"github.com/edp1096/toy-powerflow/pkg/powerflow"
	"github.com/edp1096/toy-powerflow/pkg/result"
	"github.com/edp1096/toy-powerflow/pkg/util"
)

type cliOptions struct {
	method    string
	maxIter   int
	tolerance float64
	flatStart bool
	asJSON    bool
	serve     bool
	workers   int
}

// loadRequest reads one CLI argument: "case:<id>", a MATPOWER .m file, or a
// JSON file holding either a full request or a bare case.
func loadRequest(arg string) (*powerflow.Request, error) {
	if id, ok := strings.CutPrefix(arg, "case:"); ok {
		return &powerflow.Request{Case: &netlist.CaseData{CaseID: id}}, nil
	}

	content, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("reading case file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(arg), ".m") {
		c, err := netlist.ParseMatpower(string(content))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", arg, err)
		}
		if c.CaseID == "" {
			c.CaseID = strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
		}
		return &powerflow.Request{Case: c}, nil
	}

	var req powerflow.Request
	if err := json.Unmarshal(content, &req); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", arg, err)
	}
	if req.Case == nil {
		var c netlist.CaseData
		if err := json.Unmarshal(content, &c); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", arg, err)
		}
		req.Case = &c
	}

	return &req, nil
}

// applyFlags overrides request fields with flags given on the command line.
func applyFlags(req *powerflow.Request, opts cliOptions, set map[string]bool) {
	if set["method"] || req.Method == "" {
		req.Method = opts.method
	}

	if req.Options == nil {
		req.Options = &powerflow.Options{}
	}
	if set["max-iter"] {
		req.Options.MaxIter = opts.maxIter
	}
	if set["tol"] {
		req.Options.Tolerance = opts.tolerance
	}
	if set["flat"] {
		req.Options.FlatStart = opts.flatStart
	}
}

func printResults(w io.Writer, name string, resp *result.Response) {
	fmt.Fprintf(w, "\n%s: %s power flow\n", name, strings.ToUpper(resp.Method))
	fmt.Fprintln(w, "================")

	status := "converged"
	if !resp.Converged {
		status = "NOT converged: " + resp.Error
	}
	fmt.Fprintf(w, "%s in %d iterations (max mismatch %.3e pu)\n", status, resp.Iterations, resp.Mismatch)

	fmt.Fprintln(w, "\nBus Voltages:")
	for _, bus := range resp.Bus {
		vm := 1.0
		if bus.VmPu != nil {
			vm = *bus.VmPu
		}
		fmt.Fprintf(w, "  %s  P=%s", util.FormatMagnitudePhase(fmt.Sprintf("V(%d)", bus.ID), vm, bus.VaDeg), util.FormatPower(bus.PinjPu, resp.BaseMVA, "W"))
		if bus.QinjPu != nil {
			fmt.Fprintf(w, "  Q=%s", util.FormatPower(*bus.QinjPu, resp.BaseMVA, "VAr"))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "\nBranch Flows:")
	for _, br := range resp.Branch {
		fmt.Fprintf(w, "  [%d] %d->%d  P=%s", br.Idx, br.From, br.To, util.FormatPower(br.PftPu, resp.BaseMVA, "W"))
		if br.QftPu != nil {
			fmt.Fprintf(w, "  Q=%s", util.FormatPower(*br.QftPu, resp.BaseMVA, "VAr"))
		}
		if br.LossPu != nil {
			fmt.Fprintf(w, "  loss=%s", util.FormatPower(*br.LossPu, resp.BaseMVA, "W"))
		}
		fmt.Fprintln(w)
	}
}

// solveAll solves every argument concurrently and reports in argument order.
func solveAll(ctx context.Context, w io.Writer, args []string, opts cliOptions, set map[string]bool) error {
	responses := make([]*result.Response, len(args))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)

	for i, arg := range args {
		g.Go(func() error {
			req, err := loadRequest(arg)
			if err != nil {
				return err
			}
			applyFlags(req, opts, set)

			resp, err := powerflow.Run(ctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", arg, err)
			}
			responses[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(responses) == 1 {
			return enc.Encode(responses[0])
		}
		return enc.Encode(responses)
	}

	for i, resp := range responses {
		printResults(w, args[i], resp)
	}
	return nil
}

func serve() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	cfg.ConfigureLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg).ListenAndServe(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func main() {
	var opts cliOptions

	flag.StringVar(&opts.method, "method", "dc", "power flow method: dc or ac")
	flag.IntVar(&opts.maxIter, "max-iter", 0, "Newton-Raphson iteration cap (default 100)")
	flag.Float64Var(&opts.tolerance, "tol", 0, "mismatch tolerance in pu (default 1e-6)")
	flag.BoolVar(&opts.flatStart, "flat", false, "ignore initial voltage guesses")
	flag.BoolVar(&opts.asJSON, "json", false, "print results as JSON")
	flag.BoolVar(&opts.serve, "serve", false, "run the HTTP service")
	flag.IntVar(&opts.workers, "workers", runtime.NumCPU(), "concurrent solves")
	flag.Parse()

	if opts.serve {
		serve()
		return
	}

	if flag.NArg() < 1 {
		log.Fatal("Usage: powerflow [-method dc|ac] [-max-iter N] [-tol T] [-flat] [-json] <case.json|case.m|case:id>...")
	}
	if opts.workers < 1 {
		opts.workers = 1
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if err := solveAll(context.Background(), os.Stdout, flag.Args(), opts, set); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
