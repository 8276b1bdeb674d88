package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli"

	"dbloom.lopezb.com/internal/dbloom/bloom"
)

var initCommand = cli.Command{
	Name:      "init",
	Usage:     "Initialize a filter if it does not exist yet.",
	ArgsUsage: "name expected_insertions false_probability",
	Description: `
	Derive the bit array size and the number of hash iterations from the
	expected number of insertions and the target false positive rate, and
	publish them for every client. If the filter already exists its
	parameters are left untouched and "initialized" is false.`,
	Action: initFilter,
}

func initFilter(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.ShowCommandHelp(ctx, "init")
	}

	args := ctx.Args()
	n, err := strconv.ParseUint(args.Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("unable to parse expected_insertions: %w", err)
	}
	p, err := strconv.ParseFloat(args.Get(2), 64)
	if err != nil {
		return fmt.Errorf("unable to parse false_probability: %w", err)
	}

	s := openFilter(ctx, args.Get(0))
	defer s.close()

	initialized, err := s.filter.TryInit(s.ctx, n, p)
	if err != nil {
		return err
	}

	return printJSON(ctx, struct {
		Initialized bool `json:"initialized"`
	}{initialized})
}

var addCommand = cli.Command{
	Name:      "add",
	Usage:     "Add items to a filter.",
	ArgsUsage: "name item [item...]",
	Description: `
	Add every item with a single bit request. An item is reported as added
	if at least one of its bits was not set before, so an item repeated on
	the command line is only added once.`,
	Action: add,
}

func add(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return cli.ShowCommandHelp(ctx, "add")
	}

	s := openFilter(ctx, ctx.Args().First())
	defer s.close()

	items := itemArgs(ctx, 1)
	added, err := s.filter.AddEach(s.ctx, items)
	if err != nil {
		return err
	}

	return printJSON(ctx, itemResults(items, added))
}

var containsCommand = cli.Command{
	Name:      "contains",
	Usage:     "Check whether items are probably in a filter.",
	ArgsUsage: "name item [item...]",
	Action:    contains,
}

func contains(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return cli.ShowCommandHelp(ctx, "contains")
	}

	s := openFilter(ctx, ctx.Args().First())
	defer s.close()

	items := itemArgs(ctx, 1)
	present, err := s.filter.ContainsEach(s.ctx, items)
	if err != nil {
		return err
	}

	return printJSON(ctx, itemResults(items, present))
}

var countCommand = cli.Command{
	Name:      "count",
	Usage:     "Estimate the number of distinct items in a filter.",
	ArgsUsage: "name",
	Action:    count,
}

func count(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "count")
	}

	s := openFilter(ctx, ctx.Args().First())
	defer s.close()

	n, err := s.filter.Count(s.ctx)
	if err != nil {
		return err
	}

	return printJSON(ctx, struct {
		Count uint64 `json:"count"`
	}{n})
}

var infoCommand = cli.Command{
	Name:      "info",
	Usage:     "Show the parameters of a filter.",
	ArgsUsage: "name",
	Action:    info,
}

func info(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "info")
	}

	s := openFilter(ctx, ctx.Args().First())
	defer s.close()

	cfg, err := s.filter.Config(s.ctx)
	if err != nil {
		return err
	}
	n, err := s.filter.Count(s.ctx)
	if err != nil {
		return err
	}

	return printJSON(ctx, filterInfo(s.filter.Name(), cfg, n))
}

var deleteCommand = cli.Command{
	Name:      "delete",
	Usage:     "Delete a filter's bits and parameters.",
	ArgsUsage: "name",
	Action:    deleteFilter,
}

func deleteFilter(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "delete")
	}

	s := openFilter(ctx, ctx.Args().First())
	defer s.close()

	deleted, err := s.filter.Delete(s.ctx)
	if err != nil {
		return err
	}

	return printJSON(ctx, struct {
		Deleted bool `json:"deleted"`
	}{deleted})
}

var positionsCommand = cli.Command{
	Name:      "positions",
	Usage:     "Print the bit positions of items without contacting a server.",
	ArgsUsage: "expected_insertions false_probability item [item...]",
	Description: `
	Derive the filter parameters locally and print the positions each item
	maps to. Useful to inspect a filter's bits with GETBIT.`,
	Action: positions,
}

func positions(ctx *cli.Context) error {
	if ctx.NArg() < 3 {
		return cli.ShowCommandHelp(ctx, "positions")
	}

	args := ctx.Args()
	n, err := strconv.ParseUint(args.Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("unable to parse expected_insertions: %w", err)
	}
	p, err := strconv.ParseFloat(args.Get(1), 64)
	if err != nil {
		return fmt.Errorf("unable to parse false_probability: %w", err)
	}

	cfg, err := bloom.NewConfig(n, p)
	if err != nil {
		return err
	}

	type itemPositions struct {
		Item      string   `json:"item"`
		Positions []uint64 `json:"positions"`
	}

	var out []itemPositions
	for _, item := range itemArgs(ctx, 2) {
		out = append(out, itemPositions{
			Item:      string(item),
			Positions: bloom.AppendPositions(nil, item, cfg.Size, cfg.HashIterations),
		})
	}

	return printJSON(ctx, struct {
		Size           uint64          `json:"size"`
		HashIterations uint32          `json:"hash_iterations"`
		Items          []itemPositions `json:"items"`
	}{cfg.Size, cfg.HashIterations, out})
}

type itemResult struct {
	Item   string `json:"item"`
	Result bool   `json:"result"`
}

func itemResults(items [][]byte, results []bool) []itemResult {
	out := make([]itemResult, len(items))
	for i, item := range items {
		out[i] = itemResult{Item: string(item), Result: results[i]}
	}
	return out
}

func filterInfo(name string, cfg bloom.Config, count uint64) any {
	return struct {
		Name               string  `json:"name"`
		Size               uint64  `json:"size"`
		HashIterations     uint32  `json:"hash_iterations"`
		ExpectedInsertions uint64  `json:"expected_insertions"`
		FalseProbability   float64 `json:"false_probability"`
		Count              uint64  `json:"count"`
		EstimatedFPRate    float64 `json:"estimated_false_positive_rate"`
	}{
		Name:               name,
		Size:               cfg.Size,
		HashIterations:     cfg.HashIterations,
		ExpectedInsertions: cfg.ExpectedInsertions,
		FalseProbability:   cfg.FalseProbability,
		Count:              count,
		EstimatedFPRate:    bloom.EstimateFalsePositiveRate(cfg.Size, cfg.HashIterations, count),
	}
}
