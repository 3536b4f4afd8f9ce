package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/poiesic/cellar"
	"github.com/poiesic/cellar/search"
)

const replHelp = `Type a description to search, or one of:
  :country <name>     only wines from this country (empty clears)
  :variety <name>     only wines of this variety (empty clears)
  :price <max>        only wines at or below this price (empty clears)
  :filters            show active filters
  :fav <i> [i...]     wines similar to these favorites
  :facets             list countries and varieties
  :help               show this help
  :quit               exit
`

// repl reads one query per line and prints its results.
type repl struct {
	engine  *cellar.Engine
	out     io.Writer
	json    bool
	filters search.Filters
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(r.out, replHelp)
	r.prompt()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		quit, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
		r.prompt()
	}
	return scanner.Err()
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, "> ")
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, ":") {
		results, err := searchText(ctx, r.engine.Searcher(), line, r.filters)
		if err != nil {
			return false, err
		}
		return false, printResults(r.out, results, r.json)
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "q", "exit":
		return true, nil
	case "help", "h":
		fmt.Fprint(r.out, replHelp)
	case "country":
		r.filters.Country = arg
		r.showFilters()
	case "variety":
		r.filters.Variety = arg
		r.showFilters()
	case "price":
		if arg == "" {
			r.filters.MaxPrice = nil
		} else {
			price, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return false, fmt.Errorf("invalid price %q", arg)
			}
			r.filters.MaxPrice = &price
		}
		r.showFilters()
	case "filters":
		r.showFilters()
	case "fav", "favorites":
		indices, err := parseIndices([]string{arg})
		if err != nil {
			return false, err
		}
		results, err := r.engine.Searcher().ByFavorites(ctx, indices)
		if err != nil {
			return false, err
		}
		return false, printResults(r.out, results, r.json)
	case "facets":
		facets, err := r.engine.Facets()
		if err != nil {
			return false, err
		}
		if r.json {
			return false, json.NewEncoder(r.out).Encode(facets)
		}
		fmt.Fprintf(r.out, "Countries: %s\n", strings.Join(facets.Countries, ", "))
		fmt.Fprintf(r.out, "Varieties: %s\n", strings.Join(facets.Varieties, ", "))
	default:
		return false, fmt.Errorf("unknown command :%s (try :help)", cmd)
	}
	return false, nil
}

func (r *repl) showFilters() {
	price := "any"
	if r.filters.MaxPrice != nil {
		price = strconv.FormatFloat(*r.filters.MaxPrice, 'f', -1, 64)
	}
	fmt.Fprintf(r.out, "country=%q variety=%q max-price=%s\n", r.filters.Country, r.filters.Variety, price)
}
