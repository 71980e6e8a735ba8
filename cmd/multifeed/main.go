package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/i474232898/airquality-daily-stats/internal/config"
	"github.com/i474232898/airquality-daily-stats/internal/esdr"
	"github.com/i474232898/airquality-daily-stats/internal/logging"
)

const usage = `usage:
  multifeed build  [-substance pm_2_5|ozone] [-products 1,11,35] [-name NAME] [-out FILE]
  multifeed create [-substance pm_2_5|ozone] [-products 1,11,35] [-name NAME] [-spec FILE] [-token TOKEN]

create reads the access token from -token or ESDR_ACCESS_TOKEN.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	substance := fs.String("substance", esdr.PM25.Name, "substance whose channels are collected")
	products := fs.String("products", joinInts(esdr.FederalSensorProductIDs), "comma-separated ESDR product ids")
	name := fs.String("name", "", "multifeed name (defaults to the substance)")
	out := fs.String("out", "", "write the spec to this file instead of stdout")
	specFile := fs.String("spec", "", "create from this spec file instead of building one")
	token := fs.String("token", os.Getenv("ESDR_ACCESS_TOKEN"), "ESDR OAuth access token")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	client := esdr.NewClient(&http.Client{Timeout: cfg.ESDR.HTTPTimeout}, cfg.ESDR.APIRootURL,
		esdr.WithPageSize(cfg.ESDR.PageSize),
		esdr.WithLogger(logger.Named("esdr")),
	)
	ctx := context.Background()

	build := func() *esdr.MultifeedSpec {
		s, err := parseSubstance(*substance)
		if err != nil {
			logger.Fatal("invalid substance", zap.Error(err))
		}
		ids, err := parseInts(*products)
		if err != nil {
			logger.Fatal("invalid product ids", zap.Error(err))
		}
		spec, matches, err := client.BuildMultifeedSpec(ctx, s, ids)
		if err != nil {
			logger.Fatal("failed to build multifeed spec", zap.Error(err))
		}
		if *name != "" {
			spec.Name = *name
		}
		logger.Info("multifeed spec built",
			zap.String("name", spec.Name),
			zap.Ints("products", ids),
			zap.Int("items", len(spec.Spec)),
			zap.Int("matches", matches),
		)
		return spec
	}

	switch cmd {
	case "build":
		data, err := json.MarshalIndent(build(), "", "  ")
		if err != nil {
			logger.Fatal("failed to encode spec", zap.Error(err))
		}
		if *out == "" {
			fmt.Println(string(data))
			return
		}
		if err := os.WriteFile(*out, append(data, '\n'), 0o644); err != nil {
			logger.Fatal("failed to write spec", zap.String("file", *out), zap.Error(err))
		}

	case "create":
		var spec *esdr.MultifeedSpec
		if *specFile != "" {
			data, err := os.ReadFile(*specFile)
			if err != nil {
				logger.Fatal("failed to read spec", zap.String("file", *specFile), zap.Error(err))
			}
			spec = &esdr.MultifeedSpec{}
			if err := json.Unmarshal(data, spec); err != nil {
				logger.Fatal("failed to decode spec", zap.String("file", *specFile), zap.Error(err))
			}
		} else {
			spec = build()
		}

		created, err := client.CreateMultifeed(ctx, *token, spec)
		if err != nil {
			logger.Fatal("failed to create multifeed", zap.String("name", spec.Name), zap.Error(err))
		}
		fmt.Println(string(created))

	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func parseSubstance(s string) (esdr.Substance, error) {
	switch s {
	case esdr.PM25.Name:
		return esdr.PM25, nil
	case esdr.Ozone.Name:
		return esdr.Ozone, nil
	}
	return esdr.Substance{}, fmt.Errorf("unknown substance %q", s)
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
