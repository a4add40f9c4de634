package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/kjstillabower/weather-aggregator/internal/models"
	"github.com/kjstillabower/weather-aggregator/internal/service"
)

var warnColor = color.New(color.FgRed, color.Bold)

func renderWeather(w io.Writer, list []models.CityWeather) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no results")
		return err
	}
	table := tablewriter.NewWriter(w)
	table.Header([]string{"City", "Temp", "Unit", "Date"})
	data := make([][]string, 0, len(list))
	for _, c := range list {
		data = append(data, []string{c.City.Name, c.Temp, string(c.TempType), c.Date})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func renderTemperatures(w io.Writer, t models.Temperatures) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"C", "F", "K"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	if err := table.Append([]string{t.C, t.F, t.K}); err != nil {
		return err
	}
	return table.Render()
}

func renderDetail(w io.Writer, d service.CityDetail) error {
	source := "upstream"
	if d.FromCache {
		source = "cache"
	}
	if _, err := fmt.Fprintf(w, "%s (observed %s, from %s, retries %d)\n",
		d.Weather.City.Name, d.ObservedAt.Format(time.RFC1123), source, d.Retries); err != nil {
		return err
	}
	return renderTemperatures(w, d.Temperatures)
}

func warnHardReset(w io.Writer, count int) {
	_, _ = warnColor.Fprintf(w, "error threshold reached (%d failures): clear local state and retry\n", count)
}
