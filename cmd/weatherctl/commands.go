package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/weather-aggregator/internal/models"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "weatherctl",
		Short:         "Query and maintain the weather aggregator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "directory holding config/ and .env (default: working directory)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newGetCmd(a),
		newBatchCmd(a),
		newSearchCmd(a),
		newDetailCmd(a),
		newClearCmd(a),
		newConvertCmd(),
	)
	return root
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get CITY",
		Short: "Show one city's weather",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			w, err := svc.GetWeatherData(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return renderWeather(cmd.OutOrStdout(), []models.CityWeather{w})
		},
	}
}

func newBatchCmd(a *app) *cobra.Command {
	var sortByName bool
	cmd := &cobra.Command{
		Use:   "batch [CITY...]",
		Short: "Show several cities; no arguments means the configured defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			list, err := svc.GetMultipleCitiesWeather(cmd.Context(), args)
			if err != nil {
				return err
			}
			if sortByName {
				list = models.SortByCity(list)
			}
			return renderWeather(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().BoolVar(&sortByName, "sort", false, "sort by city name")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Search cities by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			list, err := svc.SearchCities(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return renderWeather(cmd.OutOrStdout(), list)
		},
	}
}

func newDetailCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detail CITY",
		Short: "Show one city with temperatures in C, F and K",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			d, err := svc.LoadCityDetail(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				if d.HardReset {
					warnHardReset(cmd.ErrOrStderr(), d.ErrorCount)
				}
				return err
			}
			return renderDetail(cmd.OutOrStdout(), d)
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete cached weather entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if err := svc.ClearCache(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return err
		},
	}
}

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert VALUE UNIT",
		Short: "Convert a temperature between C, F and K",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[0], err)
			}
			temps, err := models.ConvertTemperature(v, models.Unit(strings.ToUpper(args[1])))
			if err != nil {
				return err
			}
			return renderTemperatures(cmd.OutOrStdout(), temps)
		},
	}
}
