package models

import (
	"fmt"
	"strconv"
)

// Unit is a temperature scale.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
	Kelvin     Unit = "K"
)

// Temperatures holds one reading in all three scales, rounded to two decimals.
type Temperatures struct {
	C string `json:"C"`
	F string `json:"F"`
	K string `json:"K"`
}

// ConvertTemperature expresses value (in unit) in Celsius, Fahrenheit and Kelvin.
func ConvertTemperature(value float64, unit Unit) (Temperatures, error) {
	var c, f, k float64
	switch unit {
	case Celsius:
		c = value
		f = value*1.8 + 32
		k = value + 273.15
	case Kelvin:
		c = value - 273.15
		f = (value-273.15)*9/5 + 32
		k = value
	case Fahrenheit:
		c = (value - 32) / 1.8
		f = value
		k = (value-32)*5/9 + 273.15
	default:
		return Temperatures{}, fmt.Errorf("unknown temperature unit %q", unit)
	}
	return Temperatures{C: fixed2(c), F: fixed2(f), K: fixed2(k)}, nil
}

// Temperatures converts the reading's own Temp/TempType pair.
func (w CityWeather) Temperatures() (Temperatures, error) {
	v, err := strconv.ParseFloat(w.Temp, 64)
	if err != nil {
		return Temperatures{}, fmt.Errorf("parse temp %q: %w", w.Temp, err)
	}
	return ConvertTemperature(v, w.TempType)
}

func fixed2(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}
