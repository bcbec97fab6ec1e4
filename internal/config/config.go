// Package config loads daemon options with the precedence
// CLI flags > DROPLET_* environment variables > TOML file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"

	"github.com/sweeney/droplet/internal/firmata"
	"github.com/sweeney/droplet/internal/logging"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "DROPLET_"

// Pin drivers.
const (
	DriverFirmata  = "firmata"
	DriverGPIOCDev = "gpiocdev"
	DriverPeriph   = "periph"
)

// Options are the daemon settings. Each field is a flag, a TOML key and an
// environment variable.
type Options struct {
	Config string `flag:"config" short:"c" default:"" help:"TOML config file"`

	BoardDriver string `flag:"driver" toml:"board.driver" env:"BOARD_DRIVER" default:"firmata" help:"Pin driver (firmata, gpiocdev, periph)"`
	BoardPort   string `flag:"port" short:"p" toml:"board.port" env:"BOARD_PORT" default:"" help:"Serial port of the Firmata board (empty: first USB serial port)"`
	BoardBaud   int    `flag:"baud" toml:"board.baud" env:"BOARD_BAUD" default:"57600" help:"Serial baud rate"`
	BoardSettle string `flag:"settle" toml:"board.settle" env:"BOARD_SETTLE" default:"5s" help:"Wait after opening the port for the board to reset"`
	BoardChip   string `flag:"chip" toml:"board.chip" env:"BOARD_CHIP" default:"gpiochip0" help:"GPIO chip for the gpiocdev driver"`
	BoardPin    int    `flag:"pin" toml:"board.pin" env:"BOARD_PIN" default:"7" help:"Digital pin driving the solenoid"`

	ValvePulse string `flag:"pulse" toml:"valve.pulse" env:"VALVE_PULSE" default:"500ms" help:"How long a droplet holds the valve open"`

	HTTPAddr string `flag:"http" toml:"http.addr" env:"HTTP_ADDR" default:":8080" help:"HTTP panel address (empty to disable)"`

	MQTTBroker   string `flag:"broker" toml:"mqtt.broker" env:"MQTT_BROKER" default:"" help:"MQTT broker URL (empty to disable)"`
	MQTTClientID string `flag:"client-id" toml:"mqtt.client_id" env:"MQTT_CLIENT_ID" default:"droplet" help:"MQTT client ID"`
	MQTTBuffer   int    `flag:"mqtt-buffer" toml:"mqtt.buffer" env:"MQTT_BUFFER" default:"100" help:"Messages kept while the broker is unreachable"`

	LoggingLevel  string `flag:"log-level" toml:"logging.level" env:"LOGGING_LEVEL" default:"info" help:"Log level (debug, info, warn, error)"`
	LoggingFormat string `flag:"log-format" toml:"logging.format" env:"LOGGING_FORMAT" default:"text" help:"Log format (text, json)"`
}

// Defaults returns Options holding every default tag.
func Defaults() *Options {
	opts := &Options{}
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		setFieldValueFromString(v.Field(i), t.Field(i).Tag.Get("default"))
	}
	return opts
}

// BindFlags registers one flag per option on fs, storing into opts.
// Defaults come from the struct tags.
func BindFlags(fs *pflag.FlagSet, opts *Options) {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		ft := t.Field(i)
		name := ft.Tag.Get("flag")
		if name == "" {
			continue
		}
		short, def, help := ft.Tag.Get("short"), ft.Tag.Get("default"), ft.Tag.Get("help")

		switch p := v.Field(i).Addr().Interface().(type) {
		case *string:
			fs.StringVarP(p, name, short, def, help)
		case *int:
			n, _ := strconv.Atoi(def)
			fs.IntVarP(p, name, short, n, help)
		}
	}
}

// Load applies the TOML file named by opts.Config and then DROPLET_*
// environment variables. Options whose flag was set on fs are left alone;
// fs may be nil. A missing config file is an error only when its flag was
// set explicitly.
func Load(opts *Options, fs *pflag.FlagSet) error {
	changed := make(map[string]bool)
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	}

	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	if opts.Config != "" {
		data, err := os.ReadFile(opts.Config)
		switch {
		case err == nil:
			var tree map[string]any
			if err := toml.Unmarshal(data, &tree); err != nil {
				return fmt.Errorf("parse config %s: %w", opts.Config, err)
			}
			for i := 0; i < t.NumField(); i++ {
				ft := t.Field(i)
				path := ft.Tag.Get("toml")
				if path == "" || changed[ft.Tag.Get("flag")] {
					continue
				}
				if value := getNestedValue(tree, path); value != nil {
					if err := setFieldValue(v.Field(i), value); err != nil {
						return fmt.Errorf("config %s: %s: %w", opts.Config, path, err)
					}
				}
			}
		case errors.Is(err, os.ErrNotExist) && !changed["config"]:
		default:
			return fmt.Errorf("read config: %w", err)
		}
	}

	for i := 0; i < t.NumField(); i++ {
		ft := t.Field(i)
		key := ft.Tag.Get("env")
		if key == "" || changed[ft.Tag.Get("flag")] {
			continue
		}
		if value, ok := os.LookupEnv(EnvPrefix + key); ok && value != "" {
			if !setFieldValueFromString(v.Field(i), value) {
				return fmt.Errorf("env %s%s: invalid value %q", EnvPrefix, key, value)
			}
		}
	}

	return nil
}

// Validate checks option values.
func (o *Options) Validate() error {
	var errs []error

	switch o.BoardDriver {
	case DriverFirmata, DriverGPIOCDev, DriverPeriph:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", o.BoardDriver))
	}
	if o.BoardBaud <= 0 {
		errs = append(errs, fmt.Errorf("baud must be positive, got %d", o.BoardBaud))
	}
	if o.BoardPin < 0 {
		errs = append(errs, fmt.Errorf("pin must not be negative, got %d", o.BoardPin))
	}
	if o.BoardDriver == DriverFirmata && o.BoardPin > firmata.MaxPin {
		errs = append(errs, fmt.Errorf("firmata pin must be at most %d, got %d", firmata.MaxPin, o.BoardPin))
	}
	if d, err := time.ParseDuration(o.BoardSettle); err != nil || d < 0 {
		errs = append(errs, fmt.Errorf("invalid settle %q", o.BoardSettle))
	}
	if d, err := time.ParseDuration(o.ValvePulse); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("pulse must be a positive duration, got %q", o.ValvePulse))
	}
	if o.MQTTBuffer < 1 {
		errs = append(errs, fmt.Errorf("mqtt buffer must be at least 1, got %d", o.MQTTBuffer))
	}
	if !logging.ValidLevel(o.LoggingLevel) {
		errs = append(errs, fmt.Errorf("unknown log level %q", o.LoggingLevel))
	}
	if o.LoggingFormat != "text" && o.LoggingFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", o.LoggingFormat))
	}

	return errors.Join(errs...)
}

// Pulse returns the parsed pulse duration. Call Validate first.
func (o *Options) Pulse() time.Duration {
	d, _ := time.ParseDuration(o.ValvePulse)
	return d
}

// Settle returns the parsed settle delay. Call Validate first.
func (o *Options) Settle() time.Duration {
	d, _ := time.ParseDuration(o.BoardSettle)
	return d
}

// Firmata returns the board configuration for the firmata driver.
func (o *Options) Firmata() firmata.Config {
	return firmata.Config{
		Port:   o.BoardPort,
		Baud:   o.BoardBaud,
		Settle: o.Settle(),
		Pin:    o.BoardPin,
	}
}

// Logging returns the logging configuration.
func (o *Options) Logging() logging.Config {
	return logging.Config{Level: o.LoggingLevel, Format: o.LoggingFormat}
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// setFieldValue sets a field from a decoded TOML value.
func setFieldValue(field reflect.Value, value any) error {
	switch field.Kind() {
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", value)
		}
		field.SetString(s)
	case reflect.Int:
		i, ok := value.(int64)
		if !ok {
			return fmt.Errorf("want integer, got %T", value)
		}
		field.SetInt(i)
	}
	return nil
}

// setFieldValueFromString sets a field from an env var or default tag.
func setFieldValueFromString(field reflect.Value, value string) bool {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		if value == "" {
			return true
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false
		}
		field.SetInt(i)
	}
	return true
}
