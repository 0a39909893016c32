// Package config holds the server's tunables. Everything has a sensible
// default; an optional key:value config file overrides individual values.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/horgh/config"
)

// Config holds a server's configuration.
type Config struct {
	// Period of idleness after which we ping a client.
	IdleTime time.Duration

	// Period after a ping in which the client must show activity before we
	// consider it dead.
	PongTime time.Duration

	// How long the hub may wait to enqueue a message to a client before
	// evicting it as a slow consumer.
	SendTimeout time.Duration

	// Capacity of each client's outbound message queue.
	SendQueue int

	// Socket read/write deadline. A backstop under the protocol-level
	// liveness timers, so a dead socket cannot pin a goroutine forever.
	IOWait time.Duration

	// Address to expose prometheus metrics on. Blank disables the
	// metrics listener.
	MetricsAddress string
}

// Default returns the recommended configuration.
func Default() Config {
	return Config{
		IdleTime:    60 * time.Second,
		PongTime:    30 * time.Second,
		SendTimeout: 100 * time.Millisecond,
		SendQueue:   64,
		IOWait:      2 * time.Minute,
	}
}

// Load reads a config file and applies it on top of the defaults.
//
// Recognized keys: idle-time, pong-time, send-timeout, io-wait (durations),
// send-queue (integer), metrics-address. Unknown keys are an error so typos
// do not silently fall back to a default.
func Load(file string) (Config, error) {
	c := Default()

	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return Config{}, err
	}

	for key, value := range configMap {
		if len(value) == 0 {
			return Config{}, fmt.Errorf("configuration value is blank: %s", key)
		}

		switch key {
		case "idle-time":
			c.IdleTime, err = time.ParseDuration(value)
		case "pong-time":
			c.PongTime, err = time.ParseDuration(value)
		case "send-timeout":
			c.SendTimeout, err = time.ParseDuration(value)
		case "io-wait":
			c.IOWait, err = time.ParseDuration(value)
		case "send-queue":
			c.SendQueue, err = strconv.Atoi(value)
		case "metrics-address":
			c.MetricsAddress = value
		default:
			return Config{}, fmt.Errorf("unknown configuration key: %s", key)
		}

		if err != nil {
			return Config{}, fmt.Errorf("invalid value for %s: %s", key, err)
		}
	}

	if err := c.check(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c Config) check() error {
	if c.IdleTime <= 0 || c.PongTime <= 0 || c.SendTimeout <= 0 ||
		c.IOWait <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.SendQueue < 1 {
		return fmt.Errorf("send-queue must be at least 1")
	}
	return nil
}
