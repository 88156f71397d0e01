/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Config is everything a switchyard process can be told.
//
// Values come from (in increasing precedence) defaults, a config
// file, SWITCHYARD_* environment variables, and flags.
type Config struct {
	Token  string `mapstructure:"token"`
	APIURL string `mapstructure:"api_url"`

	// Routes is the route spec filename.  "-" means stdin.
	Routes string `mapstructure:"routes"`

	// Source is where updates come from: stdio, mqtt, ws, or poll.
	Source string `mapstructure:"source"`

	// DB is the bbolt database for sessions and polling offsets.
	// A name ending in ".json" is a plain JSON file instead, and
	// empty means memory.
	DB string `mapstructure:"db"`

	// RateLimit is the maximum number of API calls per second.
	// Zero means no limit.
	RateLimit float64 `mapstructure:"rate_limit"`

	Poll  PollConfig  `mapstructure:"poll"`
	MQTT  MQTTConfig  `mapstructure:"mqtt"`
	WS    WSConfig    `mapstructure:"ws"`
	Log   LogConfig   `mapstructure:"log"`
	Bot   BotConfig   `mapstructure:"bot"`
	Stdio StdioConfig `mapstructure:"stdio"`
}

type PollConfig struct {
	Timeout            int      `mapstructure:"timeout"`
	Limit              int      `mapstructure:"limit"`
	AllowedUpdates     []string `mapstructure:"allowed_updates"`
	DropPendingUpdates bool     `mapstructure:"drop_pending_updates"`
}

type MQTTConfig struct {
	Broker    string        `mapstructure:"broker"`
	ClientID  string        `mapstructure:"client_id"`
	InTopic   string        `mapstructure:"in_topic"`
	OutTopic  string        `mapstructure:"out_topic"`
	KeepAlive time.Duration `mapstructure:"keep_alive"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	CAFile    string        `mapstructure:"ca_file"`
	CertFile  string        `mapstructure:"cert_file"`
	KeyFile   string        `mapstructure:"key_file"`
}

type WSConfig struct {
	Addr     string `mapstructure:"addr"`
	MaxConns int    `mapstructure:"max_conns"`
}

type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

// BotConfig gives the bot an identity without asking the API, which
// is what offline runs need.
type BotConfig struct {
	ID       int64  `mapstructure:"id"`
	Username string `mapstructure:"username"`
}

type StdioConfig struct {
	Echo        bool `mapstructure:"echo"`
	Tags        bool `mapstructure:"tags"`
	Timestamps  bool `mapstructure:"timestamps"`
	ShellExpand bool `mapstructure:"shell_expand"`
}

// Sources are the permitted values for Config.Source.
var Sources = []string{"stdio", "mqtt", "ws", "poll"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", "stdio")
	v.SetDefault("poll.timeout", 30)
	v.SetDefault("poll.limit", 100)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "switchyard")
	v.SetDefault("mqtt.in_topic", "updates")
	v.SetDefault("mqtt.out_topic", "results")
	v.SetDefault("mqtt.keep_alive", 10*time.Second)
	v.SetDefault("ws.addr", ":8081")
	v.SetDefault("ws.max_conns", 16)
	v.SetDefault("bot.id", 1)
	v.SetDefault("bot.username", "switchyard_bot")
	v.SetDefault("stdio.tags", true)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SWITCHYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// loadConfig reads the optional config file and decodes everything
// into a Config.
func loadConfig(v *viper.Viper, filename string) (*Config, error) {
	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", filename)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	for _, s := range Sources {
		if c.Source == s {
			if s == "poll" && c.Token == "" {
				return errors.WithHint(errors.New("polling needs a token"),
					"set token in the config file or SWITCHYARD_TOKEN")
			}
			return nil
		}
	}
	return errors.Newf("unknown source '%s'; permitted values are: %s",
		c.Source, strings.Join(Sources, ", "))
}
