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
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Comcast/switchyard/bot"
	"github.com/Comcast/switchyard/botapi"
	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/interpreters/goja"
	"github.com/Comcast/switchyard/routes"
	"github.com/Comcast/switchyard/sio"
	"github.com/Comcast/switchyard/storage"
	"github.com/Comcast/switchyard/storage/bolt"
	"github.com/Comcast/switchyard/tools"
	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process updates with the routes",
		Long: `Run compiles the route spec and processes updates one at a time.

Without a token, API calls are recorded and not sent, and the bot's
identity comes from bot.id and bot.username.  With source=stdio, each
result is written to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}

	fs := cmd.Flags()
	fs.String("source", "", "update source: stdio, mqtt, ws, or poll")
	fs.String("db", "", "bbolt database for sessions and offsets")
	fs.String("token", "", "bot token")
	a.v.BindPFlag("source", fs.Lookup("source"))
	a.v.BindPFlag("db", fs.Lookup("db"))
	a.v.BindPFlag("token", fs.Lookup("token"))

	return cmd
}

func (a *app) run(ctx context.Context) error {
	c := a.config
	log := util.Logger

	store, closeStore, err := openStore(ctx, c.DB)
	if err != nil {
		return err
	}
	defer closeStore()

	cm, err := a.compileRoutes(ctx, store)
	if err != nil {
		return err
	}

	api, opts, err := makeAPI(c)
	if err != nil {
		return err
	}

	b := bot.New(api, opts...)
	b.Use(cm)

	if c.Source == "poll" {
		log.Infow("long polling", "timeout", c.Poll.Timeout, "limit", c.Poll.Limit)
		return b.Start(ctx, bot.PollOptions{
			PollOptions: sio.PollOptions{
				Limit:          c.Poll.Limit,
				Timeout:        c.Poll.Timeout,
				AllowedUpdates: c.Poll.AllowedUpdates,
				Store:          store,
			},
			DropPendingUpdates: c.Poll.DropPendingUpdates,
		})
	}

	couplings, err := makeCouplings(c)
	if err != nil {
		return err
	}
	log.Infow("running", "source", c.Source)
	return b.Run(ctx, couplings)
}

func openStore(ctx context.Context, filename string) (storage.Storage, func(), error) {
	if filename == "" {
		return storage.NewMemory(), func() {}, nil
	}
	if strings.HasSuffix(filename, ".json") {
		s := storage.NewJSONFile(filename)
		s.WritePerChange = true
		if err := s.Read(ctx); err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Write(context.Background()); err != nil {
				util.Logger.Warnw("writing storage", "error", err)
			}
		}, nil
	}
	s, err := bolt.NewStorage(filename)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(context.Background()); err != nil {
			util.Logger.Warnw("closing storage", "error", err)
		}
	}, nil
}

func (a *app) readRoutes() (*routes.Spec, error) {
	filename := a.config.Routes
	if filename == "" {
		return nil, errors.WithHint(errors.New("no route spec"), "use --routes or SWITCHYARD_ROUTES")
	}
	src, err := tools.ReadSpec(filename, a.stdin)
	if err != nil {
		return nil, err
	}
	spec, err := routes.Parse(src)
	if err != nil {
		return nil, errors.Wrapf(err, "in %s", filename)
	}
	return spec, nil
}

func (a *app) routeOptions(store storage.Storage) routes.Options {
	i := goja.NewInterpreter()
	i.LibraryProvider = goja.MakeFileLibraryProvider(filepath.Dir(a.config.Routes))
	return routes.Options{
		Interpreter: i,
		Store:       store,
	}
}

func (a *app) compileRoutes(ctx context.Context, store storage.Storage) (*core.Composer, error) {
	spec, err := a.readRoutes()
	if err != nil {
		return nil, err
	}
	return routes.Compile(ctx, spec, a.routeOptions(store))
}

// makeAPI returns the platform client, or a recorder when there's no
// token.
func makeAPI(c *Config) (core.API, []bot.Option, error) {
	if c.Token == "" {
		me := &core.User{
			ID:        c.Bot.ID,
			IsBot:     true,
			FirstName: c.Bot.Username,
			Username:  c.Bot.Username,
		}
		return offline{
			"sendMessage": `{"message_id":1,"date":0,"chat":{"id":0,"type":"private"}}`,
		}, []bot.Option{bot.WithBotInfo(me)}, nil
	}

	client, err := botapi.NewClient(c.Token, c.APIURL)
	if err != nil {
		return nil, nil, err
	}
	if 0 < c.RateLimit {
		client.Limiter = rate.NewLimiter(rate.Limit(c.RateLimit), 1)
	}
	return client, nil, nil
}

// offline answers API calls without sending them.  The calls still
// appear in each sio.Result.
type offline map[string]string

func (o offline) Call(ctx context.Context, method string, params, result interface{}) error {
	if js, have := o[method]; have && result != nil {
		return json.Unmarshal([]byte(js), result)
	}
	return nil
}

func makeCouplings(c *Config) (sio.Couplings, error) {
	switch c.Source {
	case "stdio":
		s := sio.NewStdio(c.Stdio.ShellExpand)
		s.EchoInput = c.Stdio.Echo
		s.Tags = c.Stdio.Tags
		s.Timestamps = c.Stdio.Timestamps
		return s, nil
	case "mqtt":
		return sio.NewMQTT(sio.MQTTOptions{
			Broker:       c.MQTT.Broker,
			ClientID:     c.MQTT.ClientID,
			KeepAlive:    c.MQTT.KeepAlive,
			Username:     c.MQTT.Username,
			Password:     c.MQTT.Password,
			Reconnect:    true,
			Clean:        true,
			Quiesce:      100,
			CAFilename:   c.MQTT.CAFile,
			CertFilename: c.MQTT.CertFile,
			KeyFilename:  c.MQTT.KeyFile,
			InTopics:     c.MQTT.InTopic,
			OutTopic:     c.MQTT.OutTopic,
		})
	case "ws":
		return sio.NewWebSocket(c.WS.Addr, c.WS.MaxConns), nil
	default:
		return nil, errors.Newf("no couplings for source '%s'", c.Source)
	}
}
