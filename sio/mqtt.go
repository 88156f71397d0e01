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

package sio

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configure an MQTT coupling.  The names follow
// mosquitto_sub.
type MQTTOptions struct {
	Broker    string
	ClientID  string
	KeepAlive time.Duration
	Username  string
	Password  string
	Reconnect bool
	Clean     bool

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint

	CertFilename string
	KeyFilename  string
	CAFilename   string
	Insecure     bool

	// InTopics are the comma-separated topics to subscribe to.
	// A topic can have a QoS suffix, as in "updates:1".
	InTopics string

	// OutTopic is where results are published.
	OutTopic string

	// InTimeout limits how long an incoming update waits to be
	// queued.
	InTimeout time.Duration
}

// MQTT is a Couplings that receives updates from and publishes
// results to an MQTT broker.
type MQTT struct {
	Client mqtt.Client
	Opts   MQTTOptions

	incoming chan *core.Update
	outbound chan *Result
	done     chan bool
}

// NewMQTT makes the client.  Start connects it.
func NewMQTT(o MQTTOptions) (*MQTT, error) {
	if o.InTimeout == 0 {
		o.InTimeout = 5 * time.Second
	}
	if o.Quiesce == 0 {
		o.Quiesce = 100
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = 600 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetKeepAlive(o.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.Username = o.Username
	opts.Password = o.Password
	opts.AutoReconnect = o.Reconnect
	opts.CleanSession = o.Clean

	tlsConf, err := tlsConfig(o)
	if err != nil {
		return nil, err
	}
	opts.SetTLSConfig(tlsConf)

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		util.Logger.Warnw("MQTT connection lost", "error", err)
	}

	c := &MQTT{
		Opts:     o,
		incoming: make(chan *core.Update),
		outbound: make(chan *Result),
		done:     make(chan bool),
	}

	opts.DefaultPublishHandler = func(client mqtt.Client, msg mqtt.Message) {
		c.consume(context.Background(), msg.Topic(), msg.Payload())
	}

	c.Client = mqtt.NewClient(opts)

	return c, nil
}

func tlsConfig(o MQTTOptions) (*tls.Config, error) {
	rootCAs, _ := x509.SystemCertPool()
	if rootCAs == nil {
		rootCAs = x509.NewCertPool()
	}
	if o.CAFilename != "" {
		certs, err := os.ReadFile(o.CAFilename)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't read '%s'", o.CAFilename)
		}
		if ok := rootCAs.AppendCertsFromPEM(certs); !ok {
			util.Logger.Warnf("no certs appended from %s, using system certs only", o.CAFilename)
		}
	}

	conf := &tls.Config{
		InsecureSkipVerify: o.Insecure,
		RootCAs:            rootCAs,
	}

	if o.KeyFilename != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFilename, o.KeyFilename)
		if err != nil {
			return nil, err
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, nil
}

// consume queues an incoming payload as an update.
func (c *MQTT) consume(ctx context.Context, topic string, payload []byte) {
	u, err := core.ParseUpdate(payload)
	if err != nil {
		util.Logger.Warnw("couldn't parse update", "topic", topic, "payload", JShort(string(payload)), "error", err)
		return
	}

	to := time.NewTimer(c.Opts.InTimeout)
	defer to.Stop()

	select {
	case <-ctx.Done():
	case c.incoming <- u:
		util.Logger.Debugw("forwarded update", "topic", topic, "update_id", u.UpdateID)
	case <-to.C:
		util.Logger.Warnw("dropping update due to stall", "topic", topic, "update_id", u.UpdateID)
	}
}

// Start creates the MQTT session.
func (c *MQTT) Start(ctx context.Context) error {
	util.Logger.Infow("connecting to broker", "broker", c.Opts.Broker)
	if token := c.Client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	for _, topic := range strings.Split(c.Opts.InTopics, ",") {
		topic, qos := parseTopic(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		if t := c.Client.Subscribe(topic, qos, nil); t.Wait() && t.Error() != nil {
			return t.Error()
		}
		util.Logger.Infow("subscribed", "topic", topic, "qos", qos)
	}

	return nil
}

// IO starts a loop to publish results.
func (c *MQTT) IO(ctx context.Context) (chan *core.Update, chan *Result, chan bool, error) {
	go c.outLoop(ctx)
	return c.incoming, c.outbound, c.done, nil
}

// outLoop publishes results to the broker.
func (c *MQTT) outLoop(ctx context.Context) {
	topic, qos := parseTopic(c.Opts.OutTopic)
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-c.outbound:
			if r == nil {
				return
			}
			js, err := json.Marshal(r)
			if err != nil {
				util.Logger.Errorw("failed to marshal result", "update_id", r.UpdateID, "error", err)
				continue
			}
			token := c.Client.Publish(topic, qos, false, js)
			if token.Wait() && token.Error() != nil {
				util.Logger.Errorw("publish error", "topic", topic, "error", token.Error())
			}
		}
	}
}

// Stop terminates the MQTT session.
func (c *MQTT) Stop(context.Context) error {
	c.Client.Disconnect(c.Opts.Quiesce)
	close(c.done)
	return nil
}

// parseTopic can extract QoS from a topic name of the form TOPIC:QOS.
func parseTopic(s string) (string, byte) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, 0
	}
	qos, err := strconv.ParseUint(s[i+1:], 10, 8)
	if err != nil || qos > 2 {
		return s, 0
	}
	return s[:i], byte(qos)
}
