// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iochannel

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/log"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
)

// NatsConfig configures a NatsChannel connection, mirroring the shape of
// the teacher's pkg/nats.NatsConfig.
type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// NatsChannel is a Channel backed by a pair of NATS subjects: Write
// publishes to PublishSubject, and Read drains a subscription on
// SubscribeSubject. It lets a DSM forward raw or processed samples
// between nodes using the same transport as metric ingestion
// (pkg/nats in the teacher), rather than adding a bespoke wire format.
type NatsChannel struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	msgs    chan *nats.Msg
	pubject string
	name    string
	pending []byte
}

// DialNats connects to a NATS server and builds a channel that publishes
// on pubSubject and receives on subSubject.
func DialNats(cfg NatsConfig, pubSubject, subSubject string) (*NatsChannel, error) {
	if cfg.Address == "" {
		return nil, niderr.New(niderr.KindInvalidParameter, "iochannel.DialNats", "address is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warnf("[IOCHANNEL] nats disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		log.Infof("[IOCHANNEL] nats reconnected to %s", nc.ConnectedUrl())
	}))

	conn, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, niderr.NewIO(niderr.IONone, "iochannel.DialNats", cfg.Address, err)
	}

	msgs := make(chan *nats.Msg, 256)
	sub, err := conn.ChanSubscribe(subSubject, msgs)
	if err != nil {
		conn.Close()
		return nil, niderr.NewIO(niderr.IONone, "iochannel.DialNats", subSubject, err)
	}

	return &NatsChannel{
		conn:    conn,
		sub:     sub,
		msgs:    msgs,
		pubject: pubSubject,
		name:    fmt.Sprintf("nats:%s->%s", subSubject, pubSubject),
	}, nil
}

// Read copies the next received NATS message payload into p, buffering
// any remainder for the next call (NATS messages don't align to the
// caller's read buffer size any more than a TCP stream does).
func (c *NatsChannel) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		msg, ok := <-c.msgs
		if !ok {
			return 0, niderr.ErrConnectionLost
		}
		c.pending = msg.Data
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write publishes p as one NATS message on the channel's publish
// subject.
func (c *NatsChannel) Write(p []byte) (int, error) {
	if err := c.conn.Publish(c.pubject, p); err != nil {
		return 0, niderr.NewIO(niderr.IONone, "iochannel.NatsChannel.Write", c.pubject, err)
	}
	return len(p), nil
}

// Close unsubscribes and closes the underlying connection.
func (c *NatsChannel) Close() error {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.conn.Close()
	close(c.msgs)
	return nil
}

// Name identifies the channel for logging.
func (c *NatsChannel) Name() string { return c.name }
