// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package iochannel provides the socket-transport backends a sensor or a
// DSM-to-DSM forwarding link can sit on top of: TCP, Unix domain, UDP,
// and multicast sockets, a NATS subject pair, and a remote-serial tap
// implementing the original rserial escape-sequence protocol.
package iochannel

import (
	"fmt"
	"net"
	"time"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
)

// Channel is the common surface every transport backend exposes: a
// io.ReadWriteCloser plus a name for logging.
type Channel interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Name() string
}

// netChannel adapts a net.Conn to Channel.
type netChannel struct {
	conn net.Conn
	name string
}

func (c *netChannel) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *netChannel) Write(p []byte) (int, error) { return c.conn.Write(p) }
func (c *netChannel) Close() error                { return c.conn.Close() }
func (c *netChannel) Name() string                { return c.name }

// DialTCP opens a TCP channel to addr ("host:port").
func DialTCP(addr string, timeout time.Duration) (Channel, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, niderr.NewIO(niderr.IONone, "iochannel.DialTCP", addr, err)
	}
	return &netChannel{conn: conn, name: "tcp:" + addr}, nil
}

// DialUnix opens a Unix domain socket channel at path.
func DialUnix(path string, timeout time.Duration) (Channel, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, niderr.NewIO(niderr.IONone, "iochannel.DialUnix", path, err)
	}
	return &netChannel{conn: conn, name: "unix:" + path}, nil
}

// DialUDP opens a UDP channel to addr.
func DialUDP(addr string) (Channel, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, niderr.NewIO(niderr.IONone, "iochannel.DialUDP", addr, err)
	}
	return &netChannel{conn: conn, name: "udp:" + addr}, nil
}

// multicastChannel wraps a *net.UDPConn bound to a multicast group,
// since reading a multicast group requires ListenMulticastUDP rather
// than Dial.
type multicastChannel struct {
	conn *net.UDPConn
	name string
}

func (c *multicastChannel) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *multicastChannel) Write(p []byte) (int, error) { return c.conn.Write(p) }
func (c *multicastChannel) Close() error                { return c.conn.Close() }
func (c *multicastChannel) Name() string                { return c.name }

// JoinMulticast joins the multicast group at addr ("224.0.0.1:9000") on
// the named interface ("" picks the default).
func JoinMulticast(addr, iface string) (Channel, error) {
	var ifi *net.Interface
	if iface != "" {
		found, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, niderr.NewIO(niderr.IONone, "iochannel.JoinMulticast", iface, err)
		}
		ifi = found
	}
	gaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, niderr.Wrap(niderr.KindInvalidParameter, "iochannel.JoinMulticast", addr, err)
	}
	conn, err := net.ListenMulticastUDP("udp", ifi, gaddr)
	if err != nil {
		return nil, niderr.NewIO(niderr.IONone, "iochannel.JoinMulticast", addr, err)
	}
	return &multicastChannel{conn: conn, name: fmt.Sprintf("multicast:%s", addr)}, nil
}

// Listener accepts inbound Channel connections, for a DSM acting as a
// TCP/Unix server (the remote-serial tap and inter-DSM forwarding both
// use this).
type Listener struct {
	ln   net.Listener
	name string
}

// ListenTCP starts a TCP listener on addr.
func ListenTCP(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, niderr.NewIO(niderr.IONone, "iochannel.ListenTCP", addr, err)
	}
	return &Listener{ln: ln, name: "tcp:" + addr}, nil
}

// ListenUnix starts a Unix domain socket listener at path.
func ListenUnix(path string) (*Listener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, niderr.NewIO(niderr.IONone, "iochannel.ListenUnix", path, err)
	}
	return &Listener{ln: ln, name: "unix:" + path}, nil
}

// Accept blocks for the next inbound connection.
func (l *Listener) Accept() (Channel, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, niderr.NewIO(niderr.IONone, "iochannel.Accept", l.name, err)
	}
	return &netChannel{conn: conn, name: l.name}, nil
}

// Close stops the listener.
func (l *Listener) Close() error { return l.ln.Close() }

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
