// This file is part of mojoedk, a message-passing runtime in Go.
// Copyright (C) 2026 The mojoedk Authors
//
// mojoedk is free software: you can redistribute it and/or modify it under
// the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// mojoedk is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public
// License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mojoedk/config"
	"mojoedk/core"
	"mojoedk/nodectl"
	"mojoedk/util"

	"github.com/bfix/gospel/logger"
)

func main() {
	defer func() {
		logger.Println(logger.INFO, "[node] Bye.")
		logger.Flush()
	}()
	logger.Println(logger.INFO, "[node] Starting...")

	var (
		cfgFile  string
		connect  string
		listen   string
		logLevel int
	)
	flag.StringVar(&cfgFile, "c", "mojoedk-config.json", "configuration file")
	flag.StringVar(&connect, "s", "", "broker socket spec (overrides config)")
	flag.StringVar(&listen, "l", "", "peer listen socket spec (overrides config, optional)")
	flag.IntVar(&logLevel, "L", logger.INFO, "log level")
	flag.Parse()

	if err := config.ParseConfig(cfgFile); err != nil {
		logger.Printf(logger.ERROR, "[node] invalid configuration file: %s", err.Error())
		return
	}
	logger.SetLogLevel(logLevel)

	if connect == "" && config.Cfg.Channel != nil {
		connect = config.Cfg.Channel.Connect
	}
	if connect == "" {
		logger.Println(logger.ERROR, "[node] no broker socket configured")
		return
	}
	if listen == "" && config.Cfg.Channel != nil {
		listen = config.Cfg.Channel.Listen
	}

	ctl := nodectl.NewNode(util.NewNodeName())
	core.SetBufferBroker(ctl)
	logger.Printf(logger.INFO, "[node] local node is %s", ctl.Node().Name())

	if err := ctl.ConnectToParent(connect, [16]byte{}); err != nil {
		logger.Printf(logger.ERROR, "[node] failed to connect to broker at %s: %s", connect, err.Error())
		return
	}
	logger.Printf(logger.INFO, "[node] connected to broker at %s", connect)

	if buf, err := core.CreateSharedBuffer(4096); err != nil {
		logger.Printf(logger.WARN, "[node] broker-served shared buffer request failed: %s", err.Error())
	} else {
		logger.Printf(logger.INFO, "[node] obtained a 4096-byte shared buffer from the broker (handle %d)", buf)
		core.Close(buf)
	}

	if listen != "" {
		if err := ctl.ListenForChildren(listen); err != nil {
			logger.Printf(logger.ERROR, "[node] failed to listen on %s: %s", listen, err.Error())
			return
		}
		logger.Printf(logger.INFO, "[node] accepting peer connections on %s", listen)
	}

	sigCh := make(chan os.Signal, 5)
	signal.Notify(sigCh)
	tick := time.NewTicker(5 * time.Minute)

loop:
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGKILL, syscall.SIGINT, syscall.SIGTERM:
				logger.Printf(logger.INFO, "[node] terminating (signal %s)", sig)
				break loop
			case syscall.SIGHUP:
				logger.Println(logger.INFO, "[node] SIGHUP")
			default:
				logger.Println(logger.INFO, "[node] unhandled signal: "+sig.String())
			}
		case now := <-tick.C:
			logger.Println(logger.INFO, "[node] heart beat at "+now.String())
		case <-ctl.Done():
			break loop
		}
	}

	ctl.RequestShutdown()
}
