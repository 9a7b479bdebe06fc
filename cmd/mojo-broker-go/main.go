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
		logger.Println(logger.INFO, "[broker] Bye.")
		logger.Flush()
	}()
	logger.Println(logger.INFO, "[broker] Starting...")

	var (
		cfgFile  string
		socket   string
		logLevel int
	)
	flag.StringVar(&cfgFile, "c", "mojoedk-config.json", "configuration file")
	flag.StringVar(&socket, "s", "", "listen socket spec (overrides config)")
	flag.IntVar(&logLevel, "L", logger.INFO, "log level")
	flag.Parse()

	if err := config.ParseConfig(cfgFile); err != nil {
		logger.Printf(logger.ERROR, "[broker] invalid configuration file: %s", err.Error())
		return
	}
	logger.SetLogLevel(logLevel)

	if socket == "" && config.Cfg.Broker != nil {
		socket = config.Cfg.Broker.Socket
	}
	if socket == "" {
		logger.Println(logger.ERROR, "[broker] no listen socket configured")
		return
	}

	ctl := nodectl.NewBroker(util.NewNodeName())
	core.SetBufferBroker(ctl)
	logger.Printf(logger.INFO, "[broker] local node is %s", ctl.Node().Name())

	if err := ctl.ListenForChildren(socket); err != nil {
		logger.Printf(logger.ERROR, "[broker] failed to listen on %s: %s", socket, err.Error())
		return
	}
	logger.Printf(logger.INFO, "[broker] listening on %s", socket)

	sigCh := make(chan os.Signal, 5)
	signal.Notify(sigCh)
	tick := time.NewTicker(5 * time.Minute)

loop:
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGKILL, syscall.SIGINT, syscall.SIGTERM:
				logger.Printf(logger.INFO, "[broker] terminating (signal %s)", sig)
				break loop
			case syscall.SIGHUP:
				logger.Println(logger.INFO, "[broker] SIGHUP")
			default:
				logger.Println(logger.INFO, "[broker] unhandled signal: "+sig.String())
			}
		case now := <-tick.C:
			logger.Println(logger.INFO, "[broker] heart beat at "+now.String())
		case <-ctl.Done():
			break loop
		}
	}

	ctl.RequestShutdown()
}
