// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// peerclient is a thin reference binary wiring a single torrent's worth of
// dispatch.Dispatcher to a real tracker and a real TCP listener. It carries
// no policy of its own: piece selection lives in strategy.Strategy, wire
// framing in conn.Conn, and tracker request/response shapes in the tracker
// package. This file only does composition-root plumbing.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"net"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/nprezin/peerwire/core"
	"github.com/nprezin/peerwire/dispatch"
	"github.com/nprezin/peerwire/metainfo"
	"github.com/nprezin/peerwire/metrics"
	"github.com/nprezin/peerwire/storage"
	"github.com/nprezin/peerwire/tracker"
	"github.com/nprezin/peerwire/utils/backoff"
	"github.com/nprezin/peerwire/utils/configutil"
	"github.com/nprezin/peerwire/utils/log"
)

func main() {
	configFile := flag.String("config", "", "yaml configuration file")
	torrentFile := flag.String("torrent", "", "path to the .torrent file to seed/leech")
	ip := flag.String("ip", "127.0.0.1", "ip this client announces itself as")
	port := flag.Int("port", 0, "tcp port this client listens on and announces itself as")
	cluster := flag.String("cluster", "", "cluster name, used as a metrics tag prefix")

	flag.Parse()

	if *torrentFile == "" {
		panic("must specify -torrent")
	}
	if *port == 0 {
		panic("must specify non-zero -port")
	}

	var config Config
	if *configFile != "" {
		if err := configutil.Load(*configFile, &config); err != nil {
			panic(err)
		}
	}

	zlog := log.ConfigureLogger(config.ZapLogging)
	defer zlog.Sync()

	stats, closer, err := metrics.New(config.Metrics, *cluster)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	defer closer.Close()

	go metrics.EmitVersion(stats, "dev")

	raw, err := ioutil.ReadFile(*torrentFile)
	if err != nil {
		log.Fatalf("Failed to read torrent file: %s", err)
	}
	mi, err := metainfo.Deserialize(raw)
	if err != nil {
		log.Fatalf("Failed to parse torrent file: %s", err)
	}

	peerIDFactory := config.PeerIDFactory
	if peerIDFactory == "" {
		peerIDFactory = core.RandomPeerIDFactory
	}
	localPeerID, err := peerIDFactory.GeneratePeerID(*ip, *port)
	if err != nil {
		log.Fatalf("Failed to generate peer id: %s", err)
	}

	local := storage.NewPartialFile(mi.Info.PieceLength, mi.Info.TotalLength(), mi.Info.Pieces)

	clk := clock.New()
	d, err := dispatch.New(mi.InfoHash, localPeerID, local, config.Dispatch, stats, clk, zlog.Sugar())
	if err != nil {
		log.Fatalf("Failed to create dispatcher: %s", err)
	}
	d.Start()
	defer d.Stop()

	addr := fmt.Sprintf(":%d", *port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %s", addr, err)
	}
	log.Infof("Listening for peers on %s", addr)
	go acceptLoop(listener, d)

	trackerClient := tracker.NewClient(mi.Announce, newHTTPFetcher())
	announceAndDial(trackerClient, mi.InfoHash, localPeerID, *port, config.Announce, d)
}

// acceptLoop accepts inbound peer connections and registers each with the
// dispatcher, logging (rather than failing) per-connection handshake
// errors so one bad peer never brings down the listener.
func acceptLoop(listener net.Listener, d *dispatch.Dispatcher) {
	for {
		nc, err := listener.Accept()
		if err != nil {
			log.Errorf("Accept error: %s", err)
			return
		}
		go func() {
			if err := d.AcceptConn(nc); err != nil {
				log.Infof("Rejected inbound peer: %s", err)
			}
		}()
	}
}

// announceAndDial announces to the tracker on a loop, retrying with backoff
// on failure, and dials every peer returned by a successful announce.
func announceAndDial(
	c *tracker.Client,
	infoHash core.InfoHash,
	localPeerID core.PeerID,
	port int,
	backoffConfig backoff.Config,
	d *dispatch.Dispatcher) {

	req := tracker.Request{
		InfoHash: infoHash,
		PeerID:   localPeerID,
		Port:     port,
		Compact:  true,
		Event:    tracker.Started,
		NumWant:  50,
	}

	for {
		b := backoff.New(backoffConfig)
		attempts := b.Attempts()
		var resp *tracker.Response
		for attempts.WaitForNext() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			r, err := c.Announce(ctx, req)
			cancel()
			if err == nil {
				resp = r
				break
			}
			log.Warnf("Announce failed, retrying: %s", err)
		}
		if resp == nil {
			log.Errorf("Giving up announcing: %s", attempts.Err())
			return
		}

		for _, peer := range resp.Peers {
			addr := net.JoinHostPort(peer.IP.String(), fmt.Sprintf("%d", peer.Port))
			go func(addr string) {
				if err := d.Dial(addr); err != nil {
					log.Infof("Failed to dial peer %s: %s", addr, err)
				}
			}(addr)
		}

		req.Event = tracker.None
		interval := time.Duration(resp.Interval) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		time.Sleep(interval)
	}
}
