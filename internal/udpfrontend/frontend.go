/*
 * This file is part of privtracker.
 *
 * privtracker is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * privtracker is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with privtracker.  If not, see <http://www.gnu.org/licenses/>.
 */

package udpfrontend

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/gate"
	"github.com/anacrolix-labs/privtracker/internal/log"
	"github.com/anacrolix-labs/privtracker/internal/ratelimit"
	"github.com/anacrolix-labs/privtracker/internal/swarm"
	"github.com/anacrolix-labs/privtracker/internal/util"
)

const sweepInterval = 1 * time.Minute

// Config is the UDP leg's share of the configuration file.
type Config struct {
	Addr             string
	ConnectionTTL    time.Duration
	AnnounceInterval time.Duration
	AnnounceJitter   float64
	DefaultNumWant   int
	MaxNumWant       int
}

// Frontend is the UDP request pipeline: a single socket dispatching
// connect, announce and scrape frames into the same gate/limiter/registry
// the HTTP frontend uses, so both transports are front doors onto one
// swarm.
type Frontend struct {
	cfg     Config
	socket  *net.UDPConn
	conns   *connIDTable
	cache   *gate.Cache
	limiter *ratelimit.Limiter
	reg     *swarm.Registry

	closing chan struct{}
	wg      sync.WaitGroup
}

func NewFrontend(cfg Config, cache *gate.Cache, limiter *ratelimit.Limiter, reg *swarm.Registry) *Frontend {
	return &Frontend{
		cfg:     cfg,
		conns:   newConnIDTable(cfg.ConnectionTTL),
		cache:   cache,
		limiter: limiter,
		reg:     reg,
		closing: make(chan struct{}),
	}
}

// ListenAndServe binds the UDP socket and blocks, serving requests until ctx
// is cancelled.
func (f *Frontend) ListenAndServe(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", f.cfg.Addr)
	if err != nil {
		return err
	}

	f.socket, err = net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	go util.ContextTick(ctx, sweepInterval, func() {
		if n := f.conns.sweep(time.Now()); n > 0 {
			log.Verbose.Printf("udp: swept %d expired connection ids", n)
		}
	})

	go func() {
		<-ctx.Done()
		_ = f.socket.SetReadDeadline(time.Now())
		f.socket.Close()
	}()

	return f.serve(ctx)
}

func (f *Frontend) serve(ctx context.Context) error {
	buf := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			f.wg.Wait()
			return nil
		default:
		}

		n, addr, err := f.socket.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				f.wg.Wait()
				return nil
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}

			return err
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		f.wg.Add(1)
		go func(packet []byte, addr *net.UDPAddr) {
			defer f.wg.Done()
			f.handlePacket(ctx, packet, addr)
		}(packet, addr)
	}
}

func (f *Frontend) handlePacket(ctx context.Context, packet []byte, addr *net.UDPAddr) {
	ip := addr.IP
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	h, err := parseHeader(packet)
	if err != nil {
		return // too short to even carry a transaction id; drop silently
	}

	if ban := f.cache.CheckBanned(ip); ban.Banned {
		return
	}

	class := ratelimit.ClassAnnounce
	if h.Action == actionScrape {
		class = ratelimit.ClassScrape
	}

	if res := f.limiter.Allow(ip, class, time.Now()); !res.Allowed {
		f.reply(addr, writeError(h.TransactionID, "Rate limit exceeded"))
		return
	}

	if h.Action != actionConnect {
		if !f.conns.valid(ip, h.ConnID, time.Now()) {
			f.reply(addr, writeError(h.TransactionID, "Invalid connection id"))
			return
		}
	}

	switch h.Action {
	case actionConnect:
		f.handleConnect(packet, h, ip, addr)
	case actionAnnounce:
		f.handleAnnounce(ctx, packet, h, ip, addr)
	case actionScrape:
		f.handleScrape(ctx, packet, h, addr)
	default:
		f.reply(addr, writeError(h.TransactionID, "Unknown action"))
	}
}

func (f *Frontend) handleConnect(packet []byte, h header, ip net.IP, addr *net.UDPAddr) {
	if err := parseConnect(packet, h); err != nil {
		f.reply(addr, writeError(h.TransactionID, "Malformed connect request"))
		return
	}

	connID := f.conns.issue(ip, time.Now())
	f.reply(addr, writeConnect(h.TransactionID, connID))
}

func (f *Frontend) handleAnnounce(ctx context.Context, packet []byte, h header, ip net.IP, addr *net.UDPAddr) {
	a, err := parseAnnounce(packet)
	if err != nil {
		f.reply(addr, writeError(h.TransactionID, "Malformed announce request"))
		return
	}

	peerIP := a.ip
	if peerIP == nil {
		peerIP = ip
	}

	numWant := f.cfg.DefaultNumWant
	if a.numWant >= 0 {
		numWant = int(a.numWant)
	}

	if numWant > f.cfg.MaxNumWant {
		numWant = f.cfg.MaxNumWant
	}

	w, err := f.reg.GetOrCreate(ctx, a.infoHash, a.left == 0)
	if err != nil {
		f.reply(addr, writeError(h.TransactionID, "This torrent does not exist"))
		return
	}

	// UDP announces carry no passkey, so the request is anonymous. The BEP 15
	// key field still serves as the anti-spoof token: the client picks it and
	// repeats it for the life of the session, so the swarm worker adopts it on
	// the first announce and matches it on every one after.
	req := swarm.AnnounceRequest{
		HasUserID:     false,
		IP:            peerIP,
		Port:          a.port,
		PeerID:        a.peerID,
		Event:         a.event,
		Uploaded:      a.uploaded,
		Downloaded:    a.downloaded,
		Left:          a.left,
		Key:           fmt.Sprintf("%08x", a.key),
		NumWant:       numWant,
		PreferSeeders: a.left > 0,
	}

	res, err := w.Announce(ctx, req, time.Now())
	if err != nil {
		f.reply(addr, writeError(h.TransactionID, "Transient error, please retry"))
		return
	}

	interval := util.ApplyJitter(int(f.cfg.AnnounceInterval.Seconds()), f.cfg.AnnounceJitter)
	f.reply(addr, writeAnnounce(h.TransactionID, int32(interval), res))
}

func (f *Frontend) handleScrape(ctx context.Context, packet []byte, h header, addr *net.UDPAddr) {
	hashes, err := parseScrape(packet)
	if err != nil {
		f.reply(addr, writeError(h.TransactionID, "Malformed scrape request"))
		return
	}

	counts := make([]scrapeCounts, 0, len(hashes))

	for _, hash := range hashes {
		if w, active := f.reg.Lookup(hash); active {
			c := scrapeCounts{Completed: w.Completed()}

			if seeders, leechers, err := w.Counts(ctx); err == nil {
				c.Seeders = int64(seeders)
				c.Leechers = int64(leechers)
			}

			counts = append(counts, c)
			continue
		}

		t, ok := f.reg.TorrentRecord(hash)
		if !ok {
			counts = append(counts, scrapeCounts{})
			continue
		}

		counts = append(counts, scrapeCounts{
			Seeders:   t.Seeders.Load(),
			Completed: t.Completed.Load(),
			Leechers:  t.Leechers.Load(),
		})
	}

	f.reply(addr, writeScrape(h.TransactionID, counts))
}

func (f *Frontend) reply(addr *net.UDPAddr, buf *bytes.Buffer) {
	_, _ = f.socket.WriteToUDP(buf.Bytes(), addr)
	responseBuffers.Give(buf)
}
