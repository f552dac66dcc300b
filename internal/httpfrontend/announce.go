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

package httpfrontend

import (
	"errors"
	"net"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/anacrolix-labs/privtracker/internal/bencode"
	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
	"github.com/anacrolix-labs/privtracker/internal/eligibility"
	"github.com/anacrolix-labs/privtracker/internal/store"
	"github.com/anacrolix-labs/privtracker/internal/swarm"
	"github.com/anacrolix-labs/privtracker/internal/util"
)

var (
	errMissingInfoHash = errors.New("missing info_hash")
	errInvalidInfoHash = errors.New("invalid info_hash")
	errMissingPeerID   = errors.New("missing peer_id")
	errInvalidPeerID   = errors.New("invalid peer_id")
	errMissingPort     = errors.New("missing port")
	errInvalidPort     = errors.New("invalid port")
	errMissingUploaded = errors.New("missing uploaded")
	errMissingDownload = errors.New("missing downloaded")
	errMissingLeft     = errors.New("missing left")
)

type decodedAnnounce struct {
	infoHash   bittorrent.InfoHash
	peerID     bittorrent.PeerID
	port       uint16
	uploaded   uint64
	downloaded uint64
	left       uint64
	event      bittorrent.Event
	numWant    int
	compact    bool
	key        string
}

// decodeAnnounce parses the announce query string: mandatory parameters
// validated up front, binary fields preserved byte-exact via parseQuery.
func decodeAnnounce(raw []byte, defaultNumWant, maxNumWant int, strictPort bool) (decodedAnnounce, error) {
	q := parseQuery(raw)

	var d decodedAnnounce

	if len(q.infoHashes) == 0 {
		return d, errMissingInfoHash
	}

	infoHash, err := bittorrent.InfoHashFromBytes([]byte(q.infoHashes[0]))
	if err != nil {
		return d, errInvalidInfoHash
	}

	d.infoHash = infoHash

	peerIDStr, ok := q.get("peer_id")
	if !ok {
		return d, errMissingPeerID
	}

	peerID, err := bittorrent.PeerIDFromBytes([]byte(peerIDStr))
	if err != nil {
		return d, errInvalidPeerID
	}

	d.peerID = peerID

	port, ok := q.getUint16("port")
	if !ok {
		return d, errMissingPort
	}

	if port < 1 {
		return d, errInvalidPort
	}

	if strictPort && port < 1024 {
		return d, errInvalidPort
	}

	d.port = port

	uploaded, ok := q.getUint64("uploaded")
	if !ok {
		return d, errMissingUploaded
	}

	d.uploaded = uploaded

	downloaded, ok := q.getUint64("downloaded")
	if !ok {
		return d, errMissingDownload
	}

	d.downloaded = downloaded

	left, ok := q.getUint64("left")
	if !ok {
		return d, errMissingLeft
	}

	d.left = left

	if ev, ok := q.get("event"); ok {
		d.event = bittorrent.EventFromString(ev)
	}

	numWant := defaultNumWant
	if nw, ok := q.getInt("numwant"); ok && nw >= 1 && nw <= 200 {
		numWant = nw
	}

	if numWant > maxNumWant {
		numWant = maxNumWant
	}

	d.numWant = numWant

	compactStr, hasCompact := q.get("compact")
	d.compact = !hasCompact || compactStr == "1"

	d.key, _ = q.get("key")

	return d, nil
}

func (p *Pipeline) handleAnnounce(ctx *fasthttp.RequestCtx, user *store.UserRecord, clientIP net.IP) {
	d, err := decodeAnnounce(ctx.URI().QueryString(), p.cfg.DefaultNumWant, p.cfg.MaxNumWant, p.cfg.StrictPort)
	if err != nil {
		p.writeFailure(ctx, "Malformed request - "+err.Error())
		return
	}

	if !p.cache.ValidClient(d.peerID) {
		p.writeFailure(ctx, "Your client is not approved")
		return
	}

	if d.left > 0 {
		v := eligibility.Check(user, p.cfg.Eligibility)
		if !v.Allowed {
			p.writeFailure(ctx, v.Reason)
			return
		}
	}

	reg, err := p.reg.GetOrCreate(ctx, d.infoHash, d.left == 0)
	if err != nil {
		if errors.Is(err, swarm.ErrTorrentNotRegistered) {
			p.writeFailure(ctx, "This torrent does not exist")
		} else {
			p.writeFailure(ctx, "Transient error, please retry")
		}

		return
	}

	req := swarm.AnnounceRequest{
		UserID:        user.ID,
		HasUserID:     true,
		IP:            clientIP,
		Port:          d.port,
		PeerID:        d.peerID,
		Event:         d.event,
		Uploaded:      d.uploaded,
		Downloaded:    d.downloaded,
		Left:          d.left,
		Key:           d.key,
		NumWant:       d.numWant,
		PreferSeeders: d.left > 0,
	}

	res, err := reg.Announce(ctx, req, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, swarm.ErrKeyRequired):
			p.writeFailure(ctx, "Announce key required")
		case errors.Is(err, swarm.ErrInvalidKey):
			p.writeFailure(ctx, "Invalid announce key")
		default:
			p.writeFailure(ctx, "Transient error, please retry")
		}

		return
	}

	p.applyMultipliersAndRecord(user, d, res)

	buf := responseBuffers.Take()
	defer responseBuffers.Give(buf)

	peers := make([]bencode.CompactPeer, 0, len(res.Peers))
	for _, sp := range res.Peers {
		ipBytes := sp.IP.To4()
		if ipBytes == nil {
			ipBytes = sp.IP.To16()
		}

		peers = append(peers, bencode.CompactPeer{IP: ipBytes, Port: sp.Port, ID: sp.PeerID})
	}

	bencode.WriteAnnounce(buf, bencode.AnnounceResponse{
		Complete:   int64(res.Seeders),
		Incomplete: int64(res.Leechers),
		Interval:   int64(util.ApplyJitter(int(p.cfg.AnnounceInterval.Seconds()), p.cfg.AnnounceJitter)),
		Compact:    d.compact,
		TrackerID:  res.AnnounceKey,
		Peers:      peers,
	})

	ctx.SetBody(buf.Bytes())
}

// applyMultipliersAndRecord applies the torrent's effective up/down
// multipliers (freeleech forces down to 0) to the worker's raw deltas
// before they reach the stats buffer.
func (p *Pipeline) applyMultipliersAndRecord(user *store.UserRecord, d decodedAnnounce, res swarm.AnnounceResult) {
	up := res.DeltaUp
	down := res.DeltaDown

	if torrent, ok := p.reg.TorrentRecord(d.infoHash); ok {
		now := time.Now()
		up = uint64(float64(up) * torrent.UpMultiplier())
		down = uint64(float64(down) * torrent.EffectiveDownMultiplier(now))
	}

	p.buf.AddUserDelta(user.ID, up, down)
}

// writeFailure emits the bencoded failure dictionary with HTTP 200 (errors
// live in the payload, never the status line) and counts it.
func (p *Pipeline) writeFailure(ctx *fasthttp.RequestCtx, reason string) {
	if p.metrics != nil {
		p.metrics.IncFailures()
	}

	buf := responseBuffers.Take()
	defer responseBuffers.Give(buf)

	bencode.WriteFailure(buf, reason)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(buf.Bytes())
}
