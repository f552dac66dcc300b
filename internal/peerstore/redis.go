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

package peerstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
)

// Redis is the shared, multi-node peer-storage backend. Each swarm's peers
// live in a hash keyed "<prefix>peers:<info_hash>" (field = encoded peer
// key, value = JSON peer record) alongside a sorted set
// "<prefix>peers_ts:<info_hash>" (member = encoded peer key, score = last
// update unix time) that makes CleanupExpired a single ZRANGEBYSCORE plus a
// pipelined delete.
type Redis struct {
	pool   *redis.Pool
	prefix string
}

type RedisOptions struct {
	Network     string
	Addr        string
	Password    string
	Prefix      string
	MaxIdle     int
	IdleTimeout time.Duration
	ConnTimeout time.Duration
}

func NewRedis(opts RedisOptions) *Redis {
	pool := &redis.Pool{
		MaxIdle:     opts.MaxIdle,
		IdleTimeout: opts.IdleTimeout,
		Dial: func() (redis.Conn, error) {
			var dialOpts []redis.DialOption
			if opts.Password != "" {
				dialOpts = append(dialOpts, redis.DialPassword(opts.Password))
			}

			if opts.ConnTimeout > 0 {
				dialOpts = append(dialOpts,
					redis.DialConnectTimeout(opts.ConnTimeout),
					redis.DialReadTimeout(opts.ConnTimeout),
					redis.DialWriteTimeout(opts.ConnTimeout))
			}

			return redis.Dial(opts.Network, opts.Addr, dialOpts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			_, err := c.Do("PING")
			return err
		},
	}

	return &Redis{pool: pool, prefix: opts.Prefix}
}

func (r *Redis) hashKey(h bittorrent.InfoHash) string { return r.prefix + "peers:" + h.String() }
func (r *Redis) tsKey(h bittorrent.InfoHash) string   { return r.prefix + "peers_ts:" + h.String() }

func peerKeyField(key bittorrent.PeerKey) string {
	family := "4"
	if key.IsV6 {
		family = "6"
	}

	return fmt.Sprintf("%s:%d:%s", hex.EncodeToString(key.IP[:]), key.Port, family)
}

type wirePeer struct {
	UserID      uint32
	HasUserID   bool
	PeerID      string
	IsSeeder    bool
	Uploaded    uint64
	Downloaded  uint64
	UpdatedAt   int64
	AnnounceKey string
	Connectable Connectable
}

func toWire(p *Peer) wirePeer {
	return wirePeer{
		UserID:      p.UserID,
		HasUserID:   p.HasUserID,
		PeerID:      hex.EncodeToString(p.PeerID[:]),
		IsSeeder:    p.IsSeeder,
		Uploaded:    p.Uploaded,
		Downloaded:  p.Downloaded,
		UpdatedAt:   p.UpdatedAt.Unix(),
		AnnounceKey: p.AnnounceKey,
		Connectable: p.Connectable,
	}
}

func fromWire(w wirePeer) *Peer {
	peerIDBytes, _ := hex.DecodeString(w.PeerID)

	var peerID bittorrent.PeerID
	copy(peerID[:], peerIDBytes)

	return &Peer{
		UserID:      w.UserID,
		HasUserID:   w.HasUserID,
		PeerID:      peerID,
		IsSeeder:    w.IsSeeder,
		Uploaded:    w.Uploaded,
		Downloaded:  w.Downloaded,
		UpdatedAt:   time.Unix(w.UpdatedAt, 0),
		AnnounceKey: w.AnnounceKey,
		Connectable: w.Connectable,
	}
}

func (r *Redis) GetPeer(_ context.Context, h bittorrent.InfoHash, key bittorrent.PeerKey) (*Peer, bool, error) {
	conn := r.pool.Get()
	defer conn.Close()

	field := peerKeyField(key)

	reply, err := redis.Bytes(conn.Do("HGET", r.hashKey(h), field))
	if err == redis.ErrNil {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	var w wirePeer
	if err := json.Unmarshal(reply, &w); err != nil {
		return nil, false, err
	}

	return fromWire(w), true, nil
}

func (r *Redis) PutPeer(_ context.Context, h bittorrent.InfoHash, key bittorrent.PeerKey, p *Peer) error {
	conn := r.pool.Get()
	defer conn.Close()

	data, err := json.Marshal(toWire(p))
	if err != nil {
		return err
	}

	field := peerKeyField(key)

	// MULTI/EXEC keeps the hash write and its timestamp index entry one
	// observable step, as the store contract requires.
	if err := conn.Send("MULTI"); err != nil {
		return err
	}

	if err := conn.Send("HSET", r.hashKey(h), field, data); err != nil {
		return err
	}

	if err := conn.Send("ZADD", r.tsKey(h), p.UpdatedAt.Unix(), field); err != nil {
		return err
	}

	_, err = conn.Do("EXEC")

	return err
}

func (r *Redis) DeletePeer(_ context.Context, h bittorrent.InfoHash, key bittorrent.PeerKey) error {
	conn := r.pool.Get()
	defer conn.Close()

	field := peerKeyField(key)

	if err := conn.Send("MULTI"); err != nil {
		return err
	}

	if err := conn.Send("HDEL", r.hashKey(h), field); err != nil {
		return err
	}

	if err := conn.Send("ZREM", r.tsKey(h), field); err != nil {
		return err
	}

	_, err := conn.Do("EXEC")

	return err
}

func (r *Redis) GetAllPeers(_ context.Context, h bittorrent.InfoHash) (map[bittorrent.PeerKey]*Peer, error) {
	conn := r.pool.Get()
	defer conn.Close()

	reply, err := redis.StringMap(conn.Do("HGETALL", r.hashKey(h)))
	if err != nil {
		return nil, err
	}

	out := make(map[bittorrent.PeerKey]*Peer, len(reply))

	for field, raw := range reply {
		var w wirePeer
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			continue
		}

		out[decodePeerKeyField(field)] = fromWire(w)
	}

	return out, nil
}

func decodePeerKeyField(field string) bittorrent.PeerKey {
	var k bittorrent.PeerKey

	hexIP, rest, found := strings.Cut(field, ":")
	if !found {
		return k
	}

	portStr, family, _ := strings.Cut(rest, ":")

	if b, err := hex.DecodeString(hexIP); err == nil {
		copy(k.IP[:], b)
	}

	if port, err := strconv.ParseUint(portStr, 10, 16); err == nil {
		k.Port = uint16(port)
	}

	k.IsV6 = family == "6"

	return k
}

func (r *Redis) CountPeers(_ context.Context, h bittorrent.InfoHash) (int, error) {
	conn := r.pool.Get()
	defer conn.Close()

	return redis.Int(conn.Do("HLEN", r.hashKey(h)))
}

func (r *Redis) CleanupExpired(_ context.Context, h bittorrent.InfoHash, cutoff time.Time) (int, error) {
	conn := r.pool.Get()
	defer conn.Close()

	stale, err := redis.Strings(conn.Do("ZRANGEBYSCORE", r.tsKey(h), "-inf", cutoff.Unix()))
	if err != nil || len(stale) == 0 {
		return 0, err
	}

	args := redis.Args{}.Add(r.hashKey(h))
	for _, f := range stale {
		args = args.Add(f)
	}

	if err := conn.Send("MULTI"); err != nil {
		return 0, err
	}

	if err := conn.Send("HDEL", args...); err != nil {
		return 0, err
	}

	zremArgs := redis.Args{}.Add(r.tsKey(h))
	for _, f := range stale {
		zremArgs = zremArgs.Add(f)
	}

	if err := conn.Send("ZREM", zremArgs...); err != nil {
		return 0, err
	}

	if _, err := conn.Do("EXEC"); err != nil {
		return 0, err
	}

	return len(stale), nil
}

func (r *Redis) GetCounts(ctx context.Context, h bittorrent.InfoHash) (seeders, leechers int, err error) {
	peers, err := r.GetAllPeers(ctx, h)
	if err != nil {
		return 0, 0, err
	}

	for _, p := range peers {
		if p.IsSeeder {
			seeders++
		} else {
			leechers++
		}
	}

	return seeders, leechers, nil
}

func (r *Redis) Clear(_ context.Context, h bittorrent.InfoHash) error {
	conn := r.pool.Get()
	defer conn.Close()

	_, err := conn.Do("DEL", r.hashKey(h), r.tsKey(h))

	return err
}

func (r *Redis) Close() error {
	return r.pool.Close()
}
