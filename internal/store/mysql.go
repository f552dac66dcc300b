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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
	"github.com/anacrolix-labs/privtracker/internal/config"
	"github.com/anacrolix-labs/privtracker/internal/log"
)

// MySQLStore is the production Store: users/torrents/snatches tables
// accessed through prepared statements and a deadlock-retry wrapper, since
// the accounting writes below run under heavy row-lock contention.
type MySQLStore struct {
	db *sql.DB

	deadlockWait     time.Duration
	maxDeadlockTries int

	loadUsersStmt     *sql.Stmt
	loadTorrentsStmt  *sql.Stmt
	loadWhitelistStmt *sql.Stmt
	loadBansStmt      *sql.Stmt
	loadSnatchesStmt  *sql.Stmt

	getOrCreateTorrentStmt *sql.Stmt
	insertTorrentStmt      *sql.Stmt

	applyUserDeltaStmt     *sql.Stmt
	applyTorrentCountsStmt *sql.Stmt

	recordSnatchStmt   *sql.Stmt
	updateSeedtimeStmt *sql.Stmt
	markHnrStmt        *sql.Stmt
	setUserHnrStmt     *sql.Stmt
	applyBonusStmt     *sql.Stmt
	redeemBonusStmt    *sql.Stmt
}

var defaultDSN = map[string]string{
	"username": "tracker",
	"password": "",
	"proto":    "tcp",
	"addr":     "127.0.0.1:3306",
	"database": "tracker",
}

// dsn builds a go-sql-driver DSN from the [database] config section, or from
// the DB_DSN environment variable when set (useful for tests).
func dsn() string {
	if fromEnv := os.Getenv("DB_DSN"); fromEnv != "" {
		return fromEnv
	}

	dbConfig := config.Section("database")

	username, _ := dbConfig.Get("username", defaultDSN["username"])
	password, _ := dbConfig.Get("password", defaultDSN["password"])
	proto, _ := dbConfig.Get("proto", defaultDSN["proto"])
	addr, _ := dbConfig.Get("addr", defaultDSN["addr"])
	database, _ := dbConfig.Get("database", defaultDSN["database"])

	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true", username, password, proto, addr, database)
}

// OpenMySQL connects, pings and prepares every statement the store needs,
// aborting the process on any failure. A tracker that can't reach its
// store at boot has nothing useful to do.
func OpenMySQL() *MySQLStore {
	log.Info.Printf("opening database connection...")

	db, err := sql.Open("mysql", dsn())
	if err != nil {
		log.Fatal.Fatalf("couldn't connect to database: %s", err)
	}

	if err := db.Ping(); err != nil {
		log.Fatal.Fatalf("couldn't ping database: %s", err)
	}

	dbConfig := config.Section("database")
	waitSeconds, _ := dbConfig.GetInt("deadlock_pause", 1)
	maxTries, _ := dbConfig.GetInt("deadlock_retries", 5)

	s := &MySQLStore{
		db:               db,
		deadlockWait:     time.Duration(waitSeconds) * time.Second,
		maxDeadlockTries: maxTries,
	}

	s.prepare()

	return s
}

func (s *MySQLStore) mustPrepare(query string) *sql.Stmt {
	stmt, err := s.db.Prepare(query)
	if err != nil {
		log.Fatal.Fatalf("preparing statement %q: %s", query, err)
	}

	return stmt
}

func (s *MySQLStore) prepare() {
	s.loadUsersStmt = s.mustPrepare(
		"SELECT id, passkey, uploaded, downloaded, hnr_warnings, can_leech, required_ratio, bonus_points " +
			"FROM users WHERE enabled = 1")

	s.loadTorrentsStmt = s.mustPrepare(
		"SELECT id, info_hash, up_multiplier, down_multiplier, freeleech, freeleech_until FROM torrents")

	s.loadWhitelistStmt = s.mustPrepare(
		"SELECT peer_id_prefix, client_name FROM approved_clients WHERE archived = 0")

	s.loadBansStmt = s.mustPrepare(
		"SELECT id, ip, reason, expires_at FROM ip_bans")

	s.loadSnatchesStmt = s.mustPrepare(
		"SELECT user_id, torrent_id, completed_at, seedtime, last_announce, hnr FROM snatches")

	s.getOrCreateTorrentStmt = s.mustPrepare(
		"SELECT id, up_multiplier, down_multiplier, freeleech, freeleech_until FROM torrents WHERE info_hash = ?")

	s.insertTorrentStmt = s.mustPrepare(
		"INSERT INTO torrents (info_hash, up_multiplier, down_multiplier) VALUES (?, 1, 1)")

	s.applyUserDeltaStmt = s.mustPrepare(
		"UPDATE users SET uploaded = uploaded + ?, downloaded = downloaded + ? WHERE id = ?")

	s.applyTorrentCountsStmt = s.mustPrepare(
		"UPDATE torrents SET seeders = ?, leechers = ?, snatched = snatched + ? WHERE id = ?")

	s.recordSnatchStmt = s.mustPrepare(
		"INSERT INTO snatches (user_id, torrent_id, completed_at, seedtime, last_announce, hnr) " +
			"VALUES (?, ?, ?, 0, ?, 0) " +
			"ON DUPLICATE KEY UPDATE completed_at = VALUES(completed_at), last_announce = VALUES(last_announce)")

	s.updateSeedtimeStmt = s.mustPrepare(
		"UPDATE snatches SET seedtime = seedtime + ?, last_announce = ? WHERE user_id = ? AND torrent_id = ?")

	s.markHnrStmt = s.mustPrepare(
		"UPDATE snatches SET hnr = 1 WHERE user_id = ? AND torrent_id = ?")

	s.setUserHnrStmt = s.mustPrepare(
		"UPDATE users SET hnr_warnings = ?, can_leech = ? WHERE id = ?")

	s.applyBonusStmt = s.mustPrepare(
		"UPDATE users SET bonus_points = bonus_points + ? WHERE id = ?")

	s.redeemBonusStmt = s.mustPrepare(
		"UPDATE users SET bonus_points = bonus_points - ?, uploaded = uploaded + ? WHERE id = ? AND bonus_points >= ?")
}

// perform retries exec on MySQL deadlock (1213) and lock-wait-timeout
// (1205) errors with linearly increasing backoff.
func (s *MySQLStore) perform(ctx context.Context, exec func() error) error {
	var err error

	for try := 1; try <= s.maxDeadlockTries; try++ {
		err = exec()
		if err == nil {
			return nil
		}

		var mysqlErr *mysql.MySQLError
		if !asMySQLError(err, &mysqlErr) {
			log.Error.Printf("sql error: %s", err)
			return err
		}

		if mysqlErr.Number != 1213 && mysqlErr.Number != 1205 {
			log.Error.Printf("sql error %d: %s", mysqlErr.Number, mysqlErr.Message)
			return err
		}

		wait := s.deadlockWait * time.Duration(try)
		log.Warning.Printf("deadlock found, retrying in %s (%d/%d)", wait, try, s.maxDeadlockTries)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Error.Printf("deadlocked %d times, giving up", s.maxDeadlockTries)

	return err
}

func asMySQLError(err error, out **mysql.MySQLError) bool {
	me, ok := err.(*mysql.MySQLError)
	if ok {
		*out = me
	}

	return ok
}

func (s *MySQLStore) LoadUsers(ctx context.Context) ([]*UserRecord, error) {
	rows, err := s.loadUsersStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*UserRecord

	for rows.Next() {
		var (
			id                      uint32
			passkey                 string
			uploaded, downloaded    uint64
			hnrWarnings             int
			canLeech                bool
			requiredRatio, bonusPts float64
		)

		if err := rows.Scan(&id, &passkey, &uploaded, &downloaded, &hnrWarnings, &canLeech, &requiredRatio, &bonusPts); err != nil {
			return nil, err
		}

		users = append(users, NewUserRecord(id, passkey, uploaded, downloaded, hnrWarnings, canLeech, requiredRatio, bonusPts))
	}

	return users, rows.Err()
}

func (s *MySQLStore) LoadTorrents(ctx context.Context) ([]*TorrentRecord, error) {
	rows, err := s.loadTorrentsStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var torrents []*TorrentRecord

	for rows.Next() {
		var (
			id               uint32
			infoHashRaw      []byte
			upMult, downMult float64
			freeleech        bool
			freeleechUntil   sql.NullTime
		)

		if err := rows.Scan(&id, &infoHashRaw, &upMult, &downMult, &freeleech, &freeleechUntil); err != nil {
			return nil, err
		}

		hash, err := bittorrent.InfoHashFromBytes(infoHashRaw)
		if err != nil {
			log.Warning.Printf("skipping torrent %d with malformed info_hash: %s", id, err)
			continue
		}

		t := NewTorrentRecord(id, hash, upMult, downMult)
		t.Freeleech.Store(freeleech)

		if freeleechUntil.Valid {
			t.SetFreeleechUntil(freeleechUntil.Time)
		}

		torrents = append(torrents, t)
	}

	return torrents, rows.Err()
}

func (s *MySQLStore) LoadWhitelist(ctx context.Context) ([]WhitelistEntry, error) {
	rows, err := s.loadWhitelistStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WhitelistEntry

	for rows.Next() {
		var prefix, name string

		if err := rows.Scan(&prefix, &name); err != nil {
			return nil, err
		}

		var e WhitelistEntry
		e.Length = copy(e.Prefix[:], prefix)
		e.Name = name

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *MySQLStore) LoadBans(ctx context.Context) ([]BanRecord, error) {
	rows, err := s.loadBansStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []BanRecord

	for rows.Next() {
		var (
			id        uint32
			ip        string
			reason    string
			expiresAt sql.NullTime
		)

		if err := rows.Scan(&id, &ip, &reason, &expiresAt); err != nil {
			return nil, err
		}

		b := BanRecord{ID: id, IP: ip, Reason: reason}
		if expiresAt.Valid {
			b.ExpiresAt = expiresAt.Time
		}

		bans = append(bans, b)
	}

	return bans, rows.Err()
}

func (s *MySQLStore) LoadSnatches(ctx context.Context) ([]SnatchRecord, error) {
	rows, err := s.loadSnatchesStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snatches []SnatchRecord

	for rows.Next() {
		var r SnatchRecord

		if err := rows.Scan(&r.UserID, &r.TorrentID, &r.CompletedAt, &r.Seedtime, &r.LastAnnounce, &r.HnR); err != nil {
			return nil, err
		}

		snatches = append(snatches, r)
	}

	return snatches, rows.Err()
}

func (s *MySQLStore) GetOrCreateTorrent(ctx context.Context, infoHash bittorrent.InfoHash) (*TorrentRecord, error) {
	var (
		id               uint32
		upMult, downMult float64
		freeleech        bool
		freeleechUntil   sql.NullTime
	)

	err := s.getOrCreateTorrentStmt.QueryRowContext(ctx, infoHash[:]).
		Scan(&id, &upMult, &downMult, &freeleech, &freeleechUntil)

	if err == sql.ErrNoRows {
		var insertErr error

		insertErr = s.perform(ctx, func() error {
			res, execErr := s.insertTorrentStmt.ExecContext(ctx, infoHash[:])
			if execErr != nil {
				return execErr
			}

			lastID, idErr := res.LastInsertId()
			if idErr != nil {
				return idErr
			}

			id = uint32(lastID)

			return nil
		})

		if insertErr != nil {
			return nil, insertErr
		}

		return NewTorrentRecord(id, infoHash, 1, 1), nil
	}

	if err != nil {
		return nil, err
	}

	t := NewTorrentRecord(id, infoHash, upMult, downMult)
	t.Freeleech.Store(freeleech)

	if freeleechUntil.Valid {
		t.SetFreeleechUntil(freeleechUntil.Time)
	}

	return t, nil
}

func (s *MySQLStore) ApplyUserDelta(ctx context.Context, userID uint32, deltaUp, deltaDown uint64) error {
	return s.perform(ctx, func() error {
		_, err := s.applyUserDeltaStmt.ExecContext(ctx, deltaUp, deltaDown, userID)
		return err
	})
}

func (s *MySQLStore) ApplyTorrentCounts(ctx context.Context, torrentID uint32, seeders, leechers int64, completedDelta int64) error {
	return s.perform(ctx, func() error {
		_, err := s.applyTorrentCountsStmt.ExecContext(ctx, seeders, leechers, completedDelta, torrentID)
		return err
	})
}

func (s *MySQLStore) RecordSnatch(ctx context.Context, userID, torrentID uint32, completedAt time.Time) error {
	return s.perform(ctx, func() error {
		_, err := s.recordSnatchStmt.ExecContext(ctx, userID, torrentID, completedAt, completedAt)
		return err
	})
}

func (s *MySQLStore) UpdateSnatchSeedtime(ctx context.Context, userID, torrentID uint32, seedtimeDelta int64, lastAnnounce time.Time) error {
	return s.perform(ctx, func() error {
		_, err := s.updateSeedtimeStmt.ExecContext(ctx, seedtimeDelta, lastAnnounce, userID, torrentID)
		return err
	})
}

func (s *MySQLStore) MarkHnR(ctx context.Context, userID, torrentID uint32, _ time.Time) error {
	return s.perform(ctx, func() error {
		_, err := s.markHnrStmt.ExecContext(ctx, userID, torrentID)
		return err
	})
}

func (s *MySQLStore) SetUserHnrState(ctx context.Context, userID uint32, warnings int32, canLeech bool) error {
	return s.perform(ctx, func() error {
		_, err := s.setUserHnrStmt.ExecContext(ctx, warnings, canLeech, userID)
		return err
	})
}

func (s *MySQLStore) ApplyBonusPoints(ctx context.Context, userID uint32, delta float64) error {
	return s.perform(ctx, func() error {
		_, err := s.applyBonusStmt.ExecContext(ctx, delta, userID)
		return err
	})
}

func (s *MySQLStore) RedeemBonusPoints(ctx context.Context, userID uint32, spent float64, uploadCredit uint64) error {
	return s.perform(ctx, func() error {
		_, err := s.redeemBonusStmt.ExecContext(ctx, spent, uploadCredit, userID, spent)
		return err
	})
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
