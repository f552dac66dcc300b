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

package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix-labs/privtracker/internal/store"
)

func TestCollectorFlushesUserDeltasAndTorrentSnapshots(t *testing.T) {
	ctx := context.Background()
	buf := NewBuffer()

	mem := store.NewMemStore()
	mem.AddUser(store.NewUserRecord(1, "pk1", 0, 0, 0, true, 0, 0))

	var h [20]byte
	torrentRecord, err := mem.GetOrCreateTorrent(ctx, h)
	if err != nil {
		t.Fatal(err)
	}

	buf.AddUserDelta(1, 100, 50)
	buf.SetTorrentSnapshot(torrentRecord.ID, 3, 4, 1)

	c := NewCollector(buf, mem)
	c.Flush(ctx)

	users, err := mem.LoadUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if users[0].Uploaded.Load() != 100 || users[0].Downloaded.Load() != 50 {
		t.Errorf("user stats not applied: up=%d down=%d", users[0].Uploaded.Load(), users[0].Downloaded.Load())
	}

	torrents, err := mem.LoadTorrents(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if torrents[0].Seeders.Load() != 3 || torrents[0].Leechers.Load() != 4 || torrents[0].Completed.Load() != 1 {
		t.Errorf("torrent snapshot not applied: %+v", torrents[0])
	}
}

func TestBufferConcurrentWritersAccumulate(t *testing.T) {
	buf := NewBuffer()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.AddUserDelta(7, 1, 2)
		}()
	}
	wg.Wait()

	users, _, _ := buf.drain()
	if len(users) != 1 || users[0].up != 100 || users[0].down != 200 {
		t.Errorf("got %+v, want one entry with up=100 down=200", users)
	}
}

func TestCollectorFlushesSnatchAndSeedtime(t *testing.T) {
	ctx := context.Background()
	buf := NewBuffer()

	mem := store.NewMemStore()
	mem.AddUser(store.NewUserRecord(1, "pk1", 0, 0, 0, true, 0, 0))

	var h [20]byte
	torrentRecord, err := mem.GetOrCreateTorrent(ctx, h)
	if err != nil {
		t.Fatal(err)
	}

	completedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	buf.MarkSnatch(1, torrentRecord.ID, completedAt)
	buf.AddSeedtime(1, torrentRecord.ID, 3600)

	c := NewCollector(buf, mem)
	c.Flush(ctx)

	snatches, err := mem.LoadSnatches(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(snatches) != 1 {
		t.Fatalf("expected one snatch row, got %d", len(snatches))
	}

	if !snatches[0].CompletedAt.Equal(completedAt) {
		t.Errorf("completed_at = %v, want %v", snatches[0].CompletedAt, completedAt)
	}

	if snatches[0].Seedtime != 3600 {
		t.Errorf("seedtime = %d, want 3600", snatches[0].Seedtime)
	}
}
