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
	"github.com/valyala/fasthttp"

	"github.com/anacrolix-labs/privtracker/internal/bencode"
	"github.com/anacrolix-labs/privtracker/internal/bittorrent"
	"github.com/anacrolix-labs/privtracker/internal/store"
)

// decodeScrape parses the scrape query string: repeated info_hash= params
// form the requested list, byte-exact per parseQuery.
func decodeScrape(raw []byte) []bittorrent.InfoHash {
	q := parseQuery(raw)

	hashes := make([]bittorrent.InfoHash, 0, len(q.infoHashes))

	for _, s := range q.infoHashes {
		h, err := bittorrent.InfoHashFromBytes([]byte(s))
		if err != nil {
			continue
		}

		hashes = append(hashes, h)
	}

	return hashes
}

// handleScrape builds the scrape response: one ScrapeFile per requested
// info_hash that has a known torrent row, sorted into canonical bencode
// dictionary-key order before writing.
func (p *Pipeline) handleScrape(ctx *fasthttp.RequestCtx, user *store.UserRecord) {
	hashes := decodeScrape(ctx.URI().QueryString())
	if len(hashes) == 0 {
		p.writeFailure(ctx, "No info_hash provided")
		return
	}

	bencode.BencodeSortInfoHashes(hashes)

	files := make([]bencode.ScrapeFile, 0, len(hashes))

	for _, h := range hashes {
		t, ok := p.reg.TorrentRecord(h)
		if !ok {
			continue
		}

		file := bencode.ScrapeFile{
			InfoHash:   h,
			Complete:   t.Seeders.Load(),
			Downloaded: t.Completed.Load(),
			Incomplete: t.Leechers.Load(),
		}

		// An active worker has fresher counts than the cached row, which only
		// updates on the 30s sync.
		if w, active := p.reg.Lookup(h); active {
			if seeders, leechers, err := w.Counts(ctx); err == nil {
				file.Complete = int64(seeders)
				file.Incomplete = int64(leechers)
			}

			file.Downloaded = w.Completed()
		}

		files = append(files, file)
	}

	buf := responseBuffers.Take()
	defer responseBuffers.Give(buf)

	bencode.WriteScrape(buf, files)

	ctx.SetBody(buf.Bytes())
}
