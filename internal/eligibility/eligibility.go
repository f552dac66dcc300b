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

// Package eligibility implements the request-path leech gate: the
// check the request pipeline runs on every leecher announce, between the
// gate/client checks and the swarm dispatch.
package eligibility

import "github.com/anacrolix-labs/privtracker/internal/store"

// Config carries the global min_ratio / ratio_grace_bytes settings.
type Config struct {
	MinRatio   float64
	GraceBytes uint64
}

// Verdict is the sum-type result of Check.
type Verdict struct {
	Allowed bool
	Reason  string // populated only when !Allowed
}

var allowed = Verdict{Allowed: true}

// Check decides whether u may start or continue leeching. Seeders
// (left == 0) bypass this entirely; callers must not invoke Check for a
// seeding announce.
func Check(u *store.UserRecord, cfg Config) Verdict {
	if !u.CanLeech.Load() {
		return Verdict{Reason: "Leeching disabled — please contact staff"}
	}

	required := u.RequiredRatio()
	if required <= 0 {
		required = cfg.MinRatio
	}

	downloaded := u.Downloaded.Load()

	if downloaded == 0 || downloaded < cfg.GraceBytes {
		return allowed
	}

	uploaded := u.Uploaded.Load()

	ratio := float64(uploaded) / float64(downloaded)
	if ratio >= required {
		return allowed
	}

	return Verdict{Reason: "Ratio too low — seed more before downloading"}
}
