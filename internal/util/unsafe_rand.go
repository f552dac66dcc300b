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

// Package util holds small allocation-conscious helpers shared across
// subsystems: a non-cryptographic random source pool (tiebreakers and
// interval jitter, never secrets), a response buffer pool, a context-aware
// ticker and a counting semaphore.
package util

import (
	unsafeRandom "math/rand"
	"sync"
	"time"
)

var randomSourcePool sync.Pool

func init() {
	randomSourcePool.New = func() any {
		return unsafeRandom.New(unsafeRandom.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
}

func UnsafeFloat64() float64 {
	randomSource := randomSourcePool.Get().(*unsafeRandom.Rand)
	defer randomSourcePool.Put(randomSource)

	return randomSource.Float64()
}
