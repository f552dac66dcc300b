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

package util

import "testing"

func TestApplyJitterBounds(t *testing.T) {
	const (
		base = 1800
		j    = 0.1
	)

	lo := base - int(float64(base)*j)
	hi := base + int(float64(base)*j)

	for i := 0; i < 1000; i++ {
		got := ApplyJitter(base, j)
		if got < lo || got > hi {
			t.Fatalf("ApplyJitter(%d, %v) = %d, want within [%d, %d]", base, j, got, lo, hi)
		}
	}
}

func TestApplyJitterDisabledAndFloor(t *testing.T) {
	if got := ApplyJitter(1800, 0); got != 1800 {
		t.Errorf("jitter disabled: got %d, want 1800", got)
	}

	// The floor holds even when jitter could push a tiny base below 1.
	for i := 0; i < 100; i++ {
		if got := ApplyJitter(1, 1); got < 1 {
			t.Fatalf("ApplyJitter(1, 1) = %d, want >= 1", got)
		}
	}
}

func TestBufferPoolReuse(t *testing.T) {
	pool := NewBufferPool(64)

	buf := pool.Take()
	buf.WriteString("leftover")
	pool.Give(buf)

	again := pool.Take()
	if again.Len() != 0 {
		t.Errorf("Take must hand out a reset buffer, got %d bytes", again.Len())
	}
}

func TestSizedSemaphoreTokens(t *testing.T) {
	s := NewSizedSemaphore(2)

	TakeSemaphore(s)
	TakeSemaphore(s)

	select {
	case <-s:
		t.Fatal("semaphore held more tokens than its size")
	default:
	}

	ReturnSemaphore(s)
	TakeSemaphore(s)
}
