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

import "context"

// Semaphore is a counting gate implemented as a token channel, letting
// callers use a context-bound acquire alongside a plain blocking one.
type Semaphore chan struct{}

func NewSemaphore() (s Semaphore) {
	return NewSizedSemaphore(1)
}

// NewSizedSemaphore returns a semaphore with n tokens available, bounding
// callers to n concurrent holders.
func NewSizedSemaphore(n int) (s Semaphore) {
	s = make(Semaphore, n)
	for i := 0; i < n; i++ {
		s <- struct{}{}
	}

	return
}

func TakeSemaphore(s Semaphore) {
	<-s
}

func TryTakeSemaphore(ctx context.Context, s Semaphore) bool {
	select {
	case <-s:
		return true
	case <-ctx.Done():
		return false
	}
}

func ReturnSemaphore(s Semaphore) {
	select {
	case s <- struct{}{}:
		return
	default:
		panic("attempting to return semaphore to an already full channel")
	}
}
