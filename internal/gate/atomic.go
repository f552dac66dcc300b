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

package gate

import "sync/atomic"

// atomicMap is a lock-free swap-in-place table: a full reload builds a new
// map and swaps it in with one store, so readers never observe a partially
// built table and never block the writer.
type atomicMap[K comparable, V any] struct {
	p atomic.Pointer[map[K]V]
}

func (m *atomicMap[K, V]) store(v map[K]V) { m.p.Store(&v) }
func (m *atomicMap[K, V]) load() *map[K]V  { return m.p.Load() }

type atomicSlice[T any] struct {
	p atomic.Pointer[[]T]
}

func (s *atomicSlice[T]) store(v []T) { s.p.Store(&v) }
func (s *atomicSlice[T]) load() *[]T  { return s.p.Load() }
