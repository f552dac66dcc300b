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

func Max(a, b int) int {
	if a > b {
		return a
	}

	return b
}

// ApplyJitter spreads the announce interval as
// max(1, base + uniform(-base*j, +base*j)), so a mass reconnect doesn't
// resynchronize every client onto the same tick. j == 0 disables jitter.
func ApplyJitter(base int, j float64) int {
	if j <= 0 || base <= 0 {
		return Max(1, base)
	}

	spread := float64(base) * j
	delta := int((UnsafeFloat64()*2 - 1) * spread)

	return Max(1, base+delta)
}
