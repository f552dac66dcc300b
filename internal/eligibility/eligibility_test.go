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

package eligibility

import (
	"strings"
	"testing"

	"github.com/anacrolix-labs/privtracker/internal/store"
)

func TestCheckRatioTooLow(t *testing.T) {
	u := store.NewUserRecord(1, "passkey", 100_000_000, 10_000_000_000, 0, true, 0, 0)

	v := Check(u, Config{MinRatio: 0.3, GraceBytes: 1 << 20})
	if v.Allowed {
		t.Fatal("expected denial on low ratio")
	}

	if !strings.HasPrefix(v.Reason, "Ratio too low") {
		t.Fatalf("unexpected reason: %q", v.Reason)
	}
}

func TestCheckGraceBytes(t *testing.T) {
	u := store.NewUserRecord(1, "passkey", 0, 1000, 0, true, 0, 0)

	v := Check(u, Config{MinRatio: 1.0, GraceBytes: 1 << 20})
	if !v.Allowed {
		t.Fatalf("expected allow under grace bytes, got reason %q", v.Reason)
	}
}

func TestCheckDisabledLeech(t *testing.T) {
	u := store.NewUserRecord(1, "passkey", 0, 0, 5, false, 0, 0)

	v := Check(u, Config{MinRatio: 0.3})
	if v.Allowed {
		t.Fatal("expected denial when CanLeech is false")
	}
}

func TestCheckPerUserRatioOverridesGlobal(t *testing.T) {
	u := store.NewUserRecord(1, "passkey", 100_000_000, 1_000_000_000, 0, true, 0.01, 0)

	v := Check(u, Config{MinRatio: 5.0, GraceBytes: 0})
	if !v.Allowed {
		t.Fatalf("expected allow using the lenient per-user ratio, got %q", v.Reason)
	}
}
