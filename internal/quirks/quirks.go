/* USB virtualization bridge - host side
 *
 * Device-specific reset quirks: some devices misbehave unless reset
 * a particular way (or not at all) right after opening. Matching is
 * by glob pattern over "VVVV:PPPP" via internal/globmatch.
 */

package quirks

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/usbbridge/hostbridge/internal/globmatch"
	"github.com/usbbridge/hostbridge/internal/policy"
)

// ResetMethod selects how (if at all) a device should be reset
// immediately after opening.
type ResetMethod int

// ResetMethod values.
const (
	ResetNone ResetMethod = iota
	ResetSoft
	ResetHard
)

// String renders the reset method for logging.
func (m ResetMethod) String() string {
	switch m {
	case ResetSoft:
		return "soft"
	case ResetHard:
		return "hard"
	default:
		return "none"
	}
}

type rule struct {
	pattern string
	method  ResetMethod
}

// DB is an ordered set of VID:PID glob rules. The most specific
// match (the one with the most literal characters) wins.
type DB struct {
	rules []rule
}

// Empty is a DB with no rules; every identity resolves to ResetNone.
func Empty() *DB { return &DB{} }

// Load reads reset quirks from an INI file. Each section name is a
// "VVVV:PPPP" glob pattern (or "*"); the section's "reset" key is
// none, soft or hard.
func Load(path string) (*DB, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("quirks: %w", err)
	}

	db := &DB{}
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		name := strings.ToLower(sec.Name())

		k := sec.Key("reset")
		if k.String() == "" {
			continue
		}

		var method ResetMethod
		switch k.String() {
		case "none":
			method = ResetNone
		case "soft":
			method = ResetSoft
		case "hard":
			method = ResetHard
		default:
			return nil, fmt.Errorf("quirks: [%s] reset: must be none, soft or hard, got %q", sec.Name(), k.String())
		}

		db.rules = append(db.rules, rule{pattern: name, method: method})
	}

	return db, nil
}

// ResetMethodFor returns the best-matching reset method for id. The
// most specific pattern (highest globmatch weight) wins; ResetNone
// if nothing matches.
func (db *DB) ResetMethodFor(id policy.Identity) ResetMethod {
	if db == nil {
		return ResetNone
	}

	s := strings.ToLower(id.String())
	best := -1
	method := ResetNone

	for _, r := range db.rules {
		w := globmatch.MatchWeight(s, r.pattern)
		if w >= 0 && w > best {
			best = w
			method = r.method
		}
	}

	return method
}
