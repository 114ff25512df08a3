/* USB virtualization bridge - host side
 *
 * Policy filter: allow-list / deny-list over (vendor_id, product_id).
 * Consulted on every enumeration and every hot-plug event. The
 * policy is fixed at bridge construction and never mutates
 * afterwards - there is no API to change it once a Filter exists.
 */

package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"

	"github.com/usbbridge/hostbridge/internal/globmatch"
)

// Identity is a USB device's (vendor_id, product_id) pair.
type Identity struct {
	Vendor  gousb.ID
	Product gousb.ID
}

// String renders the identity in the conventional "vvvv:pppp" hex form.
func (id Identity) String() string {
	return fmt.Sprintf("%04x:%04x", uint16(id.Vendor), uint16(id.Product))
}

// Mode selects allow-list or deny-list semantics.
type Mode int

const (
	// Allow admits only identities matching a listed pattern.
	Allow Mode = iota
	// Deny admits everything except identities matching a listed
	// pattern. An empty pattern set admits all.
	Deny
)

// Filter is an immutable (vendor_id, product_id) policy.
type Filter struct {
	mode     Mode
	patterns []string
}

// New builds a Filter from a mode and a set of "vvvv:pppp" patterns.
// Patterns may use glob wildcards (e.g. "0951:*") in either half, and
// are matched case-insensitively against the lower-case hex identity
// string.
func New(mode Mode, entries []string) *Filter {
	patterns := make([]string, len(entries))
	for i, e := range entries {
		patterns[i] = strings.ToLower(strings.TrimSpace(e))
	}
	return &Filter{mode: mode, patterns: patterns}
}

// AllowAll is the permissive policy: a Deny filter with an empty set,
// admitting every device. This is the bridge's default when no
// policy is configured.
func AllowAll() *Filter {
	return New(Deny, nil)
}

// IsAllowed reports whether id is admitted by the filter.
func (f *Filter) IsAllowed(id Identity) bool {
	matched := f.matches(id)
	if f.mode == Allow {
		return matched
	}
	return !matched
}

func (f *Filter) matches(id Identity) bool {
	s := strings.ToLower(id.String())
	for _, p := range f.patterns {
		if globmatch.Match(s, p) {
			return true
		}
	}
	return false
}

// ParseIdentity parses a "vvvv:pppp" hex pair, as accepted on the
// CLI's -allow/-deny flags.
func ParseIdentity(s string) (Identity, error) {
	vp := strings.SplitN(s, ":", 2)
	if len(vp) != 2 {
		return Identity{}, fmt.Errorf("policy: %q is not of the form VVVV:PPPP", s)
	}

	vendor, err := strconv.ParseUint(vp[0], 16, 16)
	if err != nil {
		return Identity{}, fmt.Errorf("policy: %q: invalid vendor id: %s", s, err)
	}

	product, err := strconv.ParseUint(vp[1], 16, 16)
	if err != nil {
		return Identity{}, fmt.Errorf("policy: %q: invalid product id: %s", s, err)
	}

	return Identity{Vendor: gousb.ID(vendor), Product: gousb.ID(product)}, nil
}
