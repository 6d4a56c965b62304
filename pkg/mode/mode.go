// Package mode interprets permission specifications: numeric octal
// strings ("0644"), symbolic expressions ("u+rwx,g-w,o=r"), and the
// caller-resolved preserve sentinel.
package mode

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/arthur-debert/safecopy/pkg/errors"
)

const (
	bitSetuid = 0o4000
	bitSetgid = 0o2000
	bitSticky = 0o1000
)

// Apply resolves spec against the current mode of a path. Numeric
// specs are absolute; symbolic specs are applied clause by clause to
// current. isDir changes the meaning of the X perm.
func Apply(spec string, current fs.FileMode, isDir bool) (fs.FileMode, error) {
	if spec == "" {
		return current, nil
	}
	if isNumeric(spec) {
		bits, err := strconv.ParseUint(spec, 8, 32)
		if err != nil || bits > 0o7777 {
			return 0, errors.Newf(errors.ErrPrecondition, "invalid numeric mode %q", spec)
		}
		return fromUnixBits(uint32(bits)), nil
	}

	bits := toUnixBits(current)
	for _, clause := range strings.Split(spec, ",") {
		next, err := applyClause(bits, clause, isDir)
		if err != nil {
			return 0, err
		}
		bits = next
	}
	return fromUnixBits(bits), nil
}

// Format renders a mode as the four-digit octal string the numeric
// spec syntax accepts, special bits included.
func Format(m fs.FileMode) string {
	return fmt.Sprintf("%04o", toUnixBits(m))
}

func isNumeric(spec string) bool {
	for _, r := range spec {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(spec) > 0
}

func applyClause(bits uint32, clause string, isDir bool) (uint32, error) {
	i := 0
	var users string
	for i < len(clause) && strings.ContainsRune("ugoa", rune(clause[i])) {
		users += string(clause[i])
		i++
	}
	if users == "" || strings.Contains(users, "a") {
		users = "ugo"
	}

	if i >= len(clause) || !strings.ContainsRune("+-=", rune(clause[i])) {
		return 0, errors.Newf(errors.ErrPrecondition, "invalid mode clause %q", clause)
	}
	op := clause[i]
	i++

	var mask, special uint32
	for ; i < len(clause); i++ {
		switch clause[i] {
		case 'r':
			mask |= 0o4
		case 'w':
			mask |= 0o2
		case 'x':
			mask |= 0o1
		case 'X':
			if isDir || bits&0o111 != 0 {
				mask |= 0o1
			}
		case 's':
			if strings.Contains(users, "u") {
				special |= bitSetuid
			}
			if strings.Contains(users, "g") {
				special |= bitSetgid
			}
		case 't':
			special |= bitSticky
		default:
			return 0, errors.Newf(errors.ErrPrecondition, "invalid mode clause %q", clause)
		}
	}

	var userBits uint32
	for _, u := range users {
		switch u {
		case 'u':
			userBits |= mask << 6
		case 'g':
			userBits |= mask << 3
		case 'o':
			userBits |= mask
		}
	}
	userBits |= special

	switch op {
	case '+':
		bits |= userBits
	case '-':
		bits &^= userBits
	case '=':
		var clear uint32
		for _, u := range users {
			switch u {
			case 'u':
				clear |= 0o700 | bitSetuid
			case 'g':
				clear |= 0o070 | bitSetgid
			case 'o':
				clear |= 0o007 | bitSticky
			}
		}
		bits = bits&^clear | userBits
	}
	return bits, nil
}

func toUnixBits(m fs.FileMode) uint32 {
	bits := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= bitSetuid
	}
	if m&fs.ModeSetgid != 0 {
		bits |= bitSetgid
	}
	if m&fs.ModeSticky != 0 {
		bits |= bitSticky
	}
	return bits
}

func fromUnixBits(bits uint32) fs.FileMode {
	m := fs.FileMode(bits & 0o777)
	if bits&bitSetuid != 0 {
		m |= fs.ModeSetuid
	}
	if bits&bitSetgid != 0 {
		m |= fs.ModeSetgid
	}
	if bits&bitSticky != 0 {
		m |= fs.ModeSticky
	}
	return m
}
