// Package steamid converts Steam account identifiers into the canonical user record.
//
// A SteamID64 packs several fields into one unsigned 64-bit integer:
//
//	bits 56-63  universe
//	bits 52-55  account type
//	bits 32-51  instance
//	bits  0-31  account id
//
// The legacy textual form used by older Steam tooling is STEAM_X:Y:Z where X is the
// universe, Y the low bit of the account id and Z the remaining 31 bits. See
// https://developer.valvesoftware.com/wiki/SteamID.
package steamid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	universeShift = 56
	accountIDMask = 0xFFFFFFFF
)

// ErrMalformed se devuelve cuando el identificador no es un entero sin signo de 64 bits.
var ErrMalformed = errors.New("steamid: malformed identifier")

// ID is a raw SteamID64.
type ID uint64

// Parse parses a SteamID64 written as an unsigned decimal string.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrMalformed)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return ID(v), nil
}

// Universe returns the top byte of the identifier, as stored.
func (id ID) Universe() uint8 {
	return uint8(uint64(id) >> universeShift)
}

// AccountID returns the low 32 bits of the identifier.
func (id ID) AccountID() uint32 {
	return uint32(uint64(id) & accountIDMask)
}

// String renders the identifier as an unsigned decimal.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Legacy renders the STEAM_X:Y:Z form.
// Universe 1 (public) is written as 0, matching what Source engine games print.
func (id ID) Legacy() string {
	universe := id.Universe()
	if universe == 1 {
		universe = 0
	}
	account := id.AccountID()
	return "STEAM_" +
		strconv.FormatUint(uint64(universe), 10) + ":" +
		strconv.FormatUint(uint64(account&1), 10) + ":" +
		strconv.FormatUint(uint64(account/2), 10)
}

// User is the canonical record produced by a successful sign-in.
type User struct {
	ID     string `json:"id"`
	ID2    string `json:"id2"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Normalize builds a User from a raw SteamID64 and the profile display attributes.
// ID keeps the raw value; only ID2 reflects the universe substitution.
func Normalize(raw uint64, name, avatar string) User {
	id := ID(raw)
	return User{
		ID:     id.String(),
		ID2:    id.Legacy(),
		Name:   name,
		Avatar: avatar,
	}
}

// FromSummary normalizes a profile whose identifier is still in its decimal wire form.
func FromSummary(steamID, name, avatar string) (User, error) {
	id, err := Parse(steamID)
	if err != nil {
		return User{}, err
	}
	return Normalize(uint64(id), name, avatar), nil
}
