// Package classifier maps raw strings to IOC types. Classification is total
// and deterministic; a value that matches no supported type and is not a
// plausible hostname is rejected.
package classifier

import (
	"net"
	"regexp"
	"strings"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

var (
	reCVE = regexp.MustCompile(`^(?i)CVE-\d{4}-\d{4,}$`)
	reHex = regexp.MustCompile(`^[0-9a-fA-F]+$`)

	// hostname labels with a TLD-like suffix
	reDomain = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

	reEmailLocal = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+$`)
)

// digest lengths of MD5, SHA-1, SHA-256 and SHA-512 in hex characters
var hashLengths = map[int]bool{32: true, 40: true, 64: true, 128: true}

var urlSchemes = []string{"http://", "https://", "ftp://", "ftps://"}

// Classify detects the IOC type of a raw value. Order matters because the
// categories overlap syntactically: CVE and hash are checked before the
// generic text shapes, and IP before the domain fallback.
func Classify(raw string) (iocdb.IOCType, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", errors.New("empty indicator value").Kind(errors.KindInvalidValue)
	}

	if reCVE.MatchString(v) {
		return iocdb.TypeCVE, nil
	}

	if hashLengths[len(v)] && reHex.MatchString(v) {
		return iocdb.TypeHash, nil
	}

	if isEmail(v) {
		return iocdb.TypeEmail, nil
	}

	for _, scheme := range urlSchemes {
		if strings.HasPrefix(strings.ToLower(v), scheme) {
			return iocdb.TypeURL, nil
		}
	}

	if net.ParseIP(v) != nil {
		return iocdb.TypeIPAddr, nil
	}
	if _, _, err := net.ParseCIDR(v); err == nil {
		return iocdb.TypeIPAddr, nil
	}

	if reDomain.MatchString(v) {
		return iocdb.TypeDomain, nil
	}

	return "", errors.New("indicator value can not be classified").
		Kind(errors.KindInvalidValue).
		With("value", raw)
}

func isEmail(v string) bool {
	parts := strings.Split(v, "@")
	if len(parts) != 2 {
		return false
	}
	local, domain := parts[0], parts[1]
	if local == "" || !reEmailLocal.MatchString(local) {
		return false
	}
	return reDomain.MatchString(domain)
}

// Normalize canonicalizes a classified value so that lookups by (type, value)
// are case-insensitive where the type allows it. URLs keep the path case but
// lowercase scheme and host; CVE IDs are uppercased; everything else is
// lowercased.
func Normalize(value string, iocType iocdb.IOCType) string {
	v := strings.TrimSpace(value)

	switch iocType {
	case iocdb.TypeCVE:
		return strings.ToUpper(v)

	case iocdb.TypeURL:
		idx := strings.Index(v, "://")
		if idx < 0 {
			return strings.ToLower(v)
		}
		rest := v[idx+3:]
		if pathIdx := strings.Index(rest, "/"); pathIdx >= 0 {
			return strings.ToLower(v[:idx+3]+rest[:pathIdx]) + rest[pathIdx:]
		}
		return strings.ToLower(v)

	default:
		return strings.ToLower(v)
	}
}
